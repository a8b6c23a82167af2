// Package policy defines functions that control which connections a server
// accepts, and how long a client waits between attempts to dial a server.
//
// Allow functions filter accepted connections before a session is started on
// them. Timeout functions bound each dial attempt made by a client. Both are
// built in a functional style, and are meant to be composed.
//
//	// Accept at most 100 concurrent sessions, and at most one new connection
//	// per second from each IP address.
//	allow := policy.All(policy.Max(100), policy.RateLimit(1.0, 1, 65535))
//
//	// Wait one second for the first attempt, and 60% longer for every attempt
//	// after that, but never more than a minute.
//	timeout := policy.MaxTimeout(time.Minute, policy.LinearBackoff(1.6, policy.ConstantTimeout(time.Second)))
package policy
