package tcp

import (
	"net"

	"github.com/anweddol/sesh/session"
)

// Hooks are called by a Server as it runs. Every hook is optional. Hooks that
// receive a session can close it: the Server then stops handling that session
// without sending anything else, and does not call OnClientClosed for it.
//
// Hooks are called from the goroutine that handles the connection, so they
// must be safe for concurrent use.
type Hooks struct {
	// OnStarted is called once the Server is accepting connections.
	OnStarted func(addr net.Addr)
	// OnStopped is called once the Server has stopped accepting connections
	// and every session has been closed.
	OnStopped func(addr net.Addr)

	// OnConnection is called for every allowed connection, before the
	// handshake. Returning an error drops the connection.
	OnConnection func(conn net.Conn) error
	// OnClient is called once the handshake has completed.
	OnClient func(sess *session.Session)

	// OnRequest is called for every well formed request, before it is
	// dispatched.
	OnRequest func(sess *session.Session, req session.Request)
	// OnMalformedRequest is called before a malformed request is answered.
	OnMalformedRequest func(sess *session.Session, violations session.Violations)
	// OnUnknownVerb is called before a request for an unknown verb is
	// answered.
	OnUnknownVerb func(sess *session.Session, req session.Request)

	// OnRuntimeError is called for every runtime error. The session is nil
	// when the error is not tied to one.
	OnRuntimeError func(sess *session.Session, err error)
	// OnClientClosed is called after the Server has closed a session.
	OnClientClosed func(sess *session.Session)
}

func (hooks Hooks) started(addr net.Addr) {
	if hooks.OnStarted != nil {
		hooks.OnStarted(addr)
	}
}

func (hooks Hooks) stopped(addr net.Addr) {
	if hooks.OnStopped != nil {
		hooks.OnStopped(addr)
	}
}

func (hooks Hooks) connection(conn net.Conn) error {
	if hooks.OnConnection != nil {
		return hooks.OnConnection(conn)
	}
	return nil
}

// The session hooks return true when the session is still open afterwards.

func (hooks Hooks) client(sess *session.Session) bool {
	if hooks.OnClient != nil {
		hooks.OnClient(sess)
	}
	return !sess.IsClosed()
}

func (hooks Hooks) request(sess *session.Session, req session.Request) bool {
	if hooks.OnRequest != nil {
		hooks.OnRequest(sess, req)
	}
	return !sess.IsClosed()
}

func (hooks Hooks) malformedRequest(sess *session.Session, violations session.Violations) bool {
	if hooks.OnMalformedRequest != nil {
		hooks.OnMalformedRequest(sess, violations)
	}
	return !sess.IsClosed()
}

func (hooks Hooks) unknownVerb(sess *session.Session, req session.Request) bool {
	if hooks.OnUnknownVerb != nil {
		hooks.OnUnknownVerb(sess, req)
	}
	return !sess.IsClosed()
}

func (hooks Hooks) runtimeError(sess *session.Session, err error) bool {
	if hooks.OnRuntimeError != nil {
		hooks.OnRuntimeError(sess, err)
	}
	return sess == nil || !sess.IsClosed()
}

func (hooks Hooks) clientClosed(sess *session.Session) {
	if hooks.OnClientClosed != nil {
		hooks.OnClientClosed(sess)
	}
}
