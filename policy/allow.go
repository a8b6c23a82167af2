package policy

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned when a connection is dropped because its IP
	// address has attempted too many connections too quickly.
	ErrRateLimited = errors.New("rate limited")

	// ErrMaxConnectionsExceeded is returned when a connection is dropped
	// because the maximum number of concurrent connections has been reached.
	ErrMaxConnectionsExceeded = errors.New("max connections exceeded")

	// ErrNetworkNotAllowed is returned when a connection is dropped because
	// its IP address is outside of every allowed network.
	ErrNetworkNotAllowed = errors.New("network not allowed")
)

// Allow filters connections. If an error is returned, the connection is closed
// without being used. The returned Cleanup, when not nil, must be called once
// the connection is closed, whether or not it was allowed.
type Allow func(net.Conn) (Cleanup, error)

// Cleanup reverses the per-connection state changes made by an Allow function.
type Cleanup func()

func chain(cleanup Cleanup, next Cleanup) Cleanup {
	if next == nil {
		return cleanup
	}
	if cleanup == nil {
		return next
	}
	return func() {
		next()
		cleanup()
	}
}

// All returns an Allow function that only passes a connection if every Allow
// function passes it. Execution is lazy: once one of them returns an error, the
// rest are not called.
func All(fs ...Allow) Allow {
	return func(conn net.Conn) (Cleanup, error) {
		var cleanup Cleanup
		for _, f := range fs {
			next, err := f(conn)
			cleanup = chain(cleanup, next)
			if err != nil {
				return cleanup, err
			}
		}
		return cleanup, nil
	}
}

// Any returns an Allow function that passes a connection if at least one Allow
// function passes it. Every Allow function is called, even after one of them
// has passed the connection.
func Any(fs ...Allow) Allow {
	return func(conn net.Conn) (Cleanup, error) {
		var cleanup Cleanup
		passed := false
		errs := make([]string, 0, len(fs))
		for _, f := range fs {
			next, err := f(conn)
			cleanup = chain(cleanup, next)
			if err == nil {
				passed = true
				continue
			}
			errs = append(errs, err.Error())
		}
		if passed || len(fs) == 0 {
			return cleanup, nil
		}
		return cleanup, errors.New(strings.Join(errs, ", "))
	}
}

// Max returns an Allow function that rejects connections once maxConns
// connections have been allowed and not yet cleaned up. A negative maxConns
// allows every connection.
func Max(maxConns int) Allow {
	mu := new(sync.Mutex)
	conns := 0

	return func(net.Conn) (Cleanup, error) {
		if maxConns < 0 {
			return nil, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if conns >= maxConns {
			return nil, ErrMaxConnectionsExceeded
		}
		conns++
		return func() {
			mu.Lock()
			conns--
			mu.Unlock()
		}, nil
	}
}

// RateLimit returns an Allow function that rejects an IP address if it attempts
// too many connections too quickly. At most capacity limiters are remembered;
// once the most recent half fill up, the oldest half are forgotten.
func RateLimit(r rate.Limit, b, capacity int) Allow {
	capacity /= 2
	if capacity < 1 {
		capacity = 1
	}
	mu := new(sync.Mutex)
	front := make(map[string]*rate.Limiter, capacity)
	back := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if limiter, ok := front[ip]; ok {
			return limiter
		}
		if limiter, ok := back[ip]; ok {
			return limiter
		}
		if len(front) >= capacity {
			back = front
			front = make(map[string]*rate.Limiter, capacity)
		}
		limiter := rate.NewLimiter(r, b)
		front[ip] = limiter
		return limiter
	}

	return func(conn net.Conn) (Cleanup, error) {
		if limiterFor(RemoteIP(conn)).Allow() {
			return nil, nil
		}
		return nil, ErrRateLimited
	}
}

// Networks returns an Allow function that only passes connections from IP
// addresses inside one of the given CIDR networks.
func Networks(cidrs ...string) (Allow, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parsing network %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	return func(conn net.Conn) (Cleanup, error) {
		ip := net.ParseIP(RemoteIP(conn))
		if ip == nil {
			return nil, ErrNetworkNotAllowed
		}
		for _, ipNet := range nets {
			if ipNet.Contains(ip) {
				return nil, nil
			}
		}
		return nil, ErrNetworkNotAllowed
	}, nil
}

// RemoteIP returns the IP address of the remote end of a connection, or its
// full remote address when it is not a TCP connection.
func RemoteIP(conn net.Conn) string {
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.IP.String()
	case nil:
		return ""
	default:
		return addr.String()
	}
}
