// Package tcp runs sessions over TCP. Listen and Dial are the raw connection
// primitives, filtered by an Allow policy and retried with a Timeout policy
// respectively. The Server and Client build on them: a Server accepts one
// request per session and answers it with the Handler registered for the
// request's verb, and a Client dials a Server, sends a request, and waits for
// the response.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/anweddol/sesh/policy"
)

// ErrTooManyAttempts is returned by Dial when every attempt has failed.
var ErrTooManyAttempts = errors.New("too many dial attempts")

// Listen for connections on the listener until the context is done. The
// allow function controls which connections are accepted, and can be used to
// implement maximum connection limits, per-IP rate limiting, and so on. Every
// accepted connection is handled in its own goroutine, and closed once the
// handle function returns. Listen closes the listener when the context is done,
// and returns once every handle function has returned.
func Listen(ctx context.Context, listener net.Listener, handle func(net.Conn), handleErr func(error), allow policy.Allow) error {
	if handle == nil {
		return fmt.Errorf("nil handle function")
	}
	if handleErr == nil {
		handleErr = func(error) {}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := listener.Close(); err != nil {
			handleErr(fmt.Errorf("closing listener: %w", err))
		}
	}()

	wg := new(sync.WaitGroup)
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			handleErr(fmt.Errorf("accepting connection: %w", err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		var cleanup policy.Cleanup
		if allow != nil {
			cleanup, err = allow(conn)
			if err != nil {
				handleErr(fmt.Errorf("filtering connection from %v: %w", conn.RemoteAddr(), err))
				if cleanup != nil {
					cleanup()
				}
				if err := conn.Close(); err != nil {
					handleErr(fmt.Errorf("closing connection: %w", err))
				}
				continue
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if cleanup != nil {
					cleanup()
				}
			}()
			// The handle function usually closes the connection itself, so
			// the error from closing it again is not interesting.
			defer conn.Close()
			handle(conn)
		}()
	}
}

// Dial a remote address until a connection is established, the context is
// done, or maxAttempts attempts have failed. A non-positive maxAttempts retries
// until the context is done. The timeout function bounds each attempt; a
// failed attempt waits out the rest of its timeout before the next attempt
// starts.
func Dial(ctx context.Context, address string, timeout policy.Timeout, maxAttempts int, handleErr func(error)) (net.Conn, error) {
	if timeout == nil {
		timeout = policy.ConstantTimeout(time.Second)
	}
	if handleErr == nil {
		handleErr = func(error) {}
	}
	dialer := new(net.Dialer)

	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, timeout(attempt))
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		if err == nil {
			dialCancel()
			return conn, nil
		}
		handleErr(fmt.Errorf("dialing %v (attempt %d): %w", address, attempt, err))
		if maxAttempts <= 0 || attempt < maxAttempts {
			<-dialCtx.Done()
		}
		dialCancel()
	}
	return nil, fmt.Errorf("dialing %v: %w", address, ErrTooManyAttempts)
}
