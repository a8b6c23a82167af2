package tcp

import (
	"context"
	"fmt"

	"github.com/anweddol/sesh/handshake"
	"github.com/anweddol/sesh/session"
	"github.com/sirupsen/logrus"
)

// ErrMalformedResponse is returned when a Server answers with a response that
// does not have the expected shape.
type ErrMalformedResponse struct {
	error
	Violations session.Violations
}

// NewErrMalformedResponse returns an ErrMalformedResponse for the violations.
func NewErrMalformedResponse(violations session.Violations) error {
	return ErrMalformedResponse{
		error:      fmt.Errorf("malformed response: %v", violations),
		Violations: violations,
	}
}

// A Client sends requests to Servers.
type Client struct {
	opts   ClientOptions
	logger logrus.FieldLogger
	cipher handshake.Cipher
}

// NewClient returns a Client that uses the cipher for every handshake.
func NewClient(opts ClientOptions, cipher handshake.Cipher) *Client {
	if cipher == nil {
		panic("invariant violation: cipher cannot be nil")
	}
	opts.setZerosToDefaults()
	return &Client{
		opts:   opts,
		logger: opts.Logger,
		cipher: cipher,
	}
}

// Options returns the Options used to configure the Client.
func (client *Client) Options() ClientOptions {
	return client.opts
}

// Dial a Server and complete the handshake. The returned session is Ready, and
// must be closed by the caller. If the context is done before the handshake
// completes, the session is closed and the context error is returned.
func (client *Client) Dial(ctx context.Context, address string) (*session.Session, error) {
	conn, err := Dial(ctx, address, client.opts.DialTimeout, client.opts.MaxAttempts, func(err error) {
		client.logger.Debug(err)
	})
	if err != nil {
		return nil, err
	}

	sessOpts := client.opts.Session.
		WithRole(handshake.SenderFirst).
		WithTimeout(client.opts.Timeout)
	sess := session.New(conn, client.cipher, sessOpts)
	stop := closeOnDone(ctx, sess)
	err = sess.Handshake()
	stop()
	if err != nil {
		sess.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return sess, nil
}

// Request dials a Server, sends one request, and waits for the response. A
// response with Success set to false is not an error.
func (client *Client) Request(ctx context.Context, address, verb string, params map[string]interface{}) (session.Response, error) {
	sess, err := client.Dial(ctx, address)
	if err != nil {
		return session.Response{}, err
	}
	defer sess.Close()
	defer closeOnDone(ctx, sess)()

	res, err := client.roundTrip(sess, session.NewRequest(verb, params))
	if err != nil && ctx.Err() != nil {
		return session.Response{}, ctx.Err()
	}
	return res, err
}

func (client *Client) roundTrip(sess *session.Session, req session.Request) (session.Response, error) {
	if err := sess.SendRequest(req); err != nil {
		return session.Response{}, fmt.Errorf("sending request: %w", err)
	}
	res, violations, err := sess.RecvResponse()
	if err != nil {
		return session.Response{}, fmt.Errorf("receiving response: %w", err)
	}
	if len(violations) > 0 {
		return session.Response{}, NewErrMalformedResponse(violations)
	}
	return res, nil
}
