package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anweddol/sesh/handshake"
	"github.com/anweddol/sesh/policy"
	"github.com/anweddol/sesh/registry"
	"github.com/anweddol/sesh/session"
	"github.com/sirupsen/logrus"
)

// Messages sent in responses.
const (
	MessageOK             = "OK"
	MessageBadRequest     = "Bad request"
	MessageRefusedRequest = "Refused request"
	MessageUnavailable    = "Unavailable"
	MessageInternalError  = "Internal error"
)

// Reasons sent in responses to bad requests.
const (
	ReasonUnknownVerb      = "Unknown verb"
	ReasonMalformedRequest = "Malformed request"
)

// VerbStat is answered by every Server, unless a Handler is registered for it.
const VerbStat = "STAT"

// A Handler answers a request. The request has already been validated: it
// has a non-empty verb, and its parameters, if any, are an object. Returning
// an error answers the request with an internal error.
type Handler func(ctx context.Context, sess *session.Session, req session.Request) (session.Response, error)

// OK returns a successful Response.
func OK(data map[string]interface{}) session.Response {
	return session.NewResponse(true, MessageOK, data)
}

// Refused returns a Response refusing a request for a reason.
func Refused(reason string) session.Response {
	return session.NewResponse(false, MessageRefusedRequest, nil).WithReason(reason)
}

// Unavailable returns a Response saying that a request cannot be served right
// now.
func Unavailable(reason string) session.Response {
	return session.NewResponse(false, MessageUnavailable, nil).WithReason(reason)
}

// Statistics about a Server since it started running.
type Statistics struct {
	StartedAt time.Time
	Uptime    time.Duration

	// Sessions is the number of sessions that are currently open.
	Sessions int

	Accepted        uint64
	HandshakeFailed uint64
	Requests        uint64
	BadRequests     uint64
	RuntimeErrors   uint64
}

// A Server accepts sessions over TCP. Each session carries one request, which
// is answered by the Handler registered for its verb before the session is
// closed.
type Server struct {
	opts   ServerOptions
	logger logrus.FieldLogger
	cipher handshake.Cipher

	handlersMu *sync.RWMutex
	handlers   map[string]Handler

	sessions *registry.Registry

	startedAt atomic.Value

	accepted        uint64
	handshakeFailed uint64
	requests        uint64
	badRequests     uint64
	runtimeErrors   uint64
}

// NewServer returns a Server that uses the cipher for every handshake.
func NewServer(opts ServerOptions, cipher handshake.Cipher) *Server {
	if cipher == nil {
		panic("invariant violation: cipher cannot be nil")
	}
	opts.setZerosToDefaults()
	server := &Server{
		opts:   opts,
		logger: opts.Logger,
		cipher: cipher,

		handlersMu: new(sync.RWMutex),
		handlers:   map[string]Handler{},

		sessions: registry.New(opts.Sessions),
	}
	server.startedAt.Store(time.Time{})
	return server
}

// Options returns the Options used to configure the Server. Changing the
// Options returned by the method will have no affect on the behaviour of the
// Server.
func (server *Server) Options() ServerOptions {
	return server.opts
}

// Sessions returns the registry of open sessions.
func (server *Server) Sessions() *registry.Registry {
	return server.sessions
}

// Handle registers the Handler for a verb, replacing any Handler that was
// already registered for it. It is safe to call while the Server is running.
func (server *Server) Handle(verb string, handler Handler) {
	if handler == nil {
		panic("invariant violation: handler cannot be nil")
	}
	server.handlersMu.Lock()
	defer server.handlersMu.Unlock()
	server.handlers[verb] = handler
}

func (server *Server) handler(verb string) (Handler, bool) {
	server.handlersMu.RLock()
	defer server.handlersMu.RUnlock()
	handler, ok := server.handlers[verb]
	if !ok && verb == VerbStat {
		return server.stat, true
	}
	return handler, ok
}

// Statistics returns a snapshot of the Server's statistics.
func (server *Server) Statistics() Statistics {
	startedAt := server.startedAt.Load().(time.Time)
	uptime := time.Duration(0)
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	sessions, err := server.sessions.Len()
	if err != nil {
		server.runtimeError(server.logger, nil, fmt.Errorf("counting sessions: %w", err))
	}
	return Statistics{
		StartedAt:       startedAt,
		Uptime:          uptime,
		Sessions:        sessions,
		Accepted:        atomic.LoadUint64(&server.accepted),
		HandshakeFailed: atomic.LoadUint64(&server.handshakeFailed),
		Requests:        atomic.LoadUint64(&server.requests),
		BadRequests:     atomic.LoadUint64(&server.badRequests),
		RuntimeErrors:   atomic.LoadUint64(&server.runtimeErrors),
	}
}

// Run listens on the configured host and port until the context is done.
func (server *Server) Run(ctx context.Context) error {
	address := net.JoinHostPort(server.opts.Host, fmt.Sprintf("%d", server.opts.Port))
	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %v: %w", address, err)
	}
	return server.Serve(ctx, listener)
}

// Serve sessions accepted by the listener until the context is done. The
// listener is closed when Serve returns. Serve returns nil once the context is
// done and every session has been closed.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	allow, err := server.allow()
	if err != nil {
		listener.Close()
		return err
	}

	addr := listener.Addr()
	server.startedAt.Store(time.Now())
	server.logger.Infof("listening on %v", addr)
	server.opts.Hooks.started(addr)
	defer func() {
		server.logger.Infof("stopped listening on %v", addr)
		server.opts.Hooks.stopped(addr)
	}()

	err = Listen(ctx, listener, func(conn net.Conn) {
		server.handle(ctx, conn)
	}, func(err error) {
		server.logger.Warn(err)
	}, allow)
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

func (server *Server) allow() (policy.Allow, error) {
	allows := []policy.Allow{
		policy.Max(server.opts.MaxConns),
		policy.RateLimit(server.opts.RateLimit, server.opts.RateLimitBurst, server.opts.RateLimitCapacity),
	}
	if len(server.opts.Networks) > 0 {
		networks, err := policy.Networks(server.opts.Networks...)
		if err != nil {
			return nil, err
		}
		allows = append([]policy.Allow{networks}, allows...)
	}
	return policy.All(allows...), nil
}

func (server *Server) handle(ctx context.Context, conn net.Conn) {
	atomic.AddUint64(&server.accepted, 1)

	logger := server.logger.WithField("remote", conn.RemoteAddr().String())
	hooks := server.opts.Hooks
	if err := hooks.connection(conn); err != nil {
		logger.Infof("dropping connection: %v", err)
		return
	}

	sessOpts := server.opts.Session.
		WithRole(handshake.ReceiverFirst).
		WithTimeout(server.opts.Timeout).
		WithRequestValidator(session.ValidateVerbRequest)
	sess := session.New(conn, server.cipher, sessOpts)
	defer sess.Close()
	defer closeOnDone(ctx, sess)()

	if err := sess.Handshake(); err != nil {
		atomic.AddUint64(&server.handshakeFailed, 1)
		logger.Warnf("handshaking: %v", err)
		return
	}
	defer server.closeClient(sess)

	entry := registry.Entry{
		ID:         sess.ID(),
		RemoteAddr: conn.RemoteAddr().String(),
		CreatedAt:  sess.CreatedAt(),
	}
	regErr := server.sessions.Insert(entry)
	if regErr == nil {
		defer func() {
			if err := server.sessions.Remove(entry.ID); err != nil {
				server.runtimeError(logger, nil, fmt.Errorf("unregistering session: %w", err))
			}
		}()
	}

	if !hooks.client(sess) {
		return
	}

	// The client always sends its request first, so it has to be read before
	// anything can be sent back, even when the session is already known to
	// fail.
	req, violations, err := sess.RecvRequest()
	if err != nil {
		logger.Warnf("receiving request: %v", err)
		return
	}
	atomic.AddUint64(&server.requests, 1)

	if regErr != nil {
		if server.runtimeError(logger, sess, fmt.Errorf("registering session: %w", regErr)) {
			server.respond(logger, sess, session.NewResponse(false, MessageInternalError, nil))
		}
		return
	}

	if len(violations) > 0 {
		atomic.AddUint64(&server.badRequests, 1)
		if hooks.malformedRequest(sess, violations) {
			server.respond(logger, sess, session.NewResponse(false, MessageBadRequest, nil).
				WithReason(fmt.Sprintf("%v : %v", ReasonMalformedRequest, violations)))
		}
		return
	}
	if !hooks.request(sess, req) {
		return
	}

	handler, ok := server.handler(req.Verb())
	if !ok {
		atomic.AddUint64(&server.badRequests, 1)
		if hooks.unknownVerb(sess, req) {
			server.respond(logger, sess, session.NewResponse(false, MessageBadRequest, nil).WithReason(ReasonUnknownVerb))
		}
		return
	}
	logger.Debugf("handling %v", req.Verb())
	res, err := server.call(ctx, handler, sess, req)
	if err != nil {
		if server.runtimeError(logger, sess, fmt.Errorf("handling %v: %w", req.Verb(), err)) {
			server.respond(logger, sess, session.NewResponse(false, MessageInternalError, nil))
		}
		return
	}
	if sess.IsClosed() {
		return
	}
	server.respond(logger, sess, res)
}

// closeClient closes a session that the Server has finished with, unless a
// hook or handler has already closed it.
func (server *Server) closeClient(sess *session.Session) {
	if sess.IsClosed() {
		return
	}
	sess.Close()
	server.opts.Hooks.clientClosed(sess)
}

func (server *Server) call(ctx context.Context, handler Handler, sess *session.Session, req session.Request) (res session.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, sess, req)
}

func (server *Server) respond(logger logrus.FieldLogger, sess *session.Session, res session.Response) {
	if err := sess.SendResponse(res); err != nil {
		logger.Warnf("sending response: %v", err)
	}
}

// runtimeError counts and reports an error. It returns true when the session,
// if any, is still open afterwards.
func (server *Server) runtimeError(logger logrus.FieldLogger, sess *session.Session, err error) bool {
	atomic.AddUint64(&server.runtimeErrors, 1)
	logger.Error(err)
	return server.opts.Hooks.runtimeError(sess, err)
}

func (server *Server) stat(ctx context.Context, sess *session.Session, req session.Request) (session.Response, error) {
	stats := server.Statistics()
	return OK(map[string]interface{}{
		"uptime":   int64(stats.Uptime / time.Second),
		"sessions": stats.Sessions,
	}), nil
}

// closeOnDone closes the session when the context is done, aborting any
// blocked send or receive. The returned function stops watching the context.
func closeOnDone(ctx context.Context, sess *session.Session) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
