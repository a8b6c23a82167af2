package tcp

import (
	"time"

	"github.com/anweddol/sesh/policy"
	"github.com/anweddol/sesh/session"
	"github.com/renproject/kv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	DefaultServerHost     = "0.0.0.0"
	DefaultServerPort     = uint16(6150)
	DefaultServerTimeout  = 10 * time.Second
	DefaultServerMaxConns = 128

	DefaultConnRateLimit         = rate.Limit(10)
	DefaultConnRateLimitBurst    = 20
	DefaultConnRateLimitCapacity = 65535

	DefaultClientTimeout     = 10 * time.Second
	DefaultClientDialTimeout = policy.MaxTimeout(10*time.Second, policy.LinearBackoff(1.6, policy.ConstantTimeout(time.Second)))
	DefaultClientMaxAttempts = 3
)

// ServerOptions parameterise a Server.
type ServerOptions struct {
	Logger  logrus.FieldLogger
	Session session.Options

	Host string
	Port uint16

	// Timeout bounds the handshake, and every send and receive, of each
	// session.
	Timeout time.Duration

	// MaxConns is the maximum number of concurrent sessions. A negative
	// value allows any number.
	MaxConns int

	// RateLimit and RateLimitBurst bound how often each IP address can
	// connect. RateLimitCapacity bounds how many IP addresses are remembered.
	RateLimit         rate.Limit
	RateLimitBurst    int
	RateLimitCapacity int

	// Networks, when not empty, restricts connections to IP addresses inside
	// these CIDR networks.
	Networks []string

	// Sessions stores the registry of open sessions. Defaults to an in-memory
	// table.
	Sessions kv.Table

	Hooks Hooks
}

func DefaultServerOptions() ServerOptions {
	logger := logrus.New().
		WithField("lib", "sesh").
		WithField("pkg", "tcp").
		WithField("com", "server")
	return ServerOptions{
		Logger:            logger,
		Session:           session.DefaultOptions().WithLogger(logger),
		Host:              DefaultServerHost,
		Port:              DefaultServerPort,
		Timeout:           DefaultServerTimeout,
		MaxConns:          DefaultServerMaxConns,
		RateLimit:         DefaultConnRateLimit,
		RateLimitBurst:    DefaultConnRateLimitBurst,
		RateLimitCapacity: DefaultConnRateLimitCapacity,
	}
}

// WithLogger sets the logger used by the server and its sessions.
func (opts ServerOptions) WithLogger(logger logrus.FieldLogger) ServerOptions {
	opts.Logger = logger
	opts.Session = opts.Session.WithLogger(logger)
	return opts
}

func (opts ServerOptions) WithSessionOptions(sessionOpts session.Options) ServerOptions {
	opts.Session = sessionOpts
	return opts
}

// WithHost sets the host address that will be used for listening.
func (opts ServerOptions) WithHost(host string) ServerOptions {
	opts.Host = host
	return opts
}

// WithPort sets the port that will be used for listening.
func (opts ServerOptions) WithPort(port uint16) ServerOptions {
	opts.Port = port
	return opts
}

func (opts ServerOptions) WithTimeout(timeout time.Duration) ServerOptions {
	opts.Timeout = timeout
	return opts
}

func (opts ServerOptions) WithMaxConns(maxConns int) ServerOptions {
	opts.MaxConns = maxConns
	return opts
}

func (opts ServerOptions) WithRateLimit(limit rate.Limit, burst int) ServerOptions {
	opts.RateLimit = limit
	opts.RateLimitBurst = burst
	return opts
}

func (opts ServerOptions) WithNetworks(cidrs ...string) ServerOptions {
	opts.Networks = cidrs
	return opts
}

func (opts ServerOptions) WithSessions(table kv.Table) ServerOptions {
	opts.Sessions = table
	return opts
}

// WithHooks sets the hooks called as the server runs.
func (opts ServerOptions) WithHooks(hooks Hooks) ServerOptions {
	opts.Hooks = hooks
	return opts
}

func (opts *ServerOptions) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Host == "" {
		opts.Host = DefaultServerHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultServerPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultServerTimeout
	}
	if opts.MaxConns == 0 {
		opts.MaxConns = DefaultServerMaxConns
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultConnRateLimit
	}
	if opts.RateLimitBurst == 0 {
		opts.RateLimitBurst = DefaultConnRateLimitBurst
	}
	if opts.RateLimitCapacity == 0 {
		opts.RateLimitCapacity = DefaultConnRateLimitCapacity
	}
	if opts.Sessions == nil {
		opts.Sessions = kv.NewMemDB(kv.JSONCodec).Table("sessions")
	}
}

// ClientOptions parameterise a Client.
type ClientOptions struct {
	Logger  logrus.FieldLogger
	Session session.Options

	// Timeout bounds the handshake, and every send and receive.
	Timeout time.Duration

	// DialTimeout bounds each dial attempt, and MaxAttempts bounds the number
	// of attempts. A non-positive MaxAttempts retries until the context is
	// done.
	DialTimeout policy.Timeout
	MaxAttempts int
}

func DefaultClientOptions() ClientOptions {
	logger := logrus.New().
		WithField("lib", "sesh").
		WithField("pkg", "tcp").
		WithField("com", "client")
	return ClientOptions{
		Logger:      logger,
		Session:     session.DefaultOptions().WithLogger(logger),
		Timeout:     DefaultClientTimeout,
		DialTimeout: DefaultClientDialTimeout,
		MaxAttempts: DefaultClientMaxAttempts,
	}
}

// WithLogger sets the logger used by the client and its sessions.
func (opts ClientOptions) WithLogger(logger logrus.FieldLogger) ClientOptions {
	opts.Logger = logger
	opts.Session = opts.Session.WithLogger(logger)
	return opts
}

func (opts ClientOptions) WithSessionOptions(sessionOpts session.Options) ClientOptions {
	opts.Session = sessionOpts
	return opts
}

func (opts ClientOptions) WithTimeout(timeout time.Duration) ClientOptions {
	opts.Timeout = timeout
	return opts
}

func (opts ClientOptions) WithDialTimeout(timeout policy.Timeout) ClientOptions {
	opts.DialTimeout = timeout
	return opts
}

func (opts ClientOptions) WithMaxAttempts(attempts int) ClientOptions {
	opts.MaxAttempts = attempts
	return opts
}

func (opts *ClientOptions) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultClientTimeout
	}
	if opts.DialTimeout == nil {
		opts.DialTimeout = DefaultClientDialTimeout
	}
}
