package session

import (
	"time"

	"github.com/anweddol/sesh/handshake"
	"github.com/sirupsen/logrus"
)

var (
	DefaultTimeout        = time.Duration(0)
	DefaultMaxMessageSize = 16 * 1024 * 1024
	DefaultRetainRequests = false
)

// Options parameterise a Session.
type Options struct {
	Logger    logrus.FieldLogger
	Handshake handshake.Options

	// Timeout bounds every send and receive. Zero disables it.
	Timeout time.Duration

	// MaxMessageSize bounds the ciphertext a remote peer may announce.
	MaxMessageSize int

	// RetainRequests keeps the most recently received valid request, so that
	// it can be read back with StoredRequest.
	RetainRequests bool

	// RequestValidator checks received requests after they have been decoded.
	// Nil accepts every JSON object.
	RequestValidator Validator
}

func DefaultOptions() Options {
	logger := logrus.New().
		WithField("lib", "sesh").
		WithField("pkg", "session")
	return Options{
		Logger:         logger,
		Handshake:      handshake.DefaultOptions().WithLogger(logger),
		Timeout:        DefaultTimeout,
		MaxMessageSize: DefaultMaxMessageSize,
		RetainRequests: DefaultRetainRequests,
	}
}

func (opts Options) WithLogger(logger logrus.FieldLogger) Options {
	opts.Logger = logger
	opts.Handshake = opts.Handshake.WithLogger(logger)
	return opts
}

func (opts Options) WithHandshakeOptions(hsOpts handshake.Options) Options {
	opts.Handshake = hsOpts
	return opts
}

// WithRole sets the role used during the handshake.
func (opts Options) WithRole(role handshake.Role) Options {
	opts.Handshake = opts.Handshake.WithRole(role)
	return opts
}

func (opts Options) WithTimeout(timeout time.Duration) Options {
	opts.Timeout = timeout
	return opts
}

func (opts Options) WithMaxMessageSize(size int) Options {
	opts.MaxMessageSize = size
	return opts
}

func (opts Options) WithRetainRequests(retain bool) Options {
	opts.RetainRequests = retain
	return opts
}

func (opts Options) WithRequestValidator(validator Validator) Options {
	opts.RequestValidator = validator
	return opts
}

func (opts *Options) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Handshake.Logger == nil {
		opts.Handshake.Logger = opts.Logger
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
}
