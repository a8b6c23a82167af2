package handshake

import (
	"time"

	"github.com/sirupsen/logrus"
)

var (
	DefaultRole             = SenderFirst
	DefaultKeyLength        = 32
	DefaultMaxPublicKeySize = 16 * 1024
	DefaultTimeout          = time.Duration(0)
)

// Options parameterise a handshake.
type Options struct {
	Logger logrus.FieldLogger
	Role   Role

	// KeyLength is the length of the generated AES key in bytes (16, 24, or
	// 32). Both peers must agree on it.
	KeyLength int

	// MaxPublicKeySize bounds the public key a remote peer may announce.
	MaxPublicKeySize int

	// Timeout bounds the whole handshake when the transport supports
	// deadlines. Zero disables it.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Logger: logrus.New().
			WithField("lib", "sesh").
			WithField("pkg", "handshake"),
		Role:             DefaultRole,
		KeyLength:        DefaultKeyLength,
		MaxPublicKeySize: DefaultMaxPublicKeySize,
		Timeout:          DefaultTimeout,
	}
}

func (opts Options) WithLogger(logger logrus.FieldLogger) Options {
	opts.Logger = logger
	return opts
}

func (opts Options) WithRole(role Role) Options {
	opts.Role = role
	return opts
}

func (opts Options) WithKeyLength(keyLength int) Options {
	opts.KeyLength = keyLength
	return opts
}

func (opts Options) WithMaxPublicKeySize(size int) Options {
	opts.MaxPublicKeySize = size
	return opts
}

func (opts Options) WithTimeout(timeout time.Duration) Options {
	opts.Timeout = timeout
	return opts
}

func (opts *Options) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.KeyLength == 0 {
		opts.KeyLength = DefaultKeyLength
	}
	if opts.MaxPublicKeySize == 0 {
		opts.MaxPublicKeySize = DefaultMaxPublicKeySize
	}
}
