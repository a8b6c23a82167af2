// Package testutil contains helpers shared by the tests of other packages.
package testutil

import (
	"fmt"
	"net"

	"github.com/anweddol/sesh/handshake"
	"github.com/anweddol/sesh/session"
	"github.com/renproject/phi"
	"github.com/sirupsen/logrus"
)

// NewCipher returns an ECIES cipher with a random key. It panics if the key
// cannot be generated.
func NewCipher() handshake.Cipher {
	cipher, err := handshake.NewECIES()
	if err != nil {
		panic(err)
	}
	return cipher
}

// SilentLogger returns a logger that discards everything below the panic
// level.
func SilentLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// NewSessionPair returns a receiver-first session and a sender-first session
// that are connected by a pipe and have completed their handshakes.
func NewSessionPair(opts session.Options) (*session.Session, *session.Session, error) {
	serverConn, clientConn := net.Pipe()
	server := session.New(serverConn, NewCipher(), opts.WithRole(handshake.ReceiverFirst))
	client := session.New(clientConn, NewCipher(), opts.WithRole(handshake.SenderFirst))

	var serverErr, clientErr error
	phi.ParBegin(func() {
		serverErr = server.Handshake()
		if serverErr != nil {
			server.Close()
		}
	}, func() {
		clientErr = client.Handshake()
		if clientErr != nil {
			client.Close()
		}
	})
	if serverErr != nil || clientErr != nil {
		server.Close()
		client.Close()
		return nil, nil, fmt.Errorf("handshaking: server=%v, client=%v", serverErr, clientErr)
	}
	return server, client, nil
}

// NewLocalListener listens on a random port of the loopback interface, and
// returns the listener and its address.
func NewLocalListener() (net.Listener, string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	return listener, listener.Addr().String(), nil
}
