// Package session implements an authenticated, encrypted, message oriented
// channel over a single stream connection.
//
// A Session is created in the Uninitialized state, without doing any I/O. An
// explicit call to Handshake exchanges keys with the remote peer, after which
// requests and responses can be sent and received. Each message is a JSON
// document, encrypted with AES-CBC and sent as an envelope: an 8-byte decimal
// length frame, a single acknowledgement byte from the receiver, and then the
// ciphertext.
//
//	sess := session.New(conn, cipher, session.DefaultOptions().WithRole(handshake.SenderFirst))
//	defer sess.Close()
//	if err := sess.Handshake(); err != nil {
//		return err
//	}
//	if err := sess.SendRequest(session.NewRequest("STAT", nil)); err != nil {
//		return err
//	}
//	res, violations, err := sess.RecvResponse()
//
// A Session is not safe for concurrent use, with one exception: Close can be
// called from any goroutine, and aborts any send or receive that is blocked on
// the transport.
package session

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anweddol/sesh/codec"
	"github.com/anweddol/sesh/handshake"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrNotConnected is returned when sending or receiving on a Session
	// that has been closed.
	ErrNotConnected = errors.New("session must be connected")

	// ErrNotReady is returned when sending or receiving on a Session that has
	// not completed its handshake.
	ErrNotReady = errors.New("session handshake has not completed")

	// ErrHandshakeStarted is returned when Handshake is called more than once.
	ErrHandshakeStarted = errors.New("session handshake already started")
)

// A Session wraps one transport connection.
type Session struct {
	opts   Options
	logger logrus.FieldLogger

	conn   net.Conn
	cipher handshake.Cipher

	id        string
	createdAt time.Time

	// state is only written by the owning goroutine, except for the move to
	// Closed, which can happen from any goroutine.
	state     uint32
	closeOnce sync.Once
	closeErr  error

	keysMu  sync.Mutex
	keys    handshake.Keys
	enc     codec.Encoder
	dec     codec.Decoder
	stored  Request
	hasLast bool
}

// New returns an Uninitialized Session over the connection. No I/O is done
// until Handshake is called.
func New(conn net.Conn, cipher handshake.Cipher, opts Options) *Session {
	if conn == nil {
		panic("invariant violation: conn cannot be nil")
	}
	if cipher == nil {
		panic("invariant violation: cipher cannot be nil")
	}
	opts.setZerosToDefaults()

	id := ID(conn.RemoteAddr())
	return &Session{
		opts:      opts,
		logger:    opts.Logger.WithField("session", id[:16]),
		conn:      conn,
		cipher:    cipher,
		id:        id,
		createdAt: time.Now(),
		state:     uint32(Uninitialized),
	}
}

// ID derives a session identifier from the remote address of a connection: the
// hex encoded SHA3-256 digest of its string form.
func ID(remote net.Addr) string {
	addr := ""
	if remote != nil {
		addr = remote.Network() + "://" + remote.String()
	}
	digest := sha3.Sum256([]byte(addr))
	return hex.EncodeToString(digest[:])
}

// ID returns the identifier of the Session.
func (sess *Session) ID() string {
	return sess.id
}

// CreatedAt returns the time at which the Session was created.
func (sess *Session) CreatedAt() time.Time {
	return sess.createdAt
}

// RemoteAddr returns the address of the remote peer.
func (sess *Session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

// State returns the current state of the Session.
func (sess *Session) State() State {
	return State(atomic.LoadUint32(&sess.state))
}

// IsClosed returns true once Close has been called.
func (sess *Session) IsClosed() bool {
	return sess.State() == Closed
}

// RemotePublicKey returns the public key learned during the handshake, or nil
// before the handshake has completed.
func (sess *Session) RemotePublicKey() []byte {
	sess.keysMu.Lock()
	defer sess.keysMu.Unlock()
	return sess.keys.RemotePublicKey
}

// Keys returns a copy of the symmetric key and IV agreed during the handshake.
// After Close, the returned key material is zeroed.
func (sess *Session) Keys() handshake.Keys {
	sess.keysMu.Lock()
	defer sess.keysMu.Unlock()
	return handshake.Keys{
		Key:             append([]byte{}, sess.keys.Key...),
		IV:              append([]byte{}, sess.keys.IV...),
		RemotePublicKey: append([]byte{}, sess.keys.RemotePublicKey...),
	}
}

// StoredRequest returns the most recently received valid request, if requests
// are being retained.
func (sess *Session) StoredRequest() (Request, bool) {
	return sess.stored, sess.hasLast
}

// setState moves the Session forward, unless it has been closed in the
// meantime.
func (sess *Session) setState(from, to State) bool {
	return atomic.CompareAndSwapUint32(&sess.state, uint32(from), uint32(to))
}

// Handshake exchanges keys with the remote peer. On success the Session is
// Ready. On failure the Session is unusable and must be closed.
func (sess *Session) Handshake() error {
	switch state := sess.State(); state {
	case Closed:
		return ErrNotConnected
	case Uninitialized:
	default:
		return ErrHandshakeStarted
	}
	if !sess.setState(Uninitialized, Handshaking) {
		return ErrNotConnected
	}

	hsOpts := sess.opts.Handshake
	if hsOpts.Timeout == 0 {
		hsOpts.Timeout = sess.opts.Timeout
	}
	keys, err := handshake.Handshake(sess.conn, sess.cipher, hsOpts)
	if err != nil {
		sess.logger.Warnf("handshake with %v failed: %v", sess.conn.RemoteAddr(), err)
		return fmt.Errorf("handshake: %w", err)
	}
	cbc, err := codec.NewCBCSession(keys.Key, keys.IV)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	sess.keysMu.Lock()
	sess.keys = keys
	sess.keysMu.Unlock()
	sess.enc = codec.CBCEncoder(cbc, codec.EnvelopeEncoder)
	sess.dec = codec.CBCDecoder(cbc, codec.PlainDecoder)
	if !sess.setState(Handshaking, Ready) {
		sess.zeroKeys()
		return ErrNotConnected
	}
	sess.logger.Debugf("handshake with %v complete", sess.conn.RemoteAddr())
	return nil
}

// SendRequest encrypts and sends a request.
func (sess *Session) SendRequest(req Request) error {
	if req == nil {
		req = Request{}
	}
	return sess.send(req)
}

// SendResponse encrypts and sends a response.
func (sess *Session) SendResponse(res Response) error {
	return sess.send(res)
}

// RecvRequest receives and decrypts a request. A request that is not a JSON
// object, or that is refused by the RequestValidator, is reported as non-empty
// Violations rather than as an error; the Session remains usable. Errors are
// always fatal to the Session.
func (sess *Session) RecvRequest() (Request, Violations, error) {
	data, err := sess.recv()
	if err != nil {
		return nil, nil, err
	}
	req, violations := decodeRequest(data)
	if len(violations) == 0 && sess.opts.RequestValidator != nil {
		violations = sess.opts.RequestValidator(req)
	}
	if len(violations) > 0 {
		sess.logger.Debugf("malformed request: %v", violations)
		return nil, violations, nil
	}
	if sess.opts.RetainRequests {
		sess.stored = req
		sess.hasLast = true
	}
	return req, nil, nil
}

// RecvResponse receives and decrypts a response. A response that does not have
// the expected shape is reported as non-empty Violations rather than as an
// error; the Session remains usable. Errors are always fatal to the Session.
func (sess *Session) RecvResponse() (Response, Violations, error) {
	data, err := sess.recv()
	if err != nil {
		return Response{}, nil, err
	}
	res, violations := decodeResponse(data)
	if len(violations) > 0 {
		sess.logger.Debugf("malformed response: %v", violations)
		return Response{}, violations, nil
	}
	return res, nil, nil
}

func (sess *Session) send(payload interface{}) error {
	if err := sess.checkReady(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	if err := sess.setDeadline(); err != nil {
		return err
	}
	if _, err := sess.enc(sess.conn, data); err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	return nil
}

func (sess *Session) recv() ([]byte, error) {
	if err := sess.checkReady(); err != nil {
		return nil, err
	}
	if err := sess.setDeadline(); err != nil {
		return nil, err
	}
	ciphertext, err := codec.ReadEnvelope(sess.conn, sess.opts.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("receiving: %w", err)
	}
	// The ciphertext is decrypted in place.
	n, err := sess.dec(bytes.NewReader(ciphertext), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("receiving: %w", err)
	}
	return ciphertext[:n], nil
}

func (sess *Session) checkReady() error {
	switch sess.State() {
	case Ready:
		return nil
	case Closed:
		return ErrNotConnected
	default:
		return ErrNotReady
	}
}

func (sess *Session) setDeadline() error {
	if sess.opts.Timeout <= 0 {
		return nil
	}
	if err := sess.conn.SetDeadline(time.Now().Add(sess.opts.Timeout)); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	return nil
}

// Close the transport and forget the session keys. Close is idempotent: the
// first call returns the error from closing the transport, and later calls
// return the same error without doing anything.
func (sess *Session) Close() error {
	sess.closeOnce.Do(func() {
		atomic.StoreUint32(&sess.state, uint32(Closed))
		sess.closeErr = sess.conn.Close()
		sess.zeroKeys()
		sess.logger.Debugf("closed session with %v", sess.conn.RemoteAddr())
	})
	return sess.closeErr
}

func (sess *Session) zeroKeys() {
	sess.keysMu.Lock()
	defer sess.keysMu.Unlock()
	memzero(sess.keys.Key)
	memzero(sess.keys.IV)
}

func memzero(b []byte) {
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
