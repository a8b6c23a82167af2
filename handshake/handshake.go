// Package handshake bootstraps a symmetric session key over a raw byte
// stream. Both peers exchange public keys, and then the receiver-first peer
// generates an AES key and IV and seals them for the sender-first peer.
//
// Every frame that is sent is answered by a single acknowledgement byte, and a
// peer that fails while the other side is waiting for an acknowledgement always
// answers with codec.AckNOK before returning its error. This means that a local
// failure never leaves the remote peer blocked.
package handshake

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/anweddol/sesh/codec"
)

var (
	// ErrRefusedKey is returned when the remote peer refuses the local public
	// key.
	ErrRefusedKey = errors.New("peer refused the key")

	// ErrRefusedSessionKey is returned when the remote peer fails to open the
	// sealed session key.
	ErrRefusedSessionKey = errors.New("peer refused the session key")

	// ErrKeyTooLarge is returned, before any I/O, when the session key and IV
	// cannot be sealed in one message by the Cipher.
	ErrKeyTooLarge = errors.New("session key does not fit in one sealed message")

	// ErrInvalidKeyLength is returned, before any I/O, when the key length is
	// not a valid AES key size.
	ErrInvalidKeyLength = errors.New("session key length must be 16, 24, or 32 bytes")
)

// Role defines the order in which a peer exchanges public keys. The two peers
// of a handshake must have different roles.
type Role uint8

const (
	// SenderFirst peers send their public key first, and receive the session
	// key. Usually the dialer.
	SenderFirst Role = iota

	// ReceiverFirst peers receive a public key first, and generate the session
	// key. Usually the listener.
	ReceiverFirst
)

// String implements the fmt.Stringer interface.
func (role Role) String() string {
	switch role {
	case SenderFirst:
		return "sender-first"
	case ReceiverFirst:
		return "receiver-first"
	default:
		return fmt.Sprintf("role(%d)", uint8(role))
	}
}

// Keys are the result of a successful handshake. Both peers end up with the
// same Key and IV.
type Keys struct {
	Key             []byte
	IV              []byte
	RemotePublicKey []byte
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Handshake with the remote peer on the other end of rw. The steps are
// strictly sequential, and the order depends on the role in the options.
func Handshake(rw io.ReadWriter, cipher Cipher, opts Options) (Keys, error) {
	if cipher == nil {
		panic("invariant violation: cipher cannot be nil")
	}
	opts.setZerosToDefaults()
	switch opts.KeyLength {
	case 16, 24, 32:
	default:
		return Keys{}, fmt.Errorf("%w: got %v", ErrInvalidKeyLength, opts.KeyLength)
	}
	if opts.KeyLength+codec.IVSize > cipher.MaxPlaintext() {
		return Keys{}, fmt.Errorf("%w: %v bytes", ErrKeyTooLarge, opts.KeyLength+codec.IVSize)
	}

	if conn, ok := rw.(deadliner); ok && opts.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
			return Keys{}, fmt.Errorf("setting handshake deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	logger := opts.Logger.WithField("role", opts.Role)
	keys := Keys{}

	switch opts.Role {
	case SenderFirst:
		logger.Debug("sending public key")
		if err := writePublicKey(rw, cipher); err != nil {
			return Keys{}, err
		}
		logger.Debug("receiving public key")
		remotePubKey, err := readPublicKey(rw, cipher, opts.MaxPublicKeySize)
		if err != nil {
			return Keys{}, err
		}
		keys.RemotePublicKey = remotePubKey
		logger.Debug("receiving session key")
		if keys.Key, keys.IV, err = readSessionKey(rw, cipher, opts.KeyLength); err != nil {
			return Keys{}, err
		}

	case ReceiverFirst:
		logger.Debug("receiving public key")
		remotePubKey, err := readPublicKey(rw, cipher, opts.MaxPublicKeySize)
		if err != nil {
			return Keys{}, err
		}
		keys.RemotePublicKey = remotePubKey
		logger.Debug("sending public key")
		if err := writePublicKey(rw, cipher); err != nil {
			return Keys{}, err
		}
		logger.Debug("sending session key")
		if keys.Key, keys.IV, err = writeSessionKey(rw, cipher, remotePubKey, opts.KeyLength); err != nil {
			return Keys{}, err
		}

	default:
		return Keys{}, fmt.Errorf("unsupported role=%v", opts.Role)
	}

	logger.Debug("handshake complete")
	return keys, nil
}

func writePublicKey(rw io.ReadWriter, cipher Cipher) error {
	pubKey, err := cipher.PublicKey()
	if err != nil {
		return err
	}
	if _, err := codec.WriteEnvelope(rw, pubKey); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	ok, err := codec.ReadAck(rw)
	if err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if !ok {
		return ErrRefusedKey
	}
	return nil
}

func readPublicKey(rw io.ReadWriter, cipher Cipher, maxSize int) ([]byte, error) {
	n, err := codec.ReadEnvelopeFrame(rw, maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	pubKey := make([]byte, n)
	if _, err := codec.PlainDecoder(rw, pubKey); err != nil {
		return nil, refuse(rw, fmt.Errorf("reading public key: %w", err))
	}
	if err := cipher.CheckPublicKey(pubKey); err != nil {
		return nil, refuse(rw, fmt.Errorf("reading public key: %w", err))
	}
	if err := codec.WriteAck(rw, true); err != nil {
		return nil, err
	}
	return pubKey, nil
}

func writeSessionKey(rw io.ReadWriter, cipher Cipher, remotePubKey []byte, keyLength int) ([]byte, []byte, error) {
	keyAndIV := make([]byte, keyLength+codec.IVSize)
	if _, err := rand.Read(keyAndIV); err != nil {
		return nil, nil, fmt.Errorf("generating session key: %w", err)
	}
	sealed, err := cipher.Seal(remotePubKey, keyAndIV)
	if err != nil {
		return nil, nil, fmt.Errorf("sealing session key: %w", err)
	}
	if _, err := codec.PlainEncoder(rw, sealed); err != nil {
		return nil, nil, fmt.Errorf("writing session key: %w", err)
	}
	ok, err := codec.ReadAck(rw)
	if err != nil {
		return nil, nil, fmt.Errorf("writing session key: %w", err)
	}
	if !ok {
		return nil, nil, ErrRefusedSessionKey
	}
	return keyAndIV[:keyLength], keyAndIV[keyLength:], nil
}

func readSessionKey(rw io.ReadWriter, cipher Cipher, keyLength int) ([]byte, []byte, error) {
	sealed := make([]byte, cipher.SealedSize(keyLength+codec.IVSize))
	if _, err := codec.PlainDecoder(rw, sealed); err != nil {
		return nil, nil, refuse(rw, fmt.Errorf("reading session key: %w", err))
	}
	keyAndIV, err := cipher.Open(sealed)
	if err != nil {
		return nil, nil, refuse(rw, fmt.Errorf("opening session key: %w", err))
	}
	if len(keyAndIV) != keyLength+codec.IVSize {
		return nil, nil, refuse(rw, fmt.Errorf("opening session key: expected %v bytes, got %v", keyLength+codec.IVSize, len(keyAndIV)))
	}
	if err := codec.WriteAck(rw, true); err != nil {
		return nil, nil, err
	}
	ivStart := len(keyAndIV) - codec.IVSize
	return keyAndIV[:ivStart], keyAndIV[ivStart:], nil
}

// refuse answers the remote peer with AckNOK, so that it stops waiting, and
// returns the error that caused the refusal.
func refuse(w io.Writer, err error) error {
	if ackErr := codec.WriteAck(w, false); ackErr != nil {
		return fmt.Errorf("%w (refusing: %v)", err, ackErr)
	}
	return err
}
