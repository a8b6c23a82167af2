package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// IVSize is the size of the initialisation vector used by a CBCSession.
const IVSize = aes.BlockSize

// ErrBadPadding is returned when decrypted data does not end with valid
// PKCS#7 padding. This usually means the data was encrypted with a different
// key, or was corrupted on the wire.
var ErrBadPadding = errors.New("bad padding")

// A CBCSession stores the state of an AES-CBC encrypted session: the block
// cipher built from the session key, and the initialisation vector agreed
// during the handshake. Every message is encrypted independently with the same
// key and IV, and padded to the AES block size using PKCS#7.
type CBCSession struct {
	block cipher.Block
	iv    [IVSize]byte
}

// NewCBCSession accepts a symmetric secret key (16, 24, or 32 bytes) and an
// IV, and returns a CBCSession configured to use them.
func NewCBCSession(key, iv []byte) (*CBCSession, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("creating cbc session: expected iv of %v bytes, got %v", IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}
	session := &CBCSession{block: block}
	copy(session.iv[:], iv)
	return session, nil
}

// Encrypt pads and encrypts the plaintext. The result is always a non-empty
// multiple of the block size.
func (session *CBCSession) Encrypt(plaintext []byte) []byte {
	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(session.block, session.iv[:]).CryptBlocks(ciphertext, padded)
	return ciphertext
}

// Decrypt decrypts the ciphertext and strips its padding.
func (session *CBCSession) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("decrypting: ciphertext of %v bytes is not a multiple of the block size", len(ciphertext))
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(session.block, session.iv[:]).CryptBlocks(plaintext, ciphertext)
	return unpad(plaintext, aes.BlockSize)
}

// CBCEncoder returns an Encoder that encrypts the buffer and passes the
// ciphertext to the inner Encoder. The returned count is the number of
// ciphertext bytes written.
func CBCEncoder(session *CBCSession, enc Encoder) Encoder {
	return func(w io.Writer, buf []byte) (int, error) {
		n, err := enc(w, session.Encrypt(buf))
		if err != nil {
			return n, fmt.Errorf("encoding encrypted data: %w", err)
		}
		return n, nil
	}
}

// CBCDecoder returns a Decoder that uses the inner Decoder to fill the buffer
// with ciphertext, and then decrypts it in place. The returned count is the
// length of the plaintext at the front of the buffer.
func CBCDecoder(session *CBCSession, dec Decoder) Decoder {
	return func(r io.Reader, buf []byte) (int, error) {
		n, err := dec(r, buf)
		if err != nil {
			return n, fmt.Errorf("decoding data: %w", err)
		}
		plaintext, err := session.Decrypt(buf[:n])
		if err != nil {
			return 0, err
		}
		return copy(buf, plaintext), nil
	}
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
