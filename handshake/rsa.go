package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

const (
	// DefaultRSAKeySize is the size, in bits, of generated RSA keys.
	DefaultRSAKeySize = 2048

	// PrivateKeyFile and PublicKeyFile are the names used when saving an RSA
	// keypair to a directory.
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"

	pemTypePublicKey  = "PUBLIC KEY"
	pemTypePrivateKey = "RSA PRIVATE KEY"
)

// ErrNotPEM is returned when key bytes do not contain a PEM block of the
// expected type.
var ErrNotPEM = errors.New("no pem block of the expected type")

// RSA is a Cipher that exchanges PEM encoded PKIX public keys, and seals
// messages using RSA-OAEP with SHA-256. Every sealed message is exactly as long
// as the RSA modulus.
type RSA struct {
	privKey *rsa.PrivateKey
}

// NewRSA generates a new RSA keypair with the given modulus size in bits.
func NewRSA(bits int) (*RSA, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}
	return &RSA{privKey: privKey}, nil
}

// NewRSAFromKey wraps an existing RSA private key.
func NewRSAFromKey(privKey *rsa.PrivateKey) *RSA {
	if privKey == nil {
		panic("invariant violation: rsa private key cannot be nil")
	}
	return &RSA{privKey: privKey}
}

// NewRSAFromPEM parses a PKCS#1 RSA private key from PEM.
func NewRSAFromPEM(data []byte) (*RSA, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, ErrNotPEM
	}
	privKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing rsa private key: %w", err)
	}
	return &RSA{privKey: privKey}, nil
}

// LoadRSA reads the private key saved by Save from a directory.
func LoadRSA(dir string) (*RSA, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading rsa private key: %w", err)
	}
	return NewRSAFromPEM(data)
}

// LoadOrGenerateRSA loads a keypair from the directory, or generates and saves
// a new one if the directory does not contain one yet.
func LoadOrGenerateRSA(dir string, bits int) (*RSA, error) {
	r, err := LoadRSA(dir)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if r, err = NewRSA(bits); err != nil {
		return nil, err
	}
	if err := r.Save(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// Save writes the private key (mode 0600) and public key (mode 0644) as PEM
// files to the directory, creating it if necessary.
func (r *RSA) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, PrivateKeyFile), r.PrivateKeyPEM(), 0600); err != nil {
		return fmt.Errorf("writing rsa private key: %w", err)
	}
	pubKey, err := r.PublicKey()
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, PublicKeyFile), pubKey, 0644); err != nil {
		return fmt.Errorf("writing rsa public key: %w", err)
	}
	return nil
}

// PrivateKeyPEM returns the private key encoded as PKCS#1 PEM.
func (r *RSA) PrivateKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivateKey,
		Bytes: x509.MarshalPKCS1PrivateKey(r.privKey),
	})
}

func (r *RSA) PublicKey() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&r.privKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling rsa public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

func (r *RSA) CheckPublicKey(remotePubKey []byte) error {
	_, err := parseRSAPublicKey(remotePubKey)
	return err
}

func (r *RSA) Seal(remotePubKey []byte, msg []byte) ([]byte, error) {
	pubKey, err := parseRSAPublicKey(remotePubKey)
	if err != nil {
		return nil, err
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pubKey, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting with rsa: %w", err)
	}
	return ciphertext, nil
}

func (r *RSA) Open(ciphertext []byte) ([]byte, error) {
	msg, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, r.privKey, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting with rsa: %w", err)
	}
	return msg, nil
}

// SealedSize is the size of the modulus in bytes, whatever the message size.
func (r *RSA) SealedSize(int) int {
	return r.privKey.Size()
}

// MaxPlaintext accounts for the OAEP padding overhead of two SHA-256 digests
// plus two bytes.
func (r *RSA) MaxPlaintext() int {
	return r.privKey.Size() - 2*sha256.Size - 2
}

func parseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePublicKey {
		return nil, ErrNotPEM
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parsing public key: expected rsa, got %T", pubKey)
	}
	return rsaPubKey, nil
}
