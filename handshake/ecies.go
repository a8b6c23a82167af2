package handshake

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// sizeOfECIESOverhead is the 65-byte ephemeral public key, the 16-byte AES
// IV, and the 32-byte HMAC-SHA256 tag that ECIES adds to every message.
const sizeOfECIESOverhead = 113

// ECIES is a Cipher that exchanges uncompressed secp256k1 public keys (65
// bytes), and seals messages using ECIES with AES-128 and SHA-256.
type ECIES struct {
	privKey *ecdsa.PrivateKey
}

// NewECIES generates a new secp256k1 keypair.
func NewECIES() (*ECIES, error) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &ECIES{privKey: privKey}, nil
}

// NewECIESFromKey wraps an existing secp256k1 private key.
func NewECIESFromKey(privKey *ecdsa.PrivateKey) *ECIES {
	if privKey == nil {
		panic("invariant violation: ecdsa private key cannot be nil")
	}
	return &ECIES{privKey: privKey}
}

func (e *ECIES) PublicKey() ([]byte, error) {
	return crypto.FromECDSAPub(&e.privKey.PublicKey), nil
}

func (e *ECIES) CheckPublicKey(remotePubKey []byte) error {
	if _, err := crypto.UnmarshalPubkey(remotePubKey); err != nil {
		return fmt.Errorf("unmarshaling secp256k1 public key: %w", err)
	}
	return nil
}

func (e *ECIES) Seal(remotePubKey []byte, msg []byte) ([]byte, error) {
	pubKey, err := crypto.UnmarshalPubkey(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling secp256k1 public key: %w", err)
	}
	ciphertext, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pubKey), msg, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting with ecies: %w", err)
	}
	return ciphertext, nil
}

func (e *ECIES) Open(ciphertext []byte) ([]byte, error) {
	msg, err := ecies.ImportECDSA(e.privKey).Decrypt(ciphertext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting with ecies: %w", err)
	}
	return msg, nil
}

func (e *ECIES) SealedSize(n int) int {
	return n + sizeOfECIESOverhead
}

func (e *ECIES) MaxPlaintext() int {
	return math.MaxInt32 - sizeOfECIESOverhead
}
