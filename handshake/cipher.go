package handshake

// A Cipher is the asymmetric half of a handshake. It owns the local keypair,
// serializes the local public key for the remote peer, and seals the symmetric
// bootstrap for (or opens it from) the remote peer.
type Cipher interface {
	// PublicKey returns the serialized local public key, as it is sent over
	// the wire.
	PublicKey() ([]byte, error)

	// CheckPublicKey returns an error if the bytes received from the remote
	// peer are not a usable public key.
	CheckPublicKey(remotePubKey []byte) error

	// Seal encrypts a message so that only the owner of the remote public key
	// can open it.
	Seal(remotePubKey []byte, msg []byte) ([]byte, error)

	// Open decrypts a message that was sealed using the local public key.
	Open(ciphertext []byte) ([]byte, error)

	// SealedSize returns the exact size of a sealed message of n bytes, when
	// it was sealed for the local public key.
	SealedSize(n int) int

	// MaxPlaintext returns the largest message that can be sealed.
	MaxPlaintext() int
}
