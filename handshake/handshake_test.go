package handshake_test

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"net"
	"time"

	"github.com/anweddol/sesh/codec"
	"github.com/anweddol/sesh/handshake"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/renproject/phi"
)

type readWriter struct {
	io.Reader
	io.Writer
}

// faultyCipher wraps a Cipher and lets tests break individual operations.
type faultyCipher struct {
	handshake.Cipher
	openErr      error
	maxPlaintext int
}

func (c faultyCipher) Open(ciphertext []byte) ([]byte, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.Cipher.Open(ciphertext)
}

func (c faultyCipher) MaxPlaintext() int {
	if c.maxPlaintext != 0 {
		return c.maxPlaintext
	}
	return c.Cipher.MaxPlaintext()
}

func newRSA() handshake.Cipher {
	r, err := handshake.NewRSA(handshake.DefaultRSAKeySize)
	Expect(err).ToNot(HaveOccurred())
	return r
}

func newECIES() handshake.Cipher {
	e, err := handshake.NewECIES()
	Expect(err).ToNot(HaveOccurred())
	return e
}

func handshakeOverPipe(sender, receiver handshake.Cipher, opts handshake.Options) (handshake.Keys, error, handshake.Keys, error) {
	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	var senderKeys, receiverKeys handshake.Keys
	var senderErr, receiverErr error
	phi.ParBegin(func() {
		senderKeys, senderErr = handshake.Handshake(senderConn, sender, opts.WithRole(handshake.SenderFirst))
		if senderErr != nil {
			senderConn.Close()
		}
	}, func() {
		receiverKeys, receiverErr = handshake.Handshake(receiverConn, receiver, opts.WithRole(handshake.ReceiverFirst))
		if receiverErr != nil {
			receiverConn.Close()
		}
	})
	return senderKeys, senderErr, receiverKeys, receiverErr
}

var _ = Describe("Handshake", func() {
	Context("when both peers use RSA", func() {
		It("should agree on the same key and iv", func() {
			sender, receiver := newRSA(), newRSA()
			senderKeys, senderErr, receiverKeys, receiverErr := handshakeOverPipe(sender, receiver, handshake.DefaultOptions())
			Expect(senderErr).ToNot(HaveOccurred())
			Expect(receiverErr).ToNot(HaveOccurred())

			Expect(senderKeys.Key).To(HaveLen(handshake.DefaultKeyLength))
			Expect(senderKeys.IV).To(HaveLen(codec.IVSize))
			Expect(senderKeys.Key).To(Equal(receiverKeys.Key))
			Expect(senderKeys.IV).To(Equal(receiverKeys.IV))

			senderPubKey, err := sender.PublicKey()
			Expect(err).ToNot(HaveOccurred())
			receiverPubKey, err := receiver.PublicKey()
			Expect(err).ToNot(HaveOccurred())
			Expect(receiverKeys.RemotePublicKey).To(Equal(senderPubKey))
			Expect(senderKeys.RemotePublicKey).To(Equal(receiverPubKey))
		})

		It("should support shorter AES keys", func() {
			opts := handshake.DefaultOptions().WithKeyLength(16)
			senderKeys, senderErr, receiverKeys, receiverErr := handshakeOverPipe(newRSA(), newRSA(), opts)
			Expect(senderErr).ToNot(HaveOccurred())
			Expect(receiverErr).ToNot(HaveOccurred())
			Expect(senderKeys.Key).To(HaveLen(16))
			Expect(senderKeys.Key).To(Equal(receiverKeys.Key))
		})
	})

	Context("when both peers use ECIES", func() {
		It("should agree on the same key and iv", func() {
			senderKeys, senderErr, receiverKeys, receiverErr := handshakeOverPipe(newECIES(), newECIES(), handshake.DefaultOptions())
			Expect(senderErr).ToNot(HaveOccurred())
			Expect(receiverErr).ToNot(HaveOccurred())
			Expect(senderKeys.Key).To(Equal(receiverKeys.Key))
			Expect(senderKeys.IV).To(Equal(receiverKeys.IV))
		})
	})

	Context("when the peers use different ciphers", func() {
		It("should refuse the key on both sides", func() {
			_, senderErr, _, receiverErr := handshakeOverPipe(newECIES(), newRSA(), handshake.DefaultOptions())
			Expect(errors.Is(senderErr, handshake.ErrRefusedKey)).To(BeTrue())
			Expect(senderErr.Error()).To(ContainSubstring("refused the key"))
			Expect(errors.Is(receiverErr, handshake.ErrNotPEM)).To(BeTrue())
		})
	})

	Context("when the peer refuses the public key length", func() {
		It("should return a refusal error without sending the key", func() {
			in := bytes.NewReader([]byte{codec.AckNOK})
			out := new(bytes.Buffer)
			_, err := handshake.Handshake(readWriter{in, out}, newRSA(), handshake.DefaultOptions().WithRole(handshake.SenderFirst))
			Expect(errors.Is(err, codec.ErrRefusedPacket)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("refused the packet"))
			Expect(out.Len()).To(Equal(codec.FrameSize))
		})
	})

	Context("when the peer announces a bad public key length", func() {
		It("should answer NOK without reading further", func() {
			for _, raw := range []string{"-1======", "0======="} {
				in := bytes.NewReader([]byte(raw + "key"))
				out := new(bytes.Buffer)
				_, err := handshake.Handshake(readWriter{in, out}, newECIES(), handshake.DefaultOptions().WithRole(handshake.ReceiverFirst))
				var invalid codec.ErrInvalidLength
				Expect(errors.As(err, &invalid)).To(BeTrue())
				Expect(out.Bytes()).To(Equal([]byte{codec.AckNOK}))
				Expect(in.Len()).To(Equal(3))
			}
		})

		It("should answer NOK when the length exceeds the maximum", func() {
			in := bytes.NewReader([]byte("99999==="))
			out := new(bytes.Buffer)
			opts := handshake.DefaultOptions().WithRole(handshake.ReceiverFirst).WithMaxPublicKeySize(1024)
			_, err := handshake.Handshake(readWriter{in, out}, newECIES(), opts)
			var tooLarge codec.ErrTooLarge
			Expect(errors.As(err, &tooLarge)).To(BeTrue())
			Expect(out.Bytes()).To(Equal([]byte{codec.AckNOK}))
		})
	})

	Context("when the peer sends a public key that cannot be parsed", func() {
		It("should accept the frame and then refuse the key", func() {
			in := bytes.NewReader([]byte("4=======" + "junk"))
			out := new(bytes.Buffer)
			_, err := handshake.Handshake(readWriter{in, out}, newECIES(), handshake.DefaultOptions().WithRole(handshake.ReceiverFirst))
			Expect(err).To(HaveOccurred())
			Expect(out.Bytes()).To(Equal([]byte{codec.AckOK, codec.AckNOK}))
		})
	})

	Context("when the sender-first peer cannot open the session key", func() {
		It("should refuse the session key so that the other peer does not hang", func() {
			openErr := errors.New("cannot open")
			sender := faultyCipher{Cipher: newECIES(), openErr: openErr}
			_, senderErr, _, receiverErr := handshakeOverPipe(sender, newECIES(), handshake.DefaultOptions())
			Expect(errors.Is(senderErr, openErr)).To(BeTrue())
			Expect(errors.Is(receiverErr, handshake.ErrRefusedSessionKey)).To(BeTrue())
		})
	})

	Context("when the session key does not fit in one sealed message", func() {
		It("should fail before any I/O", func() {
			in := bytes.NewReader(nil)
			out := new(bytes.Buffer)
			_, err := handshake.Handshake(readWriter{in, out}, faultyCipher{Cipher: newECIES(), maxPlaintext: 47}, handshake.DefaultOptions())
			Expect(errors.Is(err, handshake.ErrKeyTooLarge)).To(BeTrue())
			Expect(out.Len()).To(Equal(0))
		})
	})

	Context("when the key length is not an AES key size", func() {
		It("should fail before any I/O", func() {
			for _, keyLength := range []int{-1, 1, 15, 20, 33, 64} {
				in := bytes.NewReader(nil)
				out := new(bytes.Buffer)
				opts := handshake.DefaultOptions().WithKeyLength(keyLength)
				for _, role := range []handshake.Role{handshake.SenderFirst, handshake.ReceiverFirst} {
					_, err := handshake.Handshake(readWriter{in, out}, newECIES(), opts.WithRole(role))
					Expect(errors.Is(err, handshake.ErrInvalidKeyLength)).To(BeTrue())
				}
				Expect(out.Len()).To(Equal(0))
			}
		})

		It("should accept every AES key size", func() {
			for _, keyLength := range []int{16, 24, 32} {
				senderKeys, senderErr, receiverKeys, receiverErr := handshakeOverPipe(newECIES(), newECIES(), handshake.DefaultOptions().WithKeyLength(keyLength))
				Expect(senderErr).ToNot(HaveOccurred())
				Expect(receiverErr).ToNot(HaveOccurred())
				Expect(senderKeys.Key).To(HaveLen(keyLength))
				Expect(receiverKeys.Key).To(Equal(senderKeys.Key))
			}
		})
	})

	Context("when the peer never answers", func() {
		It("should time out", func() {
			local, remote := net.Pipe()
			defer local.Close()
			defer remote.Close()
			go io.Copy(ioutil.Discard, remote)

			opts := handshake.DefaultOptions().WithRole(handshake.SenderFirst).WithTimeout(50 * time.Millisecond)
			_, err := handshake.Handshake(local, newECIES(), opts)
			var netErr net.Error
			Expect(errors.As(err, &netErr)).To(BeTrue())
			Expect(netErr.Timeout()).To(BeTrue())
		})
	})
})

var _ = Describe("Role", func() {
	It("should print its name", func() {
		Expect(handshake.SenderFirst.String()).To(Equal("sender-first"))
		Expect(handshake.ReceiverFirst.String()).To(Equal("receiver-first"))
		Expect(handshake.Role(7).String()).To(Equal("role(7)"))
	})
})
