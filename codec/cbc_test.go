package codec_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing/quick"

	"github.com/anweddol/sesh/codec"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return buf
}

var _ = Describe("CBC Codec", func() {
	Context("when creating a session", func() {
		It("should accept AES-128, AES-192, and AES-256 keys", func() {
			for _, size := range []int{16, 24, 32} {
				_, err := codec.NewCBCSession(randomBytes(size), randomBytes(codec.IVSize))
				Expect(err).ToNot(HaveOccurred())
			}
		})

		It("should reject bad key and iv sizes", func() {
			_, err := codec.NewCBCSession(randomBytes(31), randomBytes(codec.IVSize))
			Expect(err).To(HaveOccurred())
			_, err = codec.NewCBCSession(randomBytes(32), randomBytes(8))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when encrypting and decrypting with the same key", func() {
		It("should return the original plaintext", func() {
			session, err := codec.NewCBCSession(randomBytes(32), randomBytes(codec.IVSize))
			Expect(err).ToNot(HaveOccurred())

			test := func(plaintext []byte) bool {
				ciphertext := session.Encrypt(plaintext)
				Expect(len(ciphertext) % 16).To(Equal(0))
				Expect(len(ciphertext)).To(BeNumerically(">", len(plaintext)))
				decrypted, err := session.Decrypt(ciphertext)
				Expect(err).ToNot(HaveOccurred())
				return bytes.Equal(decrypted, plaintext)
			}
			Expect(quick.Check(test, nil)).To(Succeed())
		})

		It("should pad a full block with a whole block of padding", func() {
			session, err := codec.NewCBCSession(randomBytes(16), randomBytes(codec.IVSize))
			Expect(err).ToNot(HaveOccurred())
			Expect(session.Encrypt(randomBytes(16))).To(HaveLen(32))
			Expect(session.Encrypt(nil)).To(HaveLen(16))
		})
	})

	Context("when decrypting with a different key", func() {
		It("should not return the original plaintext", func() {
			iv := randomBytes(codec.IVSize)
			session1, err := codec.NewCBCSession(randomBytes(32), iv)
			Expect(err).ToNot(HaveOccurred())
			session2, err := codec.NewCBCSession(randomBytes(32), iv)
			Expect(err).ToNot(HaveOccurred())

			plaintext := []byte(`{"success": true, "message": "pong"}`)
			decrypted, err := session2.Decrypt(session1.Encrypt(plaintext))
			if err == nil {
				Expect(decrypted).ToNot(Equal(plaintext))
			}
		})
	})

	Context("when decrypting data that is not block aligned", func() {
		It("should return an error", func() {
			session, err := codec.NewCBCSession(randomBytes(32), randomBytes(codec.IVSize))
			Expect(err).ToNot(HaveOccurred())
			_, err = session.Decrypt(randomBytes(17))
			Expect(err).To(HaveOccurred())
			_, err = session.Decrypt(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when chaining the encoder and decoder", func() {
		It("should successfully transmit message in both directions", func() {
			key, iv := randomBytes(32), randomBytes(codec.IVSize)
			session1, err := codec.NewCBCSession(key, iv)
			Expect(err).ToNot(HaveOccurred())
			session2, err := codec.NewCBCSession(key, iv)
			Expect(err).ToNot(HaveOccurred())

			var wire bytes.Buffer
			enc := codec.CBCEncoder(session1, codec.PlainEncoder)
			n, err := enc(&wire, []byte("Hi there from 1!"))
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(32))

			buf := make([]byte, n)
			dec := codec.CBCDecoder(session2, codec.PlainDecoder)
			n, err = dec(&wire, buf)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("Hi there from 1!"))
		})

		It("should send encrypted envelopes", func() {
			key, iv := randomBytes(32), randomBytes(codec.IVSize)
			sender, err := codec.NewCBCSession(key, iv)
			Expect(err).ToNot(HaveOccurred())
			receiver, err := codec.NewCBCSession(key, iv)
			Expect(err).ToNot(HaveOccurred())

			out := new(bytes.Buffer)
			enc := codec.CBCEncoder(sender, codec.EnvelopeEncoder)
			n, err := enc(readWriter{bytes.NewReader([]byte{codec.AckOK}), out}, []byte("hello"))
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(16))

			ciphertext, err := codec.ReadEnvelope(readWriter{out, new(bytes.Buffer)}, 0)
			Expect(err).ToNot(HaveOccurred())
			n, err = codec.CBCDecoder(receiver, codec.PlainDecoder)(bytes.NewReader(ciphertext), ciphertext)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(ciphertext[:n])).To(Equal("hello"))
		})

		It("should return the padding error when decoding", func() {
			key, iv := randomBytes(32), randomBytes(codec.IVSize)
			session, err := codec.NewCBCSession(key, iv)
			Expect(err).ToNot(HaveOccurred())

			// The first block decrypts to zeros, which is not valid padding.
			ciphertext := session.Encrypt(make([]byte, 16))[:16]
			_, err = codec.CBCDecoder(session, codec.PlainDecoder)(bytes.NewReader(ciphertext), ciphertext)
			Expect(errors.Is(err, codec.ErrBadPadding)).To(BeTrue())
		})
	})
})
