// Package codec implements the byte-level pieces of the session wire format:
// decimal length frames, single-byte acknowledgements, envelopes that combine
// the two, and the symmetric session cipher used once a handshake has
// finished.
package codec

import (
	"io"
)

// An Encoder sends buf to w, possibly transformed. The count is the number of
// bytes that reached w, which is not always len(buf).
//
// Encoders compose: CBCEncoder(session, EnvelopeEncoder) encrypts a message
// and sends it as one envelope.
type Encoder func(w io.Writer, buf []byte) (int, error)

// A Decoder fills buf from r and undoes the transformation of the matching
// Encoder in place. The count is the length of the decoded prefix of buf.
type Decoder func(r io.Reader, buf []byte) (int, error)
