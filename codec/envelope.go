package codec

import (
	"errors"
	"fmt"
	"io"
)

// ErrRefusedPacket is returned when the remote peer refuses a length frame.
var ErrRefusedPacket = errors.New("peer refused the packet")

// ErrTooLarge is returned when a frame announces more bytes than the receiver
// is willing to read.
type ErrTooLarge struct {
	error
	Length int
	Max    int
}

// NewErrTooLarge returns an ErrTooLarge for the announced and maximum lengths.
func NewErrTooLarge(length, max int) error {
	return ErrTooLarge{
		error:  fmt.Errorf("length=%d exceeds maximum=%d", length, max),
		Length: length,
		Max:    max,
	}
}

// WriteEnvelope writes a length frame, waits for the remote peer to accept it,
// and then writes the payload. Nothing after the frame is written if the peer
// refuses it. It returns the number of payload bytes written.
func WriteEnvelope(rw io.ReadWriter, payload []byte) (int, error) {
	frame, err := EncodeFrame(len(payload))
	if err != nil {
		return 0, fmt.Errorf("encoding frame: %w", err)
	}
	if _, err := PlainEncoder(rw, frame[:]); err != nil {
		return 0, fmt.Errorf("writing frame: %w", err)
	}
	ok, err := ReadAck(rw)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrRefusedPacket
	}
	n, err := PlainEncoder(rw, payload)
	if err != nil {
		return n, fmt.Errorf("writing payload: %w", err)
	}
	return n, nil
}

// EnvelopeEncoder is an Encoder that sends buf as one envelope. The
// acknowledgement is read back from w, so w must also be an io.Reader.
func EnvelopeEncoder(w io.Writer, buf []byte) (int, error) {
	rw, ok := w.(io.ReadWriter)
	if !ok {
		panic(fmt.Sprintf("invariant violation: envelope writer %T cannot read acknowledgements", w))
	}
	return WriteEnvelope(rw, buf)
}

// ReadEnvelopeFrame reads a length frame and validates it against maxLen
// (ignored when not positive). An invalid frame is refused with AckNOK, and
// the error is returned without reading any further. A valid frame is accepted
// with AckOK.
func ReadEnvelopeFrame(rw io.ReadWriter, maxLen int) (int, error) {
	frame := [FrameSize]byte{}
	if _, err := PlainDecoder(rw, frame[:]); err != nil {
		return 0, fmt.Errorf("reading frame: %w", err)
	}
	n, err := DecodeFrame(frame)
	if err == nil && maxLen > 0 && n > maxLen {
		err = NewErrTooLarge(n, maxLen)
	}
	if err != nil {
		if ackErr := WriteAck(rw, false); ackErr != nil {
			return 0, fmt.Errorf("%w (refusing frame: %v)", err, ackErr)
		}
		return 0, err
	}
	if err := WriteAck(rw, true); err != nil {
		return 0, err
	}
	return n, nil
}

// ReadEnvelope reads a length frame, accepts or refuses it, and then reads
// exactly the announced number of payload bytes.
func ReadEnvelope(rw io.ReadWriter, maxLen int) ([]byte, error) {
	n, err := ReadEnvelopeFrame(rw, maxLen)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := PlainDecoder(rw, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return payload, nil
}
