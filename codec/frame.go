package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// FrameSize is the number of bytes in a length frame.
	FrameSize = 8

	// FramePadding fills the unused tail of a length frame.
	FramePadding = '='

	// MaxFrameLength is the largest length that fits in a frame.
	MaxFrameLength = 99999999
)

// ErrFrameOverflow is returned when a length has more decimal digits than fit
// in a frame.
var ErrFrameOverflow = errors.New("length does not fit in frame")

// ErrInvalidLength is returned when a frame carries a length that is zero or
// negative. A frame like that can never be followed by a payload.
type ErrInvalidLength struct {
	error
	Length int
}

// NewErrInvalidLength returns an ErrInvalidLength for the given length.
func NewErrInvalidLength(length int) error {
	return ErrInvalidLength{
		error:  fmt.Errorf("invalid length=%d in frame", length),
		Length: length,
	}
}

// ErrMalformedFrame is returned when a frame does not contain a decimal
// integer.
type ErrMalformedFrame struct {
	error
	Frame string
}

// NewErrMalformedFrame returns an ErrMalformedFrame for the raw frame bytes.
func NewErrMalformedFrame(frame []byte) error {
	return ErrMalformedFrame{
		error: fmt.Errorf("malformed frame %q", frame),
		Frame: string(frame),
	}
}

// EncodeFrame returns the frame announcing a payload of n bytes: the decimal
// digits of n, left-justified, with the rest of the frame filled by
// FramePadding. For example, 42 is encoded as "42======".
func EncodeFrame(n int) ([FrameSize]byte, error) {
	frame := [FrameSize]byte{}
	if n <= 0 {
		return frame, NewErrInvalidLength(n)
	}
	if n > MaxFrameLength {
		return frame, fmt.Errorf("%w: %d", ErrFrameOverflow, n)
	}
	digits := strconv.Itoa(n)
	copy(frame[:], digits)
	for i := len(digits); i < FrameSize; i++ {
		frame[i] = FramePadding
	}
	return frame, nil
}

// DecodeFrame parses a frame produced by EncodeFrame. Everything from the
// first FramePadding byte onwards is ignored. The parsed length must be
// positive.
func DecodeFrame(frame [FrameSize]byte) (int, error) {
	digits := frame[:]
	if i := bytes.IndexByte(digits, FramePadding); i >= 0 {
		digits = digits[:i]
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, NewErrMalformedFrame(frame[:])
	}
	if n <= 0 {
		return n, NewErrInvalidLength(n)
	}
	return n, nil
}
