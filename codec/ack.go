package codec

import (
	"fmt"
	"io"
)

const (
	// AckOK accepts the frame that was just received.
	AckOK = byte('1')

	// AckNOK refuses the frame that was just received.
	AckNOK = byte('0')
)

// WriteAck writes a single acknowledgement byte.
func WriteAck(w io.Writer, ok bool) error {
	ack := [1]byte{AckNOK}
	if ok {
		ack[0] = AckOK
	}
	if _, err := w.Write(ack[:]); err != nil {
		return fmt.Errorf("writing ack: %w", err)
	}
	return nil
}

// ReadAck reads a single acknowledgement byte. It returns true only when the
// byte is AckOK; every other value is a refusal.
func ReadAck(r io.Reader) (bool, error) {
	ack := [1]byte{}
	if _, err := io.ReadFull(r, ack[:]); err != nil {
		return false, fmt.Errorf("reading ack: %w", err)
	}
	return ack[0] == AckOK, nil
}
