package codec

import (
	"io"
)

// PlainEncoder writes the entire buffer to the writer, unmodified.
func PlainEncoder(w io.Writer, buf []byte) (int, error) {
	return w.Write(buf)
}

// PlainDecoder fills the entire buffer from the reader. The buffer must
// already be sized to the number of bytes that are expected; a short read is
// reported as io.ErrUnexpectedEOF.
func PlainDecoder(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}
