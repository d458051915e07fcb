package peer

import (
	"bufio"
	"bytes"
)

// bufferWriter is an in-memory io.Writer that wire.Write can target before
// the resulting bytes are handed to the v2 transport as a single record.
type bufferWriter struct {
	buf bytes.Buffer
}

func (w *bufferWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *bufferWriter) Bytes() []byte                { return w.buf.Bytes() }

// bufioFromBytes wraps a v2 record's decrypted payload in a *bufio.Reader
// so wire.Read's envelope parser can run against it exactly as it does
// against a v1 socket stream.
func bufioFromBytes(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}
