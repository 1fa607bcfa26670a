package fanout

import (
	"bytes"
	"io"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// heartbeatFrame is an SSE comment; clients ignore it.
var heartbeatFrame = []byte(": heartbeat\n\n")

// Encode renders the frame as "event:" plus one "data:" line per payload
// line, terminated by a blank line.
func (f Frame) Encode() []byte {
	var b bytes.Buffer
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}

	data := bytes.ReplaceAll(f.Data, []byte("\r\n"), []byte("\n"))
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		b.WriteString("data: ")
		b.Write(bytes.TrimSuffix(line, []byte{'\r'}))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// WriteTo writes the encoded frame to w.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}
