package message

import (
	"bytes"
)

// Wire is a serialized message split the way it is written to a socket.
type Wire struct {
	StatusLine  []byte
	HeaderBlock []byte // every header line plus the blank-line terminator
	Body        []byte
}

// Bytes joins the three pieces.
func (w Wire) Bytes() []byte {
	out := make([]byte, 0, w.Len())
	out = append(out, w.StatusLine...)
	out = append(out, w.HeaderBlock...)
	return append(out, w.Body...)
}

// Len is the total number of bytes on the wire.
func (w Wire) Len() int {
	return len(w.StatusLine) + len(w.HeaderBlock) + len(w.Body)
}

// Encode lays out statusLine, each header as "\r\n<name>: <value>", the blank
// line and the body. The body is copied verbatim and Content-Length is left
// exactly as given, even when it disagrees with the body.
func Encode(statusLine string, headers Headers, body []byte) Wire {
	var block bytes.Buffer
	for _, h := range headers.entries {
		block.WriteString(lineBreak)
		block.WriteString(h.Name)
		block.WriteString(": ")
		block.WriteString(h.Value)
	}
	block.Write(separator)

	return Wire{
		StatusLine:  []byte(statusLine),
		HeaderBlock: block.Bytes(),
		Body:        body,
	}
}

// Serialize is Encode flattened into one buffer.
func Serialize(statusLine string, headers Headers, body []byte) []byte {
	return Encode(statusLine, headers, body).Bytes()
}
