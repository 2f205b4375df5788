package message

import (
	"bytes"
	"strings"
)

const (
	lineBreak      = "\r\n"
	responsePrefix = "HTTP"
)

var separator = []byte("\r\n\r\n")

// Message is a parsed HTTP request or response.
//
// For requests Method and Path are set; for responses StatusCode is set.
// Fields that the status line did not provide are left empty.
type Message struct {
	StatusLine  string
	HTTPVersion string
	Headers     Headers
	Body        []byte

	// requests
	Method string
	Path   string

	// responses
	StatusCode string
}

// IsResponse reports whether the status line starts with "HTTP".
func (m Message) IsResponse() bool {
	return isResponseLine(m.StatusLine)
}

// Parse splits raw into a Message. The header block ends at the first blank
// line; without one the whole input is headers and the body is empty. Parse
// never fails: a header line without ':' becomes a header whose name is the
// whole line and whose value is empty.
func Parse(raw []byte) Message {
	head := raw
	var body []byte
	if i := bytes.Index(raw, separator); i >= 0 {
		head = raw[:i]
		body = bytes.Clone(raw[i+len(separator):])
	}

	lines := strings.Split(string(head), lineBreak)

	msg := Message{
		StatusLine: lines[0],
		Headers:    parseHeaders(lines[1:]),
		Body:       body,
	}

	fields := strings.Split(msg.StatusLine, " ")
	if isResponseLine(msg.StatusLine) {
		msg.HTTPVersion = field(fields, 0)
		msg.StatusCode = field(fields, 1)
	} else {
		msg.Method = field(fields, 0)
		msg.Path = field(fields, 1)
		msg.HTTPVersion = field(fields, 2)
	}

	return msg
}

func parseHeaders(lines []string) Headers {
	var h Headers
	for _, line := range lines {
		name, value, found := strings.Cut(line, ":")
		if !found {
			h.set(line, "")
			continue
		}
		h.set(name, strings.TrimSpace(value))
	}
	return h
}

func isResponseLine(statusLine string) bool {
	return strings.HasPrefix(statusLine, responsePrefix)
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
