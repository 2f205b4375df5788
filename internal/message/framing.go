package message

import (
	"bytes"
	"regexp"
	"strconv"
)

// The header must be terminated right after the digits; the match runs over
// the whole buffer and the first hit wins.
var contentLengthPattern = regexp.MustCompile(`(?i)content-length: (\d+)\r\n`)

// FindDeclaredLength looks for a Content-Length header in buf, ignoring case.
// It reports false when there is none yet or the value does not fit an int.
func FindDeclaredLength(buf []byte) (int, bool) {
	m := contentLengthPattern.FindSubmatch(buf)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}

	return n, true
}

// IsComplete reports whether buf holds a whole message of the declared length.
//
// The count starts at the blank-line separator, so the four separator bytes
// are included and completion can be reported a few bytes late. Without a
// declared length a message is never complete; the caller has to wait for the
// peer to close.
func IsComplete(buf []byte, declared int, known bool) bool {
	if !known {
		return false
	}

	i := bytes.Index(buf, separator)
	if i < 0 {
		return false
	}

	return len(buf)-i >= declared
}

// Framer accumulates the chunks of one message. The declared length is
// searched for after every write until it is found; after that it never
// changes for the life of the Framer.
type Framer struct {
	buf      []byte
	declared int
	known    bool
}

// Write appends p. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	if !f.known {
		f.declared, f.known = FindDeclaredLength(f.buf)
	}
	return len(p), nil
}

// DeclaredLength returns the first Content-Length seen, if any.
func (f *Framer) DeclaredLength() (int, bool) {
	return f.declared, f.known
}

// Complete reports whether the accumulated bytes satisfy the declared length.
func (f *Framer) Complete() bool {
	return IsComplete(f.buf, f.declared, f.known)
}

// Bytes returns the accumulated buffer. It aliases the Framer's storage.
func (f *Framer) Bytes() []byte {
	return f.buf
}

// Len returns the number of bytes accumulated so far.
func (f *Framer) Len() int {
	return len(f.buf)
}
