// Package message turns raw HTTP/1.x bytes into structured messages and back.
//
// It holds the three pieces of framing the relay depends on: Parse splits a
// buffer into status line, headers and body; FindDeclaredLength and IsComplete
// decide when an accumulating response buffer holds a whole message; Encode and
// Serialize write a message back out. Nothing in this package returns an error:
// malformed input degrades into a best-effort Message.
package message
