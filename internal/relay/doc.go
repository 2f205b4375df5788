// Package relay runs one client connection through the proxy.
//
// Each accepted connection gets its own exchange which moves through four
// states:
//
//	AwaitingRequest -> ConnectingUpstream -> AwaitingResponse -> Done
//
// The first chunk read from the client is taken as the whole request and is
// forwarded upstream byte for byte. The upstream response is accumulated until
// its declared Content-Length is satisfied, at which point the write side of
// the upstream connection is closed; the response is assembled once the
// upstream closes its side. Only then is anything written back to the client:
// the status line, the header block with X-Proxy-Name added, and the body, as
// three separate writes.
//
// Nothing is shared between exchanges, and no exchange is retried or timed
// out. Any transport fault is logged and the connection dropped.
package relay
