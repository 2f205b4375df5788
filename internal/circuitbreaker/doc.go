// Package circuitbreaker stops the proxy from dialing an upstream that keeps
// refusing connections.
//
// A breaker has three states:
//
//   - CLOSED: dials go through
//   - OPEN: dials are rejected until the reset timeout passes
//   - HALF-OPEN: a single probe dial is let through; its outcome closes or
//     reopens the breaker
//
// Usage:
//
//	cb := circuitbreaker.New(5, 30*time.Second)
//	if !cb.Allow() {
//	    return ErrCircuitOpen
//	}
//	conn, err := dial()
//	if err != nil {
//	    cb.RecordFailure()
//	} else {
//	    cb.RecordSuccess()
//	}
//
// A threshold of zero disables the breaker.
package circuitbreaker
