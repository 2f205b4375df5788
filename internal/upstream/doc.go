// Package upstream represents the single backend the proxy forwards to.
// It dials stream connections through an outline-sdk transport.StreamDialer,
// guards dials with a circuit breaker, and keeps the bookkeeping the health
// checker and metrics read: health flag, active relay count and an EWMA of
// exchange times.
package upstream
