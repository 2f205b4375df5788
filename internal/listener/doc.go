// Package listener binds the proxy's TCP address and hands every accepted
// connection to its own relay goroutine.
package listener
