// Package transform holds the response header rewrites the proxy applies
// before a response goes back to the client.
package transform

import (
	"github.com/angeloszaimis/forward-proxy/internal/message"
)

// HeaderName is the proxy-identity header added to every relayed response.
const HeaderName = "X-Proxy-Name"

// AddProxyHeader returns a copy of headers with HeaderName set to proxyName.
// An existing entry is overwritten where it stands; otherwise the header goes
// last. No other header is looked at.
func AddProxyHeader(headers message.Headers, proxyName string) message.Headers {
	return headers.With(HeaderName, proxyName)
}
