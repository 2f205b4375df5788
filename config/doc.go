// Package config loads the proxy configuration from defaults, an optional YAML
// file and environment variables, and validates it. It covers the listen
// address, the upstream address, the proxy name, logging, health checks, the
// circuit breaker and the optional admin server.
package config
