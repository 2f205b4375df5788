// Package healthcheck periodically probes the upstream with a bare TCP dial
// and records whether it is accepting connections.
package healthcheck
