// Package httpserver runs the admin HTTP server that exposes metrics, stats
// and upstream health.
package httpserver
