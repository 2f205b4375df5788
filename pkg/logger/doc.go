// Package logger builds the process-wide slog logger: human-readable text in
// dev and staging, JSON in prod, each record tagged with the environment.
package logger
