// Package logger builds the application's structured logger on log/slog:
// text output for dev and staging, JSON for prod.
package logger
