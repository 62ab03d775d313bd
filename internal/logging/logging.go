// Package logging builds the structured zerolog loggers used by the daemon
// and the hook dispatcher. Nothing in the core logs to stdout/stderr in
// normal operation (spec.md §7); the daemon always logs to a file.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New opens (creating if needed) the log file at path and returns a
// zerolog.Logger tagged with component, writing structured JSON lines.
func New(path, component string) (zerolog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	logger := zerolog.New(f).With().Timestamp().Str("component", component).Logger()
	return logger, f.Close, nil
}

// Audit returns a dedicated logger for the command-validator whitelist
// bypass audit trail (spec.md §4.2), writing to the file at path (the
// daemon uses its own audit.log) tagged component=audit.
func Audit(path string) (zerolog.Logger, func() error, error) {
	return New(path, "audit")
}
