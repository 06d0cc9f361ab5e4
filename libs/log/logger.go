package log

import (
	"io"

	kitlog "github.com/go-kit/kit/log"
)

const (
	// LogFormatPlain defines a logging format used for human-readable,
	// colored, text output.
	LogFormatPlain string = "plain"

	// LogFormatJSON defines a logging format for structured JSON output.
	LogFormatJSON string = "json"

	// Supported log levels
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelError = "error"
)

// Logger defines a generic logging interface compatible with the rest of the
// server. All components should accept one of these rather than constructing
// their own.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

// NewSyncWriter returns a new writer that is safe for concurrent use by
// multiple goroutines. Writes to the returned writer are passed on to w. If
// another write is already in progress, the calling goroutine blocks until
// the writer is available.
func NewSyncWriter(w io.Writer) io.Writer {
	return kitlog.NewSyncWriter(w)
}
