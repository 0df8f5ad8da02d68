// Package infra provides shared infrastructure components used across
// the application: logging, caching and retry backoff.
package infra

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// NewLogger builds the console logger used by every component.
// Level is one of trace, debug, info, warn, error.
func NewLogger(level string) arbor.ILogger {
	if level == "" {
		level = "info"
	}
	return arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	}).WithLevelFromString(level)
}

// NopLogger returns a logger that discards everything. Used when a caller
// passes a nil logger and in tests.
func NopLogger() arbor.ILogger {
	return arbor.NewNoOpLogger()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l arbor.ILogger) arbor.ILogger {
	if l == nil {
		return NopLogger()
	}
	return l
}
