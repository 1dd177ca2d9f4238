package luckydraw

import (
	"io"

	"github.com/google/logger"
	"go.uber.org/atomic"
)

// DefaultLogger implements Logger on top of google/logger
type DefaultLogger struct {
	l     *logger.Logger
	debug *atomic.Bool
}

// NewDefaultLogger creates a logger writing to stderr and, if given, to w
func NewDefaultLogger(name string, w io.Writer, debug bool) *DefaultLogger {
	if w == nil {
		w = io.Discard
	}
	return &DefaultLogger{
		l:     logger.Init(name, true, false, w),
		debug: atomic.NewBool(debug),
	}
}

// Info logs an info message
func (d *DefaultLogger) Info(msg string, args ...any) {
	d.l.Infof(msg, args...)
}

// Error logs an error message
func (d *DefaultLogger) Error(msg string, args ...any) {
	d.l.Errorf(msg, args...)
}

// Debug logs a debug message when debug output is enabled
func (d *DefaultLogger) Debug(msg string, args ...any) {
	if !d.debug.Load() {
		return
	}
	d.l.Infof("[DEBUG] "+msg, args...)
}

// SetDebug toggles debug output
func (d *DefaultLogger) SetDebug(enabled bool) { d.debug.Store(enabled) }

// Close flushes and closes the underlying logger
func (d *DefaultLogger) Close() { d.l.Close() }

// SilentLogger implements Logger interface but does not output any logs
// This is useful for testing environments where log output is not desired
type SilentLogger struct{}

// NewSilentLogger creates a new silent logger instance
func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

// Info does nothing (silent)
func (l *SilentLogger) Info(msg string, args ...any) {}

// Error does nothing (silent)
func (l *SilentLogger) Error(msg string, args ...any) {}

// Debug does nothing (silent)
func (l *SilentLogger) Debug(msg string, args ...any) {}
