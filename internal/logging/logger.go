package logging

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Logger provides printf-style logging with redaction support on top of a logr sink
type Logger struct {
	sink  logr.Logger
	debug bool
}

// New creates a logger writing to the controller-runtime delegating logger.
// Output goes nowhere until Setup (or ctrl.SetLogger) installs a sink.
func New(debug bool) *Logger {
	return &Logger{
		sink:  ctrllog.Log.WithName("rsecrets"),
		debug: debug,
	}
}

// FromLogr wraps an existing logr.Logger.
func FromLogr(sink logr.Logger, debug bool) *Logger {
	return &Logger{sink: sink, debug: debug}
}

// Setup installs the process-wide zap sink. JSON output in production,
// console output with debug verbosity in dev mode.
func Setup(debug bool) logr.Logger {
	l := zap.New(zap.UseDevMode(debug))
	ctrllog.SetLogger(l)
	return l
}

// WithName returns a logger with name appended to the sink's name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{sink: l.sink.WithName(name), debug: l.debug}
}

// WithValues returns a logger carrying the given structured key/value pairs.
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{sink: l.sink.WithValues(keysAndValues...), debug: l.debug}
}

// Logr exposes the underlying sink.
func (l *Logger) Logr() logr.Logger {
	return l.sink
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sink.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sink.Info(fmt.Sprintf(format, args...), "severity", "warning")
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sink.Error(nil, fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.sink.V(1).Info(fmt.Sprintf(format, args...))
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalLog implements logr.Marshaler so structured values are redacted too
func (s Secret) MarshalLog() interface{} {
	return "[REDACTED]"
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
