package logging

import (
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
)

type captured struct {
	mu    sync.Mutex
	lines []string
}

func (c *captured) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func newCaptureLogger(debug bool) (*Logger, *captured) {
	c := &captured{}
	sink := funcr.New(func(prefix, args string) {
		c.mu.Lock()
		c.lines = append(c.lines, prefix+" "+args)
		c.mu.Unlock()
	}, funcr.Options{Verbosity: 1})
	return FromLogr(sink, debug), c
}

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", Secret(tt.input).GoString())
		})
	}
}

func TestSecretRedactionInMessages(t *testing.T) {
	t.Parallel()

	logger, out := newCaptureLogger(true)
	secretValue := "super-secret-password-12345"

	logger.Info("Retrieved secret: %s", Secret(secretValue))
	logger.Debug("Processing secret: %s", Secret(secretValue))
	logger.WithValues("token", Secret(secretValue)).Warn("token override in use")

	assert.Contains(t, out.String(), "[REDACTED]")
	assert.NotContains(t, out.String(), secretValue)
	assert.Contains(t, out.String(), "Retrieved secret")
	assert.Contains(t, out.String(), "Processing secret")
}

func TestLoggerDebugMode(t *testing.T) {
	t.Parallel()

	quiet, quietOut := newCaptureLogger(false)
	quiet.Debug("hidden %d", 1)
	assert.Empty(t, quietOut.String())

	loud, loudOut := newCaptureLogger(true)
	loud.Debug("shown %d", 2)
	assert.Contains(t, loudOut.String(), "shown 2")
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	logger, out := newCaptureLogger(false)
	logger.WithName("resolver").Info("info %s", "message")
	logger.Warn("warn %s", "message")
	logger.Error("error %s", "message")

	s := out.String()
	assert.Contains(t, s, "info message")
	assert.Contains(t, s, `"severity"="warning"`)
	assert.Contains(t, s, "error message")
	assert.Contains(t, s, "resolver")
}

func TestNewUsesDelegatingLogger(t *testing.T) {
	t.Parallel()

	logger := New(false)
	assert.NotEqual(t, logr.Discard(), logger.Logr())
	logger.Info("does not panic before a sink is installed")
}

// TestRedactFunction tests the Redact utility function
func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "User admin with password secret123 and API key abc123",
			secrets:  []string{"admin", "secret123", "abc123"},
			expected: "User [REDACTED] with password [REDACTED] and API key [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
