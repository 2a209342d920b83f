package providers

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/rsecrets/pkg/provider"
)

// PlaintextProvider returns the lookup identifier itself as the secret value.
// It never performs a remote call.
type PlaintextProvider struct {
	name string
}

// NewPlaintextProvider creates a new plaintext provider
func NewPlaintextProvider(name string) *PlaintextProvider {
	return &PlaintextProvider{name: name}
}

// Name returns the provider's name
func (l *PlaintextProvider) Name() string {
	return l.name
}

// Resolve returns ref.Key verbatim
func (l *PlaintextProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	return provider.SecretValue{
		Value: ref.Key,
		Metadata: map[string]string{
			"provider": l.name,
			"type":     "plaintext",
		},
	}, nil
}

// Capabilities returns the provider's capabilities
func (l *PlaintextProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{}
}

// Validate checks if the provider is properly configured
func (l *PlaintextProvider) Validate(ctx context.Context) error {
	return nil // Plaintext provider is always valid
}

// MockProvider provides mock values that simulate external provider behavior.
// It records how often each key was fetched.
type MockProvider struct {
	name     string
	mu       sync.Mutex
	values   map[string]string
	outputs  map[string]map[string]string
	failures map[string]error
	calls    map[string]int
	delay    time.Duration
}

// NewMockProvider creates a new mock provider for testing
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:     name,
		values:   make(map[string]string),
		outputs:  make(map[string]map[string]string),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Name returns the provider's name
func (m *MockProvider) Name() string {
	return m.name
}

// Resolve retrieves a mock value, potentially with simulated failures or delays
func (m *MockProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	if err := m.wait(ctx); err != nil {
		return provider.SecretValue{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[ref.Key]++

	if err, exists := m.failures[ref.Key]; exists {
		return provider.SecretValue{}, err
	}

	if ref.Path != "" {
		if outs, ok := m.outputs[ref.Key]; ok {
			if v, ok := outs[ref.Path]; ok {
				return provider.SecretValue{Value: v, Version: "mock-v1"}, nil
			}
		}
	}

	value, exists := m.values[ref.Key]
	if !exists {
		return provider.SecretValue{}, provider.NotFoundError{
			Provider: m.name,
			Key:      ref.Key,
		}
	}

	return provider.SecretValue{
		Value:   value,
		Version: "mock-v1",
		Metadata: map[string]string{
			"provider":  m.name,
			"type":      "mock",
			"simulated": "true",
		},
	}, nil
}

// Outputs returns the mock outputs registered for ref.Key
func (m *MockProvider) Outputs(ctx context.Context, ref provider.Reference) (map[string]string, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[ref.Key]++

	if err, exists := m.failures[ref.Key]; exists {
		return nil, err
	}
	outs, ok := m.outputs[ref.Key]
	if !ok {
		return nil, provider.NotFoundError{Provider: m.name, Key: ref.Key}
	}
	cp := make(map[string]string, len(outs))
	for k, v := range outs {
		cp[k] = v
	}
	return cp, nil
}

func (m *MockProvider) wait(ctx context.Context) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// Capabilities returns the provider's capabilities
func (m *MockProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		SupportsOutputs:    true,
	}
}

// Validate checks if the provider is properly configured
func (m *MockProvider) Validate(ctx context.Context) error {
	return nil // Mock provider is always valid
}

// SetValue sets a mock value
func (m *MockProvider) SetValue(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// SetOutputs sets the structured outputs returned for key
func (m *MockProvider) SetOutputs(key string, outputs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[key] = outputs
}

// SetFailure makes every lookup of key fail with err
func (m *MockProvider) SetFailure(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = err
}

// ClearFailure removes a simulated failure
func (m *MockProvider) ClearFailure(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, key)
}

// SetDelay simulates network latency on every lookup
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many lookups hit key
func (m *MockProvider) Calls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}
