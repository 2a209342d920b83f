package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/internal/providers/vault"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
	"github.com/systmms/rsecrets/pkg/provider"
)

// ProviderFactory creates a provider instance from configuration. The logger
// is the registry's and is never nil.
type ProviderFactory func(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error)

// Registry hands out one provider per backend kind. Providers are built on
// first use from the backend's section of the operator configuration, so a
// cluster that never references a backend never needs its credentials.
type Registry struct {
	mu         sync.Mutex
	definition *config.Definition
	factories  map[v1beta1.BackendType]ProviderFactory
	instances  map[v1beta1.BackendType]provider.Provider
	logger     *logging.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger handed to every provider the registry builds
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a new provider registry with built-in providers
func NewRegistry(definition *config.Definition, opts ...RegistryOption) *Registry {
	if definition == nil {
		definition = config.Default()
	}
	registry := &Registry{
		definition: definition,
		factories:  make(map[v1beta1.BackendType]ProviderFactory),
		instances:  make(map[v1beta1.BackendType]provider.Provider),
		logger:     logging.New(false),
	}
	for _, opt := range opts {
		opt(registry)
	}

	registry.RegisterFactory(v1beta1.BackendSSM, NewAWSSSMProviderFactory)
	registry.RegisterFactory(v1beta1.BackendSecretManager, NewAWSSecretsManagerProviderFactory)
	registry.RegisterFactory(v1beta1.BackendCloudformation, NewAWSCloudFormationProviderFactory)
	registry.RegisterFactory(v1beta1.BackendAppConfig, NewAWSAppConfigProviderFactory)
	registry.RegisterFactory(v1beta1.BackendPulumi, NewPulumiProviderFactory)
	registry.RegisterFactory(v1beta1.BackendVault, NewVaultProviderFactory)
	registry.RegisterFactory(v1beta1.BackendKeyValue, NewKeyValueProviderFactory)
	registry.RegisterFactory(v1beta1.BackendPlaintext, NewPlaintextProviderFactory)
	registry.RegisterFactory(v1beta1.BackendGCPSecretManager, NewGCPSecretManagerProviderFactory)
	registry.RegisterFactory(v1beta1.BackendAzureKeyVault, NewAzureKeyVaultProviderFactory)

	return registry
}

// RegisterFactory registers a provider factory for a backend kind
func (r *Registry) RegisterFactory(kind v1beta1.BackendType, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
	delete(r.instances, kind)
}

// Register installs a ready-made provider for a backend kind
func (r *Registry) Register(kind v1beta1.BackendType, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[kind] = p
}

// Get returns the provider for kind, constructing it on first use.
// Construction failures are not remembered so a later call can retry.
func (r *Registry) Get(kind v1beta1.BackendType) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[kind]; ok {
		return p, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", kind)
	}

	p, err := factory(string(kind), r.definition.Backend(kind), r.logger.WithValues("backend", string(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", kind, err)
	}
	r.instances[kind] = p
	return p, nil
}

// Timeout returns the per-call deadline configured for kind
func (r *Registry) Timeout(kind v1beta1.BackendType) time.Duration {
	return r.definition.Timeout(kind)
}

// SupportedTypes returns the registered backend kinds in sorted order
func (r *Registry) SupportedTypes() []v1beta1.BackendType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]v1beta1.BackendType, 0, len(r.factories))
	for kind := range r.factories {
		types = append(types, kind)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsSupported checks if a backend kind has a factory
func (r *Registry) IsSupported(kind v1beta1.BackendType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.factories[kind]
	return exists
}

// Check builds and validates the provider for kind
func (r *Registry) Check(ctx context.Context, kind v1beta1.BackendType) error {
	p, err := r.Get(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.Timeout(kind))
	defer cancel()
	return p.Validate(ctx)
}

// Factory functions for built-in providers

// NewAWSSSMProviderFactory creates an SSM Parameter Store provider
func NewAWSSSMProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewAWSSSMProvider(name, config, WithSSMLogger(logger))
}

// NewAWSSecretsManagerProviderFactory creates an AWS Secrets Manager provider
func NewAWSSecretsManagerProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewAWSSecretsManagerProvider(name, config, WithSecretsManagerLogger(logger))
}

// NewAWSCloudFormationProviderFactory creates a CloudFormation stack output provider
func NewAWSCloudFormationProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewAWSCloudFormationProvider(name, config, WithCloudFormationLogger(logger))
}

// NewAWSAppConfigProviderFactory creates an AppConfig hosted configuration provider
func NewAWSAppConfigProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewAWSAppConfigProvider(name, config, WithAppConfigLogger(logger))
}

// NewPulumiProviderFactory creates a Pulumi stack output provider
func NewPulumiProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewPulumiProvider(name, config, WithPulumiLogger(logger))
}

// NewVaultProviderFactory creates a HashiCorp Vault value provider
func NewVaultProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return vault.NewVaultProvider(name, config, vault.WithLogger(logger))
}

// NewKeyValueProviderFactory creates a HashiCorp Vault KV document provider
func NewKeyValueProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return vault.NewKeyValueProvider(name, config, vault.WithLogger(logger))
}

// NewPlaintextProviderFactory creates a plaintext provider
func NewPlaintextProviderFactory(name string, _ map[string]interface{}, _ *logging.Logger) (provider.Provider, error) {
	return NewPlaintextProvider(name), nil
}

// NewGCPSecretManagerProviderFactory creates a Google Secret Manager provider
func NewGCPSecretManagerProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewGCPSecretManagerProvider(name, config, WithGCPSecretManagerLogger(logger))
}

// NewAzureKeyVaultProviderFactory creates an Azure Key Vault provider
func NewAzureKeyVaultProviderFactory(name string, config map[string]interface{}, logger *logging.Logger) (provider.Provider, error) {
	return NewAzureKeyVaultProvider(name, config, WithAzureKeyVaultLogger(logger))
}
