package provider

import (
	"context"
	"time"
)

// Provider defines the interface that every secret backend must implement.
//
// Implementations must be thread-safe as multiple goroutines may call these
// methods concurrently.
//
// Example usage:
//
//	p, err := registry.Get(v1beta1.BackendSSM)
//	if err != nil {
//	    return err
//	}
//	secret, err := p.Resolve(ctx, Reference{Key: "/prod/db/password"})
//	if err != nil {
//	    return fmt.Errorf("failed to resolve secret: %w", err)
//	}
type Provider interface {
	// Name returns the provider's identifier, used in logs and errors.
	Name() string

	// Resolve retrieves one secret value from the backend.
	//
	// Implementations should:
	//   - Support context cancellation
	//   - Return NotFoundError for missing secrets
	//   - Return AuthError for authentication failures
	//   - Never log the secret value
	Resolve(ctx context.Context, ref Reference) (SecretValue, error)

	// Capabilities returns the provider's supported features.
	Capabilities() Capabilities

	// Validate checks that the provider is configured and reachable.
	Validate(ctx context.Context) error
}

// OutputLister is implemented by backends whose lookup returns a set of named
// values rather than a single string (stack outputs, key/value secrets).
//
// Outputs returns every top-level name and its string form. Non-scalar values
// are JSON encoded.
type OutputLister interface {
	Outputs(ctx context.Context, ref Reference) (map[string]string, error)
}

// Reference identifies a secret within a provider.
//
// Addressing per backend:
//   - SSM, Secrets Manager, GCP, Azure: Key is the secret name
//   - CloudFormation, Pulumi: Key is the stack, Path the output name
//   - AppConfig: Key is the application id, Profile and Version select the hosted version
//   - Vault, KeyValue: Key is the KV path, Path the field
type Reference struct {
	// Provider is the name of the provider that owns this secret.
	Provider string

	// Key is the primary lookup identifier.
	Key string

	// Version selects a particular version. Empty means latest.
	Version string

	// Path selects a named value inside a structured lookup.
	Path string

	// Profile is the configuration profile for configuration services.
	Profile string

	// Token overrides the provider's configured credential for this lookup.
	// Must never be logged.
	Token string
}

// SecretValue represents a retrieved secret with its metadata.
type SecretValue struct {
	// Value is the secret data. Providers must never log this field.
	Value string

	// Version identifies the specific version of this secret, when known.
	Version string

	// UpdatedAt indicates when this secret was last modified, when known.
	UpdatedAt time.Time

	// Metadata contains provider-specific information about the secret.
	Metadata map[string]string
}

// Capabilities describes what features a provider supports.
type Capabilities struct {
	// SupportsVersioning indicates the provider can retrieve specific versions.
	SupportsVersioning bool

	// SupportsOutputs indicates the provider implements OutputLister.
	SupportsOutputs bool

	// RequiresAuth indicates the provider needs credentials.
	RequiresAuth bool

	// AuthMethods lists the authentication methods supported by this provider.
	AuthMethods []string
}

// NotFoundError indicates that a requested secret does not exist in the provider.
type NotFoundError struct {
	// Provider is the name of the provider where the secret was not found.
	Provider string

	// Key is the secret identifier that could not be found.
	Key string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	return "secret not found: " + e.Key + " in " + e.Provider
}

// AuthError indicates that authentication to the provider failed.
type AuthError struct {
	// Provider is the name of the provider that failed authentication.
	Provider string

	// Message provides details about the authentication failure.
	Message string
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return "authentication failed for " + e.Provider + ": " + e.Message
}
