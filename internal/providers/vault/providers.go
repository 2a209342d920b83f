package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"
	"github.com/tidwall/gjson"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// Option is a functional option for configuring Vault providers
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// WithHTTPClient sets the HTTP client used by the Vault API client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger the client writes debug output to
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildClient(name string, configMap map[string]interface{}, opts []Option) (*client, error) {
	o := options{logger: logging.New(false)}
	for _, opt := range opts {
		opt(&o)
	}
	return newClient(name, configMap, o)
}

// ValueProvider returns the "value" field of a KV v2 secret. ref.Key is the
// secret path under the mount.
type ValueProvider struct {
	c *client
}

// NewVaultProvider creates a provider for the Vault backend kind
func NewVaultProvider(name string, configMap map[string]interface{}, opts ...Option) (*ValueProvider, error) {
	c, err := buildClient(name, configMap, opts)
	if err != nil {
		return nil, err
	}
	return &ValueProvider{c: c}, nil
}

// Name returns the provider name
func (v *ValueProvider) Name() string {
	return v.c.name
}

// Resolve reads the secret's value field
func (v *ValueProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	secret, err := v.c.read(ctx, ref)
	if err != nil {
		return provider.SecretValue{}, err
	}

	raw, ok := secret.Data[DefaultField]
	if !ok {
		return provider.SecretValue{}, provider.NotFoundError{Provider: v.c.name, Key: ref.Key + "#" + DefaultField}
	}

	var value string
	switch t := raw.(type) {
	case string:
		value = t
	case nil:
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return provider.SecretValue{}, fmt.Errorf("failed to encode vault value: %w", err)
		}
		value = string(b)
	}
	return secretValue(secret, value, fmt.Sprintf("vault:%s/%s", v.c.config.Mount, ref.Key)), nil
}

// Capabilities returns the provider's capabilities
func (v *ValueProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"token", "approle"},
	}
}

// Validate checks that the configured token is accepted
func (v *ValueProvider) Validate(ctx context.Context) error {
	return v.c.validate(ctx)
}

// KeyValueProvider exposes every field of a KV v2 secret. ref.Path, when
// set, is a dotted path into the secret's data so nested fields and array
// elements can be addressed directly.
type KeyValueProvider struct {
	c *client
}

// NewKeyValueProvider creates a provider for the KeyValue backend kind
func NewKeyValueProvider(name string, configMap map[string]interface{}, opts ...Option) (*KeyValueProvider, error) {
	c, err := buildClient(name, configMap, opts)
	if err != nil {
		return nil, err
	}
	return &KeyValueProvider{c: c}, nil
}

// Name returns the provider name
func (k *KeyValueProvider) Name() string {
	return k.c.name
}

// Resolve returns the field at ref.Path, or the whole data map as JSON
func (k *KeyValueProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	secret, doc, err := k.document(ctx, ref)
	if err != nil {
		return provider.SecretValue{}, err
	}

	source := fmt.Sprintf("vault:%s/%s", k.c.config.Mount, ref.Key)
	if ref.Path == "" {
		return secretValue(secret, string(doc), source), nil
	}

	field := gjson.GetBytes(doc, ref.Path)
	if !field.Exists() {
		return provider.SecretValue{}, provider.NotFoundError{Provider: k.c.name, Key: ref.Key + "#" + ref.Path}
	}
	return secretValue(secret, fieldString(field), source+"#"+ref.Path), nil
}

// Outputs returns every top-level field of the secret
func (k *KeyValueProvider) Outputs(ctx context.Context, ref provider.Reference) (map[string]string, error) {
	_, doc, err := k.document(ctx, ref)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]string)
	gjson.ParseBytes(doc).ForEach(func(key, value gjson.Result) bool {
		outputs[key.String()] = fieldString(value)
		return true
	})
	return outputs, nil
}

func (k *KeyValueProvider) document(ctx context.Context, ref provider.Reference) (*api.KVSecret, []byte, error) {
	secret, err := k.c.read(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	doc, err := json.Marshal(secret.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode vault secret: %w", err)
	}
	return secret, doc, nil
}

// Capabilities returns the provider's capabilities
func (k *KeyValueProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		SupportsOutputs:    true,
		RequiresAuth:       true,
		AuthMethods:        []string{"token", "approle"},
	}
}

// Validate checks that the configured token is accepted
func (k *KeyValueProvider) Validate(ctx context.Context) error {
	return k.c.validate(ctx)
}
