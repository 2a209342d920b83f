package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

const (
	DefaultRequeueInterval         = 20 * time.Second
	DefaultErrorBackoff            = 5 * time.Minute
	DefaultCacheTTL                = 60 * time.Second
	DefaultMaxConcurrentFetches    = 10
	DefaultMaxConcurrentReconciles = 1
	DefaultLocalstackURL           = "http://localhost:4566/"
	DefaultTestVaultAddress        = "http://localhost:8200"
	DefaultTestVaultToken          = "vault-plaintext-root-token"
	DefaultPulumiEndpoint          = "https://api.pulumi.com/api/stacks"
)

// awsBackends share the LocalStack override in test environments.
var awsBackends = []v1beta1.BackendType{
	v1beta1.BackendSSM,
	v1beta1.BackendSecretManager,
	v1beta1.BackendCloudformation,
	v1beta1.BackendAppConfig,
}

// vaultBackends share the Vault address and token.
var vaultBackends = []v1beta1.BackendType{
	v1beta1.BackendVault,
	v1beta1.BackendKeyValue,
}

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the rsecrets.yaml structure
type Definition struct {
	Version  int                                   `yaml:"version"`
	Operator OperatorConfig                        `yaml:"operator"`
	Backends map[v1beta1.BackendType]BackendConfig `yaml:"backends,omitempty"`
}

// OperatorConfig holds reconciliation tuning
type OperatorConfig struct {
	Namespace               string        `yaml:"namespace,omitempty"`
	RequeueInterval         time.Duration `yaml:"requeue_interval,omitempty"`
	ErrorBackoff            time.Duration `yaml:"error_backoff,omitempty"`
	CacheTTL                time.Duration `yaml:"cache_ttl,omitempty"`
	MaxConcurrentFetches    int           `yaml:"max_concurrent_fetches,omitempty"`
	MaxConcurrentReconciles int           `yaml:"max_concurrent_reconciles,omitempty"`
}

// BackendConfig holds backend-specific configuration
type BackendConfig struct {
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"` // Timeout in milliseconds (default: 30000)
	Config    map[string]interface{} `yaml:",inline"`
}

// Default returns a definition with every default applied and no backend settings.
func Default() *Definition {
	def := &Definition{Version: 1}
	def.ApplyDefaults()
	return def
}

// Load reads and parses the configuration file. An empty Path yields defaults.
func (c *Config) Load() error {
	if c.Path == "" {
		c.Definition = Default()
		return nil
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Mount the operator config or omit --config to use defaults",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def

	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration from %s with %d backend sections", c.Path, len(def.Backends))
	}
	return nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    fmt.Sprintf("invalid YAML: %v", err),
			Suggestion: "Check for indentation errors and durations written as strings (e.g. \"20s\")",
		}
	}
	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ApplyDefaults fills zero values with the operator defaults.
func (d *Definition) ApplyDefaults() {
	if d.Operator.RequeueInterval == 0 {
		d.Operator.RequeueInterval = DefaultRequeueInterval
	}
	if d.Operator.ErrorBackoff == 0 {
		d.Operator.ErrorBackoff = DefaultErrorBackoff
	}
	if d.Operator.CacheTTL == 0 {
		d.Operator.CacheTTL = DefaultCacheTTL
	}
	if d.Operator.MaxConcurrentFetches == 0 {
		d.Operator.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if d.Operator.MaxConcurrentReconciles == 0 {
		d.Operator.MaxConcurrentReconciles = DefaultMaxConcurrentReconciles
	}
	if d.Backends == nil {
		d.Backends = make(map[v1beta1.BackendType]BackendConfig)
	}
}

// Validate checks operator settings and backend section names.
func (d *Definition) Validate() error {
	durations := map[string]time.Duration{
		"operator.requeue_interval": d.Operator.RequeueInterval,
		"operator.error_backoff":    d.Operator.ErrorBackoff,
		"operator.cache_ttl":        d.Operator.CacheTTL,
	}
	for field, v := range durations {
		if v < 0 {
			return dserrors.ConfigError{Field: field, Value: v, Message: "duration must not be negative"}
		}
	}
	if d.Operator.MaxConcurrentFetches < 0 {
		return dserrors.ConfigError{
			Field:   "operator.max_concurrent_fetches",
			Value:   d.Operator.MaxConcurrentFetches,
			Message: "must be positive",
		}
	}

	for kind := range d.Backends {
		if !isKnownBackend(kind) {
			return dserrors.ConfigError{
				Field:      "backends",
				Value:      kind,
				Message:    "unknown backend",
				Suggestion: fmt.Sprintf("Use one of %v", v1beta1.BackendTypes),
			}
		}
	}
	return nil
}

// Backend returns the settings map for a backend kind. Never nil.
func (d *Definition) Backend(kind v1beta1.BackendType) map[string]interface{} {
	bc, ok := d.Backends[kind]
	if !ok || bc.Config == nil {
		return map[string]interface{}{}
	}
	return bc.Config
}

// Timeout returns the per-request timeout for a backend kind.
func (d *Definition) Timeout(kind v1beta1.BackendType) time.Duration {
	if bc, ok := d.Backends[kind]; ok && bc.TimeoutMs > 0 {
		return time.Duration(bc.TimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// ApplyEnvironment fills backend settings from the process environment.
// Values already present in the file are kept.
//
// TEST_ENV=true points every AWS backend at LocalStack (LOCALSTACK_URL) and
// gives Vault local development defaults.
func (d *Definition) ApplyEnvironment(lookup func(string) (string, bool)) {
	testEnv := false
	if v, ok := lookup("TEST_ENV"); ok && v == "true" {
		testEnv = true
	}

	if testEnv {
		endpoint := DefaultLocalstackURL
		if v, ok := lookup("LOCALSTACK_URL"); ok && v != "" {
			endpoint = v
		}
		for _, kind := range awsBackends {
			d.setDefault(kind, "endpoint", endpoint)
			d.setDefault(kind, "region", "us-east-1")
			d.setDefault(kind, "access_key_id", "test")
			d.setDefault(kind, "secret_access_key", "test")
		}
	}

	for _, kind := range vaultBackends {
		if v, ok := lookup("VAULT_ADDR"); ok && v != "" {
			d.setDefault(kind, "address", v)
		}
		if v, ok := lookup("VAULT_TOKEN"); ok && v != "" {
			d.setDefault(kind, "token", v)
		}
		if testEnv {
			d.setDefault(kind, "address", DefaultTestVaultAddress)
			d.setDefault(kind, "token", DefaultTestVaultToken)
		}
	}

	if v, ok := lookup("PULUMI_ENDPOINT"); ok && v != "" {
		d.setDefault(v1beta1.BackendPulumi, "endpoint", v)
	}
	if v, ok := lookup("PULUMI_ACCESS_TOKEN"); ok && v != "" {
		d.setDefault(v1beta1.BackendPulumi, "access_token", v)
	}
	d.setDefault(v1beta1.BackendPulumi, "endpoint", DefaultPulumiEndpoint)
}

func (d *Definition) setDefault(kind v1beta1.BackendType, key string, value interface{}) {
	if d.Backends == nil {
		d.Backends = make(map[v1beta1.BackendType]BackendConfig)
	}
	bc := d.Backends[kind]
	if bc.Config == nil {
		bc.Config = make(map[string]interface{})
	}
	if existing, ok := bc.Config[key]; ok && existing != "" {
		return
	}
	bc.Config[key] = value
	d.Backends[kind] = bc
}

func isKnownBackend(kind v1beta1.BackendType) bool {
	for _, k := range v1beta1.BackendTypes {
		if k == kind {
			return true
		}
	}
	return false
}
