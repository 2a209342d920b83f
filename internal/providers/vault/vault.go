// Package vault reads HashiCorp Vault KV version 2 secrets.
//
// Two providers share one client: the Vault provider returns the single
// "value" field of a secret, while the KeyValue provider exposes every field
// of the secret as an output.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/tidwall/gjson"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

const (
	DefaultMount   = "secret"
	DefaultField   = "value"
	DefaultTimeout = 30 * time.Second

	// DefaultJWTPath is where Kubernetes mounts the pod's service account token
	DefaultJWTPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// Config holds Vault-specific configuration
type Config struct {
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	Namespace  string `yaml:"namespace"`
	Mount      string `yaml:"mount"`       // KV v2 mount path
	AuthMethod string `yaml:"auth_method"` // token, approle or kubernetes
	RoleID     string `yaml:"role_id"`     // For approle auth
	SecretID   string `yaml:"secret_id"`   // For approle auth
	Role       string `yaml:"role"`        // For kubernetes auth
	JWTPath    string `yaml:"jwt_path"`    // For kubernetes auth
	TLSSkip    bool   `yaml:"tls_skip"`
	Timeout    time.Duration
}

// parseConfig reads a backend config map
func parseConfig(configMap map[string]interface{}) Config {
	c := Config{
		Mount:      DefaultMount,
		AuthMethod: "token",
		JWTPath:    DefaultJWTPath,
		Timeout:    DefaultTimeout,
	}
	if v, ok := configMap["address"].(string); ok {
		c.Address = v
	}
	if v, ok := configMap["token"].(string); ok {
		c.Token = v
	}
	if v, ok := configMap["namespace"].(string); ok {
		c.Namespace = v
	}
	if v, ok := configMap["mount"].(string); ok && v != "" {
		c.Mount = strings.Trim(v, "/")
	}
	if v, ok := configMap["auth_method"].(string); ok && v != "" {
		c.AuthMethod = v
	}
	if v, ok := configMap["role_id"].(string); ok {
		c.RoleID = v
	}
	if v, ok := configMap["secret_id"].(string); ok {
		c.SecretID = v
	}
	if v, ok := configMap["role"].(string); ok {
		c.Role = v
	}
	if v, ok := configMap["jwt_path"].(string); ok && v != "" {
		c.JWTPath = v
	}
	if v, ok := configMap["tls_skip"].(bool); ok {
		c.TLSSkip = v
	}
	return c
}

// client wraps an authenticated api.Client and the KV v2 mount
type client struct {
	name   string
	config Config
	api    *api.Client
	kv     *api.KVv2
	logger *logging.Logger

	// loginMu serialises logins so concurrent reads share one fresh token
	loginMu sync.Mutex
}

func newClient(name string, configMap map[string]interface{}, o options) (*client, error) {
	cfg := parseConfig(configMap)
	if cfg.Address == "" {
		return nil, dserrors.ConfigError{
			Field:      "address",
			Message:    "Vault address is required",
			Suggestion: "Set 'address' in the backend config or VAULT_ADDR environment variable",
		}
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Timeout = cfg.Timeout
	if o.httpClient != nil {
		apiCfg.HttpClient = o.httpClient
	}
	if cfg.TLSSkip {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
		}
	}

	c, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		c.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		c.SetNamespace(cfg.Namespace)
	}

	return &client{
		name:   name,
		config: cfg,
		api:    c,
		kv:     c.KVv2(cfg.Mount),
		logger: o.logger.WithName("vault"),
	}, nil
}

// authenticate logs in when no token is present
func (c *client) authenticate(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.api.Token() != "" {
		return nil
	}
	return c.login(ctx)
}

// reauthenticate replaces a token Vault rejected. A token another caller
// already replaced is left alone.
func (c *client) reauthenticate(ctx context.Context, rejected string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if current := c.api.Token(); current != "" && current != rejected {
		return nil
	}
	c.logger.Info("Vault rejected the current token, logging in again with %s", c.config.AuthMethod)
	c.api.ClearToken()
	return c.login(ctx)
}

// canLogin reports whether the auth method can obtain a new token on its own
func (c *client) canLogin() bool {
	switch c.config.AuthMethod {
	case "approle", "k8s", "kubernetes":
		return true
	default:
		return false
	}
}

func (c *client) login(ctx context.Context) error {
	var (
		path string
		data map[string]interface{}
	)
	switch c.config.AuthMethod {
	case "token":
		return provider.AuthError{Provider: c.name, Message: "no vault token configured"}
	case "approle":
		path = "auth/approle/login"
		data = map[string]interface{}{
			"role_id":   c.config.RoleID,
			"secret_id": c.config.SecretID,
		}
	case "k8s", "kubernetes":
		jwt, err := os.ReadFile(c.config.JWTPath)
		if err != nil {
			return provider.AuthError{Provider: c.name, Message: fmt.Sprintf("failed to read service account token: %v", err)}
		}
		path = "auth/kubernetes/login"
		data = map[string]interface{}{
			"role": c.config.Role,
			"jwt":  strings.TrimSpace(string(jwt)),
		}
	default:
		return dserrors.ConfigError{
			Field:      "auth_method",
			Value:      c.config.AuthMethod,
			Message:    "unsupported authentication method",
			Suggestion: "Supported methods: token, approle, kubernetes",
		}
	}

	secret, err := c.api.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return provider.AuthError{Provider: c.name, Message: fmt.Sprintf("%s login failed: %v", c.config.AuthMethod, err)}
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return provider.AuthError{Provider: c.name, Message: c.config.AuthMethod + " login returned no token"}
	}
	c.api.SetToken(secret.Auth.ClientToken)
	return nil
}

// isPermissionDenied reports a 401 or 403 from Vault
func isPermissionDenied(err error) bool {
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden
}

// read fetches the secret at ref.Key, honouring ref.Version when set
func (c *client) read(ctx context.Context, ref provider.Reference) (*api.KVSecret, error) {
	if ref.Key == "" {
		return nil, dserrors.UserError{
			Message:    "Empty vault path",
			Suggestion: "Set 'value' to a path under the KV mount, e.g. 'myapp/db'",
		}
	}
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}

	path := strings.Trim(ref.Key, "/")
	version := 0
	if ref.Version != "" {
		v, err := strconv.Atoi(ref.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid vault version %q: %w", ref.Version, err)
		}
		version = v
	}
	c.logger.Debug("Reading %s/%s", c.config.Mount, logging.Secret(path))

	token := c.api.Token()
	secret, err := c.get(ctx, path, version)
	if err != nil && isPermissionDenied(err) && c.canLogin() {
		if loginErr := c.reauthenticate(ctx, token); loginErr != nil {
			return nil, loginErr
		}
		secret, err = c.get(ctx, path, version)
	}
	if err != nil {
		return nil, c.handleError(path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, provider.NotFoundError{Provider: c.name, Key: path}
	}
	return secret, nil
}

func (c *client) get(ctx context.Context, path string, version int) (*api.KVSecret, error) {
	if version > 0 {
		return c.kv.GetVersion(ctx, path, version)
	}
	return c.kv.Get(ctx, path)
}

func (c *client) handleError(path string, err error) error {
	if errors.Is(err, api.ErrSecretNotFound) {
		return provider.NotFoundError{Provider: c.name, Key: path}
	}
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return provider.NotFoundError{Provider: c.name, Key: path}
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.AuthError{Provider: c.name, Message: fmt.Sprintf("permission denied reading %s", path)}
		}
	}
	return dserrors.UserError{
		Message:    "Failed to read secret from Vault",
		Details:    err.Error(),
		Suggestion: c.errorSuggestion(err),
	}
}

func (c *client) validate(ctx context.Context) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}
	token := c.api.Token()
	_, err := c.api.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil && c.canLogin() {
		if loginErr := c.reauthenticate(ctx, token); loginErr != nil {
			return loginErr
		}
		_, err = c.api.Auth().Token().LookupSelfWithContext(ctx)
	}
	if err != nil {
		return dserrors.UserError{
			Message:    "Failed to authenticate with Vault",
			Details:    err.Error(),
			Suggestion: c.errorSuggestion(err),
		}
	}
	return nil
}

// errorSuggestion provides helpful suggestions based on Vault errors
func (c *client) errorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Check that Vault server is running and accessible at " + c.config.Address
	case strings.Contains(errStr, "permission denied"):
		return "Check your Vault token policy for this path"
	case strings.Contains(errStr, "invalid token"):
		return "Your Vault token may be expired or invalid"
	case strings.Contains(errStr, "namespace"):
		return "Check your Vault namespace configuration"
	case strings.Contains(errStr, "tls"):
		return "Check TLS configuration or set tls_skip: true for testing"
	default:
		return "Check Vault configuration and network connectivity"
	}
}

func secretValue(secret *api.KVSecret, value string, source string) provider.SecretValue {
	sv := provider.SecretValue{
		Value:    value,
		Metadata: map[string]string{"source": source},
	}
	if md := secret.VersionMetadata; md != nil {
		sv.Version = strconv.Itoa(md.Version)
		sv.UpdatedAt = md.CreatedTime
	}
	return sv
}

// fieldString renders a KV field as stored in a Secret: strings verbatim,
// everything else as JSON.
func fieldString(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	if v.Type == gjson.Null {
		return ""
	}
	return v.Raw
}
