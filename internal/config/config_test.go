package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/rsecrets/internal/config"
	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	def := config.Default()
	assert.Equal(t, 20*time.Second, def.Operator.RequeueInterval)
	assert.Equal(t, 5*time.Minute, def.Operator.ErrorBackoff)
	assert.Equal(t, 60*time.Second, def.Operator.CacheTTL)
	assert.Equal(t, 10, def.Operator.MaxConcurrentFetches)
	assert.Empty(t, def.Backend(v1beta1.BackendSSM))
	assert.Equal(t, 30*time.Second, def.Timeout(v1beta1.BackendSSM))
}

func TestParse(t *testing.T) {
	t.Parallel()

	doc := `
version: 1
operator:
  requeue_interval: 45s
  cache_ttl: 2m
backends:
  SSM:
    region: eu-west-1
    timeout_ms: 5000
  Vault:
    address: https://vault.internal:8200
    mount: kv
`
	def, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, def.Operator.RequeueInterval)
	assert.Equal(t, 2*time.Minute, def.Operator.CacheTTL)
	assert.Equal(t, 5*time.Minute, def.Operator.ErrorBackoff)
	assert.Equal(t, "eu-west-1", def.Backend(v1beta1.BackendSSM)["region"])
	assert.Equal(t, 5*time.Second, def.Timeout(v1beta1.BackendSSM))
	assert.Equal(t, "kv", def.Backend(v1beta1.BackendVault)["mount"])
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("backends:\n  Keychain:\n    foo: bar\n"))
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "backends", cfgErr.Field)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("operator: [unterminated"))
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	c := &config.Config{Path: filepath.Join(t.TempDir(), "missing.yaml")}
	err := c.Load()

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rsecrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operator:\n  namespace: secrets\n"), 0o600))

	c := &config.Config{Path: path}
	require.NoError(t, c.Load())
	assert.Equal(t, "secrets", c.Definition.Operator.Namespace)

	empty := &config.Config{}
	require.NoError(t, empty.Load())
	assert.Equal(t, 20*time.Second, empty.Definition.Operator.RequeueInterval)
}

func TestApplyEnvironmentTestEnv(t *testing.T) {
	t.Parallel()

	def := config.Default()
	def.ApplyEnvironment(envFrom(map[string]string{
		"TEST_ENV":       "true",
		"LOCALSTACK_URL": "http://localstack:4566/",
	}))

	for _, kind := range []v1beta1.BackendType{v1beta1.BackendSSM, v1beta1.BackendAppConfig, v1beta1.BackendCloudformation} {
		assert.Equal(t, "http://localstack:4566/", def.Backend(kind)["endpoint"], kind)
		assert.Equal(t, "test", def.Backend(kind)["access_key_id"], kind)
	}
	assert.Equal(t, config.DefaultTestVaultAddress, def.Backend(v1beta1.BackendVault)["address"])
	assert.Equal(t, config.DefaultTestVaultToken, def.Backend(v1beta1.BackendKeyValue)["token"])
	assert.Equal(t, config.DefaultPulumiEndpoint, def.Backend(v1beta1.BackendPulumi)["endpoint"])
}

func TestApplyEnvironmentKeepsFileValues(t *testing.T) {
	t.Parallel()

	def, err := config.Parse([]byte("backends:\n  Vault:\n    address: https://from-file\n"))
	require.NoError(t, err)

	def.ApplyEnvironment(envFrom(map[string]string{
		"VAULT_ADDR":          "https://from-env",
		"VAULT_TOKEN":         "s.token",
		"PULUMI_ACCESS_TOKEN": "pul-123",
		"PULUMI_ENDPOINT":     "https://pulumi.internal/api/stacks",
	}))

	assert.Equal(t, "https://from-file", def.Backend(v1beta1.BackendVault)["address"])
	assert.Equal(t, "s.token", def.Backend(v1beta1.BackendVault)["token"])
	assert.Equal(t, "https://from-env", def.Backend(v1beta1.BackendKeyValue)["address"])
	assert.Equal(t, "pul-123", def.Backend(v1beta1.BackendPulumi)["access_token"])
	assert.Equal(t, "https://pulumi.internal/api/stacks", def.Backend(v1beta1.BackendPulumi)["endpoint"])
	assert.Empty(t, def.Backend(v1beta1.BackendSSM))
}
