package vault_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/rsecrets/internal/providers/vault"
	"github.com/systmms/rsecrets/pkg/provider"
)

const testToken = "vault-plaintext-root-token"

// kvServer emulates the KV v2 read API for a fixed set of secrets
func kvServer(t *testing.T, secrets map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(kvHandler(secrets))
	t.Cleanup(srv.Close)
	return srv
}

// loginServer serves the KV API behind a login endpoint at
// auth/<method>/login that hands out issued[0], issued[1], ... in turn.
// Only testToken is accepted for reads.
func loginServer(t *testing.T, method string, issued []string, check func(body map[string]interface{})) (*httptest.Server, *int32) {
	t.Helper()

	var logins int32
	kv := kvHandler(testSecrets)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/"+method+"/login" {
			kv(w, r)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if check != nil {
			check(body)
		}
		n := int(atomic.AddInt32(&logins, 1)) - 1
		if n >= len(issued) {
			n = len(issued) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"auth":{"client_token":"` + issued[n] + `","lease_duration":3600,"renewable":true}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &logins
}

func kvHandler(secrets map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Vault-Token") != testToken {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if r.URL.Path == "/v1/auth/token/lookup-self" {
			_, _ = w.Write([]byte(`{"data":{"id":"` + testToken + `"}}`))
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		data, ok := secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		version := "3"
		if v := r.URL.Query().Get("version"); v != "" {
			version = v
		}
		_, _ = w.Write([]byte(`{"data":{"data":` + data + `,"metadata":{"created_time":"2024-03-01T10:00:00Z","deletion_time":"","destroyed":false,"version":` + version + `}}}`))
	}
}

func testConfig(addr string) map[string]interface{} {
	return map[string]interface{}{
		"address": addr,
		"token":   testToken,
	}
}

var testSecrets = map[string]string{
	"baz":   `{"value":"bar"}`,
	"app":   `{"value":{"user":"admin","port":5432}}`,
	"db":    `{"username":"admin","password":"s3cr3t","hosts":["a","b"],"tls":{"ca":"pem"}}`,
	"empty": `{"other":"x"}`,
}

func TestVaultProviderContract(t *testing.T) {
	srv := kvServer(t, testSecrets)

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			p, err := vault.NewVaultProvider("vault", testConfig(srv.URL))
			require.NoError(t, err)
			return p
		},
		ExistingRef: &provider.Reference{Provider: "vault", Key: "baz"},
		MissingRef:  provider.Reference{Provider: "vault", Key: "missing"},
	})
}

func TestKeyValueProviderContract(t *testing.T) {
	srv := kvServer(t, testSecrets)

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			p, err := vault.NewKeyValueProvider("keyvalue", testConfig(srv.URL))
			require.NoError(t, err)
			return p
		},
		ExistingRef: &provider.Reference{Provider: "keyvalue", Key: "db", Path: "username"},
		MissingRef:  provider.Reference{Provider: "keyvalue", Key: "missing"},
	})
}

func TestVaultProviderResolve(t *testing.T) {
	t.Parallel()
	srv := kvServer(t, testSecrets)

	p, err := vault.NewVaultProvider("vault", testConfig(srv.URL))
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		version string
		want    string
		wantVer string
		wantErr error
	}{
		{name: "string value", key: "baz", want: "bar", wantVer: "3"},
		{name: "object value is JSON", key: "app", want: `{"port":5432,"user":"admin"}`, wantVer: "3"},
		{name: "explicit version", key: "baz", version: "2", want: "bar", wantVer: "2"},
		{name: "missing secret", key: "nope", wantErr: provider.NotFoundError{}},
		{name: "missing value field", key: "empty", wantErr: provider.NotFoundError{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Resolve(context.Background(), provider.Reference{Key: tt.key, Version: tt.version})
			if tt.wantErr != nil {
				var nf provider.NotFoundError
				assert.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, tt.wantVer, got.Version)
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestVaultProviderBadToken(t *testing.T) {
	t.Parallel()
	srv := kvServer(t, testSecrets)

	cfg := testConfig(srv.URL)
	cfg["token"] = "wrong"
	p, err := vault.NewVaultProvider("vault", cfg)
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), provider.Reference{Key: "baz"})
	var authErr provider.AuthError
	assert.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)

	assert.Error(t, p.Validate(context.Background()))
}

func TestKeyValueProviderResolvePath(t *testing.T) {
	t.Parallel()
	srv := kvServer(t, testSecrets)

	p, err := vault.NewKeyValueProvider("keyvalue", testConfig(srv.URL))
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{path: "password", want: "s3cr3t"},
		{path: "tls.ca", want: "pem"},
		{path: "hosts.1", want: "b"},
		{path: "hosts", want: `["a","b"]`},
	}
	for _, tt := range tests {
		got, err := p.Resolve(context.Background(), provider.Reference{Key: "db", Path: tt.path})
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got.Value, tt.path)
	}

	_, err = p.Resolve(context.Background(), provider.Reference{Key: "db", Path: "nope"})
	var nf provider.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestKeyValueProviderOutputs(t *testing.T) {
	t.Parallel()
	srv := kvServer(t, testSecrets)

	p, err := vault.NewKeyValueProvider("keyvalue", testConfig(srv.URL))
	require.NoError(t, err)

	outputs, err := p.Outputs(context.Background(), provider.Reference{Key: "db"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"username": "admin",
		"password": "s3cr3t",
		"hosts":    `["a","b"]`,
		"tls":      `{"ca":"pem"}`,
	}, outputs)
}

func TestNewProviderRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := vault.NewVaultProvider("vault", map[string]interface{}{})
	assert.Error(t, err)

	_, err = vault.NewKeyValueProvider("keyvalue", map[string]interface{}{"token": testToken})
	assert.Error(t, err)
}

func TestVaultProviderCustomMount(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"value":"v"},"metadata":{"created_time":"2024-03-01T10:00:00Z","deletion_time":"","destroyed":false,"version":1}}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg["mount"] = "kv/"
	p, err := vault.NewVaultProvider("vault", cfg)
	require.NoError(t, err)

	got, err := p.Resolve(context.Background(), provider.Reference{Key: "team/app"})
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)
	assert.Equal(t, "/v1/kv/data/team/app", gotPath)
}

func TestVaultProviderLogsInAgainWhenTokenIsRejected(t *testing.T) {
	t.Parallel()
	srv, logins := loginServer(t, "approle", []string{"expired-token", testToken}, func(body map[string]interface{}) {
		assert.Equal(t, "role", body["role_id"])
		assert.Equal(t, "secret", body["secret_id"])
	})

	p, err := vault.NewVaultProvider("vault", map[string]interface{}{
		"address":     srv.URL,
		"auth_method": "approle",
		"role_id":     "role",
		"secret_id":   "secret",
	})
	require.NoError(t, err)

	got, err := p.Resolve(context.Background(), provider.Reference{Key: "baz"})
	require.NoError(t, err)
	assert.Equal(t, "bar", got.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(logins))

	_, err = p.Resolve(context.Background(), provider.Reference{Key: "baz"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(logins), "a working token is reused")
}

func TestVaultProviderStopsAfterOneFailedRelogin(t *testing.T) {
	t.Parallel()
	srv, logins := loginServer(t, "approle", []string{"expired-token"}, nil)

	p, err := vault.NewVaultProvider("vault", map[string]interface{}{
		"address":     srv.URL,
		"auth_method": "approle",
	})
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), provider.Reference{Key: "baz"})
	var authErr provider.AuthError
	assert.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
	assert.Equal(t, int32(2), atomic.LoadInt32(logins))
}

func TestKeyValueProviderKubernetesAuth(t *testing.T) {
	t.Parallel()

	jwtPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(jwtPath, []byte("service-account-jwt\n"), 0o600))

	srv, logins := loginServer(t, "kubernetes", []string{testToken}, func(body map[string]interface{}) {
		assert.Equal(t, "rsecrets", body["role"])
		assert.Equal(t, "service-account-jwt", body["jwt"])
	})

	p, err := vault.NewKeyValueProvider("keyvalue", map[string]interface{}{
		"address":     srv.URL,
		"auth_method": "kubernetes",
		"role":        "rsecrets",
		"jwt_path":    jwtPath,
	})
	require.NoError(t, err)

	got, err := p.Resolve(context.Background(), provider.Reference{Key: "db", Path: "username"})
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(logins))
	require.NoError(t, p.Validate(context.Background()))
}

func TestKubernetesAuthMissingServiceAccountToken(t *testing.T) {
	t.Parallel()
	srv, _ := loginServer(t, "kubernetes", []string{testToken}, nil)

	p, err := vault.NewVaultProvider("vault", map[string]interface{}{
		"address":     srv.URL,
		"auth_method": "kubernetes",
		"jwt_path":    filepath.Join(t.TempDir(), "absent"),
	})
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), provider.Reference{Key: "baz"})
	var authErr provider.AuthError
	assert.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
}
