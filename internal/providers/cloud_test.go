package providers_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/rsecrets/internal/providers"
	"github.com/systmms/rsecrets/pkg/provider"
)

// fakeGCP serves payloads keyed by full version resource name
type fakeGCP struct {
	payloads map[string]string
	lastName string
}

func (f *fakeGCP) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.lastName = req.GetName()
	data, ok := f.payloads[req.GetName()]
	if !ok {
		return nil, errors.New("rpc error: code = NotFound desc = Secret Version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    strings.Replace(req.GetName(), "/latest", "/3", 1),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(data)},
	}, nil
}

func newGCP(t *testing.T, fake *fakeGCP) *providers.GCPSecretManagerProvider {
	t.Helper()
	p, err := providers.NewGCPSecretManagerProvider("gcp", map[string]interface{}{"project_id": "demo"},
		providers.WithGCPSecretManagerClient(fake))
	require.NoError(t, err)
	return p
}

func TestGCPSecretManagerProviderContract(t *testing.T) {
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			return newGCP(t, &fakeGCP{payloads: map[string]string{
				"projects/demo/secrets/db/versions/latest": "pw",
			}})
		},
		ExistingRef: &provider.Reference{Key: "db"},
		MissingRef:  provider.Reference{Key: "nope"},
	})
}

func TestGCPSecretManagerProviderResourceNames(t *testing.T) {
	t.Parallel()

	fake := &fakeGCP{payloads: map[string]string{
		"projects/demo/secrets/db/versions/latest":  "latest",
		"projects/demo/secrets/db/versions/2":       "v2",
		"projects/other/secrets/api/versions/latest": "other",
	}}
	p := newGCP(t, fake)

	tests := []struct {
		ref      provider.Reference
		want     string
		wantName string
	}{
		{ref: provider.Reference{Key: "db"}, want: "latest", wantName: "projects/demo/secrets/db/versions/latest"},
		{ref: provider.Reference{Key: "db", Version: "2"}, want: "v2", wantName: "projects/demo/secrets/db/versions/2"},
		{ref: provider.Reference{Key: "projects/other/secrets/api"}, want: "other", wantName: "projects/other/secrets/api/versions/latest"},
		{ref: provider.Reference{Key: "projects/demo/secrets/db/versions/2"}, want: "v2", wantName: "projects/demo/secrets/db/versions/2"},
	}
	for _, tt := range tests {
		got, err := p.Resolve(context.Background(), tt.ref)
		require.NoError(t, err, tt.ref.Key)
		assert.Equal(t, tt.want, got.Value)
		assert.Equal(t, tt.wantName, fake.lastName)
	}
}

func TestGCPSecretManagerProviderValidate(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	p, err := providers.NewGCPSecretManagerProvider("gcp", map[string]interface{}{},
		providers.WithGCPSecretManagerClient(&fakeGCP{}))
	require.NoError(t, err)
	assert.Error(t, p.Validate(context.Background()))

	assert.NoError(t, newGCP(t, &fakeGCP{}).Validate(context.Background()))
}

// fakeAzure serves secrets by name; status codes simulate service errors
type fakeAzure struct {
	secrets map[string]string
	status  int
}

func (f *fakeAzure) GetSecret(_ context.Context, name string, version string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.status != 0 {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: f.status, ErrorCode: "Forbidden"}
	}
	v, ok := f.secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
	}
	if version == "" {
		version = "abc123"
	}
	id := azsecrets.ID("https://demo.vault.azure.net/secrets/" + name + "/" + version)
	updated := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{
		Value:      &v,
		ID:         &id,
		Attributes: &azsecrets.SecretAttributes{Updated: &updated},
	}}, nil
}

func newAzure(t *testing.T, fake *fakeAzure) *providers.AzureKeyVaultProvider {
	t.Helper()
	p, err := providers.NewAzureKeyVaultProvider("azure", map[string]interface{}{"vault_url": "https://demo.vault.azure.net/"},
		providers.WithAzureKeyVaultClient(fake))
	require.NoError(t, err)
	return p
}

func TestAzureKeyVaultProviderContract(t *testing.T) {
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			return newAzure(t, &fakeAzure{secrets: map[string]string{"db-password": "pw"}})
		},
		ExistingRef: &provider.Reference{Key: "db-password"},
		MissingRef:  provider.Reference{Key: "nope"},
	})
}

func TestAzureKeyVaultProviderResolve(t *testing.T) {
	t.Parallel()

	p := newAzure(t, &fakeAzure{secrets: map[string]string{"db-password": "pw"}})

	got, err := p.Resolve(context.Background(), provider.Reference{Key: "db-password"})
	require.NoError(t, err)
	assert.Equal(t, "pw", got.Value)
	assert.Equal(t, "abc123", got.Version)
	assert.False(t, got.UpdatedAt.IsZero())

	got, err = p.Resolve(context.Background(), provider.Reference{Key: "db-password", Version: "v9"})
	require.NoError(t, err)
	assert.Equal(t, "v9", got.Version)

	assert.NoError(t, p.Validate(context.Background()), "a 404 probe proves access")
}

func TestAzureKeyVaultProviderForbidden(t *testing.T) {
	t.Parallel()

	p := newAzure(t, &fakeAzure{status: http.StatusForbidden})

	_, err := p.Resolve(context.Background(), provider.Reference{Key: "db-password"})
	var authErr provider.AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Error(t, p.Validate(context.Background()))
}

func TestAzureKeyVaultProviderConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]interface{}
	}{
		{name: "missing vault_url", config: map[string]interface{}{}},
		{name: "relative vault_url", config: map[string]interface{}{"vault_url": "demo.vault.azure.net"}},
	}
	for _, tt := range tests {
		_, err := providers.NewAzureKeyVaultProvider("azure", tt.config, providers.WithAzureKeyVaultClient(&fakeAzure{}))
		assert.Error(t, err, tt.name)
	}
}
