package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureKeyVaultProvider implements the Provider interface for Azure Key Vault
type AzureKeyVaultProvider struct {
	name   string
	client AzureKeyVaultClientAPI
	logger *logging.Logger
	config AzureKeyVaultConfig
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string // For user-assigned managed identity
}

// AzureProviderOption is a functional option for configuring Azure providers
type AzureProviderOption func(*AzureKeyVaultProvider)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) {
		p.client = client
	}
}

// WithAzureKeyVaultLogger sets the logger the provider writes debug output to
func WithAzureKeyVaultLogger(l *logging.Logger) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) {
		if l != nil {
			p.logger = l.WithName("azure")
		}
	}
}

// NewAzureKeyVaultProvider creates a new Azure Key Vault provider
func NewAzureKeyVaultProvider(name string, configMap map[string]interface{}, opts ...AzureProviderOption) (*AzureKeyVaultProvider, error) {
	config := AzureKeyVaultConfig{}

	if vaultURL, ok := configMap["vault_url"].(string); ok {
		config.VaultURL = vaultURL
	}
	if tenantID, ok := configMap["tenant_id"].(string); ok {
		config.TenantID = tenantID
	}
	if clientID, ok := configMap["client_id"].(string); ok {
		config.ClientID = clientID
	}
	if clientSecret, ok := configMap["client_secret"].(string); ok {
		config.ClientSecret = clientSecret
	}
	if useMI, ok := configMap["use_managed_identity"].(bool); ok {
		config.UseManagedIdentity = useMI
	}
	if userAssignedID, ok := configMap["user_assigned_identity_id"].(string); ok {
		config.UserAssignedID = userAssignedID
	}

	if config.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if u, err := url.Parse(config.VaultURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Value:      config.VaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	p := &AzureKeyVaultProvider{
		name:   name,
		logger: logging.New(false).WithName("azure"),
		config: config,
	}

	// Apply options (allows mock client injection)
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := createAzureKeyVaultClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		p.client = client
	}

	return p, nil
}

// createAzureKeyVaultClient creates an Azure Key Vault client with appropriate authentication
func createAzureKeyVaultClient(config AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.UseManagedIdentity && config.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(config.UserAssignedID),
		})
	case config.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case config.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	default:
		// Workload identity, environment or Azure CLI
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(config.VaultURL, cred, nil)
}

// Name returns the provider name
func (p *AzureKeyVaultProvider) Name() string {
	return p.name
}

// Resolve fetches a secret from Azure Key Vault. An empty ref.Version reads the latest version.
func (p *AzureKeyVaultProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	p.logger.Debug("Accessing Azure Key Vault secret: %s", ref.Key)

	resp, err := p.client.GetSecret(ctx, ref.Key, ref.Version, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.StatusCode {
			case http.StatusNotFound:
				return provider.SecretValue{}, provider.NotFoundError{Provider: p.name, Key: ref.Key}
			case http.StatusUnauthorized, http.StatusForbidden:
				return provider.SecretValue{}, provider.AuthError{Provider: p.name, Message: respErr.ErrorCode}
			}
		}
		return provider.SecretValue{}, dserrors.ProviderError("azure", "resolve", err)
	}

	if resp.Value == nil {
		return provider.SecretValue{}, fmt.Errorf("secret %s has no value", ref.Key)
	}

	value := provider.SecretValue{
		Value:    *resp.Value,
		Metadata: map[string]string{"source": fmt.Sprintf("azure-kv:%s", ref.Key)},
	}
	if resp.ID != nil {
		value.Version = resp.ID.Version()
	}
	if resp.Attributes != nil && resp.Attributes.Updated != nil {
		value.UpdatedAt = *resp.Attributes.Updated
	}
	return value, nil
}

// Capabilities returns the provider's capabilities
func (p *AzureKeyVaultProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"managed_identity", "service_principal", "workload_identity"},
	}
}

// Validate checks the vault is reachable. A 404 for a probe secret still proves access.
func (p *AzureKeyVaultProvider) Validate(ctx context.Context) error {
	_, err := p.client.GetSecret(ctx, "rsecrets-validation-probe", "", nil)
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return provider.AuthError{Provider: p.name, Message: err.Error()}
}
