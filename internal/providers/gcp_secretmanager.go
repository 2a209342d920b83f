package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// GCPSecretManagerClientAPI defines the Secret Manager operations used by the provider
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// gcpClient adapts *secretmanager.Client, whose methods take variadic call options
type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.c.AccessSecretVersion(ctx, req)
}

// GCPSecretManagerProvider implements the Provider interface for Google Cloud Secret Manager
type GCPSecretManagerProvider struct {
	name   string
	client GCPSecretManagerClientAPI
	logger *logging.Logger
	config GCPSecretManagerConfig
}

// GCPSecretManagerConfig holds GCP Secret Manager-specific configuration
type GCPSecretManagerConfig struct {
	ProjectID             string
	ServiceAccountKeyPath string
	ImpersonateAccount    string
}

// GCPOption is a functional option for configuring GCP providers
type GCPOption func(*GCPSecretManagerProvider)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPOption {
	return func(p *GCPSecretManagerProvider) {
		p.client = client
	}
}

// WithGCPSecretManagerLogger sets the logger the provider writes debug output to
func WithGCPSecretManagerLogger(l *logging.Logger) GCPOption {
	return func(p *GCPSecretManagerProvider) {
		if l != nil {
			p.logger = l.WithName("gcp")
		}
	}
}

// NewGCPSecretManagerProvider creates a new GCP Secret Manager provider
func NewGCPSecretManagerProvider(name string, configMap map[string]interface{}, opts ...GCPOption) (*GCPSecretManagerProvider, error) {
	config := GCPSecretManagerConfig{}
	if projectID, ok := configMap["project_id"].(string); ok {
		config.ProjectID = projectID
	}
	if keyPath, ok := configMap["service_account_key_path"].(string); ok {
		config.ServiceAccountKeyPath = keyPath
	}
	if account, ok := configMap["impersonate_service_account"].(string); ok {
		config.ImpersonateAccount = account
	}
	if config.ProjectID == "" {
		config.ProjectID = getGCPProjectID()
	}

	p := &GCPSecretManagerProvider{
		name:   name,
		logger: logging.New(false).WithName("gcp"),
		config: config,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := createGCPSecretManagerClient(context.Background(), config)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		p.client = gcpClient{c: client}
	}

	return p, nil
}

// createGCPSecretManagerClient creates a Secret Manager client with the configured credentials
func createGCPSecretManagerClient(ctx context.Context, config GCPSecretManagerConfig) (*secretmanager.Client, error) {
	var clientOptions []option.ClientOption

	if config.ServiceAccountKeyPath != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(config.ServiceAccountKeyPath))
	}

	if config.ImpersonateAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: config.ImpersonateAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	return secretmanager.NewClient(ctx, clientOptions...)
}

// getGCPProjectID attempts to get the GCP project ID from the environment
func getGCPProjectID() string {
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if projectID := os.Getenv(env); projectID != "" {
			return projectID
		}
	}
	return ""
}

// Name returns the provider name
func (p *GCPSecretManagerProvider) Name() string {
	return p.name
}

// Resolve fetches a secret version from GCP Secret Manager.
// ref.Key is a secret name or a full projects/... resource name.
func (p *GCPSecretManagerProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	resourceName := p.buildResourceName(ref.Key, ref.Version)

	p.logger.Debug("Accessing GCP secret: %s", resourceName)

	result, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			return provider.SecretValue{}, provider.NotFoundError{Provider: p.name, Key: resourceName}
		}
		return provider.SecretValue{}, dserrors.UserError{
			Message:    fmt.Sprintf("Failed to access secret: %s", ref.Key),
			Details:    err.Error(),
			Suggestion: getGCPErrorSuggestion(err),
			Err:        err,
		}
	}

	if result.Payload == nil || result.Payload.Data == nil {
		return provider.SecretValue{}, fmt.Errorf("secret %s has no data", resourceName)
	}

	return provider.SecretValue{
		Value:   string(result.Payload.Data),
		Version: result.Name,
		Metadata: map[string]string{
			"source":     fmt.Sprintf("gcp-sm:%s", resourceName),
			"project_id": p.config.ProjectID,
		},
	}, nil
}

// buildResourceName builds the full GCP resource name
func (p *GCPSecretManagerProvider) buildResourceName(secretName, version string) string {
	if version == "" {
		version = "latest"
	}
	if strings.HasPrefix(secretName, "projects/") {
		if strings.Contains(secretName, "/versions/") {
			return secretName
		}
		return fmt.Sprintf("%s/versions/%s", secretName, version)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", p.config.ProjectID, secretName, version)
}

// Capabilities returns the provider's capabilities
func (p *GCPSecretManagerProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"service_account", "application_default", "impersonation", "workload_identity"},
	}
}

// Validate checks the provider configuration
func (p *GCPSecretManagerProvider) Validate(ctx context.Context) error {
	if p.config.ProjectID == "" {
		return dserrors.ConfigError{
			Field:      "project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set backends.GCPSecretManager.project_id or GOOGLE_CLOUD_PROJECT",
		}
	}
	return nil
}

// getGCPErrorSuggestion provides helpful suggestions based on GCP errors
func getGCPErrorSuggestion(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PermissionDenied"):
		return "Check IAM permissions: secretmanager.versions.access"
	case strings.Contains(errStr, "Unauthenticated"):
		return "Check authentication: set GOOGLE_APPLICATION_CREDENTIALS or bind a workload identity"
	case strings.Contains(errStr, "InvalidArgument"):
		return "Check the secret name format and version specification"
	case strings.Contains(errStr, "ResourceExhausted"):
		return "Request was throttled. Raise the operator cache TTL"
	default:
		return "Check GCP credentials, project ID, and IAM permissions for Secret Manager"
	}
}
