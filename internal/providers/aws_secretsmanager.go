package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSSecretsManagerProvider implements the provider interface for AWS Secrets Manager
type AWSSecretsManagerProvider struct {
	name   string
	client SecretsManagerClientAPI
	logger *logging.Logger
	config AWSConfig
}

// SecretsManagerOption is a functional option for configuring Secrets Manager providers
type SecretsManagerOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(p *AWSSecretsManagerProvider) {
		p.client = client
	}
}

// WithSecretsManagerLogger sets the logger the provider writes debug output to
func WithSecretsManagerLogger(l *logging.Logger) SecretsManagerOption {
	return func(p *AWSSecretsManagerProvider) {
		if l != nil {
			p.logger = l.WithName("secretsmanager")
		}
	}
}

// NewAWSSecretsManagerProvider creates a new AWS Secrets Manager provider
func NewAWSSecretsManagerProvider(name string, configMap map[string]interface{}, opts ...SecretsManagerOption) (*AWSSecretsManagerProvider, error) {
	p := &AWSSecretsManagerProvider{
		name:   name,
		logger: logging.New(false).WithName("secretsmanager"),
		config: parseAWSConfig(configMap),
	}

	// Apply options (allows mock client injection)
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := loadAWSConfig(context.Background(), p.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secrets Manager client: %w", err)
		}
		p.client = secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
			o.BaseEndpoint = p.config.baseEndpoint()
		})
	}

	return p, nil
}

// Name returns the provider name
func (p *AWSSecretsManagerProvider) Name() string {
	return p.name
}

// Resolve retrieves a secret string from AWS Secrets Manager.
// ref.Version may be a version id (UUID) or a staging label.
func (p *AWSSecretsManagerProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Key),
	}
	if ref.Version != "" && ref.Version != "latest" {
		if isVersionID(ref.Version) {
			input.VersionId = aws.String(ref.Version)
		} else {
			input.VersionStage = aws.String(ref.Version)
		}
	}

	p.logger.Debug("Fetching secret from Secrets Manager: %s", ref.Key)

	result, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return provider.SecretValue{}, p.handleError(err, ref.Key)
	}

	var secretString string
	if result.SecretString != nil {
		secretString = *result.SecretString
	} else if result.SecretBinary != nil {
		secretString = string(result.SecretBinary)
	}

	metadata := map[string]string{
		"source": fmt.Sprintf("secretsmanager:%s", ref.Key),
	}
	if result.ARN != nil {
		metadata["arn"] = *result.ARN
	}

	value := provider.SecretValue{
		Value:    secretString,
		Version:  versionString(result),
		Metadata: metadata,
	}
	if result.CreatedDate != nil {
		value.UpdatedAt = *result.CreatedDate
	}
	return value, nil
}

// Capabilities returns the provider's capabilities
func (p *AWSSecretsManagerProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"iam", "profile", "role", "static"},
	}
}

// Validate checks if AWS credentials are configured and accessible
func (p *AWSSecretsManagerProvider) Validate(ctx context.Context) error {
	// Try to list secrets (with limit 1) to verify credentials
	_, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return provider.AuthError{
			Provider: p.name,
			Message:  fmt.Sprintf("AWS authentication failed: %v", err),
		}
	}
	return nil
}

// handleError converts AWS errors to provider errors
func (p *AWSSecretsManagerProvider) handleError(err error, secretName string) error {
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return provider.NotFoundError{Provider: p.name, Key: secretName}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "UnrecognizedClient") {
		return provider.AuthError{
			Provider: p.name,
			Message:  fmt.Sprintf("AWS authentication/authorization failed: %v", err),
		}
	}

	return fmt.Errorf("AWS Secrets Manager error: %w", err)
}

func versionString(result *secretsmanager.GetSecretValueOutput) string {
	if result.VersionId != nil {
		return *result.VersionId
	}
	if len(result.VersionStages) > 0 {
		return result.VersionStages[0]
	}
	return "latest"
}

func isVersionID(version string) bool {
	// AWS version IDs are UUIDs
	return len(version) == 36 && strings.Count(version, "-") == 4
}
