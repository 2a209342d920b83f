package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// SSMClientAPI defines the interface for AWS SSM Parameter Store operations
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// AWSSSMProvider implements the Provider interface for AWS Systems Manager Parameter Store
type AWSSSMProvider struct {
	name   string
	client SSMClientAPI
	logger *logging.Logger
	config SSMConfig
}

// SSMConfig holds AWS SSM-specific configuration
type SSMConfig struct {
	AWSConfig
	WithDecryption  bool
	ParameterPrefix string
}

// SSMProviderOption is a functional option for configuring SSM providers
type SSMProviderOption func(*AWSSSMProvider)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMProviderOption {
	return func(p *AWSSSMProvider) {
		p.client = client
	}
}

// WithSSMLogger sets the logger the provider writes debug output to
func WithSSMLogger(l *logging.Logger) SSMProviderOption {
	return func(p *AWSSSMProvider) {
		if l != nil {
			p.logger = l.WithName("ssm")
		}
	}
}

// NewAWSSSMProvider creates a new AWS SSM Parameter Store provider
func NewAWSSSMProvider(name string, configMap map[string]interface{}, opts ...SSMProviderOption) (*AWSSSMProvider, error) {
	config := SSMConfig{
		AWSConfig:      parseAWSConfig(configMap),
		WithDecryption: true, // Default to decrypting SecureString parameters
	}
	if decrypt, ok := configMap["with_decryption"].(bool); ok {
		config.WithDecryption = decrypt
	}
	if prefix, ok := configMap["parameter_prefix"].(string); ok {
		config.ParameterPrefix = prefix
	}

	p := &AWSSSMProvider{
		name:   name,
		logger: logging.New(false).WithName("ssm"),
		config: config,
	}

	// Apply options (allows mock client injection)
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := loadAWSConfig(context.Background(), config.AWSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSM client: %w", err)
		}
		p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
			o.BaseEndpoint = config.baseEndpoint()
		})
	}

	return p, nil
}

// Name returns the provider name
func (p *AWSSSMProvider) Name() string {
	return p.name
}

// Resolve fetches a parameter from SSM Parameter Store.
// A non-empty ref.Version selects a parameter version (name:version).
func (p *AWSSSMProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	parameterName := p.config.ParameterPrefix + ref.Key
	if ref.Version != "" {
		parameterName = parameterName + ":" + ref.Version
	}

	p.logger.Debug("Fetching parameter from SSM: %s", parameterName)

	result, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(p.config.WithDecryption),
	})
	if err != nil {
		if isParameterNotFoundError(err) {
			return provider.SecretValue{}, dserrors.UserError{
				Message:    fmt.Sprintf("Parameter not found: %s", parameterName),
				Suggestion: "Check that the parameter exists and the operator has ssm:GetParameter permission",
				Err:        provider.NotFoundError{Provider: p.name, Key: parameterName},
			}
		}
		return provider.SecretValue{}, dserrors.UserError{
			Message:    "Failed to get parameter from SSM",
			Details:    err.Error(),
			Suggestion: getSSMErrorSuggestion(err),
			Err:        err,
		}
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return provider.SecretValue{}, fmt.Errorf("parameter %s has no value", parameterName)
	}

	metadata := map[string]string{
		"source": fmt.Sprintf("ssm:%s", parameterName),
		"type":   string(result.Parameter.Type),
	}

	value := provider.SecretValue{
		Value:    *result.Parameter.Value,
		Metadata: metadata,
	}
	if result.Parameter.Version != 0 {
		value.Version = fmt.Sprintf("%d", result.Parameter.Version)
	}
	if result.Parameter.LastModifiedDate != nil {
		value.UpdatedAt = *result.Parameter.LastModifiedDate
	}
	return value, nil
}

// Capabilities returns the provider's capabilities
func (p *AWSSSMProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"iam", "profile", "role", "static"},
	}
}

// Validate checks if the provider is properly configured and accessible
func (p *AWSSSMProvider) Validate(ctx context.Context) error {
	// Test by describing parameters (minimal permissions needed)
	_, err := p.client.DescribeParameters(ctx, &ssm.DescribeParametersInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return dserrors.UserError{
			Message:    "Failed to connect to AWS SSM Parameter Store",
			Details:    err.Error(),
			Suggestion: getSSMErrorSuggestion(err),
		}
	}
	return nil
}

// isParameterNotFoundError checks if the error is a parameter not found error
func isParameterNotFoundError(err error) bool {
	var nf *types.ParameterNotFound
	if errors.As(err, &nf) {
		return true
	}
	var vnf *types.ParameterVersionNotFound
	if errors.As(err, &vnf) {
		return true
	}
	return strings.Contains(err.Error(), "ParameterNotFound")
}

// getSSMErrorSuggestion provides helpful suggestions based on SSM errors
func getSSMErrorSuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "accessdenied"):
		return "Check IAM permissions: ssm:GetParameter, ssm:DescribeParameters, and kms:Decrypt (for SecureString)"
	case strings.Contains(errStr, "parameternotfound"):
		return "Verify the parameter name and path. SSM parameters are case-sensitive"
	case strings.Contains(errStr, "invalidkeyid"):
		return "The KMS key for this SecureString parameter may not exist or the operator lacks kms:Decrypt permission"
	case strings.Contains(errStr, "throttl"):
		return "Request was throttled. Raise the operator cache TTL or reduce the number of RSecrets"
	case strings.Contains(errStr, "region"):
		return "Check that the SSM backend region matches where the parameter is stored"
	default:
		return "Check AWS credentials, region, and IAM permissions for SSM Parameter Store"
	}
}
