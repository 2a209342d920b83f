package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/appconfig"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// AppConfigClientAPI defines the AppConfig operations used by the provider
type AppConfigClientAPI interface {
	GetHostedConfigurationVersion(ctx context.Context, params *appconfig.GetHostedConfigurationVersionInput, optFns ...func(*appconfig.Options)) (*appconfig.GetHostedConfigurationVersionOutput, error)
	ListApplications(ctx context.Context, params *appconfig.ListApplicationsInput, optFns ...func(*appconfig.Options)) (*appconfig.ListApplicationsOutput, error)
}

// AWSAppConfigProvider reads hosted configuration versions.
// ref.Key is the application id, ref.Profile the configuration profile id and
// ref.Version the version number.
type AWSAppConfigProvider struct {
	name   string
	client AppConfigClientAPI
	logger *logging.Logger
	config AWSConfig
}

// AppConfigOption is a functional option for configuring AppConfig providers
type AppConfigOption func(*AWSAppConfigProvider)

// WithAppConfigClient sets a custom AppConfig client (for testing)
func WithAppConfigClient(client AppConfigClientAPI) AppConfigOption {
	return func(p *AWSAppConfigProvider) {
		p.client = client
	}
}

// WithAppConfigLogger sets the logger the provider writes debug output to
func WithAppConfigLogger(l *logging.Logger) AppConfigOption {
	return func(p *AWSAppConfigProvider) {
		if l != nil {
			p.logger = l.WithName("appconfig")
		}
	}
}

// NewAWSAppConfigProvider creates a new AppConfig provider
func NewAWSAppConfigProvider(name string, configMap map[string]interface{}, opts ...AppConfigOption) (*AWSAppConfigProvider, error) {
	p := &AWSAppConfigProvider{
		name:   name,
		logger: logging.New(false).WithName("appconfig"),
		config: parseAWSConfig(configMap),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := loadAWSConfig(context.Background(), p.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create AppConfig client: %w", err)
		}
		p.client = appconfig.NewFromConfig(cfg, func(o *appconfig.Options) {
			o.BaseEndpoint = p.config.baseEndpoint()
		})
	}

	return p, nil
}

// Name returns the provider name
func (p *AWSAppConfigProvider) Name() string {
	return p.name
}

// Resolve fetches the content of one hosted configuration version as UTF-8 text
func (p *AWSAppConfigProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	if ref.Profile == "" {
		return provider.SecretValue{}, fmt.Errorf("appconfig: configuration_profile_id is required for application %s", ref.Key)
	}
	version, err := strconv.ParseInt(ref.Version, 10, 32)
	if err != nil || version <= 0 {
		return provider.SecretValue{}, fmt.Errorf("appconfig: version_number must be a positive integer, got %q", ref.Version)
	}

	p.logger.Debug("Fetching AppConfig %s/%s version %d", ref.Key, ref.Profile, version)

	result, err := p.client.GetHostedConfigurationVersion(ctx, &appconfig.GetHostedConfigurationVersionInput{
		ApplicationId:          aws.String(ref.Key),
		ConfigurationProfileId: aws.String(ref.Profile),
		VersionNumber:          aws.Int32(int32(version)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ResourceNotFoundException") {
			return provider.SecretValue{}, provider.NotFoundError{
				Provider: p.name,
				Key:      fmt.Sprintf("%s/%s@%d", ref.Key, ref.Profile, version),
			}
		}
		return provider.SecretValue{}, fmt.Errorf("failed to get hosted configuration version: %w", err)
	}
	if result.Content == nil {
		return provider.SecretValue{}, fmt.Errorf("appconfig: hosted configuration version has no content")
	}
	if !utf8.Valid(result.Content) {
		return provider.SecretValue{}, fmt.Errorf("appconfig: content is not valid UTF-8")
	}

	return provider.SecretValue{
		Value:   string(result.Content),
		Version: ref.Version,
		Metadata: map[string]string{
			"source":       fmt.Sprintf("appconfig:%s/%s", ref.Key, ref.Profile),
			"content_type": aws.ToString(result.ContentType),
		},
	}, nil
}

// Capabilities returns the provider's capabilities
func (p *AWSAppConfigProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsVersioning: true,
		RequiresAuth:       true,
		AuthMethods:        []string{"iam", "profile", "role", "static"},
	}
}

// Validate checks that AppConfig is reachable with the configured credentials
func (p *AWSAppConfigProvider) Validate(ctx context.Context) error {
	if _, err := p.client.ListApplications(ctx, &appconfig.ListApplicationsInput{MaxResults: aws.Int32(1)}); err != nil {
		return provider.AuthError{
			Provider: p.name,
			Message:  fmt.Sprintf("appconfig:ListApplications failed: %v", err),
		}
	}
	return nil
}
