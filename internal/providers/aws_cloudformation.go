package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

// CloudFormationClientAPI defines the CloudFormation operations used by the provider
type CloudFormationClientAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// AWSCloudFormationProvider reads stack outputs. ref.Key is the stack name
// and ref.Path the OutputKey.
type AWSCloudFormationProvider struct {
	name   string
	client CloudFormationClientAPI
	logger *logging.Logger
	config AWSConfig
}

// CloudFormationOption is a functional option for configuring CloudFormation providers
type CloudFormationOption func(*AWSCloudFormationProvider)

// WithCloudFormationClient sets a custom CloudFormation client (for testing)
func WithCloudFormationClient(client CloudFormationClientAPI) CloudFormationOption {
	return func(p *AWSCloudFormationProvider) {
		p.client = client
	}
}

// WithCloudFormationLogger sets the logger the provider writes debug output to
func WithCloudFormationLogger(l *logging.Logger) CloudFormationOption {
	return func(p *AWSCloudFormationProvider) {
		if l != nil {
			p.logger = l.WithName("cloudformation")
		}
	}
}

// NewAWSCloudFormationProvider creates a new CloudFormation stack output provider
func NewAWSCloudFormationProvider(name string, configMap map[string]interface{}, opts ...CloudFormationOption) (*AWSCloudFormationProvider, error) {
	p := &AWSCloudFormationProvider{
		name:   name,
		logger: logging.New(false).WithName("cloudformation"),
		config: parseAWSConfig(configMap),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := loadAWSConfig(context.Background(), p.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create CloudFormation client: %w", err)
		}
		p.client = cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) {
			o.BaseEndpoint = p.config.baseEndpoint()
		})
	}

	return p, nil
}

// Name returns the provider name
func (p *AWSCloudFormationProvider) Name() string {
	return p.name
}

// Resolve returns the output named ref.Path of stack ref.Key
func (p *AWSCloudFormationProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	if ref.Path == "" {
		return provider.SecretValue{}, fmt.Errorf("cloudformation: output key (remote_path) is required to resolve a single output of %s", ref.Key)
	}

	outputs, err := p.Outputs(ctx, ref)
	if err != nil {
		return provider.SecretValue{}, err
	}

	v, ok := outputs[ref.Path]
	if !ok {
		return provider.SecretValue{}, provider.NotFoundError{Provider: p.name, Key: ref.Key + "/" + ref.Path}
	}
	return provider.SecretValue{
		Value:    v,
		Metadata: map[string]string{"source": fmt.Sprintf("cloudformation:%s/%s", ref.Key, ref.Path)},
	}, nil
}

// Outputs returns every OutputKey/OutputValue of the stack
func (p *AWSCloudFormationProvider) Outputs(ctx context.Context, ref provider.Reference) (map[string]string, error) {
	p.logger.Debug("Describing CloudFormation stack: %s", ref.Key)

	result, err := p.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(ref.Key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, provider.NotFoundError{Provider: p.name, Key: ref.Key}
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", ref.Key, err)
	}
	if len(result.Stacks) == 0 {
		return nil, provider.NotFoundError{Provider: p.name, Key: ref.Key}
	}

	outputs := make(map[string]string, len(result.Stacks[0].Outputs))
	for _, o := range result.Stacks[0].Outputs {
		if o.OutputKey == nil {
			continue
		}
		outputs[*o.OutputKey] = aws.ToString(o.OutputValue)
	}
	return outputs, nil
}

// Capabilities returns the provider's capabilities
func (p *AWSCloudFormationProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsOutputs: true,
		RequiresAuth:    true,
		AuthMethods:     []string{"iam", "profile", "role", "static"},
	}
}

// Validate checks that DescribeStacks is permitted
func (p *AWSCloudFormationProvider) Validate(ctx context.Context) error {
	if _, err := p.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{}); err != nil {
		return provider.AuthError{
			Provider: p.name,
			Message:  fmt.Sprintf("cloudformation:DescribeStacks failed: %v", err),
		}
	}
	return nil
}
