package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSConfig holds the settings shared by every AWS-backed provider
type AWSConfig struct {
	Region          string
	Profile         string
	Endpoint        string // Optional custom endpoint for LocalStack or testing
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	AssumeRole      string
	ExternalID      string
	RoleSessionName string
}

// parseAWSConfig reads the common AWS keys from a backend config map
func parseAWSConfig(configMap map[string]interface{}) AWSConfig {
	c := AWSConfig{
		RoleSessionName: fmt.Sprintf("rsecrets-%d", time.Now().Unix()),
	}
	if v, ok := configMap["region"].(string); ok {
		c.Region = v
	}
	if v, ok := configMap["profile"].(string); ok {
		c.Profile = v
	}
	if v, ok := configMap["endpoint"].(string); ok {
		c.Endpoint = v
	}
	if v, ok := configMap["access_key_id"].(string); ok {
		c.AccessKeyID = v
	}
	if v, ok := configMap["secret_access_key"].(string); ok {
		c.SecretAccessKey = v
	}
	if v, ok := configMap["session_token"].(string); ok {
		c.SessionToken = v
	}
	if v, ok := configMap["assume_role"].(string); ok {
		c.AssumeRole = v
	}
	if v, ok := configMap["external_id"].(string); ok {
		c.ExternalID = v
	}
	if v, ok := configMap["role_session_name"].(string); ok && v != "" {
		c.RoleSessionName = v
	}
	return c
}

// baseEndpoint returns the endpoint override, or nil when none is configured
func (c AWSConfig) baseEndpoint() *string {
	if c.Endpoint == "" {
		return nil
	}
	return aws.String(c.Endpoint)
}

// loadAWSConfig builds an aws.Config from the shared settings.
//
// Credential precedence: static keys, then the default chain (environment,
// shared profile, IRSA web identity, instance role). When AssumeRole is set
// the resolved credentials are exchanged through STS.
func loadAWSConfig(ctx context.Context, c AWSConfig) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	if c.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if c.AssumeRole != "" {
		stsClient := sts.NewFromConfig(cfg, func(o *sts.Options) {
			o.BaseEndpoint = c.baseEndpoint()
		})
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, c.AssumeRole, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = c.RoleSessionName
			if c.ExternalID != "" {
				o.ExternalID = aws.String(c.ExternalID)
			}
		}))
	}

	return cfg, nil
}
