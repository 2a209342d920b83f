package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/provider"
)

const (
	pulumiAcceptHeader = "application/vnd.pulumi+8"
	pulumiOutputsPath  = "deployment.resources.0.outputs"
)

// PulumiProvider reads stack outputs from a Pulumi service checkpoint export.
// ref.Key is the stack path (org/project/stack) and ref.Path an optional
// dotted path into the outputs object.
type PulumiProvider struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
	logger   *logging.Logger
}

// PulumiOption is a functional option for configuring Pulumi providers
type PulumiOption func(*PulumiProvider)

// WithPulumiHTTPClient sets the HTTP client used for export calls
func WithPulumiHTTPClient(client *http.Client) PulumiOption {
	return func(p *PulumiProvider) {
		p.client = client
	}
}

// WithPulumiLogger sets the logger the provider writes debug output to
func WithPulumiLogger(l *logging.Logger) PulumiOption {
	return func(p *PulumiProvider) {
		if l != nil {
			p.logger = l.WithName("pulumi")
		}
	}
}

// NewPulumiProvider creates a new Pulumi stack output provider
func NewPulumiProvider(name string, configMap map[string]interface{}, opts ...PulumiOption) (*PulumiProvider, error) {
	p := &PulumiProvider{
		name:   name,
		logger: logging.New(false).WithName("pulumi"),
	}
	if v, ok := configMap["endpoint"].(string); ok {
		p.endpoint = strings.TrimSuffix(v, "/")
	}
	if v, ok := configMap["access_token"].(string); ok {
		p.token = v
	}
	if p.endpoint == "" {
		return nil, fmt.Errorf("pulumi: endpoint is required")
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	return p, nil
}

// Name returns the provider name
func (p *PulumiProvider) Name() string {
	return p.name
}

// Resolve returns the output at ref.Path. Strings are returned unquoted and
// objects or arrays as compact JSON.
func (p *PulumiProvider) Resolve(ctx context.Context, ref provider.Reference) (provider.SecretValue, error) {
	if ref.Path == "" {
		return provider.SecretValue{}, fmt.Errorf("pulumi: output path (remote_path) is required to resolve a single output of %s", ref.Key)
	}

	outputs, err := p.export(ctx, ref)
	if err != nil {
		return provider.SecretValue{}, err
	}

	v := outputs.Get(ref.Path)
	if !v.Exists() {
		return provider.SecretValue{}, provider.NotFoundError{Provider: p.name, Key: ref.Key + "/" + ref.Path}
	}
	return provider.SecretValue{
		Value:    outputString(v),
		Metadata: map[string]string{"source": fmt.Sprintf("pulumi:%s/%s", ref.Key, ref.Path)},
	}, nil
}

// Outputs returns every top-level stack output
func (p *PulumiProvider) Outputs(ctx context.Context, ref provider.Reference) (map[string]string, error) {
	outputs, err := p.export(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	outputs.ForEach(func(key, value gjson.Result) bool {
		result[key.String()] = outputString(value)
		return true
	})
	return result, nil
}

// export downloads the stack checkpoint and returns its outputs object
func (p *PulumiProvider) export(ctx context.Context, ref provider.Reference) (gjson.Result, error) {
	token := ref.Token
	if token == "" {
		token = p.token
	}
	if token == "" {
		return gjson.Result{}, provider.AuthError{
			Provider: p.name,
			Message:  "no access token (set pulumi_token on the resource or PULUMI_ACCESS_TOKEN)",
		}
	}

	url := fmt.Sprintf("%s/%s/export", p.endpoint, strings.Trim(ref.Key, "/"))
	p.logger.Debug("Exporting Pulumi stack: %s", ref.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", pulumiAcceptHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "token "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to export stack %s: %w", ref.Key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read stack export: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, provider.NotFoundError{Provider: p.name, Key: ref.Key}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gjson.Result{}, provider.AuthError{
			Provider: p.name,
			Message:  fmt.Sprintf("stack export returned %d", resp.StatusCode),
		}
	case resp.StatusCode >= 300:
		return gjson.Result{}, fmt.Errorf("stack export returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("stack export of %s is not valid JSON", ref.Key)
	}
	outputs := gjson.GetBytes(body, pulumiOutputsPath)
	if !outputs.IsObject() {
		return gjson.Result{}, provider.NotFoundError{Provider: p.name, Key: ref.Key + " (outputs)"}
	}
	return outputs, nil
}

// Capabilities returns the provider's capabilities
func (p *PulumiProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsOutputs: true,
		RequiresAuth:    true,
		AuthMethods:     []string{"token"},
	}
}

// Validate checks that an access token is available
func (p *PulumiProvider) Validate(ctx context.Context) error {
	if p.token == "" {
		return provider.AuthError{
			Provider: p.name,
			Message:  "access_token not configured; resources must carry pulumi_token",
		}
	}
	return nil
}

// outputString renders a JSON value the way it is stored in a Secret
func outputString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
