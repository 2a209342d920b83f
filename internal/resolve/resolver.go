// Package resolve turns the backend declarations of an RSecret into the
// key/value content of its Secret.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/rsecrets/internal/cache"
	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
	"github.com/systmms/rsecrets/pkg/provider"
)

// DefaultMaxConcurrentFetches bounds in-flight backend calls per Assemble.
const DefaultMaxConcurrentFetches = 10

// Providers hands out the provider serving a backend kind.
// *providers.Registry satisfies it.
type Providers interface {
	Get(kind v1beta1.BackendType) (provider.Provider, error)
	Timeout(kind v1beta1.BackendType) time.Duration
}

// Resolver fetches and shapes secret data
type Resolver struct {
	providers     Providers
	cache         *cache.Cache
	logger        *logging.Logger
	maxConcurrent int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMaxConcurrentFetches bounds the number of backend calls in flight
func WithMaxConcurrentFetches(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithLogger sets the resolver logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a new resolver instance. A nil cache gets a private one with
// the default TTL.
func New(providers Providers, c *cache.Cache, opts ...Option) *Resolver {
	if c == nil {
		c = cache.New(nil, cache.DefaultTTL)
	}
	r := &Resolver{
		providers:     providers,
		cache:         c,
		logger:        logging.New(false).WithName("resolve"),
		maxConcurrent: DefaultMaxConcurrentFetches,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FieldResult records what one field declaration contributed
type FieldResult struct {
	Backend  v1beta1.BackendType
	Resource int
	Field    int
	Keys     []string
	Skipped  string
	Err      error
}

// Assembly is the merged content of every declaration plus per-field outcomes
type Assembly struct {
	Data   map[string][]byte
	Fields []FieldResult
}

// Failed returns the number of fields whose fetch failed
func (a *Assembly) Failed() int {
	n := 0
	for _, f := range a.Fields {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Assemble resolves every field of every resource and merges the results.
//
// Fields run concurrently but are merged in declaration order, and a key
// already present is never overwritten: the earliest declaration wins.
// A field that fails is logged and contributes nothing.
func (r *Resolver) Assemble(ctx context.Context, resources []v1beta1.Resource) *Assembly {
	results := make([][]FieldResult, len(resources))
	values := make([][]map[string]string, len(resources))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)

	for i, res := range resources {
		results[i] = make([]FieldResult, len(res.Data))
		values[i] = make([]map[string]string, len(res.Data))

		if !isKnown(res.Backend) {
			r.logger.Warn("Unsupported backend %q in resource %d, skipping", res.Backend, i)
			for j := range res.Data {
				results[i][j] = FieldResult{Backend: res.Backend, Resource: i, Field: j, Skipped: "unsupported backend"}
			}
			continue
		}

		for j, field := range res.Data {
			i, j, res, field := i, j, res, field
			g.Go(func() error {
				entries, skipped, err := r.resolveField(ctx, res, field)
				fr := FieldResult{Backend: res.Backend, Resource: i, Field: j, Skipped: skipped, Err: err}
				if err != nil {
					kind := "permanent"
					if dserrors.IsRetryable(err) {
						kind = "transient"
					}
					msg := logging.Redact(dserrors.SimplifyError(err).Error(), []string{res.PulumiToken})
					r.logger.Warn("Failed to resolve %s field %d of resource %d (%s): %s", res.Backend, j, i, kind, msg)
				} else if skipped != "" {
					r.logger.Debug("Skipped %s field %d of resource %d: %s", res.Backend, j, i, skipped)
				}
				for k := range entries {
					fr.Keys = append(fr.Keys, k)
				}
				results[i][j] = fr
				values[i][j] = entries
				return nil
			})
		}
	}
	_ = g.Wait()

	out := &Assembly{Data: make(map[string][]byte)}
	for i := range resources {
		for j := range values[i] {
			for k, v := range values[i][j] {
				if _, exists := out.Data[k]; !exists {
					out.Data[k] = []byte(v)
				}
			}
			out.Fields = append(out.Fields, results[i][j])
		}
	}
	return out
}

// resolveField dispatches on the backend kind. It returns the entries the
// field contributes, or a reason it was skipped.
func (r *Resolver) resolveField(ctx context.Context, res v1beta1.Resource, field v1beta1.SecretData) (map[string]string, string, error) {
	switch res.Backend {
	case v1beta1.BackendPlaintext:
		if field.Key == "" {
			return nil, "plaintext field has no key", nil
		}
		entries, err := applyFieldRules(field, field.Value)
		return entries, emptyReason(entries), err

	case v1beta1.BackendCloudformation, v1beta1.BackendPulumi, v1beta1.BackendKeyValue:
		return r.resolveOutputs(ctx, res, field)

	case v1beta1.BackendSSM, v1beta1.BackendSecretManager, v1beta1.BackendAppConfig,
		v1beta1.BackendVault, v1beta1.BackendGCPSecretManager, v1beta1.BackendAzureKeyVault:
		return r.resolveScalar(ctx, res, field)

	default:
		return nil, "unsupported backend", nil
	}
}

// resolveScalar fetches one text value and applies the field rules
func (r *Resolver) resolveScalar(ctx context.Context, res v1beta1.Resource, field v1beta1.SecretData) (map[string]string, string, error) {
	if field.Key == "" {
		return nil, "no key for a single-value backend", nil
	}

	ref := provider.Reference{
		Provider: string(res.Backend),
		Key:      field.Value,
	}
	if res.Backend == v1beta1.BackendAppConfig {
		ref.Profile = field.ConfigurationProfileID
		ref.Version = strconv.Itoa(int(field.VersionNumber))
	}

	value, err := r.fetchValue(ctx, res.Backend, ref)
	if err != nil {
		return nil, "", err
	}
	entries, err := applyFieldRules(field, value)
	return entries, emptyReason(entries), err
}

// resolveOutputs reads stack outputs or KV fields. With both key and
// remote_path, remote_path selects one output and the normal field rules
// apply to it; any other field expands every output into its own entry.
//
// For an is_json_string field the first segment of remote_path names the
// output and the rest is the dotted path into its JSON text.
func (r *Resolver) resolveOutputs(ctx context.Context, res v1beta1.Resource, field v1beta1.SecretData) (map[string]string, string, error) {
	ref := provider.Reference{
		Provider: string(res.Backend),
		Key:      field.Value,
		Token:    res.PulumiToken,
	}

	if field.Key == "" || field.RemotePath == "" {
		outputs, err := r.fetchOutputs(ctx, res.Backend, ref)
		if err != nil {
			return nil, "", err
		}
		return outputs, emptyReason(outputs), nil
	}
	rules := field
	ref.Path, rules.RemotePath = splitOutputPath(field)

	value, err := r.fetchValue(ctx, res.Backend, ref)
	if err != nil {
		return nil, "", err
	}
	entries, err := applyFieldRules(rules, value)
	return entries, emptyReason(entries), err
}

// splitOutputPath returns the output name and the JSON path inside it
func splitOutputPath(field v1beta1.SecretData) (string, string) {
	if !field.IsJSONString {
		return field.RemotePath, ""
	}
	name, path, _ := strings.Cut(field.RemotePath, ".")
	return name, path
}

func (r *Resolver) fetchValue(ctx context.Context, kind v1beta1.BackendType, ref provider.Reference) (string, error) {
	p, err := r.providers.Get(kind)
	if err != nil {
		return "", err
	}
	timeout := r.providers.Timeout(kind)

	return cache.GetOrFetch(ctx, r.cache, cacheKey(kind, "value", ref), r.cache.TTL(), func(ctx context.Context) (string, error) {
		ctx, cancel := withBackendTimeout(ctx, timeout)
		defer cancel()

		sv, err := p.Resolve(ctx, ref)
		if err != nil {
			return "", dserrors.ProviderError(providerLabel(kind), "resolve", isTimeoutError(err, kind, timeout))
		}
		return sv.Value, nil
	})
}

func (r *Resolver) fetchOutputs(ctx context.Context, kind v1beta1.BackendType, ref provider.Reference) (map[string]string, error) {
	p, err := r.providers.Get(kind)
	if err != nil {
		return nil, err
	}
	lister, ok := p.(provider.OutputLister)
	if !ok {
		return nil, fmt.Errorf("%s provider cannot list outputs", kind)
	}
	timeout := r.providers.Timeout(kind)

	return cache.GetOrFetch(ctx, r.cache, cacheKey(kind, "outputs", ref), r.cache.TTL(), func(ctx context.Context) (map[string]string, error) {
		ctx, cancel := withBackendTimeout(ctx, timeout)
		defer cancel()

		outputs, err := lister.Outputs(ctx, ref)
		if err != nil {
			return nil, dserrors.ProviderError(providerLabel(kind), "outputs", isTimeoutError(err, kind, timeout))
		}
		return outputs, nil
	})
}

// cacheKey covers every input that changes what a backend returns. The token
// is folded in as a digest so it never sits in memory as a map key.
func cacheKey(kind v1beta1.BackendType, op string, ref provider.Reference) string {
	var token string
	if ref.Token != "" {
		token = strconv.FormatUint(xxhash.Sum64String(ref.Token), 16)
	}
	return strings.Join([]string{string(kind), op, ref.Key, ref.Path, ref.Profile, ref.Version, token}, "\x00")
}

// Validate checks the provider behind kind can be built and reached
func (r *Resolver) Validate(ctx context.Context, kind v1beta1.BackendType) error {
	p, err := r.providers.Get(kind)
	if err != nil {
		return err
	}
	timeout := r.providers.Timeout(kind)
	ctx, cancel := withBackendTimeout(ctx, timeout)
	defer cancel()

	if err := p.Validate(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return isTimeoutError(err, kind, timeout)
		}
		return dserrors.ProviderError(providerLabel(kind), "validate", err)
	}
	return nil
}

// CacheStats exposes the value cache counters
func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func isKnown(kind v1beta1.BackendType) bool {
	for _, k := range v1beta1.BackendTypes {
		if k == kind {
			return true
		}
	}
	return false
}

func emptyReason(entries map[string]string) string {
	if len(entries) == 0 {
		return "no value extracted"
	}
	return ""
}
