package commands

import (
	"os"

	"github.com/systmms/rsecrets/internal/cache"
	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/internal/providers"
	"github.com/systmms/rsecrets/internal/resolve"
)

// loadDefinition loads the config file and layers the environment on top
func loadDefinition(cfg *config.Config) (*config.Definition, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.New(false)
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	cfg.Definition.ApplyEnvironment(os.LookupEnv)
	return cfg.Definition, nil
}

// newResolver builds the backend registry, value cache and resolver for def
func newResolver(def *config.Definition, logger *logging.Logger) (*providers.Registry, *cache.Cache, *resolve.Resolver) {
	registry := providers.NewRegistry(def, providers.WithRegistryLogger(logger.WithName("providers")))
	values := cache.New(nil, def.Operator.CacheTTL)
	resolver := resolve.New(registry, values,
		resolve.WithMaxConcurrentFetches(def.Operator.MaxConcurrentFetches),
		resolve.WithLogger(logger.WithName("resolve")),
	)
	return registry, values, resolver
}
