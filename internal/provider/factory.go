package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Constructor creates a provider from the inference section of the config.
type Constructor func(ic config.InferenceConfig, logger *slog.Logger) (domain.Provider, error)

// Factory selects and caches the inference provider named by inference.provider.
type Factory struct {
	cfg          config.InferenceConfig
	logger       *slog.Logger
	constructors map[string]Constructor
	cached       domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg config.InferenceConfig, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	f.cached = nil
}

func (f *Factory) registerDefaults() {
	f.constructors[config.ProviderAzure] = func(ic config.InferenceConfig, logger *slog.Logger) (domain.Provider, error) {
		if ic.Endpoint == "" {
			return nil, fmt.Errorf("azure provider: endpoint is not configured")
		}
		return NewAzure(AzureConfig{
			APIKey:     ic.APIKey,
			Endpoint:   ic.Endpoint,
			Deployment: ic.Deployment,
			APIVersion: ic.APIVersion,
			Timeout:    timeoutOf(ic),
			Logger:     logger,
		}), nil
	}

	f.constructors[config.ProviderOpenAI] = func(ic config.InferenceConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{
			APIKey:  ic.APIKey,
			BaseURL: ic.Endpoint,
			Timeout: timeoutOf(ic),
			Logger:  logger,
		}), nil
	}
}

// Provider returns the configured provider, creating it on first use.
func (f *Factory) Provider() (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return f.cached, nil
	}

	name := f.cfg.Provider
	if name == "" {
		name = config.ProviderAzure
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	p, err := ctor(f.cfg, f.logger.With("provider", name))
	if err != nil {
		return nil, err
	}
	f.cached = p
	return p, nil
}

// Check builds the provider and runs its health check.
func (f *Factory) Check(ctx context.Context) error {
	p, err := f.Provider()
	if err != nil {
		return err
	}
	if err := p.Healthy(ctx); err != nil {
		return fmt.Errorf("provider %s unhealthy: %w", p.Name(), err)
	}
	return nil
}

func timeoutOf(ic config.InferenceConfig) time.Duration {
	return time.Duration(ic.TimeoutSeconds) * time.Second
}
