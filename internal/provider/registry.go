package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/careline-ai/careline/pkg/types"
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all available providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, model := range provider.Models() {
		if model.ID == modelID {
			return &model, nil
		}
	}

	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}

	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})

	return models
}

// DefaultModel returns the configured model, or a sensible fallback.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Generate.Model != "" {
		providerID, modelID := ParseModelString(r.config.Generate.Model)
		return r.GetModel(providerID, modelID)
	}

	// Short supportive replies want low latency over raw capability.
	model, err := r.GetModel("anthropic", "claude-3-5-haiku-20241022")
	if err == nil {
		return model, nil
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// modelPriority returns sorting priority for models.
func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude-3-5-haiku"):
		return 100
	case strings.Contains(modelID, "claude-haiku-4"):
		return 95
	case strings.Contains(modelID, "gpt-4o-mini"):
		return 90
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "gpt-5"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders creates and registers all providers from config.
// Providers whose credentials are missing are skipped, not errors: the
// generation layer degrades to fixed safe fallbacks without any provider.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config)

	if cfg, ok := providerConfig(config, "anthropic"); ok {
		provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: config.Generate.MaxTokens,
		})
		if err == nil {
			registry.Register(provider)
		}
	}

	if cfg, ok := providerConfig(config, "openai"); ok {
		provider, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: config.Generate.MaxTokens,
		})
		if err == nil {
			registry.Register(provider)
		}
	}

	if cfg, ok := providerConfig(config, "ark"); ok {
		provider, err := NewArkProvider(ctx, &ArkConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: config.Generate.MaxTokens,
		})
		if err == nil {
			registry.Register(provider)
		}
	}

	return registry, nil
}

// providerConfig reports whether a provider should be initialized: it must
// not be disabled, and either the config or the environment must carry a key.
func providerConfig(config *types.Config, id string) (types.ProviderConfig, bool) {
	cfg := config.Provider[id]
	if cfg.Disable {
		return cfg, false
	}
	if cfg.APIKey != "" {
		return cfg, true
	}
	envKeys := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}
	if key := envKeys[id]; key != "" && os.Getenv(key) != "" {
		return cfg, true
	}
	return cfg, false
}
