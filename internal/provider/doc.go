// Package provider provides the language-model provider layer for careline.
//
// This package implements a unified interface for different Large Language Model
// providers using the Eino framework. It supports Anthropic Claude, OpenAI GPT,
// and Volcengine ARK models. The generation service (internal/generate) consumes
// providers through the Registry; nothing in this package touches session state.
//
// # Core Components
//
//   - Provider: interface every model backend implements
//   - Registry: manages and coordinates multiple providers
//
// # Supported Providers
//
// ## Anthropic (Claude)
//
//	provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{
//	    APIKey:    "sk-...",
//	    Model:     "claude-3-5-haiku-20241022",
//	    MaxTokens: 1024,
//	})
//
// ## OpenAI (GPT)
//
// Native OpenAI API access plus OpenAI-compatible self-hosted endpoints via
// BaseURL:
//
//	provider, err := NewOpenAIProvider(ctx, &OpenAIConfig{
//	    APIKey:    "sk-...",
//	    Model:     "gpt-4o-mini",
//	    MaxTokens: 1024,
//	})
//
// ## Volcengine ARK
//
//	provider, err := NewArkProvider(ctx, &ArkConfig{
//	    APIKey:    "...",
//	    Model:     "endpoint-id",
//	    MaxTokens: 1024,
//	})
//
// # Registry Usage
//
//	registry, err := InitializeProviders(ctx, config)
//
//	// Get a specific provider
//	provider, err := registry.Get("anthropic")
//
//	// Get the configured default model
//	model, err := registry.DefaultModel()
//
//	// List all available models across providers
//	models := registry.AllModels()
//
// # Credentials
//
// Providers are initialized from the `provider` config section; API keys fall
// back to the conventional environment variables (ANTHROPIC_API_KEY,
// OPENAI_API_KEY, ARK_API_KEY). A provider with no usable credentials is
// skipped rather than treated as a startup error: session processing never
// requires a live model, it degrades to fixed safe fallback texts.
package provider
