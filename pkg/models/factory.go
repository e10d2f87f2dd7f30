// Copyright 2026 The Lore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lorehq/lore/pkg/config"
)

type (
	// EmbedderFactory builds an embedder from its config section.
	EmbedderFactory func(config.ProviderSection) (Embedder, error)
	// RerankerFactory builds a reranker from its config section.
	RerankerFactory func(config.ProviderSection) (Reranker, error)
	// GeneratorFactory builds a generator from its config section.
	GeneratorFactory func(config.ProviderSection) (Generator, error)
)

// Registry maps provider names to model constructors. The global registry
// is populated at package load; plugins may add providers before the
// manager starts.
type Registry struct {
	mu         sync.RWMutex
	embedders  map[string]EmbedderFactory
	rerankers  map[string]RerankerFactory
	generators map[string]GeneratorFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embedders:  make(map[string]EmbedderFactory),
		rerankers:  make(map[string]RerankerFactory),
		generators: make(map[string]GeneratorFactory),
	}
}

// DefaultRegistry holds the built-in providers.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.RegisterEmbedder("mock", func(cfg config.ProviderSection) (Embedder, error) {
		return NewMockEmbedder(cfg), nil
	})
	DefaultRegistry.RegisterReranker("mock", func(cfg config.ProviderSection) (Reranker, error) {
		return NewMockReranker(cfg), nil
	})
	DefaultRegistry.RegisterGenerator("mock", func(cfg config.ProviderSection) (Generator, error) {
		return NewMockGenerator(cfg), nil
	})

	DefaultRegistry.RegisterEmbedder("openai", func(cfg config.ProviderSection) (Embedder, error) {
		return NewOpenAIEmbedder(cfg)
	})
	DefaultRegistry.RegisterGenerator("openai", func(cfg config.ProviderSection) (Generator, error) {
		return NewOpenAIGenerator(cfg)
	})

	DefaultRegistry.RegisterEmbedder("siliconflow", func(cfg config.ProviderSection) (Embedder, error) {
		return NewSiliconFlowEmbedder(cfg)
	})
	DefaultRegistry.RegisterReranker("siliconflow", func(cfg config.ProviderSection) (Reranker, error) {
		return NewSiliconFlowReranker(cfg)
	})
	DefaultRegistry.RegisterGenerator("siliconflow", func(cfg config.ProviderSection) (Generator, error) {
		return NewSiliconFlowGenerator(cfg)
	})

	DefaultRegistry.RegisterEmbedder("ollama", func(cfg config.ProviderSection) (Embedder, error) {
		return NewOllamaEmbedder(cfg)
	})
	DefaultRegistry.RegisterGenerator("ollama", func(cfg config.ProviderSection) (Generator, error) {
		return NewOllamaGenerator(cfg)
	})
}

// RegisterEmbedder adds an embedder constructor for provider.
func (r *Registry) RegisterEmbedder(provider string, f EmbedderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[provider] = f
}

// RegisterReranker adds a reranker constructor for provider.
func (r *Registry) RegisterReranker(provider string, f RerankerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rerankers[provider] = f
}

// RegisterGenerator adds a generator constructor for provider.
func (r *Registry) RegisterGenerator(provider string, f GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[provider] = f
}

// Providers lists the registered provider names for a role.
func (r *Registry) Providers(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	switch role {
	case RoleEmbedder:
		for name := range r.embedders {
			names = append(names, name)
		}
	case RoleReranker:
		for name := range r.rerankers {
			names = append(names, name)
		}
	case RoleGenerator:
		for name := range r.generators {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DetectProvider infers a provider name from a base URL. Used when a
// config block carries api_key and base_url but no explicit provider.
func DetectProvider(baseURL string) string {
	switch {
	case baseURL == "":
		return ""
	case strings.Contains(baseURL, "api.openai.com"):
		return "openai"
	case strings.Contains(baseURL, "siliconflow"):
		return "siliconflow"
	case strings.Contains(baseURL, "11434") || strings.Contains(baseURL, "ollama"):
		return "ollama"
	default:
		// Unknown hosts with an OpenAI-style path are treated as
		// OpenAI-compatible gateways.
		return "openai"
	}
}

func resolveProvider(cfg config.ProviderSection) string {
	if cfg.Provider != "" {
		return cfg.Provider
	}
	if detected := DetectProvider(cfg.BaseURL); detected != "" {
		slog.Debug("provider inferred from base_url", "base_url", cfg.BaseURL, "provider", detected)
		return detected
	}
	return "mock"
}

// CreateEmbedder builds an embedder for cfg, wrapping it with the
// configured fallback when one is set.
func (r *Registry) CreateEmbedder(cfg config.ProviderSection) (Embedder, error) {
	provider := resolveProvider(cfg)

	r.mu.RLock()
	factory, ok := r.embedders[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{Provider: provider, Supported: r.Providers(RoleEmbedder)}
	}

	primary, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EnableFallback && cfg.FallbackProvider != nil {
		fallback, err := r.CreateEmbedder(*cfg.FallbackProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback embedder: %w", err)
		}
		return &fallbackEmbedder{primary: primary, fallback: fallback}, nil
	}
	return primary, nil
}

// CreateReranker builds a reranker for cfg.
func (r *Registry) CreateReranker(cfg config.ProviderSection) (Reranker, error) {
	provider := resolveProvider(cfg)

	r.mu.RLock()
	factory, ok := r.rerankers[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{Provider: provider, Supported: r.Providers(RoleReranker)}
	}
	return factory(cfg)
}

// CreateGenerator builds a generator for cfg, wrapping it with the
// configured fallback when one is set.
func (r *Registry) CreateGenerator(cfg config.ProviderSection) (Generator, error) {
	provider := resolveProvider(cfg)

	r.mu.RLock()
	factory, ok := r.generators[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{Provider: provider, Supported: r.Providers(RoleGenerator)}
	}

	primary, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EnableFallback && cfg.FallbackProvider != nil {
		fallback, err := r.CreateGenerator(*cfg.FallbackProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback generator: %w", err)
		}
		return &fallbackGenerator{primary: primary, fallback: fallback}, nil
	}
	return primary, nil
}

// fallbackEmbedder tries the primary and falls back on error. The fallback
// is initialized lazily on first use.
type fallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
}

var _ Embedder = (*fallbackEmbedder)(nil)

func (f *fallbackEmbedder) Name() string       { return f.primary.Name() }
func (f *fallbackEmbedder) Provider() string   { return f.primary.Provider() }
func (f *fallbackEmbedder) State() State       { return f.primary.State() }
func (f *fallbackEmbedder) Dimension() int     { return f.primary.Dimension() }
func (f *fallbackEmbedder) Metrics() MetricsSnapshot {
	return f.primary.Metrics()
}

func (f *fallbackEmbedder) Initialize(ctx context.Context) error {
	return f.primary.Initialize(ctx)
}

func (f *fallbackEmbedder) HealthCheck(ctx context.Context) error {
	return f.primary.HealthCheck(ctx)
}

func (f *fallbackEmbedder) Cleanup() error {
	err := f.primary.Cleanup()
	if cerr := f.fallback.Cleanup(); err == nil {
		err = cerr
	}
	return err
}

func (f *fallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	slog.Warn("primary embedder failed, using fallback",
		"primary", f.primary.Name(), "fallback", f.fallback.Name(), "error", err)
	if ierr := f.fallback.Initialize(ctx); ierr != nil {
		return nil, err
	}
	return f.fallback.EmbedBatch(ctx, texts)
}

// fallbackGenerator tries the primary and falls back on error.
type fallbackGenerator struct {
	primary  Generator
	fallback Generator
}

var _ Generator = (*fallbackGenerator)(nil)

func (f *fallbackGenerator) Name() string     { return f.primary.Name() }
func (f *fallbackGenerator) Provider() string { return f.primary.Provider() }
func (f *fallbackGenerator) State() State     { return f.primary.State() }
func (f *fallbackGenerator) Metrics() MetricsSnapshot {
	return f.primary.Metrics()
}

func (f *fallbackGenerator) Initialize(ctx context.Context) error {
	return f.primary.Initialize(ctx)
}

func (f *fallbackGenerator) HealthCheck(ctx context.Context) error {
	return f.primary.HealthCheck(ctx)
}

func (f *fallbackGenerator) Cleanup() error {
	err := f.primary.Cleanup()
	if cerr := f.fallback.Cleanup(); err == nil {
		err = cerr
	}
	return err
}

func (f *fallbackGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	answer, err := f.primary.Generate(ctx, prompt, opts)
	if err == nil {
		return answer, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	slog.Warn("primary generator failed, using fallback",
		"primary", f.primary.Name(), "fallback", f.fallback.Name(), "error", err)
	if ierr := f.fallback.Initialize(ctx); ierr != nil {
		return "", err
	}
	return f.fallback.Generate(ctx, prompt, opts)
}
