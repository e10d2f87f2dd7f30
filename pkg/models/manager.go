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
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorehq/lore/pkg/config"
)

// Manager owns the active model instances. Readers fetch instances through
// lock-free pointers; switches build and health-check the replacement
// before retargeting, so a failed switch never takes down the active model.
type Manager struct {
	registry *Registry
	configs  *config.Manager

	embedder  atomic.Pointer[embedderSlot]
	reranker  atomic.Pointer[rerankerSlot]
	generator atomic.Pointer[generatorSlot]

	// switchMu serializes switches; reads stay lock-free.
	switchMu sync.Mutex
}

type embedderSlot struct{ instance Embedder }
type rerankerSlot struct{ instance Reranker }
type generatorSlot struct{ instance Generator }

// NewManager builds the active instances from the current configuration
// snapshot and warms them up. The reranker is only built when retrieval
// has reranking enabled; QA works without one.
func NewManager(ctx context.Context, registry *Registry, configs *config.Manager) (*Manager, error) {
	if registry == nil {
		registry = DefaultRegistry
	}

	m := &Manager{registry: registry, configs: configs}
	cfg := configs.Get()

	embedder, err := registry.CreateEmbedder(cfg.Embeddings.ProviderSection)
	if err != nil {
		return nil, err
	}
	if err := embedder.Initialize(ctx); err != nil {
		return nil, err
	}
	m.embedder.Store(&embedderSlot{instance: embedder})

	generator, err := registry.CreateGenerator(cfg.LLM.ProviderSection)
	if err != nil {
		return nil, err
	}
	if err := generator.Initialize(ctx); err != nil {
		return nil, err
	}
	m.generator.Store(&generatorSlot{instance: generator})

	if cfg.Retrieval.EnableRerank {
		reranker, err := registry.CreateReranker(cfg.Reranking.ProviderSection)
		if err != nil {
			return nil, err
		}
		if err := reranker.Initialize(ctx); err != nil {
			return nil, err
		}
		m.reranker.Store(&rerankerSlot{instance: reranker})
	} else {
		m.reranker.Store(&rerankerSlot{})
	}

	return m, nil
}

// Embedder returns the active embedder.
func (m *Manager) Embedder() Embedder {
	return m.embedder.Load().instance
}

// Generator returns the active generator.
func (m *Manager) Generator() Generator {
	return m.generator.Load().instance
}

// Reranker returns the active reranker, nil when reranking is disabled.
func (m *Manager) Reranker() Reranker {
	return m.reranker.Load().instance
}

// RoleConfig summarizes an active instance for config listings. API keys
// never appear here.
type RoleConfig struct {
	Role     Role            `json:"role"`
	Provider string          `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
	State    State           `json:"state"`
	Metrics  MetricsSnapshot `json:"metrics"`
}

// Configs lists the active instances per role.
func (m *Manager) Configs() []RoleConfig {
	var out []RoleConfig
	if e := m.Embedder(); e != nil {
		out = append(out, roleConfig(RoleEmbedder, e))
	}
	if r := m.Reranker(); r != nil {
		out = append(out, roleConfig(RoleReranker, r))
	}
	if g := m.Generator(); g != nil {
		out = append(out, roleConfig(RoleGenerator, g))
	}
	return out
}

func roleConfig(role Role, mdl Model) RoleConfig {
	return RoleConfig{
		Role:     role,
		Provider: mdl.Provider(),
		Model:    mdl.Name(),
		State:    mdl.State(),
		Metrics:  mdl.Metrics(),
	}
}

// AllMetrics returns usage snapshots keyed by role.
func (m *Manager) AllMetrics() map[Role]MetricsSnapshot {
	out := make(map[Role]MetricsSnapshot)
	if e := m.Embedder(); e != nil {
		out[RoleEmbedder] = e.Metrics()
	}
	if r := m.Reranker(); r != nil {
		out[RoleReranker] = r.Metrics()
	}
	if g := m.Generator(); g != nil {
		out[RoleGenerator] = g.Metrics()
	}
	return out
}

// HealthStatus reports one role's availability.
type HealthStatus struct {
	Role    Role   `json:"role"`
	Model   string `json:"model,omitempty"`
	State   State  `json:"state"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health checks every active instance. A missing reranker is reported as
// healthy-absent rather than failing.
func (m *Manager) Health(ctx context.Context) []HealthStatus {
	var out []HealthStatus
	check := func(role Role, mdl Model) {
		if mdl == nil {
			return
		}
		status := HealthStatus{Role: role, Model: mdl.Name(), State: mdl.State()}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := mdl.HealthCheck(checkCtx); err != nil {
			status.Error = err.Error()
		} else {
			status.Healthy = true
		}
		out = append(out, status)
	}
	check(RoleEmbedder, m.Embedder())
	if r := m.Reranker(); r != nil {
		check(RoleReranker, r)
	}
	check(RoleGenerator, m.Generator())
	return out
}

// Test builds a candidate instance from cfg, initializes it, runs a health
// check, and tears it down. The active instances are untouched.
func (m *Manager) Test(ctx context.Context, role Role, cfg config.ProviderSection) error {
	cfg.SetDefaults()

	switch role {
	case RoleEmbedder:
		candidate, err := m.registry.CreateEmbedder(cfg)
		if err != nil {
			return err
		}
		defer candidate.Cleanup()
		if err := candidate.Initialize(ctx); err != nil {
			return err
		}
		return candidate.HealthCheck(ctx)
	case RoleReranker:
		candidate, err := m.registry.CreateReranker(cfg)
		if err != nil {
			return err
		}
		defer candidate.Cleanup()
		if err := candidate.Initialize(ctx); err != nil {
			return err
		}
		return candidate.HealthCheck(ctx)
	case RoleGenerator:
		candidate, err := m.registry.CreateGenerator(cfg)
		if err != nil {
			return err
		}
		defer candidate.Cleanup()
		if err := candidate.Initialize(ctx); err != nil {
			return err
		}
		return candidate.HealthCheck(ctx)
	default:
		return fmt.Errorf("unknown model role %q", role)
	}
}

// Switch replaces the active instance for role with one built from cfg.
// The replacement is initialized and health-checked before the pointer is
// retargeted; the previous instance is cleaned up after. On success the
// corresponding config section is persisted.
func (m *Manager) Switch(ctx context.Context, role Role, cfg config.ProviderSection) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	cfg.SetDefaults()

	switch role {
	case RoleEmbedder:
		candidate, err := m.registry.CreateEmbedder(cfg)
		if err != nil {
			return err
		}
		if err := candidate.Initialize(ctx); err != nil {
			candidate.Cleanup()
			return err
		}
		if err := candidate.HealthCheck(ctx); err != nil {
			candidate.Cleanup()
			return NewModelInitError(candidate.Provider(), candidate.Name(), err)
		}
		old := m.embedder.Swap(&embedderSlot{instance: candidate})
		m.cleanupOld(role, old.instance)
	case RoleReranker:
		candidate, err := m.registry.CreateReranker(cfg)
		if err != nil {
			return err
		}
		if err := candidate.Initialize(ctx); err != nil {
			candidate.Cleanup()
			return err
		}
		if err := candidate.HealthCheck(ctx); err != nil {
			candidate.Cleanup()
			return NewModelInitError(candidate.Provider(), candidate.Name(), err)
		}
		old := m.reranker.Swap(&rerankerSlot{instance: candidate})
		m.cleanupOld(role, old.instance)
	case RoleGenerator:
		candidate, err := m.registry.CreateGenerator(cfg)
		if err != nil {
			return err
		}
		if err := candidate.Initialize(ctx); err != nil {
			candidate.Cleanup()
			return err
		}
		if err := candidate.HealthCheck(ctx); err != nil {
			candidate.Cleanup()
			return NewModelInitError(candidate.Provider(), candidate.Name(), err)
		}
		old := m.generator.Swap(&generatorSlot{instance: candidate})
		m.cleanupOld(role, old.instance)
	default:
		return fmt.Errorf("unknown model role %q", role)
	}

	m.persistSection(role, cfg)
	return nil
}

func (m *Manager) cleanupOld(role Role, old Model) {
	if old == nil {
		return
	}
	if err := old.Cleanup(); err != nil {
		slog.Warn("failed to clean up replaced model", "role", role, "model", old.Name(), "error", err)
	}
	slog.Info("model switched", "role", role, "retired", old.Name())
}

// persistSection writes the new provider settings back to the config so
// restarts come up with the switched model.
func (m *Manager) persistSection(role Role, cfg config.ProviderSection) {
	if m.configs == nil {
		return
	}

	var section string
	switch role {
	case RoleEmbedder:
		section = "embeddings"
	case RoleReranker:
		section = "reranking"
	case RoleGenerator:
		section = "llm"
	default:
		return
	}

	values := map[string]any{
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}
	if cfg.BaseURL != "" {
		values["base_url"] = cfg.BaseURL
	}
	if cfg.APIKey != "" {
		values["api_key"] = cfg.APIKey
	}

	if _, err := m.configs.UpdateSection(section, values); err != nil {
		slog.Warn("model switch succeeded but config persist failed",
			"section", section, "error", err)
	}
}

// Close cleans up all active instances.
func (m *Manager) Close() error {
	var first error
	if e := m.Embedder(); e != nil {
		if err := e.Cleanup(); err != nil && first == nil {
			first = err
		}
	}
	if r := m.Reranker(); r != nil {
		if err := r.Cleanup(); err != nil && first == nil {
			first = err
		}
	}
	if g := m.Generator(); g != nil {
		if err := g.Cleanup(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
