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

// Package models provides embedding, reranking, and generation model
// instances behind provider-neutral interfaces, plus the lifecycle manager
// that creates, health-checks, and hot-swaps them.
package models

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lorehq/lore/pkg/config"
)

// State describes where a model instance is in its lifecycle.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateError    State = "error"
)

// Role names what a model instance is used for.
type Role string

const (
	RoleEmbedder  Role = "embedder"
	RoleReranker  Role = "reranker"
	RoleGenerator Role = "generator"
)

// Model is the lifecycle surface shared by all model instances.
type Model interface {
	// Name returns "provider/model" for logs and config listings.
	Name() string

	// Provider returns the provider identifier.
	Provider() string

	// State returns the current lifecycle state.
	State() State

	// Initialize transitions unloaded -> loading -> loaded, performing
	// whatever warm-up the provider needs. Idempotent once loaded.
	Initialize(ctx context.Context) error

	// HealthCheck performs a cheap provider round-trip.
	HealthCheck(ctx context.Context) error

	// Metrics returns a usage snapshot.
	Metrics() MetricsSnapshot

	// Cleanup releases provider resources. The instance is unusable after.
	Cleanup() error
}

// Embedder converts text into dense vectors.
type Embedder interface {
	Model

	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in provider-sized batches, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the width of produced vectors, 0 if unknown until
	// the first call.
	Dimension() int
}

// RerankResult carries a relevance score for one candidate document.
type RerankResult struct {
	// Index references the position in the input slice.
	Index int
	Score float64
}

// Reranker reorders candidate documents by relevance to a query.
type Reranker interface {
	Model

	// Rerank scores documents against query. Results come back sorted by
	// descending score.
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)
}

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int

	// SystemPrompt is prepended as the system message when the provider
	// supports chat-style prompting.
	SystemPrompt string
}

// Generator produces an answer from a prompt.
type Generator interface {
	Model

	// Generate returns the model completion for prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// lifecycle implements the shared state machine and throttling that every
// provider instance embeds.
type lifecycle struct {
	provider string
	model    string

	state   atomic.Value // State
	metrics Metrics

	// initOnce ensures the loading transition happens once even when
	// concurrent callers race Initialize.
	initMu sync.Mutex

	// sem caps in-flight requests per instance.
	sem *semaphore.Weighted

	// interval spaces consecutive request starts. Zero disables pacing.
	interval   time.Duration
	intervalMu sync.Mutex
	lastStart  time.Time
}

func (l *lifecycle) init(provider, model string, cfg config.ProviderSection) {
	l.provider = provider
	l.model = model
	l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests))
	l.interval = time.Duration(cfg.RequestIntervalMs) * time.Millisecond
	l.state.Store(StateUnloaded)
}

func (l *lifecycle) Name() string {
	return fmt.Sprintf("%s/%s", l.provider, l.model)
}

func (l *lifecycle) Provider() string {
	return l.provider
}

func (l *lifecycle) State() State {
	return l.state.Load().(State)
}

func (l *lifecycle) setState(s State) {
	l.state.Store(s)
}

func (l *lifecycle) Metrics() MetricsSnapshot {
	return l.metrics.Snapshot()
}

// initialize runs warmUp under the loading state, guarding against
// concurrent and repeated calls.
func (l *lifecycle) initialize(ctx context.Context, warmUp func(context.Context) error) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	if l.State() == StateLoaded {
		return nil
	}

	l.setState(StateLoading)
	if err := warmUp(ctx); err != nil {
		l.setState(StateError)
		return NewModelInitError(l.provider, l.model, err)
	}
	l.setState(StateLoaded)
	return nil
}

// acquire enforces the concurrency cap and request spacing. The returned
// release must be called when the provider call completes.
func (l *lifecycle) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if l.interval > 0 {
		l.intervalMu.Lock()
		wait := l.interval - time.Since(l.lastStart)
		if wait > 0 {
			l.intervalMu.Unlock()
			select {
			case <-ctx.Done():
				l.sem.Release(1)
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			l.intervalMu.Lock()
		}
		l.lastStart = time.Now()
		l.intervalMu.Unlock()
	}

	return func() { l.sem.Release(1) }, nil
}

// track times a provider call and records the outcome.
func (l *lifecycle) track(units int, fn func() error) error {
	start := time.Now()
	err := fn()
	l.metrics.Record(time.Since(start), units, err)
	return err
}

// truncateText bounds text to maxLen runes. Cutting on runes keeps the
// result valid UTF-8 for multibyte input.
func truncateText(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}
