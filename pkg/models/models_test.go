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
	"errors"
	"math"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorehq/lore/pkg/config"
)

func mockSection() config.ProviderSection {
	cfg := config.ProviderSection{Provider: "mock"}
	cfg.SetDefaults()
	return cfg
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(mockSection())
	require.NoError(t, e.Initialize(context.Background()))

	a, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, e.Dimension())

	// Vectors are L2-normalized.
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockEmbedder_SimilarTextsCorrelate(t *testing.T) {
	e := NewMockEmbedder(mockSection())
	require.NoError(t, e.Initialize(context.Background()))

	base, err := e.Embed(context.Background(), "database indexing performance")
	require.NoError(t, err)
	near, err := e.Embed(context.Background(), "database indexing speed")
	require.NoError(t, err)
	far, err := e.Embed(context.Background(), "banana bread recipe ideas")
	require.NoError(t, err)

	assert.Greater(t, dot(base, near), dot(base, far))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestMockEmbedder_RequiresInitialize(t *testing.T) {
	e := NewMockEmbedder(mockSection())
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)

	var initErr *ModelInitError
	assert.True(t, errors.As(err, &initErr))
	assert.Equal(t, StateUnloaded, e.State())
}

func TestMockEmbedder_StateMachine(t *testing.T) {
	e := NewMockEmbedder(mockSection())
	assert.Equal(t, StateUnloaded, e.State())

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, StateLoaded, e.State())

	// Initialize is idempotent once loaded.
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.Cleanup())
	assert.Equal(t, StateUnloaded, e.State())
}

func TestMockReranker_OrdersByOverlap(t *testing.T) {
	r := NewMockReranker(mockSection())
	require.NoError(t, r.Initialize(context.Background()))

	docs := []string{
		"completely unrelated text",
		"vector search over chunk embeddings",
		"vector embeddings",
	}
	results, err := r.Rerank(context.Background(), "vector embeddings search", docs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].Index)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[1].Score, results[2].Score)
}

func TestMockGenerator_CountsSources(t *testing.T) {
	g := NewMockGenerator(mockSection())
	require.NoError(t, g.Initialize(context.Background()))

	answer, err := g.Generate(context.Background(),
		"[Source 1: a.md]\ntext\n\n[Source 2: b.md]\nmore", GenerateOptions{})
	require.NoError(t, err)
	assert.Contains(t, answer, "2 provided source(s)")
}

func TestMetrics_Snapshot(t *testing.T) {
	var m Metrics
	m.Record(10*time.Millisecond, 3, nil)
	m.Record(30*time.Millisecond, 2, nil)
	m.Record(20*time.Millisecond, 0, errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(5), snap.UnitsProcessed)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 20.0, snap.AvgLatencyMs, 1.0)
	assert.InDelta(t, 30.0, snap.MaxLatencyMs, 1.0)
	assert.NotEmpty(t, snap.LastUsed)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://api.openai.com/v1", "openai"},
		{"https://api.siliconflow.cn/v1", "siliconflow"},
		{"http://localhost:11434", "ollama"},
		{"http://ollama.internal:8080", "ollama"},
		{"https://gateway.example.com/v1", "openai"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectProvider(tt.baseURL), "base_url %q", tt.baseURL)
	}
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	_, err := DefaultRegistry.CreateEmbedder(config.ProviderSection{Provider: "watsonx"})
	require.Error(t, err)

	var unsupported *UnsupportedProviderError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "watsonx", unsupported.Provider)
	assert.Contains(t, unsupported.Supported, "mock")
}

func TestRegistry_OpenAIRequiresKey(t *testing.T) {
	cfg := config.ProviderSection{Provider: "openai"}
	cfg.SetDefaults()
	_, err := DefaultRegistry.CreateEmbedder(cfg)
	require.Error(t, err)

	var initErr *ModelInitError
	assert.True(t, errors.As(err, &initErr))
}

func TestRegistry_OpenAILacksReranker(t *testing.T) {
	cfg := config.ProviderSection{Provider: "openai", APIKey: "sk-test"}
	cfg.SetDefaults()
	_, err := DefaultRegistry.CreateReranker(cfg)
	require.Error(t, err)

	var unsupported *UnsupportedProviderError
	assert.True(t, errors.As(err, &unsupported))
}

func newTestConfigManager(t *testing.T, enableRerank bool) *config.Manager {
	t.Helper()
	yaml := ""
	if enableRerank {
		yaml = "retrieval:\n  enable_rerank: true\n"
	}
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return config.NewManagerFromConfig(cfg)
}

func TestManager_BuildsFromConfig(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, true))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, StateLoaded, m.Embedder().State())
	assert.Equal(t, StateLoaded, m.Generator().State())
	require.NotNil(t, m.Reranker())
	assert.Equal(t, StateLoaded, m.Reranker().State())

	configs := m.Configs()
	assert.Len(t, configs, 3)
}

func TestManager_RerankDisabledMeansNoReranker(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, false))
	require.NoError(t, err)
	defer m.Close()

	assert.Nil(t, m.Reranker())
	assert.Len(t, m.Configs(), 2)
}

func TestManager_Switch(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, false))
	require.NoError(t, err)
	defer m.Close()

	old := m.Embedder()
	cfg := config.ProviderSection{Provider: "mock", Model: "mock-embed-v2"}
	require.NoError(t, m.Switch(context.Background(), RoleEmbedder, cfg))

	assert.NotSame(t, old, m.Embedder())
	assert.Equal(t, "mock/mock-embed-v2", m.Embedder().Name())
	assert.Equal(t, StateLoaded, m.Embedder().State())
	assert.Equal(t, StateUnloaded, old.State())
}

func TestManager_SwitchToBrokenProviderKeepsActive(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, false))
	require.NoError(t, err)
	defer m.Close()

	active := m.Embedder()
	err = m.Switch(context.Background(), RoleEmbedder, config.ProviderSection{Provider: "openai"})
	require.Error(t, err)
	assert.Same(t, active, m.Embedder())
	assert.Equal(t, StateLoaded, active.State())
}

func TestManager_Test_DoesNotTouchActive(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, false))
	require.NoError(t, err)
	defer m.Close()

	active := m.Embedder()
	require.NoError(t, m.Test(context.Background(), RoleEmbedder, config.ProviderSection{Provider: "mock"}))
	assert.Same(t, active, m.Embedder())
}

func TestManager_Health(t *testing.T) {
	m, err := NewManager(context.Background(), nil, newTestConfigManager(t, true))
	require.NoError(t, err)
	defer m.Close()

	statuses := m.Health(context.Background())
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Healthy, "role %s: %s", s.Role, s.Error)
	}
}

type failingEmbedder struct {
	*MockEmbedder
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("primary down")
}

func TestFallbackEmbedder_UsesFallbackOnFailure(t *testing.T) {
	primary := &failingEmbedder{MockEmbedder: NewMockEmbedder(mockSection())}
	require.NoError(t, primary.Initialize(context.Background()))
	fallback := NewMockEmbedder(mockSection())

	wrapped := &fallbackEmbedder{primary: primary, fallback: fallback}
	vecs, err := wrapped.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, StateLoaded, fallback.State())
}

func TestTruncateText_RuneSafe(t *testing.T) {
	assert.Equal(t, "hello", truncateText("hello", 10))
	assert.Equal(t, "hel", truncateText("hello", 3))

	// Multibyte input must never be cut inside a rune.
	out := truncateText("知识库问答系统", 4)
	assert.Equal(t, "知识库问", out)
	assert.True(t, utf8.ValidString(out))
}
