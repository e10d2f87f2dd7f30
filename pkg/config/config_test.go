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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, "lore", cfg.App.Name)
	assert.Equal(t, "dev", cfg.App.Environment)
	assert.Equal(t, "sqlite:///data/lore.db", cfg.Database.URL)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "mock", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Embeddings.ChunkSize)
	assert.Equal(t, 200, cfg.Embeddings.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, SearchModeSemantic, cfg.Retrieval.SearchMode)
	assert.InDelta(t, 0.7, cfg.Retrieval.HybridAlpha, 1e-9)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestParse_FullFile(t *testing.T) {
	yamlData := `
app:
  name: lore-test
  environment: test
database:
  url: sqlite:///tmp/test.db
vector_store:
  provider: chromem
  collection: test_chunks
embeddings:
  provider: mock
  chunk_size: 500
  chunk_overlap: 50
llm:
  provider: mock
  temperature: 0.3
retrieval:
  top_k: 3
  search_mode: hybrid
  similarity_threshold: 0.4
api:
  port: 9090
`
	cfg, err := Parse([]byte(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "lore-test", cfg.App.Name)
	assert.Equal(t, 500, cfg.Embeddings.ChunkSize)
	assert.Equal(t, 50, cfg.Embeddings.ChunkOverlap)
	assert.Equal(t, SearchModeHybrid, cfg.Retrieval.SearchMode)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestParse_EmbeddingAlias(t *testing.T) {
	yamlData := `
embedding:
  provider: mock
  chunk_size: 800
`
	cfg, err := Parse([]byte(yamlData))
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Embeddings.ChunkSize)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "overlap not less than chunk size",
			yaml: "embeddings:\n  chunk_size: 100\n  chunk_overlap: 100\n  max_chunk_size: 200\n",
			want: "chunk_overlap",
		},
		{
			name: "bad search mode",
			yaml: "retrieval:\n  search_mode: fuzzy\n",
			want: "search_mode",
		},
		{
			name: "threshold out of range",
			yaml: "retrieval:\n  similarity_threshold: 1.5\n",
			want: "similarity_threshold",
		},
		{
			name: "bad database scheme",
			yaml: "database:\n  url: redis://localhost\n",
			want: "database.url",
		},
		{
			name: "unknown provider",
			yaml: "llm:\n  provider: watsonx\n",
			want: "llm.provider",
		},
		{
			name: "hybrid alpha out of range",
			yaml: "retrieval:\n  hybrid_alpha: 1.2\n",
			want: "hybrid_alpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ValidationAggregatesErrors(t *testing.T) {
	yamlData := `
retrieval:
  search_mode: fuzzy
  similarity_threshold: 2.0
`
	_, err := Parse([]byte(yamlData))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search_mode")
	assert.Contains(t, err.Error(), "similarity_threshold")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LORE_TEST_KEY", "sk-test-123")
	os.Unsetenv("LORE_TEST_MISSING")

	tests := []struct {
		in   string
		want string
	}{
		{"${LORE_TEST_KEY}", "sk-test-123"},
		{"prefix-${LORE_TEST_KEY}", "prefix-sk-test-123"},
		{"${LORE_TEST_MISSING}", ""},
		{"${LORE_TEST_MISSING:fallback}", "fallback"},
		{"${LORE_TEST_MISSING:-fallback}", "fallback"},
		{"${LORE_TEST_KEY:unused-default}", "sk-test-123"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, expandString(tt.in), "input %q", tt.in)
	}
}

func TestParse_EnvExpansionInFile(t *testing.T) {
	t.Setenv("LORE_TEST_DB", "sqlite:///tmp/env.db")
	yamlData := `
database:
  url: ${LORE_TEST_DB}
`
	cfg, err := Parse([]byte(yamlData))
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/env.db", cfg.Database.URL)
}

func TestSection_RedactsSecrets(t *testing.T) {
	cfg, err := Parse([]byte("llm:\n  provider: openai\n  api_key: sk-verysecretkey99\n"))
	require.NoError(t, err)

	section, err := cfg.Section("llm")
	require.NoError(t, err)

	llm, ok := section.(LLMSection)
	require.True(t, ok)
	assert.NotEqual(t, "sk-verysecretkey99", llm.APIKey)
	assert.Contains(t, llm.APIKey, "...")
}

func TestCanonicalSection(t *testing.T) {
	name, ok := CanonicalSection("embedding")
	assert.True(t, ok)
	assert.Equal(t, "embeddings", name)

	_, ok = CanonicalSection("nonexistent")
	assert.False(t, ok)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")

	cfg, err := Parse([]byte("app:\n  name: roundtrip\nretrieval:\n  top_k: 7\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.App.Name)
	assert.Equal(t, 7, loaded.Retrieval.TopK)
}

func TestManager_UpdateSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")

	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	require.NoError(t, cfg.Save(path))

	m, err := NewManager(path)
	require.NoError(t, err)

	var gotChanged []string
	m.Subscribe(func(cfg *Config, changed []string) {
		gotChanged = changed
	})

	updated, err := m.UpdateSection("retrieval", map[string]any{
		"top_k":       10,
		"search_mode": "keyword",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Retrieval.TopK)
	assert.Equal(t, SearchModeKeyword, updated.Retrieval.SearchMode)
	assert.Contains(t, gotChanged, "retrieval")

	// The active snapshot now reflects the update.
	assert.Equal(t, 10, m.Get().Retrieval.TopK)

	// And the update was persisted.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.Retrieval.TopK)
}

func TestManager_UpdateSection_InvalidLeavesSnapshot(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	m := NewManagerFromConfig(cfg)

	_, err = m.UpdateSection("retrieval", map[string]any{
		"similarity_threshold": 3.0,
	})
	require.Error(t, err)
	assert.InDelta(t, 0.0, m.Get().Retrieval.SimilarityThreshold, 1e-9)
}

func TestManager_UpdateSection_RejectsUnknownKeys(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	m := NewManagerFromConfig(cfg)

	_, err = m.UpdateSection("retrieval", map[string]any{
		"top_kk": 10,
	})
	require.Error(t, err)
}

func TestManager_UpdateSection_EmbeddingAlias(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	m := NewManagerFromConfig(cfg)

	updated, err := m.UpdateSection("embedding", map[string]any{
		"chunk_size": 1500,
	})
	require.NoError(t, err)
	assert.Equal(t, 1500, updated.Embeddings.ChunkSize)
}

func TestManager_ValidateUpdate_DoesNotActivate(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	m := NewManagerFromConfig(cfg)

	candidate, err := m.ValidateUpdate("retrieval", map[string]any{"top_k": 20})
	require.NoError(t, err)
	assert.Equal(t, 20, candidate.Retrieval.TopK)
	assert.Equal(t, 5, m.Get().Retrieval.TopK)
}

func TestManager_Reload_BrokenFileKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")

	cfg, err := Parse([]byte("retrieval:\n  top_k: 4\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Save(path))

	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  search_mode: bogus\n"), 0o644))
	require.Error(t, m.Reload())
	assert.Equal(t, 4, m.Get().Retrieval.TopK)
}

func TestResolvePath(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	assert.Equal(t, filepath.Join("config", "prod.yaml"), ResolvePath("", "config"))
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml", "config"))

	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, filepath.Join("config", "dev.yaml"), ResolvePath("", "config"))
}
