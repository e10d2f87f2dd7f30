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

package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/vector"
)

type testModels struct {
	embedder models.Embedder
	reranker models.Reranker
}

func (m *testModels) Embedder() models.Embedder { return m.embedder }
func (m *testModels) Reranker() models.Reranker { return m.reranker }

func newTestEngine(t *testing.T, contents ...string) (*Engine, *testModels) {
	t.Helper()

	embedder := models.NewMockEmbedder(config.ProviderSection{})
	require.NoError(t, embedder.Initialize(context.Background()))

	provider, err := vector.NewChromemProvider(vector.ChromemConfig{Collection: "chunks"})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(context.Background()))
	t.Cleanup(func() { provider.Close() })

	if len(contents) > 0 {
		records := make([]vector.Record, len(contents))
		for i, content := range contents {
			vec, err := embedder.Embed(context.Background(), content)
			require.NoError(t, err)
			records[i] = vector.Record{
				ID:           fmt.Sprintf("chunk-%d", i),
				Vector:       vec,
				Content:      content,
				DocumentID:   "doc-1",
				DocumentName: "corpus.txt",
				ChunkIndex:   i,
			}
		}
		require.NoError(t, provider.AddVectors(context.Background(), records))
	}

	cfg, err := config.Parse([]byte(""))
	require.NoError(t, err)

	source := &testModels{embedder: embedder}
	return NewEngine(provider, source, config.NewManagerFromConfig(cfg)), source
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"neural", "networks", "101"}, tokenize("Neural networks, 101!"))
	assert.Equal(t, []string{"知", "识", "库"}, tokenize("知识库"))
	assert.Empty(t, tokenize("!!! ---"))
}

func TestKeywordScores(t *testing.T) {
	docs := []string{
		"neural networks",
		"the weather today",
		"machine learning uses neural networks",
	}
	scores := keywordScores("neural networks", docs)

	require.Len(t, scores, 3)
	assert.Equal(t, 1.0, scores[0])
	assert.Equal(t, 0.0, scores[1])
	assert.Equal(t, 1.0, scores[2])
}

func TestKeywordScores_IDFDiscountsUbiquitousTerms(t *testing.T) {
	docs := []string{
		"the cache holds recent queries",
		"the index stores vectors",
		"the session keeps history",
	}
	// "the" appears everywhere; only doc 0 matches "cache".
	scores := keywordScores("the cache", docs)
	assert.Equal(t, 1.0, scores[0])
	assert.Greater(t, scores[0], scores[1])
	assert.Equal(t, scores[1], scores[2])
	assert.Greater(t, scores[1], 0.0)
}

func TestSearch_SemanticOrdering(t *testing.T) {
	engine, _ := newTestEngine(t,
		"neural networks",
		"the weather today",
		"machine learning uses neural networks",
	)

	results, err := engine.Search(context.Background(), "neural networks")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "neural networks", results[0].Content)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_KeywordModeReplacesScores(t *testing.T) {
	engine, _ := newTestEngine(t,
		"neural networks",
		"the weather today",
		"machine learning uses neural networks",
	)

	cfg := config.RetrievalSection{TopK: 3, SearchMode: config.SearchModeKeyword}
	results, err := engine.SearchWithConfig(context.Background(), "neural networks", cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "the weather today", results[2].Content)
	assert.Equal(t, 0.0, results[2].Score)
}

func TestSearch_HybridBlendsSignals(t *testing.T) {
	engine, _ := newTestEngine(t,
		"neural networks",
		"the weather today",
		"machine learning uses neural networks",
	)

	cfg := config.RetrievalSection{TopK: 3, SearchMode: config.SearchModeHybrid, HybridAlpha: 0.7}
	results, err := engine.SearchWithConfig(context.Background(), "neural networks", cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Both signals put the unrelated chunk last.
	assert.Equal(t, "the weather today", results[2].Content)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_TopKZeroSkipsIndex(t *testing.T) {
	engine, _ := newTestEngine(t, "some indexed content")

	results, err := engine.SearchWithConfig(context.Background(), "query",
		config.RetrievalSection{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, engine.Stats().TotalSearches)
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	engine, _ := newTestEngine(t,
		"first chunk about retrieval",
		"second chunk about retrieval",
		"third chunk about retrieval",
		"fourth chunk about retrieval",
	)

	results, err := engine.SearchWithConfig(context.Background(), "retrieval",
		config.RetrievalSection{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_RerankReorders(t *testing.T) {
	engine, source := newTestEngine(t,
		"neural networks",
		"the weather today",
		"machine learning uses neural networks",
	)
	reranker := models.NewMockReranker(config.ProviderSection{})
	require.NoError(t, reranker.Initialize(context.Background()))
	source.reranker = reranker

	cfg := config.RetrievalSection{TopK: 3, SearchMode: config.SearchModeSemantic, EnableRerank: true}
	results, err := engine.SearchWithConfig(context.Background(), "neural networks", cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		require.NotNil(t, r.RerankScore)
	}
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, *results[i-1].RerankScore, *results[i].RerankScore)
	}
	assert.Equal(t, int64(1), engine.Stats().RerankInvocations)
}

type failingReranker struct {
	models.Reranker
}

func (f *failingReranker) State() models.State { return models.StateLoaded }

func (f *failingReranker) Rerank(ctx context.Context, query string, documents []string) ([]models.RerankResult, error) {
	return nil, &models.RerankerError{Provider: "test", Model: "broken", Err: fmt.Errorf("connection refused")}
}

func TestSearch_RerankFailureIsNonFatal(t *testing.T) {
	engine, source := newTestEngine(t,
		"neural networks",
		"the weather today",
	)
	source.reranker = &failingReranker{}

	cfg := config.RetrievalSection{TopK: 2, SearchMode: config.SearchModeSemantic, EnableRerank: true}
	results, err := engine.SearchWithConfig(context.Background(), "neural networks", cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Pre-rerank ordering survives and the failure is counted.
	assert.Equal(t, "neural networks", results[0].Content)
	assert.Nil(t, results[0].RerankScore)
	snap := engine.Stats()
	assert.Equal(t, int64(1), snap.RerankFailures)
}

func TestSearch_RerankSkippedWhenRerankerUnloaded(t *testing.T) {
	engine, source := newTestEngine(t, "some content here")
	source.reranker = models.NewMockReranker(config.ProviderSection{}) // never initialized

	cfg := config.RetrievalSection{TopK: 1, EnableRerank: true, SearchMode: config.SearchModeSemantic}
	results, err := engine.SearchWithConfig(context.Background(), "content", cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].RerankScore)
	assert.Zero(t, engine.Stats().RerankInvocations)
}

func TestSearch_CacheHit(t *testing.T) {
	engine, _ := newTestEngine(t, "cached content about retrieval")

	cfg := config.RetrievalSection{TopK: 1, EnableCache: true, SearchMode: config.SearchModeSemantic}
	first, err := engine.SearchWithConfig(context.Background(), "retrieval", cfg)
	require.NoError(t, err)
	second, err := engine.SearchWithConfig(context.Background(), "retrieval", cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), engine.Stats().CacheHits)
}

func TestSearch_StatsPerMode(t *testing.T) {
	engine, _ := newTestEngine(t, "content for counting searches")
	ctx := context.Background()

	for _, mode := range []config.SearchMode{
		config.SearchModeSemantic, config.SearchModeSemantic, config.SearchModeKeyword, config.SearchModeHybrid,
	} {
		_, err := engine.SearchWithConfig(ctx, "content", config.RetrievalSection{TopK: 1, SearchMode: mode, HybridAlpha: 0.7})
		require.NoError(t, err)
	}

	snap := engine.Stats()
	assert.Equal(t, int64(2), snap.SearchesByMode[string(config.SearchModeSemantic)])
	assert.Equal(t, int64(1), snap.SearchesByMode[string(config.SearchModeKeyword)])
	assert.Equal(t, int64(1), snap.SearchesByMode[string(config.SearchModeHybrid)])
	assert.Equal(t, int64(4), snap.TotalSearches)
	assert.Greater(t, snap.AvgLatencyMs, 0.0)
}
