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

// Package retrieval turns questions into ranked source chunks: semantic
// search over the vector index, optional keyword or hybrid re-scoring,
// and optional reranking.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/vector"
)

// rerankOverFetch widens the primary search when reranking so the
// reranker sees more candidates than the caller asked for.
const rerankOverFetch = 3

// Result is one ranked source chunk. Score holds the active ordering key
// for the mode that produced it; RerankScore is set only when a reranker
// ran.
type Result struct {
	vector.SearchResult
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// RetrievalError wraps a fatal retrieval failure with the stage it
// happened in.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// ModelSource yields the currently active models. Resolving per request
// keeps searches on whatever a hot switch activates next.
type ModelSource interface {
	Embedder() models.Embedder
	Reranker() models.Reranker
}

// Engine runs the retrieval pipeline.
type Engine struct {
	vectors vector.Provider
	models  ModelSource
	configs *config.Manager
	stats   stats
	cache   *queryCache
	logger  *slog.Logger
}

// NewEngine assembles the retrieval engine.
func NewEngine(vectors vector.Provider, models ModelSource, configs *config.Manager) *Engine {
	return &Engine{
		vectors: vectors,
		models:  models,
		configs: configs,
		cache:   newQueryCache(),
		logger:  slog.Default().With("component", "retrieval"),
	}
}

// Search retrieves with the currently configured retrieval settings.
func (e *Engine) Search(ctx context.Context, query string) ([]Result, error) {
	return e.SearchWithConfig(ctx, query, e.configs.Get().Retrieval)
}

// SearchWithConfig runs the full pipeline: embed the query, over-fetch
// from the index, apply the search mode, optionally rerank, truncate to
// top_k. A reranker failure is non-fatal; everything before it is.
func (e *Engine) SearchWithConfig(ctx context.Context, query string, cfg config.RetrievalSection) ([]Result, error) {
	if cfg.TopK <= 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		e.stats.record(cfg.SearchMode, time.Since(start))
	}()

	if cfg.EnableCache {
		if results, ok := e.cache.get(query, cfg); ok {
			e.stats.cacheHits.Add(1)
			return results, nil
		}
	}

	embedder := e.models.Embedder()
	if embedder == nil {
		return nil, &RetrievalError{Stage: "embed", Err: fmt.Errorf("no embedder available")}
	}
	queryVector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}

	reranker := e.activeReranker(cfg)
	fetch := cfg.TopK
	if reranker != nil {
		fetch = cfg.TopK * rerankOverFetch
	}

	hits, err := e.vectors.SearchSimilar(ctx, queryVector, fetch, cfg.SimilarityThreshold)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{SearchResult: hit}
	}

	switch cfg.SearchMode {
	case config.SearchModeKeyword:
		applyKeywordScores(query, results, 0)
	case config.SearchModeHybrid:
		applyKeywordScores(query, results, cfg.HybridAlpha)
	}

	if reranker != nil {
		results = e.rerank(ctx, reranker, query, results)
	}

	if len(results) > cfg.TopK {
		results = results[:cfg.TopK]
	}

	if cfg.EnableCache {
		e.cache.put(query, cfg, results)
	}
	return results, nil
}

// activeReranker returns the reranker only when reranking applies: the
// mode asks for it, an instance exists, and it is loaded.
func (e *Engine) activeReranker(cfg config.RetrievalSection) models.Reranker {
	if !cfg.EnableRerank {
		return nil
	}
	reranker := e.models.Reranker()
	if reranker == nil || reranker.State() != models.StateLoaded {
		return nil
	}
	return reranker
}

// applyKeywordScores replaces each result's score with the lexical score
// (alpha 0) or blends it with the semantic score (hybrid), then re-sorts.
func applyKeywordScores(query string, results []Result, alpha float64) {
	if len(results) == 0 {
		return
	}
	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Content
	}
	lexical := keywordScores(query, documents)
	for i := range results {
		results[i].Score = alpha*results[i].Score + (1-alpha)*lexical[i]
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// rerank scores (query, content) pairs in provider-sized batches and
// re-sorts by rerank score. Any failure keeps the pre-rerank ordering.
func (e *Engine) rerank(ctx context.Context, reranker models.Reranker, query string, results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	e.stats.rerankCalls.Add(1)

	batchSize := e.configs.Get().Reranking.BatchSize
	if batchSize <= 0 {
		batchSize = len(results)
	}

	scores := make([]float64, len(results))
	for start := 0; start < len(results); start += batchSize {
		end := start + batchSize
		if end > len(results) {
			end = len(results)
		}
		documents := make([]string, end-start)
		for i := start; i < end; i++ {
			documents[i-start] = results[i].Content
		}

		ranked, err := reranker.Rerank(ctx, query, documents)
		if err != nil {
			e.stats.rerankFailures.Add(1)
			e.logger.Warn("reranking failed, keeping original order", "error", err)
			return results
		}
		for _, r := range ranked {
			if r.Index < 0 || r.Index >= len(documents) {
				continue
			}
			scores[start+r.Index] = r.Score
		}
	}

	for i := range results {
		score := scores[i]
		results[i].RerankScore = &score
	}
	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].RerankScore > *results[j].RerankScore
	})
	return results
}

// Stats returns a consistent-per-counter snapshot.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.snapshot()
}
