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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorehq/lore/pkg/config"
)

// stats counts searches with atomic operations; snapshots are consistent
// per counter, not globally.
type stats struct {
	semanticSearches atomic.Int64
	keywordSearches  atomic.Int64
	hybridSearches   atomic.Int64
	latencyNanos     atomic.Int64
	rerankCalls      atomic.Int64
	rerankFailures   atomic.Int64
	cacheHits        atomic.Int64
}

func (s *stats) record(mode config.SearchMode, elapsed time.Duration) {
	switch mode {
	case config.SearchModeKeyword:
		s.keywordSearches.Add(1)
	case config.SearchModeHybrid:
		s.hybridSearches.Add(1)
	default:
		s.semanticSearches.Add(1)
	}
	s.latencyNanos.Add(elapsed.Nanoseconds())
}

// StatsSnapshot is a point-in-time view of engine counters.
type StatsSnapshot struct {
	SearchesByMode    map[string]int64 `json:"searches_by_mode"`
	TotalSearches     int64            `json:"total_searches"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	RerankInvocations int64            `json:"rerank_invocations"`
	RerankFailures    int64            `json:"rerank_failures"`
	CacheHits         int64            `json:"cache_hits"`
}

func (s *stats) snapshot() StatsSnapshot {
	semantic := s.semanticSearches.Load()
	keyword := s.keywordSearches.Load()
	hybrid := s.hybridSearches.Load()
	total := semantic + keyword + hybrid

	snap := StatsSnapshot{
		SearchesByMode: map[string]int64{
			string(config.SearchModeSemantic): semantic,
			string(config.SearchModeKeyword):  keyword,
			string(config.SearchModeHybrid):   hybrid,
		},
		TotalSearches:     total,
		RerankInvocations: s.rerankCalls.Load(),
		RerankFailures:    s.rerankFailures.Load(),
		CacheHits:         s.cacheHits.Load(),
	}
	if total > 0 {
		snap.AvgLatencyMs = float64(s.latencyNanos.Load()) / float64(total) / 1e6
	}
	return snap
}

// cacheTTL bounds staleness after index writes; entries also key on the
// retrieval settings, so config changes never serve stale orderings.
const cacheTTL = 60 * time.Second

// cacheMaxEntries caps memory; the cache is flushed wholesale when full.
const cacheMaxEntries = 256

type cacheEntry struct {
	results []Result
	at      time.Time
}

type queryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newQueryCache() *queryCache {
	return &queryCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(query string, cfg config.RetrievalSection) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%v\x00%v\x00%v",
		cfg.SearchMode, query, cfg.TopK, cfg.SimilarityThreshold, cfg.EnableRerank, cfg.HybridAlpha)
}

func (c *queryCache) get(query string, cfg config.RetrievalSection) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(query, cfg)]
	if !ok || time.Since(entry.at) > cacheTTL {
		return nil, false
	}
	return entry.results, true
}

func (c *queryCache) put(query string, cfg config.RetrievalSection, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= cacheMaxEntries {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[cacheKey(query, cfg)] = cacheEntry{results: results, at: time.Now()}
}
