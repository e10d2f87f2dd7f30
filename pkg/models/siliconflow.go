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
	"sort"

	"github.com/lorehq/lore/pkg/config"
)

const defaultSiliconFlowBaseURL = "https://api.siliconflow.cn/v1"

// SiliconFlow exposes an OpenAI-compatible API for embeddings and chat,
// plus a BGE-style /rerank endpoint that OpenAI lacks.

// NewSiliconFlowEmbedder creates an embedder against api.siliconflow.cn.
func NewSiliconFlowEmbedder(cfg config.ProviderSection) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-m3"
	}
	return newOpenAICompatEmbedder("siliconflow", defaultSiliconFlowBaseURL, cfg)
}

// NewSiliconFlowGenerator creates a generator against api.siliconflow.cn.
func NewSiliconFlowGenerator(cfg config.ProviderSection) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		cfg.Model = "Qwen/Qwen2.5-7B-Instruct"
	}
	return newOpenAICompatGenerator("siliconflow", defaultSiliconFlowBaseURL, cfg)
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// SiliconFlowReranker scores documents through the /rerank endpoint.
type SiliconFlowReranker struct {
	lifecycle
	api       *openaiAPI
	maxLength int
}

var _ Reranker = (*SiliconFlowReranker)(nil)

// NewSiliconFlowReranker creates a reranker against api.siliconflow.cn.
func NewSiliconFlowReranker(cfg config.ProviderSection) (*SiliconFlowReranker, error) {
	if cfg.APIKey == "" {
		return nil, NewModelInitError("siliconflow", cfg.Model, fmt.Errorf("api_key is required"))
	}
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-reranker-v2-m3"
	}
	r := &SiliconFlowReranker{
		api:       newOpenAIAPI(cfg, defaultSiliconFlowBaseURL),
		maxLength: cfg.MaxLength,
	}
	r.lifecycle.init("siliconflow", cfg.Model, cfg)
	return r, nil
}

func (r *SiliconFlowReranker) Initialize(ctx context.Context) error {
	return r.initialize(ctx, func(context.Context) error { return nil })
}

func (r *SiliconFlowReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if r.State() != StateLoaded {
		return nil, &RerankerError{Provider: "siliconflow", Model: r.model, Err: fmt.Errorf("reranker not initialized")}
	}
	if len(documents) == 0 {
		return nil, nil
	}

	docs := make([]string, len(documents))
	for i, d := range documents {
		docs[i] = truncateText(d, r.maxLength)
	}

	var results []RerankResult
	err := r.track(len(documents), func() error {
		release, err := r.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		var resp rerankResponse
		if err := r.api.post(ctx, "/rerank", rerankRequest{
			Model:     r.model,
			Query:     truncateText(query, r.maxLength),
			Documents: docs,
		}, &resp); err != nil {
			return err
		}

		results = make([]RerankResult, 0, len(resp.Results))
		for _, item := range resp.Results {
			if item.Index < 0 || item.Index >= len(documents) {
				return fmt.Errorf("rerank index %d out of range", item.Index)
			}
			results = append(results, RerankResult{Index: item.Index, Score: item.RelevanceScore})
		}
		return nil
	})
	if err != nil {
		return nil, &RerankerError{Provider: "siliconflow", Model: r.model, Err: err}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *SiliconFlowReranker) HealthCheck(ctx context.Context) error {
	_, err := r.Rerank(ctx, "ping", []string{"pong"})
	return err
}

func (r *SiliconFlowReranker) Cleanup() error {
	r.setState(StateUnloaded)
	return nil
}
