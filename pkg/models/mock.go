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
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/lorehq/lore/pkg/config"
)

// Mock providers back the default configuration so the service runs end to
// end with no credentials and no network. Embeddings are deterministic
// hashes, reranking is token overlap, and generation echoes a summary of
// the prompt. Useful for tests and local development, useless for answers.

const mockDimension = 128

// MockEmbedder produces deterministic unit vectors from text content.
type MockEmbedder struct {
	lifecycle
	dimension int
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder.
func NewMockEmbedder(cfg config.ProviderSection) *MockEmbedder {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = mockDimension
	}
	model := cfg.Model
	if model == "" {
		model = "mock-embed"
	}
	e := &MockEmbedder{dimension: dim}
	e.lifecycle.init("mock", model, cfg)
	return e
}

func (m *MockEmbedder) Initialize(ctx context.Context) error {
	return m.initialize(ctx, func(context.Context) error { return nil })
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.State() != StateLoaded {
		return nil, NewModelInitError("mock", m.model, fmt.Errorf("embedder not initialized"))
	}

	out := make([][]float32, len(texts))
	err := m.track(len(texts), func() error {
		for i, text := range texts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			out[i] = hashVector(text, m.dimension)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

func (m *MockEmbedder) HealthCheck(ctx context.Context) error {
	_, err := m.EmbedBatch(ctx, []string{"ping"})
	return err
}

func (m *MockEmbedder) Cleanup() error {
	m.setState(StateUnloaded)
	return nil
}

// hashVector derives an L2-normalized vector from token hashes. Shared
// tokens produce correlated vectors, which gives retrieval tests a signal
// to assert on.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		vec[int(sum)%dim] += 1
		vec[int(sum>>16)%dim] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// MockReranker scores documents by token overlap with the query.
type MockReranker struct {
	lifecycle
}

var _ Reranker = (*MockReranker)(nil)

// NewMockReranker creates a mock reranker.
func NewMockReranker(cfg config.ProviderSection) *MockReranker {
	model := cfg.Model
	if model == "" {
		model = "mock-rerank"
	}
	r := &MockReranker{}
	r.lifecycle.init("mock", model, cfg)
	return r
}

func (m *MockReranker) Initialize(ctx context.Context) error {
	return m.initialize(ctx, func(context.Context) error { return nil })
}

func (m *MockReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if m.State() != StateLoaded {
		return nil, &RerankerError{Provider: "mock", Model: m.model, Err: fmt.Errorf("reranker not initialized")}
	}

	results := make([]RerankResult, len(documents))
	err := m.track(len(documents), func() error {
		queryTokens := tokenSet(query)
		for i, doc := range documents {
			results[i] = RerankResult{Index: i, Score: overlapScore(queryTokens, doc)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (m *MockReranker) HealthCheck(ctx context.Context) error {
	_, err := m.Rerank(ctx, "ping", []string{"pong"})
	return err
}

func (m *MockReranker) Cleanup() error {
	m.setState(StateUnloaded)
	return nil
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}

func overlapScore(queryTokens map[string]struct{}, doc string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	var hits int
	for _, tok := range strings.Fields(strings.ToLower(doc)) {
		if _, ok := queryTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// MockGenerator answers with a canned summary of the prompt.
type MockGenerator struct {
	lifecycle
}

var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a mock generator.
func NewMockGenerator(cfg config.ProviderSection) *MockGenerator {
	model := cfg.Model
	if model == "" {
		model = "mock-generate"
	}
	g := &MockGenerator{}
	g.lifecycle.init("mock", model, cfg)
	return g
}

func (m *MockGenerator) Initialize(ctx context.Context) error {
	return m.initialize(ctx, func(context.Context) error { return nil })
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if m.State() != StateLoaded {
		return "", &GenerationError{Provider: "mock", Model: m.model, Err: fmt.Errorf("generator not initialized")}
	}

	var answer string
	err := m.track(len(prompt)/4, func() error {
		sources := strings.Count(prompt, "[Source ")
		if sources > 0 {
			answer = fmt.Sprintf("Based on the %d provided source(s), here is a mock answer.", sources)
		} else {
			answer = "This is a mock answer produced without any sources."
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (m *MockGenerator) HealthCheck(ctx context.Context) error {
	_, err := m.Generate(ctx, "ping", GenerateOptions{})
	return err
}

func (m *MockGenerator) Cleanup() error {
	m.setState(StateUnloaded)
	return nil
}
