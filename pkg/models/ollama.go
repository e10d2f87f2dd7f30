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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaAPI talks to a local Ollama daemon. Ollama serves locally-run
// models, so there is no API key; availability is checked against /api/tags.
type ollamaAPI struct {
	baseURL string
	httpc   *httpclient.Client
}

func newOllamaAPI(cfg config.ProviderSection) *ollamaAPI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaBaseURL
	}
	return &ollamaAPI{
		baseURL: strings.TrimSuffix(base, "/"),
		httpc: httpclient.New(
			httpclient.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

func (a *ollamaAPI) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncateText(string(data), 500))
	}
	return json.Unmarshal(data, out)
}

// ping verifies the daemon answers and, when model is set, that the model
// is present in the local library.
func (a *ollamaAPI) ping(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ollama daemon unreachable at %s: %w", a.baseURL, err)
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to parse ollama tags: %w", err)
	}

	if model == "" {
		return nil
	}
	for _, m := range tags.Models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not pulled on the ollama daemon", model)
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder embeds text through a local Ollama daemon.
type OllamaEmbedder struct {
	lifecycle
	api       *ollamaAPI
	batchSize int
	maxLength int
	dimension int
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder against the local daemon.
func NewOllamaEmbedder(cfg config.ProviderSection) (*OllamaEmbedder, error) {
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	cfg.Model = model
	e := &OllamaEmbedder{
		api:       newOllamaAPI(cfg),
		batchSize: cfg.BatchSize,
		maxLength: cfg.MaxLength,
		dimension: cfg.Dimension,
	}
	e.lifecycle.init("ollama", model, cfg)
	return e, nil
}

func (e *OllamaEmbedder) Initialize(ctx context.Context) error {
	return e.initialize(ctx, func(ctx context.Context) error {
		if err := e.api.ping(ctx, e.model); err != nil {
			return err
		}
		vecs, err := e.embedBatch(ctx, []string{"warmup"})
		if err != nil {
			return err
		}
		if e.dimension == 0 && len(vecs) > 0 {
			e.dimension = len(vecs[0])
		}
		return nil
	})
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.State() != StateLoaded {
		return nil, NewModelInitError("ollama", e.model, fmt.Errorf("embedder not initialized"))
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[start:end]
		var vecs [][]float32
		err := e.track(len(batch), func() error {
			var inner error
			vecs, inner = e.embedBatch(ctx, batch)
			return inner
		})
		if err != nil {
			return nil, &EmbeddingError{Provider: "ollama", Model: e.model, Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = truncateText(t, e.maxLength)
	}

	var resp ollamaEmbedResponse
	if err := e.api.post(ctx, "/api/embed", ollamaEmbedRequest{Model: e.model, Input: input}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	return e.api.ping(ctx, e.model)
}

func (e *OllamaEmbedder) Cleanup() error {
	e.setState(StateUnloaded)
	return nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// OllamaGenerator generates text through a local Ollama daemon.
type OllamaGenerator struct {
	lifecycle
	api         *ollamaAPI
	temperature float64
	maxTokens   int
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator against the local daemon.
func NewOllamaGenerator(cfg config.ProviderSection) (*OllamaGenerator, error) {
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	cfg.Model = model
	g := &OllamaGenerator{
		api:         newOllamaAPI(cfg),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	g.lifecycle.init("ollama", model, cfg)
	return g, nil
}

func (g *OllamaGenerator) Initialize(ctx context.Context) error {
	return g.initialize(ctx, func(ctx context.Context) error {
		return g.api.ping(ctx, g.model)
	})
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if g.State() != StateLoaded {
		return "", &GenerationError{Provider: "ollama", Model: g.model, Err: fmt.Errorf("generator not initialized")}
	}

	temperature := g.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	var answer string
	err := g.track(len(prompt)/4, func() error {
		release, err := g.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		var resp ollamaGenerateResponse
		if err := g.api.post(ctx, "/api/generate", ollamaGenerateRequest{
			Model:  g.model,
			Prompt: prompt,
			System: opts.SystemPrompt,
			Stream: false,
			Options: map[string]any{
				"temperature": temperature,
				"num_predict": maxTokens,
			},
		}, &resp); err != nil {
			return err
		}
		answer = resp.Response
		return nil
	})
	if err != nil {
		return "", &GenerationError{Provider: "ollama", Model: g.model, Err: err}
	}
	return answer, nil
}

func (g *OllamaGenerator) HealthCheck(ctx context.Context) error {
	return g.api.ping(ctx, g.model)
}

func (g *OllamaGenerator) Cleanup() error {
	g.setState(StateUnloaded)
	return nil
}
