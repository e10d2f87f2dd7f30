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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiAPI is the OpenAI-compatible REST surface shared by the openai and
// siliconflow providers.
type openaiAPI struct {
	baseURL string
	apiKey  string
	httpc   *httpclient.Client
}

func newOpenAIAPI(cfg config.ProviderSection, defaultBase string) *openaiAPI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	return &openaiAPI{
		baseURL: strings.TrimSuffix(base, "/"),
		apiKey:  cfg.APIKey,
		httpc: httpclient.New(
			httpclient.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

// post sends a JSON request and decodes the JSON response into out.
func (a *openaiAPI) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

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
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateText(string(data), 500))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	lifecycle
	api       *openaiAPI
	batchSize int
	maxLength int
	dimension int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder against api.openai.com or the
// configured base URL.
func NewOpenAIEmbedder(cfg config.ProviderSection) (*OpenAIEmbedder, error) {
	return newOpenAICompatEmbedder("openai", defaultOpenAIBaseURL, cfg)
}

func newOpenAICompatEmbedder(provider, defaultBase string, cfg config.ProviderSection) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, NewModelInitError(provider, cfg.Model, fmt.Errorf("api_key is required"))
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	cfg.Model = model
	e := &OpenAIEmbedder{
		api:       newOpenAIAPI(cfg, defaultBase),
		batchSize: cfg.BatchSize,
		maxLength: cfg.MaxLength,
		dimension: cfg.Dimension,
	}
	e.lifecycle.init(provider, model, cfg)
	return e, nil
}

func (e *OpenAIEmbedder) Initialize(ctx context.Context) error {
	return e.initialize(ctx, func(ctx context.Context) error {
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

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.State() != StateLoaded {
		return nil, NewModelInitError(e.provider, e.model, fmt.Errorf("embedder not initialized"))
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
			return nil, &EmbeddingError{Provider: e.provider, Model: e.model, Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = truncateText(t, e.maxLength)
	}

	var resp embeddingResponse
	if err := e.api.post(ctx, "/embeddings", embeddingRequest{Model: e.model, Input: input}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may return entries out of order; index is authoritative.
	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vecs[item.Index] = item.Embedding
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) HealthCheck(ctx context.Context) error {
	_, err := e.embedBatch(ctx, []string{"ping"})
	return err
}

func (e *OpenAIEmbedder) Cleanup() error {
	e.setState(StateUnloaded)
	return nil
}

// OpenAIGenerator generates text through an OpenAI-compatible chat API.
type OpenAIGenerator struct {
	lifecycle
	api         *openaiAPI
	temperature float64
	maxTokens   int
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator against api.openai.com or the
// configured base URL.
func NewOpenAIGenerator(cfg config.ProviderSection) (*OpenAIGenerator, error) {
	return newOpenAICompatGenerator("openai", defaultOpenAIBaseURL, cfg)
}

func newOpenAICompatGenerator(provider, defaultBase string, cfg config.ProviderSection) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, NewModelInitError(provider, cfg.Model, fmt.Errorf("api_key is required"))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg.Model = model
	g := &OpenAIGenerator{
		api:         newOpenAIAPI(cfg, defaultBase),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	g.lifecycle.init(provider, model, cfg)
	return g, nil
}

func (g *OpenAIGenerator) Initialize(ctx context.Context) error {
	// Chat APIs have no cheap warm-up call; constructing the client is
	// enough. The first HealthCheck exercises the endpoint.
	return g.initialize(ctx, func(context.Context) error { return nil })
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if g.State() != StateLoaded {
		return "", &GenerationError{Provider: g.provider, Model: g.model, Err: fmt.Errorf("generator not initialized")}
	}

	temperature := g.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	messages := []chatMessage{}
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	var answer string
	err := g.track(len(prompt)/4, func() error {
		release, err := g.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		var resp chatResponse
		if err := g.api.post(ctx, "/chat/completions", chatRequest{
			Model:       g.model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, &resp); err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty response from chat API")
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", &GenerationError{Provider: g.provider, Model: g.model, Err: err}
	}
	return answer, nil
}

func (g *OpenAIGenerator) HealthCheck(ctx context.Context) error {
	_, err := g.Generate(ctx, "Reply with the single word: pong", GenerateOptions{MaxTokens: 8})
	return err
}

func (g *OpenAIGenerator) Cleanup() error {
	g.setState(StateUnloaded)
	return nil
}
