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

// Package qa orchestrates question answering: retrieval, context assembly,
// generation, confidence scoring, and history persistence.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

const systemPrompt = `You are a knowledge base assistant. Answer the question using only the provided sources. If the sources do not contain the answer, say that the information is not available. Cite facts from the sources rather than general knowledge.`

// degradedAnswer is returned verbatim when generation fails or times out.
const degradedAnswer = "I cannot answer this question due to a temporary issue. Please try again later."

// sourcePreviewLength bounds the content preview persisted with each turn.
const sourcePreviewLength = 200

// Confidence weights: mean similarity of the top sources, source count,
// answer length.
const (
	confidenceSimilarityWeight = 0.6
	confidenceSourceWeight     = 0.25
	confidenceLengthWeight     = 0.15
)

// Retriever is the slice of the retrieval engine the orchestrator needs.
type Retriever interface {
	SearchWithConfig(ctx context.Context, query string, cfg config.RetrievalSection) ([]retrieval.Result, error)
}

// GeneratorSource yields the currently active generation model.
type GeneratorSource interface {
	Generator() models.Generator
}

// Request is one question.
type Request struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// TopK overrides the configured retrieval top_k when positive.
	TopK int `json:"top_k,omitempty"`
}

// Response is one answered question.
type Response struct {
	Question         string             `json:"question"`
	Answer           string             `json:"answer"`
	Sources          []retrieval.Result `json:"sources"`
	ConfidenceScore  float64            `json:"confidence_score"`
	SessionID        string             `json:"session_id"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// ValidationError rejects a malformed request.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Orchestrator answers questions against the indexed knowledge base.
type Orchestrator struct {
	retriever Retriever
	models    GeneratorSource
	store     *store.Store
	configs   *config.Manager
	tokens    *TokenCounter
	logger    *slog.Logger
}

// NewOrchestrator assembles the QA orchestrator.
func NewOrchestrator(retriever Retriever, source GeneratorSource, st *store.Store, configs *config.Manager) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		models:    source,
		store:     st,
		configs:   configs,
		tokens:    NewTokenCounter(),
		logger:    slog.Default().With("component", "qa"),
	}
}

// Ask answers one question. A missing session ID creates a session; the
// response always carries the session the turn was recorded under.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, &ValidationError{Field: "question", Err: fmt.Errorf("must not be empty")}
	}

	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := o.store.CreateSession(ctx, req.UserID, sessionTitle(question))
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}

	cfg := o.configs.Get()
	retrievalCfg := cfg.Retrieval
	if req.TopK > 0 {
		retrievalCfg.TopK = req.TopK
	}

	sources, err := o.retriever.SearchWithConfig(ctx, question, retrievalCfg)
	if err != nil {
		return nil, err
	}

	answer, degraded := o.generate(ctx, question, sources, cfg)

	confidence := 0.0
	if !degraded {
		confidence = confidenceScore(sources, answer)
	}

	elapsed := time.Since(start).Milliseconds()
	turn := &store.Turn{
		SessionID:        sessionID,
		Question:         question,
		Answer:           answer,
		Sources:          turnSources(sources),
		Confidence:       confidence,
		ProcessingTimeMs: elapsed,
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		return nil, err
	}

	return &Response{
		Question:         question,
		Answer:           answer,
		Sources:          sources,
		ConfidenceScore:  confidence,
		SessionID:        sessionID,
		ProcessingTimeMs: elapsed,
	}, nil
}

// generate calls the active LLM under the configured deadline. Any failure
// degrades to the deterministic fallback answer instead of failing the
// request.
func (o *Orchestrator) generate(ctx context.Context, question string, sources []retrieval.Result, cfg *config.Config) (answer string, degraded bool) {
	generator := o.models.Generator()
	if generator == nil {
		o.logger.Warn("no generator available, returning degraded answer")
		return degradedAnswer, true
	}

	prompt := buildPrompt(question, sources, cfg.Retrieval.MaxContextLength)
	o.logger.Debug("generating answer",
		"session_prompt_tokens", o.tokens.Count(cfg.LLM.Model, prompt),
		"sources", len(sources))

	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := generator.Generate(genCtx, prompt, models.GenerateOptions{
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		o.logger.Warn("generation failed, returning degraded answer", "error", err)
		return degradedAnswer, true
	}
	return answer, false
}

// buildPrompt assembles the user message: the question followed by the
// retrieved sources, each tagged so the model can cite them.
func buildPrompt(question string, sources []retrieval.Result, maxContextLength int) string {
	context := assembleContext(sources, maxContextLength)
	if context == "" {
		return fmt.Sprintf("Question: %s\n\nNo sources were found for this question.", question)
	}
	return fmt.Sprintf("Question: %s\n\nSources:\n\n%s", question, context)
}

// assembleContext concatenates source contents in retrieved order, each
// prefixed with its tag. Truncation to maxLength drops trailing sources
// whole; only when the first source alone overflows is it cut mid-text.
func assembleContext(sources []retrieval.Result, maxLength int) string {
	var b strings.Builder
	for i, src := range sources {
		block := fmt.Sprintf("[Source %d: %s]\n%s", i+1, src.DocumentName, src.Content)
		if b.Len() > 0 {
			block = "\n\n" + block
		}
		if maxLength > 0 && b.Len()+len(block) > maxLength {
			if b.Len() == 0 {
				runes := []rune(block)
				if len(runes) > maxLength {
					runes = runes[:maxLength]
				}
				b.WriteString(string(runes))
			}
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

// confidenceScore blends the mean similarity of the top three sources, a
// source-count factor, and an answer-length factor, clamped to [0,1].
func confidenceScore(sources []retrieval.Result, answer string) float64 {
	if len(sources) == 0 {
		return 0
	}

	top := sources
	if len(top) > 3 {
		top = top[:3]
	}
	meanScore := 0.0
	for _, src := range top {
		meanScore += src.Score
	}
	meanScore /= float64(len(top))

	sourceFactor := float64(len(sources)) / 5
	if sourceFactor > 1 {
		sourceFactor = 1
	}
	lengthFactor := float64(utf8.RuneCountInString(answer)) / 200
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	confidence := confidenceSimilarityWeight*meanScore +
		confidenceSourceWeight*sourceFactor +
		confidenceLengthWeight*lengthFactor
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// turnSources converts retrieval results into the persisted source form
// with bounded previews.
func turnSources(sources []retrieval.Result) []store.TurnSource {
	out := make([]store.TurnSource, len(sources))
	for i, src := range sources {
		preview := src.Content
		if runes := []rune(preview); len(runes) > sourcePreviewLength {
			preview = string(runes[:sourcePreviewLength])
		}
		out[i] = store.TurnSource{
			ChunkID:      src.ID,
			DocumentID:   src.DocumentID,
			DocumentName: src.DocumentName,
			ChunkIndex:   src.ChunkIndex,
			Score:        src.Score,
			RerankScore:  src.RerankScore,
			Preview:      preview,
		}
	}
	return out
}

// sessionTitle derives a session title from the first question.
func sessionTitle(question string) string {
	runes := []rune(question)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return question
}
