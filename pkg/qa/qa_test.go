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

package qa

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/vector"
)

type testModels struct {
	embedder  models.Embedder
	generator models.Generator
}

func (m *testModels) Embedder() models.Embedder   { return m.embedder }
func (m *testModels) Reranker() models.Reranker   { return nil }
func (m *testModels) Generator() models.Generator { return m.generator }

func newTestOrchestrator(t *testing.T, contents ...string) (*Orchestrator, *store.Store, *testModels) {
	t.Helper()
	ctx := context.Background()

	embedder := models.NewMockEmbedder(config.ProviderSection{})
	require.NoError(t, embedder.Initialize(ctx))
	generator := models.NewMockGenerator(config.ProviderSection{})
	require.NoError(t, generator.Initialize(ctx))
	source := &testModels{embedder: embedder, generator: generator}

	provider, err := vector.NewChromemProvider(vector.ChromemConfig{Collection: "chunks"})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(ctx))
	t.Cleanup(func() { provider.Close() })

	for i, content := range contents {
		vec, err := embedder.Embed(ctx, content)
		require.NoError(t, err)
		require.NoError(t, provider.AddVectors(ctx, []vector.Record{{
			ID:           fmt.Sprintf("chunk-%d", i),
			Vector:       vec,
			Content:      content,
			DocumentID:   "doc-1",
			DocumentName: "knowledge.txt",
			ChunkIndex:   i,
		}}))
	}

	dbCfg := config.DatabaseSection{URL: "sqlite:///" + filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	st, err := store.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg, err := config.Parse([]byte(""))
	require.NoError(t, err)
	configs := config.NewManagerFromConfig(cfg)

	engine := retrieval.NewEngine(provider, source, configs)
	return NewOrchestrator(engine, source, st, configs), st, source
}

func TestAsk_CreatesSessionAndPersistsTurn(t *testing.T) {
	o, st, _ := newTestOrchestrator(t,
		"Python was created by Guido van Rossum in 1991.",
		"Machine learning is a subset of AI.",
	)
	ctx := context.Background()

	resp, err := o.Ask(ctx, Request{Question: "Who created Python?"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.Answer)
	assert.NotEqual(t, degradedAnswer, resp.Answer)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "knowledge.txt", resp.Sources[0].DocumentName)
	assert.GreaterOrEqual(t, resp.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, resp.ConfidenceScore, 1.0)

	sess, err := st.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.QACount)
	assert.Equal(t, "Who created Python?", sess.Title)

	turns, err := st.History(ctx, resp.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, resp.Answer, turns[0].Answer)
	require.NotEmpty(t, turns[0].Sources)
	assert.Equal(t, "doc-1", turns[0].Sources[0].DocumentID)
	assert.Equal(t, resp.Sources[0].ID, turns[0].Sources[0].ChunkID)
	assert.GreaterOrEqual(t, turns[0].ProcessingTimeMs, int64(0))
}

func TestAsk_RecordsSessionOwner(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, "Ownership flows from the request to the created session.")
	ctx := context.Background()

	resp, err := o.Ask(ctx, Request{Question: "Who owns this session?", UserID: "user-42"})
	require.NoError(t, err)

	sess, err := st.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-42", sess.UserID)
}

func TestAsk_SessionContinuity(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, "The system stores documents and answers questions.")
	ctx := context.Background()

	first, err := o.Ask(ctx, Request{Question: "What does the system do?"})
	require.NoError(t, err)
	second, err := o.Ask(ctx, Request{Question: "How does it answer?", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := st.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.QACount)

	turns, err := st.History(ctx, first.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "What does the system do?", turns[0].Question)
	assert.Equal(t, "How does it answer?", turns[1].Question)
}

func TestAsk_UnknownSessionSurfacesError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, "indexed content")

	_, err := o.Ask(context.Background(), Request{Question: "anything", SessionID: "no-such-session"})
	var notFound *store.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Ask(context.Background(), Request{Question: "   "})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "question", validation.Field)
}

type brokenGenerator struct {
	models.Generator
}

func (g *brokenGenerator) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	return "", &models.GenerationError{Provider: "test", Model: "broken", Err: fmt.Errorf("upstream unavailable")}
}

func TestAsk_GenerationFailureDegrades(t *testing.T) {
	o, st, source := newTestOrchestrator(t, "Facts the model will never get to use.")
	source.generator = &brokenGenerator{}
	ctx := context.Background()

	resp, err := o.Ask(ctx, Request{Question: "What are the facts?"})
	require.NoError(t, err)

	assert.Equal(t, degradedAnswer, resp.Answer)
	assert.Zero(t, resp.ConfidenceScore)
	assert.NotEmpty(t, resp.Sources, "degraded answers still attach retrieved sources")

	turns, err := st.History(ctx, resp.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, degradedAnswer, turns[0].Answer)
}

func TestAsk_TopKOverride(t *testing.T) {
	o, _, _ := newTestOrchestrator(t,
		"first chunk of content",
		"second chunk of content",
		"third chunk of content",
	)

	resp, err := o.Ask(context.Background(), Request{Question: "content", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
}

func TestAssembleContext_TagsAndOrder(t *testing.T) {
	sources := []retrieval.Result{
		{SearchResult: vector.SearchResult{Content: "alpha facts", DocumentName: "a.txt"}},
		{SearchResult: vector.SearchResult{Content: "beta facts", DocumentName: "b.txt"}},
	}
	out := assembleContext(sources, 0)

	assert.Contains(t, out, "[Source 1: a.txt]\nalpha facts")
	assert.Contains(t, out, "[Source 2: b.txt]\nbeta facts")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "beta"))
}

func TestAssembleContext_DropsTrailingSourcesWhole(t *testing.T) {
	sources := []retrieval.Result{
		{SearchResult: vector.SearchResult{Content: strings.Repeat("a", 80), DocumentName: "a.txt"}},
		{SearchResult: vector.SearchResult{Content: strings.Repeat("b", 80), DocumentName: "b.txt"}},
	}
	out := assembleContext(sources, 120)

	assert.Contains(t, out, "[Source 1: a.txt]")
	assert.NotContains(t, out, "[Source 2")
	assert.NotContains(t, out, "b")
}

func TestAssembleContext_OversizeFirstSourceIsCut(t *testing.T) {
	sources := []retrieval.Result{
		{SearchResult: vector.SearchResult{Content: strings.Repeat("x", 500), DocumentName: "big.txt"}},
	}
	out := assembleContext(sources, 100)
	assert.Len(t, []rune(out), 100)
	assert.True(t, strings.HasPrefix(out, "[Source 1: big.txt]"))
}

func TestConfidenceScore(t *testing.T) {
	mkSources := func(scores ...float64) []retrieval.Result {
		out := make([]retrieval.Result, len(scores))
		for i, s := range scores {
			out[i] = retrieval.Result{SearchResult: vector.SearchResult{Score: s}}
		}
		return out
	}

	assert.Zero(t, confidenceScore(nil, "any answer"))

	// Five perfect sources and a long answer saturate every factor.
	long := strings.Repeat("w", 400)
	assert.InDelta(t, 1.0, confidenceScore(mkSources(1, 1, 1, 1, 1), long), 1e-9)

	// One weak source and a short answer stay low.
	low := confidenceScore(mkSources(0.1), "ok")
	assert.Greater(t, low, 0.0)
	assert.Less(t, low, 0.2)

	// Only the top three similarities count.
	withTail := confidenceScore(mkSources(0.9, 0.9, 0.9, 0.0, 0.0), long)
	withoutTail := confidenceScore(mkSources(0.9, 0.9, 0.9), long)
	assert.Greater(t, withTail, withoutTail, "extra sources raise the count factor, not the mean")
}

func TestBuildPrompt_NoSources(t *testing.T) {
	out := buildPrompt("What is this?", nil, 1000)
	assert.Contains(t, out, "What is this?")
	assert.Contains(t, out, "No sources were found")
}

func TestSessionTitle(t *testing.T) {
	assert.Equal(t, "short question", sessionTitle("short question"))
	long := strings.Repeat("q", 60)
	title := sessionTitle(long)
	assert.Len(t, []rune(title), 53)
	assert.True(t, strings.HasSuffix(title, "..."))
}

func TestConfidenceScore_CountsRunesNotBytes(t *testing.T) {
	sources := []retrieval.Result{{SearchResult: vector.SearchResult{Score: 0.8}}}

	// A 66-rune CJK answer is ~200 bytes; the length factor must not
	// saturate until the rune count reaches the threshold.
	short := confidenceScore(sources, strings.Repeat("答", 66))
	long := confidenceScore(sources, strings.Repeat("答", 200))
	assert.Less(t, short, long)
}
