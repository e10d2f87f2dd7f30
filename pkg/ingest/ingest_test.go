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

package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/vector"
)

func TestDecodeText_UTF8Passthrough(t *testing.T) {
	text, err := decodeText([]byte("hello 世界"))
	require.NoError(t, err)
	assert.Equal(t, "hello 世界", text)
}

func TestDecodeText_StripsBOM(t *testing.T) {
	text, err := decodeText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("content")...))
	require.NoError(t, err)
	assert.Equal(t, "content", text)
}

func TestDecodeText_GBKFallback(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("知识库问答系统"))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(encoded), "知识"))

	text, err := decodeText(encoded)
	require.NoError(t, err)
	assert.Equal(t, "知识库问答系统", text)
}

func TestStripMarkdown(t *testing.T) {
	input := "# Title\n\nSome **bold** and [a link](https://example.com).\n\n" +
		"```go\nfmt.Println(\"dropped\")\n```\n\n- item one\n- item two\n\n> quoted line\n"
	out := StripMarkdown(input)

	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "Some bold and a link.")
	assert.Contains(t, out, "item one")
	assert.Contains(t, out, "quoted line")
	assert.NotContains(t, out, "```")
	assert.NotContains(t, out, "Println")
	assert.NotContains(t, out, "https://example.com")
	assert.NotContains(t, out, "**")
}

func TestPreprocess_Normalization(t *testing.T) {
	// Fullwidth letters fold to ASCII, zero-width characters vanish, runs
	// of whitespace collapse, paragraph breaks survive.
	input := "Ｈｅｌｌｏ\u200b   world\n\n\n\nnext    paragraph"
	out := Preprocess(input, PreprocessOptions{})
	assert.Equal(t, "Hello world\n\nnext paragraph", out)
}

func TestPreprocess_OptionalStages(t *testing.T) {
	input := "Contact me at a@b.com or https://example.com/page or +1 (555) 123-4567 please"
	out := Preprocess(input, PreprocessOptions{RemoveURLs: true, RemoveEmails: true, RemovePhones: true})
	assert.NotContains(t, out, "a@b.com")
	assert.NotContains(t, out, "example.com")
	assert.NotContains(t, out, "555")
	assert.Contains(t, out, "Contact me")
	assert.Contains(t, out, "please")
}

func TestPreprocess_InvalidCustomPatternIsSkipped(t *testing.T) {
	out := Preprocess("the text survives", PreprocessOptions{CustomPatterns: []string{"[invalid"}})
	assert.Equal(t, "the text survives", out)
}

func TestPreprocess_StopwordsAndLowercase(t *testing.T) {
	out := Preprocess("The Quick FOX", PreprocessOptions{Stopwords: []string{"the"}, Lowercase: true})
	assert.Equal(t, "quick fox", out)
}

func TestPreprocess_BundledStopwordLists(t *testing.T) {
	opts := OptionsFromConfig(config.PreprocessSection{RemoveStopwords: true})
	out := Preprocess("the retrieval engine ranks 的 results", opts)

	assert.NotContains(t, out, "the ")
	assert.NotContains(t, out, "的")
	assert.Contains(t, out, "retrieval engine ranks")
}

func TestPreprocess_FilterSpecial(t *testing.T) {
	out := Preprocess("keep words, 中文，and digits 42 © but ™ not symbols", PreprocessOptions{FilterSpecial: true})

	assert.NotContains(t, out, "©")
	assert.NotContains(t, out, "™")
	assert.Contains(t, out, "中文，and")
	assert.Contains(t, out, "42")
}

func TestFixedSplitter_PrefersSentenceBoundaries(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("This is a complete sentence about the system. ")
	}
	chunks := (&FixedSplitter{ChunkSize: 200, Overlap: 40}).Split(b.String())

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk.Content, "."), "chunk should end at a sentence: %q", chunk.Content)
	}
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, -1, chunk.ParentIndex)
	}
}

func TestFixedSplitter_OverlapCarriesContext(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50)
	chunks := (&FixedSplitter{ChunkSize: 100, Overlap: 20}).Split(text)
	require.Greater(t, len(chunks), 1)

	first := chunks[0].Content
	second := chunks[1].Content
	assert.Equal(t, first[len(first)-20:], second[:20])
}

func TestStructureSplitter_KeepsParagraphsWhole(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph is a bit longer than the others."
	chunks := (&StructureSplitter{ChunkSize: 30}).Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "First paragraph here.", chunks[0].Content)
	for _, chunk := range chunks {
		assert.NotContains(t, chunk.Content, "\n\n")
	}
}

func TestStructureSplitter_GroupsSmallParagraphs(t *testing.T) {
	text := "One.\n\nTwo.\n\nThree."
	chunks := (&StructureSplitter{ChunkSize: 500}).Split(text)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "One.")
	assert.Contains(t, chunks[0].Content, "Three.")
}

func TestHierarchicalSplitter_ChapterTitles(t *testing.T) {
	text := "前言部分的内容。\n\n第一章 系统概述\n这里介绍系统的总体结构。\n\n第二章 详细设计\n这里描述每个组件。"
	chunks := (&HierarchicalSplitter{ChunkSize: 500, Overlap: 50}).Split(text)

	require.Len(t, chunks, 3)
	assert.Empty(t, chunks[0].TitlePath)
	assert.Equal(t, []string{"第一章 系统概述"}, chunks[1].TitlePath)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "第一章 系统概述\n"))
	assert.Equal(t, []string{"第二章 详细设计"}, chunks[2].TitlePath)
}

func TestHierarchicalSplitter_MarkdownHeadings(t *testing.T) {
	text := "# Overview\nThe system answers questions.\n\n# Design\nIt has several components."
	chunks := (&HierarchicalSplitter{ChunkSize: 500, Overlap: 50}).Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"Overview"}, chunks[0].TitlePath)
	assert.Equal(t, []string{"Design"}, chunks[1].TitlePath)
}

func TestSemanticSplitter_BreaksAtDiscourseMarkers(t *testing.T) {
	text := "The cache improves latency. It holds recent queries. " +
		"However, the cache can serve stale answers. Invalidation handles that."
	chunks := (&SemanticSplitter{ChunkSize: 500, MinChunkSize: 20}).Split(text)

	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Content, "improves latency")
	assert.True(t, strings.HasPrefix(chunks[1].Content, "However"))
}

func TestChooseSplitter_SelectionGates(t *testing.T) {
	cfg := config.EmbeddingsSection{}
	cfg.SetDefaults()

	longChapters := "第一章 概述\n" + strings.Repeat("这一章介绍系统的总体结构。", 100) +
		"\n\n第二章 设计\n" + strings.Repeat("这一章描述每个组件。", 100)
	assert.IsType(t, &HierarchicalSplitter{}, ChooseSplitter(longChapters, cfg))

	// Chaptered but short documents are not worth a title tree.
	shortChapters := "第一章 概述\n正文。\n\n第二章 设计\n正文。"
	assert.IsType(t, &FixedSplitter{}, ChooseSplitter(shortChapters, cfg))

	structured := "# Intro\nAlpha.\n\nBeta.\n\nGamma.\n\nDelta.\n\nEpsilon."
	assert.IsType(t, &StructureSplitter{}, ChooseSplitter(structured, cfg))

	// Headings without enough paragraphs fall through to fixed-size.
	assert.IsType(t, &FixedSplitter{}, ChooseSplitter("# Intro\nAlpha.\n\nBeta.", cfg))

	assert.IsType(t, &FixedSplitter{}, ChooseSplitter("plain text", cfg))

	// Semantic splitting needs both the flag and enough text to group.
	cfg.SemanticSplit = true
	assert.IsType(t, &FixedSplitter{}, ChooseSplitter("short text.", cfg))
	long := strings.Repeat("A sentence about retrieval quality. ", 40)
	assert.IsType(t, &SemanticSplitter{}, ChooseSplitter(long, cfg))
}

func TestSplitters_SetMetadata(t *testing.T) {
	fixed := (&FixedSplitter{ChunkSize: 50, Overlap: 0}).Split("One sentence. Another sentence. And one more here.")
	require.NotEmpty(t, fixed)
	assert.Equal(t, "fixed", fixed[0].Metadata.SplitterType)
	assert.Equal(t, "fixed_size", fixed[0].Metadata.SplitMethod)
	assert.Equal(t, len([]rune(fixed[0].Content)), fixed[0].Metadata.Length)

	structure := (&StructureSplitter{ChunkSize: 30}).Split("# Title\nIntro text.\n\nSecond paragraph.")
	require.NotEmpty(t, structure)
	assert.Equal(t, "structure", structure[0].Metadata.SplitterType)
	assert.Equal(t, "paragraph", structure[0].Metadata.SplitMethod)
	assert.True(t, structure[0].Metadata.HasHeader)
	assert.Equal(t, 1, structure[0].Metadata.HeaderLevel)

	hier := (&HierarchicalSplitter{ChunkSize: 500}).Split("第一章 概述\n这里是正文。")
	require.NotEmpty(t, hier)
	assert.Equal(t, "hierarchical", hier[0].Metadata.SplitterType)
	assert.Equal(t, "第一章 概述", hier[0].Metadata.SectionTitle)
	assert.Equal(t, []string{"第一章 概述"}, hier[0].Metadata.HierarchyPath)
	assert.Equal(t, 1, hier[0].Metadata.Level)

	sem := (&SemanticSplitter{ChunkSize: 500, MinChunkSize: 10}).Split("The cache holds queries. It speeds things up.")
	require.NotEmpty(t, sem)
	assert.Equal(t, "semantic", sem[0].Metadata.SplitterType)
	assert.Equal(t, 2, sem[0].Metadata.SentenceCount)

	m := fixed[0].Metadata.Map()
	assert.Equal(t, "fixed", m["splitter_type"])
	assert.Equal(t, "fixed_size", m["split_method"])
	assert.NotEmpty(t, m["length"])
}

func TestRefine_ResplitsOversizeWithParent(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Content: strings.Repeat("long sentence here. ", 30), ParentIndex: -1},
		{Index: 1, Content: "a reasonable middle chunk of ordinary size sitting here", ParentIndex: -1},
	}
	refined := Refine(chunks, 10, 100)

	require.Greater(t, len(refined), 2)
	for _, chunk := range refined[:len(refined)-1] {
		if chunk.ParentIndex != -1 {
			assert.Equal(t, 0, chunk.ParentIndex)
			assert.LessOrEqual(t, len([]rune(chunk.Content)), 150)
		}
	}
	for i, chunk := range refined {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestRefine_MergesUndersize(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Content: "tiny", ParentIndex: -1},
		{Index: 1, Content: "this chunk is comfortably above the minimum size threshold", ParentIndex: -1},
		{Index: 2, Content: "runt", ParentIndex: -1},
	}
	refined := Refine(chunks, 20, 500)

	require.Len(t, refined, 1)
	assert.Contains(t, refined[0].Content, "tiny")
	assert.Contains(t, refined[0].Content, "runt")
}

func TestRefine_MergesIntoPrecedingChunk(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Content: "a chunk comfortably above the minimum size threshold", ParentIndex: -1},
		{Index: 1, Content: "runt", ParentIndex: -1},
	}
	refined := Refine(chunks, 10, 500)

	require.Len(t, refined, 1)
	assert.True(t, strings.HasSuffix(refined[0].Content, "\nrunt"))
	assert.Equal(t, len([]rune(refined[0].Content)), refined[0].Metadata.Length)
}

func TestRefine_DropsRuntWhenMergeWouldExceedMax(t *testing.T) {
	first := strings.Repeat("a", 95)
	chunks := []Chunk{
		{Index: 0, Content: first, ParentIndex: -1},
		{Index: 1, Content: "tinytiny", ParentIndex: -1},
		{Index: 2, Content: strings.Repeat("b", 95), ParentIndex: -1},
	}
	refined := Refine(chunks, 10, 100)

	// The runt cannot merge into its predecessor without crossing the size
	// cap, so it is dropped rather than carried forward.
	require.Len(t, refined, 2)
	assert.Equal(t, first, refined[0].Content)
	assert.NotContains(t, refined[1].Content, "tiny")
	for i, chunk := range refined {
		assert.LessOrEqual(t, len([]rune(chunk.Content)), 100)
		assert.Equal(t, i, chunk.Index)
	}
}

func TestExtractorRegistry_RoutesByExtension(t *testing.T) {
	dir := t.TempDir()
	txtPath := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("plain text content"), 0o644))
	mdPath := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(mdPath, []byte("# Heading\n\nBody **text**."), 0o644))

	r := NewExtractorRegistry()
	ctx := context.Background()

	text, err := r.Extract(ctx, txtPath)
	require.NoError(t, err)
	assert.Equal(t, "plain text content", text)

	text, err = r.Extract(ctx, mdPath)
	require.NoError(t, err)
	assert.Contains(t, text, "Heading")
	assert.NotContains(t, text, "**")
}

func TestExtractorRegistry_UnsupportedFormat(t *testing.T) {
	r := NewExtractorRegistry()
	_, err := r.Extract(context.Background(), "/tmp/archive.zip")

	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, ".zip", unsupported.Extension)
	assert.Contains(t, unsupported.Supported, ".pdf")
}

func TestExtractorRegistry_RejectsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(path, []byte("   \n\t  "), 0o644))

	_, err := NewExtractorRegistry().Extract(context.Background(), path)
	var extraction *ExtractionError
	require.True(t, errors.As(err, &extraction))
}

type staticEmbedders struct {
	embedder models.Embedder
}

func (s *staticEmbedders) Embedder() models.Embedder { return s.embedder }

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, vector.Provider) {
	t.Helper()

	dbCfg := config.DatabaseSection{URL: "sqlite:///" + filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	st, err := store.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider, err := vector.NewChromemProvider(vector.ChromemConfig{Collection: "chunks"})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(context.Background()))
	t.Cleanup(func() { provider.Close() })

	embedder := models.NewMockEmbedder(config.ProviderSection{})
	require.NoError(t, embedder.Initialize(context.Background()))

	cfg, err := config.Parse([]byte(""))
	require.NoError(t, err)
	configs := config.NewManagerFromConfig(cfg)

	p := NewPipeline(st, provider, &staticEmbedders{embedder: embedder}, configs, t.TempDir())
	return p, st, provider
}

func TestPipeline_RecordsCarryEmbeddingMetadata(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	doc := &store.Document{ID: "doc-meta", OriginalName: "meta.txt"}
	chunks := []Chunk{{
		Index:   0,
		Content: "some chunk content",
		Metadata: ChunkMetadata{
			SplitterType: "fixed",
			SplitMethod:  "fixed_size",
			Length:       18,
		},
	}}
	records, err := p.embed(context.Background(), doc, chunks)
	require.NoError(t, err)
	require.Len(t, records, 1)

	meta := records[0].Metadata
	assert.Equal(t, "fixed", meta["splitter_type"])
	assert.Equal(t, "fixed_size", meta["split_method"])
	assert.Equal(t, "mock", meta["embedding_provider"])
	assert.Equal(t, "mock-embed", meta["embedding_model"])
	assert.Equal(t, strconv.Itoa(len(records[0].Vector)), meta["embedding_dimensions"])
}

func TestPipeline_UploadAndProcess(t *testing.T) {
	p, st, provider := newTestPipeline(t)
	ctx := context.Background()

	content := strings.Repeat("The knowledge base answers questions from documents. ", 30)
	doc, err := p.Upload(ctx, "handbook.txt", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, doc.Status)
	assert.Equal(t, "handbook.txt", doc.OriginalName)
	assert.Greater(t, doc.SizeBytes, int64(0))

	require.NoError(t, p.Process(ctx, doc.ID))

	indexed, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, indexed.Status)
	assert.Greater(t, indexed.ChunkCount, 0)

	info, err := provider.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, indexed.ChunkCount, info.Count)
}

func TestPipeline_UploadRejectsUnsupportedFormat(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.Upload(context.Background(), "binary.exe", strings.NewReader("x"))

	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
}

func TestPipeline_FailureMarksDocumentFailed(t *testing.T) {
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	doc, err := p.Upload(ctx, "doomed.txt", strings.NewReader("short but valid content for upload"))
	require.NoError(t, err)
	// Removing the backing file makes extraction fail.
	require.NoError(t, os.Remove(doc.FilePath))

	err = p.Process(ctx, doc.ID)
	var docErr *DocumentError
	require.True(t, errors.As(err, &docErr))
	assert.Equal(t, "prepare", docErr.Stage)

	failed, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Zero(t, failed.ChunkCount)
}

func TestPipeline_ReprocessReplacesVectors(t *testing.T) {
	p, st, provider := newTestPipeline(t)
	ctx := context.Background()

	content := strings.Repeat("Reprocessing replaces the old chunks with fresh ones. ", 25)
	doc, err := p.Upload(ctx, "evolving.txt", strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, doc.ID))

	first, err := provider.Info(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, doc.ID))
	second, err := provider.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Count, second.Count, "reprocessing must not duplicate vectors")

	indexed, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, indexed.Status)
}

func TestPipeline_ProcessMany(t *testing.T) {
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		content := strings.Repeat("Each document carries enough text to produce chunks. ", 20)
		doc, err := p.Upload(ctx, "doc.txt", strings.NewReader(content))
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}

	results := p.ProcessMany(ctx, ids, 2)
	require.Len(t, results, 3)
	for id, err := range results {
		assert.NoError(t, err, "document %s", id)
	}

	counts, err := st.CountDocumentsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[store.StatusReady])
}

func TestPipeline_Delete(t *testing.T) {
	p, st, provider := newTestPipeline(t)
	ctx := context.Background()

	content := strings.Repeat("This document will be removed along with its vectors. ", 20)
	doc, err := p.Upload(ctx, "ephemeral.txt", strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, doc.ID))

	require.NoError(t, p.Delete(ctx, doc.ID))

	_, err = st.GetDocument(ctx, doc.ID)
	var notFound *store.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	info, err := provider.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Count)
	_, err = os.Stat(doc.FilePath)
	assert.True(t, os.IsNotExist(err))
}
