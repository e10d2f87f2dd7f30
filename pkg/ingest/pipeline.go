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

// Package ingest implements the document ingestion pipeline: extraction,
// preprocessing, chunking, embedding, and indexing.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/vector"
)

// EmbedderSource yields the currently active embedder. Resolving it per
// document keeps in-flight ingestion on whatever model a hot switch
// activates next.
type EmbedderSource interface {
	Embedder() models.Embedder
}

// Pipeline drives documents from upload through indexing.
type Pipeline struct {
	store      *store.Store
	vectors    vector.Provider
	embedders  EmbedderSource
	configs    *config.Manager
	extractors *ExtractorRegistry
	uploadDir  string
	logger     *slog.Logger
}

// NewPipeline assembles the ingestion pipeline. uploadDir receives uploaded
// files and is created on first use.
func NewPipeline(st *store.Store, vectors vector.Provider, embedders EmbedderSource, configs *config.Manager, uploadDir string) *Pipeline {
	return &Pipeline{
		store:      st,
		vectors:    vectors,
		embedders:  embedders,
		configs:    configs,
		extractors: NewExtractorRegistry(),
		uploadDir:  uploadDir,
		logger:     slog.Default().With("component", "ingest"),
	}
}

// Extractors exposes the registry so callers can check supported formats.
func (p *Pipeline) Extractors() *ExtractorRegistry {
	return p.extractors
}

// Upload stores the file on disk and registers it in pending state. The
// format is checked before any bytes are written.
func (p *Pipeline) Upload(ctx context.Context, originalName string, r io.Reader) (*store.Document, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !p.supported(ext) {
		return nil, &UnsupportedFormatError{Extension: ext, Supported: p.extractors.Supported()}
	}

	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(p.uploadDir, id+ext)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	size, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	doc := &store.Document{
		ID:           id,
		Name:         strings.TrimSuffix(filepath.Base(originalName), ext),
		OriginalName: filepath.Base(originalName),
		FilePath:     path,
		SizeBytes:    size,
		ContentType:  mime.TypeByExtension(ext),
		Status:       store.StatusPending,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		os.Remove(path)
		return nil, err
	}

	p.logger.Info("document uploaded", "document_id", id, "name", doc.OriginalName, "size", size)
	return doc, nil
}

func (p *Pipeline) supported(ext string) bool {
	for _, s := range p.extractors.Supported() {
		if s == ext {
			return true
		}
	}
	return false
}

// Process runs the full pipeline for one document: extract, preprocess,
// split, embed, index. On failure the document's vectors are rolled back
// and it lands in error state with the failure message recorded.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	reindex := doc.Status == store.StatusReady || doc.Status == store.StatusError

	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing, 0, ""); err != nil {
		return err
	}

	// Reprocessing starts clean so stale chunks never survive alongside
	// the new ones.
	if reindex {
		if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
			return p.fail(ctx, documentID, "cleanup", err)
		}
	}

	chunks, err := p.prepare(ctx, doc)
	if err != nil {
		return p.fail(ctx, documentID, "prepare", err)
	}
	if len(chunks) == 0 {
		return p.fail(ctx, documentID, "split", fmt.Errorf("document produced no chunks"))
	}

	records, err := p.embed(ctx, doc, chunks)
	if err != nil {
		return p.fail(ctx, documentID, "embed", err)
	}

	if err := p.vectors.AddVectors(ctx, records); err != nil {
		return p.fail(ctx, documentID, "index", err)
	}

	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusReady, len(chunks), ""); err != nil {
		return err
	}
	p.logger.Info("document indexed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// prepare extracts, preprocesses, splits, and refines the document text.
func (p *Pipeline) prepare(ctx context.Context, doc *store.Document) ([]Chunk, error) {
	text, err := p.extractors.Extract(ctx, doc.FilePath)
	if err != nil {
		return nil, err
	}

	cfg := p.configs.Get().Embeddings
	text = Preprocess(text, OptionsFromConfig(cfg.Preprocess))

	chunks := ChooseSplitter(text, cfg).Split(text)
	return Refine(chunks, cfg.MinChunkSize, cfg.MaxChunkSize), nil
}

// embed turns chunks into vector records in provider-sized batches.
func (p *Pipeline) embed(ctx context.Context, doc *store.Document, chunks []Chunk) ([]vector.Record, error) {
	embedder := p.embedders.Embedder()
	if embedder == nil {
		return nil, fmt.Errorf("no embedder available")
	}

	batchSize := p.configs.Get().Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	modelName := strings.TrimPrefix(embedder.Name(), embedder.Provider()+"/")

	records := make([]vector.Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, chunk := range batch {
			meta := chunk.Metadata.Map()
			meta["embedding_provider"] = embedder.Provider()
			meta["embedding_model"] = modelName
			meta["embedding_dimensions"] = strconv.Itoa(len(vectors[i]))
			records = append(records, vector.Record{
				ID:           uuid.NewString(),
				Vector:       vectors[i],
				Content:      chunk.Content,
				DocumentID:   doc.ID,
				DocumentName: doc.OriginalName,
				ChunkIndex:   chunk.Index,
				Metadata:     meta,
			})
		}
	}
	return records, nil
}

// fail rolls back any partial index state and marks the document errored.
// The original error is returned, wrapped with its stage.
func (p *Pipeline) fail(ctx context.Context, documentID, stage string, cause error) error {
	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		p.logger.Warn("rollback failed, index may hold orphan vectors",
			"document_id", documentID, "error", err)
	}

	wrapped := NewDocumentError(documentID, stage, cause)
	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusError, 0, cause.Error()); err != nil {
		p.logger.Error("failed to record document failure", "document_id", documentID, "error", err)
	}
	p.logger.Warn("document ingestion failed", "document_id", documentID, "stage", stage, "error", cause)
	return wrapped
}

// ProcessMany ingests documents concurrently, at most concurrency at a
// time. One document's failure never stops the others; the result maps
// each document ID to its outcome.
func (p *Pipeline) ProcessMany(ctx context.Context, documentIDs []string, concurrency int) map[string]error {
	if concurrency <= 0 {
		concurrency = 2
	}

	var mu sync.Mutex
	results := make(map[string]error, len(documentIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range documentIDs {
		g.Go(func() error {
			err := p.Process(ctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through results
	return results
}

// Delete removes a document everywhere: vectors first, then the stored
// file, then the database row. Vector deletion failing aborts so the row
// keeps pointing at the orphaned index entries.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove document file", "path", doc.FilePath, "error", err)
		}
	}

	return p.store.DeleteDocument(ctx, documentID)
}
