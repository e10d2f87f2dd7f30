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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemProvider stores vectors in-process using chromem-go.
//
// This is the default provider: pure Go, no external service, optional
// gob persistence. All vectors live in RAM, which is fine for the
// document volumes a single knowledge base carries. For larger corpora
// use qdrant or pinecone.
type ChromemProvider struct {
	db          *chromem.DB
	collection  string
	persistPath string

	mu        sync.Mutex
	col       *chromem.Collection
	dimension int
}

var _ Provider = (*ChromemProvider)(nil)

// ChromemConfig configures the embedded provider.
type ChromemConfig struct {
	// Collection names the chunk collection.
	Collection string

	// PersistDirectory enables gob persistence when non-empty.
	PersistDirectory string
}

// NewChromemProvider creates the provider. An empty PersistDirectory keeps
// everything in memory, which tests rely on.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	p := &ChromemProvider{
		collection:  cfg.Collection,
		persistPath: cfg.PersistDirectory,
	}

	if cfg.PersistDirectory == "" {
		p.db = chromem.NewDB()
		return p, nil
	}

	if err := os.MkdirAll(cfg.PersistDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	dbPath := p.dbFile()
	if _, err := os.Stat(dbPath); err == nil {
		db, err := chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			slog.Warn("failed to load vector database, starting empty", "path", dbPath, "error", err)
			p.db = chromem.NewDB()
		} else {
			slog.Info("loaded vector database", "path", dbPath)
			p.db = db
		}
	} else {
		p.db = chromem.NewDB()
	}
	return p, nil
}

func (p *ChromemProvider) dbFile() string {
	return filepath.Join(p.persistPath, "vectors.gob")
}

func (p *ChromemProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Vectors arrive pre-computed; the embedding function must never run.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem embedding function called with pre-computed vectors")
	}

	col, err := p.db.GetOrCreateCollection(p.collection, nil, identity)
	if err != nil {
		return &StoreError{Provider: "chromem", Op: "initialize", Err: err}
	}
	p.col = col
	return nil
}

func (p *ChromemProvider) AddVectors(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.col == nil {
		return &StoreError{Provider: "chromem", Op: "add", Err: fmt.Errorf("provider not initialized")}
	}

	dim, err := validateDimensions(records, p.dimension)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		meta := make(map[string]string, len(rec.Metadata)+3)
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		meta["document_id"] = rec.DocumentID
		meta["document_name"] = rec.DocumentName
		meta["chunk_index"] = strconv.Itoa(rec.ChunkIndex)
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Content,
			Embedding: rec.Vector,
			Metadata:  meta,
		}
	}

	if err := p.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return &StoreError{Provider: "chromem", Op: "add", Err: err}
	}
	p.dimension = dim

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist vector database after add", "error", err)
	}
	return nil
}

func (p *ChromemProvider) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	p.mu.Lock()
	col := p.col
	p.mu.Unlock()
	if col == nil {
		return nil, &StoreError{Provider: "chromem", Op: "search", Err: fmt.Errorf("provider not initialized")}
	}

	// chromem rejects queries asking for more results than stored.
	count := col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, &StoreError{Provider: "chromem", Op: "search", Err: err}
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < threshold {
			continue
		}
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])
		out = append(out, SearchResult{
			ID:           r.ID,
			Content:      r.Content,
			DocumentID:   r.Metadata["document_id"],
			DocumentName: r.Metadata["document_name"],
			ChunkIndex:   chunkIndex,
			Score:        score,
		})
	}
	return out, nil
}

func (p *ChromemProvider) DeleteByDocument(ctx context.Context, documentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.col == nil {
		return &StoreError{Provider: "chromem", Op: "delete", Err: fmt.Errorf("provider not initialized")}
	}

	where := map[string]string{"document_id": documentID}
	if err := p.col.Delete(ctx, where, nil); err != nil {
		return &StoreError{Provider: "chromem", Op: "delete", Err: err}
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist vector database after delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Info(ctx context.Context) (CollectionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := CollectionInfo{Name: p.collection, Provider: "chromem", Dimension: p.dimension}
	if p.col != nil {
		info.Count = p.col.Count()
	}
	return info, nil
}

func (p *ChromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persist()
}

func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}
	//nolint:staticcheck // Export is deprecated but present in the pinned version
	if err := p.db.Export(p.dbFile(), false, ""); err != nil {
		return fmt.Errorf("failed to persist vector database: %w", err)
	}
	return nil
}
