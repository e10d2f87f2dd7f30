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

// Package vector abstracts the vector index behind a provider interface
// with embedded (chromem) and remote (qdrant, pinecone) implementations.
package vector

import (
	"context"
	"fmt"
)

// Record is one indexed chunk vector with its retrieval payload.
type Record struct {
	// ID is the chunk ID, unique across the collection.
	ID string

	// Vector is the chunk embedding.
	Vector []float32

	// Content is the chunk text, stored for retrieval display.
	Content string

	// DocumentID ties the chunk to its source document.
	DocumentID string

	// DocumentName is the human-readable source name.
	DocumentName string

	// ChunkIndex is the chunk's position within the document.
	ChunkIndex int

	// Metadata carries splitter provenance and embedding details
	// (splitter_type, split_method, embedding_provider, embedding_model,
	// embedding_dimensions) into the provider payload.
	Metadata map[string]string
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"`
}

// CollectionInfo describes the backing collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
}

// Provider is the vector index surface. Implementations are safe for
// concurrent use after Initialize returns.
type Provider interface {
	// Initialize prepares the collection, creating it if needed.
	Initialize(ctx context.Context) error

	// AddVectors indexes records as a batch. The batch is rejected as a
	// whole when any record's dimension disagrees with the collection.
	AddVectors(ctx context.Context, records []Record) error

	// SearchSimilar returns up to limit hits with score >= threshold,
	// ordered by descending score.
	SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error)

	// DeleteByDocument removes every vector belonging to documentID.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Info describes the collection.
	Info(ctx context.Context) (CollectionInfo, error)

	// Close releases provider resources.
	Close() error
}

// DimensionMismatchError rejects a batch whose vectors disagree with the
// collection dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
	RecordID string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch on record %s: collection expects %d, got %d",
		e.RecordID, e.Expected, e.Got)
}

// StoreError wraps a provider failure with the operation that caused it.
type StoreError struct {
	Provider string
	Op       string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// validateDimensions checks a batch against the expected dimension before
// any write happens, keeping partial batches out of the index. A zero
// expected dimension adopts the first record's width.
func validateDimensions(records []Record, expected int) (int, error) {
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return expected, &DimensionMismatchError{Expected: expected, Got: 0, RecordID: rec.ID}
		}
		if expected == 0 {
			expected = len(rec.Vector)
			continue
		}
		if len(rec.Vector) != expected {
			return expected, &DimensionMismatchError{Expected: expected, Got: len(rec.Vector), RecordID: rec.ID}
		}
	}
	return expected, nil
}
