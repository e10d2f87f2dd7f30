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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentStatus is the ingestion state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// validTransitions encodes the document lifecycle. Ready and errored
// documents may be reprocessed, which restarts them at processing.
var validTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusProcessing},
	StatusError:      {StatusProcessing},
}

func transitionAllowed(from, to DocumentStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Document is a stored source document.
type Document struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	OriginalName string         `json:"original_name"`
	FilePath     string         `json:"-"`
	SizeBytes    int64          `json:"size_bytes"`
	ContentType  string         `json:"content_type,omitempty"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunk_count"`
	VectorCount  int            `json:"vector_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CreateDocument inserts a new document in pending state.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return &DocumentStoreError{Op: "create", Err: fmt.Errorf("document ID is required")}
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO documents (id, name, original_name, file_path, size_bytes, content_type, status, chunk_count, vector_count, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Name, doc.OriginalName, doc.FilePath, doc.SizeBytes,
		doc.ContentType, string(doc.Status), doc.ChunkCount, doc.VectorCount,
		doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return &DocumentStoreError{Op: "create", DocumentID: doc.ID, Err: err}
	}
	return nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, name, original_name, file_path, size_bytes, content_type, status, chunk_count, vector_count, error_message, created_at, updated_at
FROM documents WHERE id = ?`), id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError("document", id)
		}
		return nil, &DocumentStoreError{Op: "get", DocumentID: id, Err: err}
	}
	return doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, original_name, file_path, size_bytes, content_type, status, chunk_count, vector_count, error_message, created_at, updated_at
FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, &DocumentStoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &DocumentStoreError{Op: "list", Err: err}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus transitions a document's status, enforcing the
// lifecycle. Chunk count and error message are updated alongside. Vectors
// are stored one per chunk, so vector_count tracks chunk_count.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, chunkCount int, errorMessage string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(doc.Status, status) {
		return &DocumentStoreError{Op: "update_status", DocumentID: id,
			Err: fmt.Errorf("invalid status transition %s -> %s", doc.Status, status)}
	}

	_, err = s.db.ExecContext(ctx, s.q(`
UPDATE documents SET status = ?, chunk_count = ?, vector_count = ?, error_message = ?, updated_at = ? WHERE id = ?`),
		string(status), chunkCount, chunkCount, errorMessage, time.Now().UTC(), id,
	)
	if err != nil {
		return &DocumentStoreError{Op: "update_status", DocumentID: id, Err: err}
	}
	return nil
}

// DeleteDocument removes a document row.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return &DocumentStoreError{Op: "delete", DocumentID: id, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NewNotFoundError("document", id)
	}
	return nil
}

// CountDocumentsByStatus returns document counts keyed by status.
func (s *Store) CountDocumentsByStatus(ctx context.Context) (map[DocumentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, &DocumentStoreError{Op: "count", Err: err}
	}
	defer rows.Close()

	out := make(map[DocumentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, &DocumentStoreError{Op: "count", Err: err}
		}
		out[DocumentStatus(status)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status string
	var filePath, contentType, errorMessage sql.NullString
	if err := row.Scan(&doc.ID, &doc.Name, &doc.OriginalName, &filePath, &doc.SizeBytes,
		&contentType, &status, &doc.ChunkCount, &doc.VectorCount, &errorMessage, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	doc.FilePath = filePath.String
	doc.ContentType = contentType.String
	doc.ErrorMessage = errorMessage.String
	return &doc, nil
}
