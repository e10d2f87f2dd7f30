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

package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorehq/lore/pkg/store"
)

// maxUploadBytes bounds multipart uploads (64 MiB).
const maxUploadBytes = 64 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, fmt.Errorf("multipart field %q is required: %w", "file", err))
		return
	}
	defer file.Close()

	if header.Size == 0 {
		s.metrics.DocumentsTotal.WithLabelValues("upload", "rejected").Inc()
		writeBadRequest(w, fmt.Errorf("uploaded file is empty"))
		return
	}

	doc, err := s.pipeline.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.metrics.DocumentsTotal.WithLabelValues("upload", "rejected").Inc()
		writeError(w, err)
		return
	}

	// Indexing proceeds after the response; status transitions are visible
	// through GET /documents/{id}.
	go func() {
		if err := s.pipeline.Process(context.Background(), doc.ID); err != nil {
			s.metrics.DocumentsTotal.WithLabelValues("process", "failed").Inc()
			return
		}
		s.metrics.DocumentsTotal.WithLabelValues("process", "ready").Inc()
	}()

	s.metrics.DocumentsTotal.WithLabelValues("upload", "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": doc.ID,
		"filename":    doc.OriginalName,
		"status":      doc.Status,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.store.CountDocumentsByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if docs == nil {
		docs = []*store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":        docs,
		"total_count":      len(docs),
		"ready_count":      counts[store.StatusReady],
		"processing_count": counts[store.StatusPending] + counts[store.StatusProcessing],
		"error_count":      counts[store.StatusError],
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	go func() {
		if err := s.pipeline.Process(context.Background(), id); err != nil {
			s.metrics.DocumentsTotal.WithLabelValues("reprocess", "failed").Inc()
			return
		}
		s.metrics.DocumentsTotal.WithLabelValues("reprocess", "ready").Inc()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("document %s queued for reprocessing", id),
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pipeline.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.DocumentsTotal.WithLabelValues("delete", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("document %s deleted", id),
	})
}
