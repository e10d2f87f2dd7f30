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
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorehq/lore/pkg/qa"
	"github.com/lorehq/lore/pkg/store"
)

// recentSessionLimit bounds the /sessions/recent listing.
const recentSessionLimit = 20

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req qa.Request
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	resp, err := s.orchestrator.Ask(r.Context(), req)
	if err != nil {
		s.metrics.QuestionsTotal.WithLabelValues("failed").Inc()
		writeError(w, err)
		return
	}

	outcome := "answered"
	if resp.ConfidenceScore == 0 && len(resp.Sources) > 0 {
		outcome = "degraded"
	}
	s.metrics.QuestionsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title,omitempty"`
		UserID string `json:"user_id,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}

	sess, err := s.store.CreateSession(r.Context(), req.UserID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListRecentSessions(r.Context(), recentSessionLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.store.History(r.Context(), id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if turns == nil {
		turns = []*store.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"history":    turns,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %s deleted", id),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
