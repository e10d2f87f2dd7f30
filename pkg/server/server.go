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

// Package server exposes the knowledge base over HTTP: document
// management, question answering, sessions, configuration, and model
// lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/qa"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/vector"
)

// Server wires the components behind the HTTP API.
type Server struct {
	configs      *config.Manager
	models       *models.Manager
	store        *store.Store
	vectors      vector.Provider
	pipeline     *ingest.Pipeline
	engine       *retrieval.Engine
	orchestrator *qa.Orchestrator
	metrics      *Metrics
	logger       *slog.Logger

	httpServer *http.Server
}

// New assembles the server around already-constructed components.
func New(configs *config.Manager, modelMgr *models.Manager, st *store.Store, vectors vector.Provider,
	pipeline *ingest.Pipeline, engine *retrieval.Engine, orchestrator *qa.Orchestrator) *Server {
	return &Server{
		configs:      configs,
		models:       modelMgr,
		store:        st,
		vectors:      vectors,
		pipeline:     pipeline,
		engine:       engine,
		orchestrator: orchestrator,
		metrics:      NewMetrics(),
		logger:       slog.Default().With("component", "server"),
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", s.handleUploadDocument)
		r.Get("/", s.handleListDocuments)
		r.Get("/{id}", s.handleGetDocument)
		r.Post("/{id}/reprocess", s.handleReprocessDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
	})

	r.Post("/qa/ask", s.handleAsk)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/recent", s.handleRecentSessions)
		r.Get("/stats/summary", s.handleSessionStats)
		r.Get("/{id}/history", s.handleSessionHistory)
		r.Delete("/{id}", s.handleDeleteSession)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleGetConfig)
		r.Post("/validate", s.handleValidateConfig)
		r.Post("/reload", s.handleReloadConfig)
		r.Get("/{section}", s.handleGetSection)
		r.Put("/{section}", s.handleUpdateSection)
	})

	r.Route("/models", func(r chi.Router) {
		r.Post("/add", s.handleAddModel)
		r.Post("/test", s.handleTestModel)
		r.Get("/configs", s.handleModelConfigs)
		r.Post("/switch", s.handleSwitchModel)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	return r
}

// Start serves until ctx is cancelled, then shuts down within the
// configured grace period.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configs.Get().API
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := time.Duration(cfg.ShutdownGraceSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.logger.Info("shutting down", "grace", grace)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
