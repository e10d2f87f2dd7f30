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
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorehq/lore/pkg/config"
)

// redactedConfig maps every section through its redacting accessor so
// secrets never leave the process.
func redactedConfig(cfg *config.Config) map[string]any {
	out := make(map[string]any, len(config.SectionNames))
	for _, name := range config.SectionNames {
		section, err := cfg.Section(name)
		if err != nil {
			continue
		}
		out[name] = section
	}
	return out
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, redactedConfig(s.configs.Get()))
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	section, err := s.configs.Get().Section(chi.URLParam(r, "section"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorDetail{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "section")
	var values map[string]any
	if err := decodeBody(r, &values); err != nil {
		writeBadRequest(w, err)
		return
	}

	updated, err := s.configs.UpdateSection(name, values)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	section, _ := updated.Section(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "configuration updated",
		"config":  section,
	})
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Section string         `json:"section"`
		Config  map[string]any `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if _, err := s.configs.ValidateUpdate(req.Section, req.Config); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":  false,
			"errors": []string{err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.Reload(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "configuration reloaded",
	})
}
