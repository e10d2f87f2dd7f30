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
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/models"
)

// parseRole maps the wire model_type to a role, accepting the aliases
// clients commonly send.
func parseRole(modelType string) (models.Role, error) {
	switch modelType {
	case "embedder", "embedding", "embeddings":
		return models.RoleEmbedder, nil
	case "reranker", "reranking":
		return models.RoleReranker, nil
	case "generator", "llm":
		return models.RoleGenerator, nil
	default:
		return "", fmt.Errorf("unknown model_type %q (embedder, reranker, llm)", modelType)
	}
}

// roleSection returns the current provider settings for a role, the base
// that switch and test requests override.
func (s *Server) roleSection(role models.Role) config.ProviderSection {
	cfg := s.configs.Get()
	switch role {
	case models.RoleEmbedder:
		return cfg.Embeddings.ProviderSection
	case models.RoleReranker:
		return cfg.Reranking.ProviderSection
	default:
		return cfg.LLM.ProviderSection
	}
}

func (s *Server) handleAddModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelType string         `json:"model_type"`
		Name      string         `json:"name"`
		Provider  string         `json:"provider"`
		ModelName string         `json:"model_name"`
		Config    map[string]any `json:"config,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	role, err := parseRole(req.ModelType)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	section := config.ProviderSection{Provider: req.Provider, Model: req.ModelName}
	if len(req.Config) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "yaml",
			WeaklyTypedInput: true,
			Result:           &section,
		})
		if err == nil {
			err = decoder.Decode(req.Config)
		}
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid model config: %w", err))
			return
		}
	}

	if err := s.models.Switch(r.Context(), role, section); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"loaded":  false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"loaded":  true,
		"message": fmt.Sprintf("model %s/%s is now active for %s", req.Provider, req.ModelName, role),
	})
}

func (s *Server) handleTestModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelType string `json:"model_type"`
		ModelName string `json:"model_name,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	role, err := parseRole(req.ModelType)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	section := s.roleSection(role)
	if req.ModelName != "" {
		section.Model = req.ModelName
	}

	start := time.Now()
	if err := s.models.Test(r.Context(), role, section); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"latency_ms": time.Since(start).Milliseconds(),
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleModelConfigs(w http.ResponseWriter, r *http.Request) {
	configs := s.models.Configs()

	active := make(map[string]string, len(configs))
	statuses := make(map[string]string, len(configs))
	for _, rc := range configs {
		active[string(rc.Role)] = rc.Model
		statuses[string(rc.Role)] = string(rc.State)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model_configs":  configs,
		"active_models":  active,
		"model_statuses": statuses,
	})
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelType string `json:"model_type"`
		ModelName string `json:"model_name"`
		Provider  string `json:"provider,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	role, err := parseRole(req.ModelType)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.ModelName == "" {
		writeBadRequest(w, fmt.Errorf("model_name is required"))
		return
	}

	section := s.roleSection(role)
	section.Model = req.ModelName
	if req.Provider != "" {
		section.Provider = req.Provider
	}

	if err := s.models.Switch(r.Context(), role, section); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%s switched to %s", role, req.ModelName),
	})
}
