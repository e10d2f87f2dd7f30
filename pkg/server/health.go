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
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthy := true

	components := make(map[string]any)

	if err := s.store.Ping(ctx); err != nil {
		healthy = false
		components["database"] = map[string]any{"healthy": false, "error": err.Error()}
	} else {
		components["database"] = map[string]any{"healthy": true}
	}

	if info, err := s.vectors.Info(ctx); err != nil {
		healthy = false
		components["vector_store"] = map[string]any{"healthy": false, "error": err.Error()}
	} else {
		components["vector_store"] = map[string]any{
			"healthy":  true,
			"provider": info.Provider,
			"count":    info.Count,
		}
	}

	modelHealth := s.models.Health(ctx)
	for _, h := range modelHealth {
		if !h.Healthy {
			healthy = false
		}
	}
	components["models"] = modelHealth

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"components": components,
	})
}
