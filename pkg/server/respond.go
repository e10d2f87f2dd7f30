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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/qa"
	"github.com/lorehq/lore/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// errorDetail is the error body shape: a machine-mappable status with a
// human-readable detail.
type errorDetail struct {
	Detail string `json:"detail"`
}

// writeError maps error kinds to HTTP status classes. Upstream 429s keep
// their Retry-After so clients can back off correctly.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFound    *store.NotFoundError
		validation  *qa.ValidationError
		unsupported *ingest.UnsupportedFormatError
		provider    *models.UnsupportedProviderError
		retryable   *httpclient.RetryableError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &unsupported), errors.As(err, &provider):
		status = http.StatusBadRequest
	case errors.As(err, &retryable):
		status = http.StatusTooManyRequests
		if retryable.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryable.RetryAfter.Seconds())))
		}
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorDetail{Detail: err.Error()})
}

// decodeBody parses a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeBadRequest reports a malformed request body.
func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorDetail{Detail: err.Error()})
}
