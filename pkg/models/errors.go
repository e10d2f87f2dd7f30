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

package models

import "fmt"

// ModelInitError indicates a model instance could not be constructed or
// warmed up.
type ModelInitError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ModelInitError) Error() string {
	return fmt.Sprintf("failed to initialize %s model %q: %v", e.Provider, e.Model, e.Err)
}

func (e *ModelInitError) Unwrap() error {
	return e.Err
}

// NewModelInitError creates a ModelInitError.
func NewModelInitError(provider, model string, err error) *ModelInitError {
	return &ModelInitError{Provider: provider, Model: model, Err: err}
}

// UnsupportedProviderError indicates an unknown provider name.
type UnsupportedProviderError struct {
	Provider  string
	Supported []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported model provider %q (supported: %v)", e.Provider, e.Supported)
}

// GenerationError indicates the generation provider failed after retries.
type GenerationError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// EmbeddingError indicates the embedding provider failed after retries.
type EmbeddingError struct {
	Provider string
	Model    string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed on %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// RerankerError indicates the reranking provider failed. Rerank failures
// are advisory; callers fall back to the pre-rerank ordering.
type RerankerError struct {
	Provider string
	Model    string
	Err      error
}

func (e *RerankerError) Error() string {
	return fmt.Sprintf("rerank failed on %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *RerankerError) Unwrap() error {
	return e.Err
}
