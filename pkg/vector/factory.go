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

package vector

import (
	"context"
	"log/slog"

	"github.com/lorehq/lore/pkg/config"
)

// New builds the provider named by cfg. Remote providers are wrapped with
// a single-retry layer for transient I/O failures.
func New(cfg config.VectorStoreSection) (Provider, error) {
	switch cfg.Provider {
	case "", "chromem":
		return NewChromemProvider(ChromemConfig{
			Collection:       cfg.Collection,
			PersistDirectory: cfg.PersistDirectory,
		})
	case "qdrant":
		p, err := NewQdrantProvider(QdrantConfig{
			Collection: cfg.Collection,
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		return &retryProvider{inner: p}, nil
	case "pinecone":
		p, err := NewPineconeProvider(PineconeConfig{
			APIKey:    cfg.APIKey,
			IndexName: cfg.IndexName,
		})
		if err != nil {
			return nil, err
		}
		return &retryProvider{inner: p}, nil
	default:
		return nil, &StoreError{Provider: cfg.Provider, Op: "create",
			Err: errUnknownProvider(cfg.Provider)}
	}
}

type unknownProviderError string

func (e unknownProviderError) Error() string {
	return "unknown vector store provider: " + string(e)
}

func errUnknownProvider(name string) error {
	return unknownProviderError(name)
}

// retryProvider retries remote reads and writes once. Remote vector stores
// drop connections under load; one immediate retry absorbs the common case
// without hiding real outages.
type retryProvider struct {
	inner Provider
}

var _ Provider = (*retryProvider)(nil)

func (r *retryProvider) Initialize(ctx context.Context) error {
	return r.inner.Initialize(ctx)
}

func (r *retryProvider) AddVectors(ctx context.Context, records []Record) error {
	err := r.inner.AddVectors(ctx, records)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if _, ok := err.(*DimensionMismatchError); ok {
		return err
	}
	slog.Debug("retrying vector add after transient failure", "error", err)
	return r.inner.AddVectors(ctx, records)
}

func (r *retryProvider) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	results, err := r.inner.SearchSimilar(ctx, vector, limit, threshold)
	if err == nil || ctx.Err() != nil {
		return results, err
	}
	slog.Debug("retrying vector search after transient failure", "error", err)
	return r.inner.SearchSimilar(ctx, vector, limit, threshold)
}

func (r *retryProvider) DeleteByDocument(ctx context.Context, documentID string) error {
	err := r.inner.DeleteByDocument(ctx, documentID)
	if err == nil || ctx.Err() != nil {
		return err
	}
	slog.Debug("retrying vector delete after transient failure", "error", err)
	return r.inner.DeleteByDocument(ctx, documentID)
}

func (r *retryProvider) Info(ctx context.Context) (CollectionInfo, error) {
	return r.inner.Info(ctx)
}

func (r *retryProvider) Close() error {
	return r.inner.Close()
}
