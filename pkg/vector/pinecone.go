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
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone provider. Pinecone indexes are
// created out of band; the provider only verifies the index exists.
type PineconeConfig struct {
	// APIKey is required.
	APIKey string

	// IndexName is the Pinecone index holding chunk vectors.
	IndexName string
}

// PineconeProvider indexes chunk vectors in a managed Pinecone index.
type PineconeProvider struct {
	client    *pinecone.Client
	indexName string

	mu        sync.Mutex
	host      string
	dimension int
}

var _ Provider = (*PineconeProvider)(nil)

// NewPineconeProvider creates a Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for pinecone")
	}
	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "lore-chunks"
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	return &PineconeProvider{client: client, indexName: indexName}, nil
}

// Initialize resolves the index host and dimension. The index must already
// exist; Pinecone index creation is an account-level operation.
func (p *PineconeProvider) Initialize(ctx context.Context) error {
	index, err := p.client.DescribeIndex(ctx, p.indexName)
	if err != nil {
		return &StoreError{Provider: "pinecone", Op: "initialize",
			Err: fmt.Errorf("index %q must exist before use: %w", p.indexName, err)}
	}

	p.mu.Lock()
	p.host = index.Host
	p.dimension = int(index.Dimension)
	p.mu.Unlock()
	return nil
}

func (p *PineconeProvider) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()
	if host == "" {
		return nil, fmt.Errorf("provider not initialized")
	}
	return p.client.Index(pinecone.NewIndexConnParams{Host: host})
}

func (p *PineconeProvider) AddVectors(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	p.mu.Lock()
	dim, err := validateDimensions(records, p.dimension)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.dimension = dim
	p.mu.Unlock()

	conn, err := p.connect(ctx)
	if err != nil {
		return &StoreError{Provider: "pinecone", Op: "add", Err: err}
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, len(records))
	for i, rec := range records {
		fields := make(map[string]any, len(rec.Metadata)+4)
		for k, v := range rec.Metadata {
			fields[k] = v
		}
		fields["content"] = rec.Content
		fields["document_id"] = rec.DocumentID
		fields["document_name"] = rec.DocumentName
		fields["chunk_index"] = rec.ChunkIndex
		metadata, err := structpb.NewStruct(fields)
		if err != nil {
			return &StoreError{Provider: "pinecone", Op: "add", Err: err}
		}
		vectors[i] = &pinecone.Vector{
			Id:       rec.ID,
			Values:   rec.Vector,
			Metadata: metadata,
		}
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return &StoreError{Provider: "pinecone", Op: "add", Err: err}
	}
	return nil
}

func (p *PineconeProvider) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, &StoreError{Provider: "pinecone", Op: "search", Err: err}
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(limit),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, &StoreError{Provider: "pinecone", Op: "search", Err: err}
	}

	out := make([]SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		score := float64(match.Score)
		if score < threshold {
			continue
		}

		metadata := map[string]any{}
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		result := SearchResult{
			ID:    match.Vector.Id,
			Score: score,
		}
		if v, ok := metadata["content"].(string); ok {
			result.Content = v
		}
		if v, ok := metadata["document_id"].(string); ok {
			result.DocumentID = v
		}
		if v, ok := metadata["document_name"].(string); ok {
			result.DocumentName = v
		}
		if v, ok := metadata["chunk_index"].(float64); ok {
			result.ChunkIndex = int(v)
		}
		out = append(out, result)
	}
	return out, nil
}

func (p *PineconeProvider) DeleteByDocument(ctx context.Context, documentID string) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return &StoreError{Provider: "pinecone", Op: "delete", Err: err}
	}
	defer conn.Close()

	filter, err := structpb.NewStruct(map[string]any{"document_id": documentID})
	if err != nil {
		return &StoreError{Provider: "pinecone", Op: "delete", Err: err}
	}
	if err := conn.DeleteVectorsByFilter(ctx, filter); err != nil {
		return &StoreError{Provider: "pinecone", Op: "delete", Err: err}
	}
	return nil
}

func (p *PineconeProvider) Info(ctx context.Context) (CollectionInfo, error) {
	p.mu.Lock()
	info := CollectionInfo{Name: p.indexName, Provider: "pinecone", Dimension: p.dimension}
	p.mu.Unlock()

	conn, err := p.connect(ctx)
	if err != nil {
		return info, &StoreError{Provider: "pinecone", Op: "info", Err: err}
	}
	defer conn.Close()

	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return info, &StoreError{Provider: "pinecone", Op: "info", Err: err}
	}
	info.Count = int(stats.TotalVectorCount)
	return info, nil
}

func (p *PineconeProvider) Close() error {
	// The pinecone client holds no persistent connection.
	return nil
}
