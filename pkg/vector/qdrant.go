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
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant provider.
type QdrantConfig struct {
	// Collection names the chunk collection.
	Collection string

	// Host is the Qdrant server hostname.
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey for authenticated access (optional).
	APIKey string

	// UseTLS enables TLS connections.
	UseTLS bool
}

// QdrantProvider indexes chunk vectors in a Qdrant server over gRPC.
type QdrantProvider struct {
	client     *qdrant.Client
	collection string

	mu        sync.Mutex
	dimension int
}

var _ Provider = (*QdrantProvider)(nil)

// NewQdrantProvider creates a Qdrant provider.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

// Initialize verifies connectivity. The collection itself is created on
// first write, once the vector dimension is known.
func (p *QdrantProvider) Initialize(ctx context.Context) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return &StoreError{Provider: "qdrant", Op: "initialize", Err: err}
	}
	if exists {
		if info, err := p.client.GetCollectionInfo(ctx, p.collection); err == nil {
			if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
				p.mu.Lock()
				p.dimension = int(params.GetSize())
				p.mu.Unlock()
			}
		}
	}
	return nil
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func (p *QdrantProvider) AddVectors(ctx context.Context, records []Record) error {
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

	if err := p.ensureCollection(ctx, dim); err != nil {
		return &StoreError{Provider: "qdrant", Op: "add", Err: err}
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload := make(map[string]any, len(rec.Metadata)+4)
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		payload["content"] = rec.Content
		payload["document_id"] = rec.DocumentID
		payload["document_name"] = rec.DocumentName
		payload["chunk_index"] = rec.ChunkIndex
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	// Wait makes the upsert visible to the next search, which ingestion
	// status reporting depends on.
	wait := true
	_, err = p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: p.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return &StoreError{Provider: "qdrant", Op: "add", Err: err}
	}
	return nil
}

func (p *QdrantProvider) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	limitU := uint64(limit)
	scoreThreshold := float32(threshold)
	points, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: p.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitU,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, &StoreError{Provider: "qdrant", Op: "search", Err: err}
	}

	out := make([]SearchResult, 0, len(points))
	for _, point := range points {
		payload := point.GetPayload()
		out = append(out, SearchResult{
			ID:           pointID(point.GetId()),
			Content:      payload["content"].GetStringValue(),
			DocumentID:   payload["document_id"].GetStringValue(),
			DocumentName: payload["document_name"].GetStringValue(),
			ChunkIndex:   int(payload["chunk_index"].GetIntegerValue()),
			Score:        float64(point.GetScore()),
		})
	}
	return out, nil
}

func (p *QdrantProvider) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: p.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return &StoreError{Provider: "qdrant", Op: "delete", Err: err}
	}
	return nil
}

func (p *QdrantProvider) Info(ctx context.Context) (CollectionInfo, error) {
	p.mu.Lock()
	info := CollectionInfo{Name: p.collection, Provider: "qdrant", Dimension: p.dimension}
	p.mu.Unlock()

	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: p.collection,
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return info, nil
		}
		return info, &StoreError{Provider: "qdrant", Op: "info", Err: err}
	}
	info.Count = int(count)
	return info, nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
