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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorehq/lore/pkg/config"
)

func newTestProvider(t *testing.T) *ChromemProvider {
	t.Helper()
	p, err := NewChromemProvider(ChromemConfig{Collection: "test_chunks"})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func rec(id, docID, content string, vec []float32) Record {
	return Record{
		ID:           id,
		Vector:       vec,
		Content:      content,
		DocumentID:   docID,
		DocumentName: docID + ".md",
	}
}

func TestChromem_AddAndSearch(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "about databases", []float32{1, 0, 0}),
		rec("c2", "doc1", "about networking", []float32{0, 1, 0}),
		rec("c3", "doc2", "about storage", []float32{0.9, 0.1, 0}),
	}))

	results, err := p.SearchSimilar(ctx, []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "c3", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "doc1", results[0].DocumentID)
	assert.Equal(t, "doc1.md", results[0].DocumentName)
}

func TestChromem_ThresholdFilters(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "exact match", []float32{1, 0, 0}),
		rec("c2", "doc1", "orthogonal", []float32{0, 1, 0}),
	}))

	results, err := p.SearchSimilar(ctx, []float32{1, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
}

func TestChromem_DimensionMismatchRejectsBatch(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "seed", []float32{1, 0, 0}),
	}))

	err := p.AddVectors(ctx, []Record{
		rec("c2", "doc1", "ok", []float32{0, 1, 0}),
		rec("c3", "doc1", "wrong width", []float32{0, 1}),
	})
	require.Error(t, err)

	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Got)

	// The whole batch was rejected, including the valid record.
	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)
}

func TestChromem_DeleteByDocument(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "keep me out", []float32{1, 0, 0}),
		rec("c2", "doc1", "me too", []float32{0, 1, 0}),
		rec("c3", "doc2", "survivor", []float32{0, 0, 1}),
	}))

	require.NoError(t, p.DeleteByDocument(ctx, "doc1"))

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	results, err := p.SearchSimilar(ctx, []float32{0, 0, 1}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c3", results[0].ID)
}

func TestChromem_SearchEmptyCollection(t *testing.T) {
	p := newTestProvider(t)

	results, err := p.SearchSimilar(context.Background(), []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromem_LimitClampedToCount(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "only one", []float32{1, 0, 0}),
	}))

	results, err := p.SearchSimilar(ctx, []float32{1, 0, 0}, 50, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromem_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p, err := NewChromemProvider(ChromemConfig{Collection: "persisted", PersistDirectory: dir})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.AddVectors(ctx, []Record{
		rec("c1", "doc1", "persisted chunk", []float32{1, 0, 0}),
	}))
	require.NoError(t, p.Close())

	reopened, err := NewChromemProvider(ChromemConfig{Collection: "persisted", PersistDirectory: dir})
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))

	results, err := reopened.SearchSimilar(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted chunk", results[0].Content)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.VectorStoreSection{Provider: "milvus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "milvus")
}

func TestNew_DefaultsToChromem(t *testing.T) {
	p, err := New(config.VectorStoreSection{Collection: "x"})
	require.NoError(t, err)
	_, ok := p.(*ChromemProvider)
	assert.True(t, ok)
}

type flakyProvider struct {
	Provider
	failures int
	calls    int
}

func (f *flakyProvider) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return []SearchResult{{ID: "ok"}}, nil
}

func TestRetryProvider_RetriesOnce(t *testing.T) {
	flaky := &flakyProvider{failures: 1}
	r := &retryProvider{inner: flaky}

	results, err := r.SearchSimilar(context.Background(), []float32{1}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", results[0].ID)
	assert.Equal(t, 2, flaky.calls)
}

func TestRetryProvider_GivesUpAfterSecondFailure(t *testing.T) {
	flaky := &flakyProvider{failures: 2}
	r := &retryProvider{inner: flaky}

	_, err := r.SearchSimilar(context.Background(), []float32{1}, 1, 0)
	require.Error(t, err)
	assert.Equal(t, 2, flaky.calls)
}
