package retrieval

import (
	"context"
	"errors"
	"testing"

	"docpilot/src/core/chunkstore"
)

type stubEmbedder struct {
	dimension int
	vector    []float32
	err       error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return s.dimension }

type stubStore struct {
	dimension int
	chunks    []chunkstore.ScoredChunk
	gotK      int
	gotDocs   []int64
}

func (s *stubStore) Search(_ context.Context, _ []float32, k int, documentIDs []int64) ([]chunkstore.ScoredChunk, error) {
	s.gotK = k
	s.gotDocs = documentIDs
	return s.chunks, nil
}

func (s *stubStore) Dimension() int { return s.dimension }

func TestRetrieveReturnsOrderedChunks(t *testing.T) {
	store := &stubStore{
		dimension: 4,
		chunks: []chunkstore.ScoredChunk{
			{ChunkID: 1, Score: 0.92},
			{ChunkID: 2, Score: 0.81},
			{ChunkID: 3, Score: 0.81},
			{ChunkID: 4, Score: 0.40},
		},
	}
	embedder := &stubEmbedder{dimension: 4, vector: []float32{1, 0, 0, 0}}

	engine := NewEngine(embedder, store, 5)

	chunks, err := engine.Retrieve(context.Background(), "what is topic A?", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if store.gotK != 5 {
		t.Errorf("expected k=5, got %d", store.gotK)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Score > chunks[i-1].Score {
			t.Errorf("scores not non-increasing at %d: %f > %f", i, chunks[i].Score, chunks[i-1].Score)
		}
	}
}

func TestRetrievePassesDocumentFilter(t *testing.T) {
	store := &stubStore{dimension: 4}
	embedder := &stubEmbedder{dimension: 4, vector: []float32{1, 0, 0, 0}}

	engine := NewEngine(embedder, store, 3)

	if _, err := engine.Retrieve(context.Background(), "q", []int64{7, 9}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(store.gotDocs) != 2 || store.gotDocs[0] != 7 || store.gotDocs[1] != 9 {
		t.Errorf("document filter not forwarded: %v", store.gotDocs)
	}
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	store := &stubStore{dimension: 8}
	embedder := &stubEmbedder{dimension: 4, vector: []float32{1, 0, 0, 0}}

	engine := NewEngine(embedder, store, 5)

	_, err := engine.Retrieve(context.Background(), "q", nil)
	if !errors.Is(err, chunkstore.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	store := &stubStore{dimension: 4}
	embedder := &stubEmbedder{dimension: 4, err: errors.New("connection refused")}

	engine := NewEngine(embedder, store, 5)

	if _, err := engine.Retrieve(context.Background(), "q", nil); err == nil {
		t.Fatal("expected error from failing embedder")
	}
}
