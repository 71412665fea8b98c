package retrieval

import (
	"context"
	"fmt"

	"docpilot/src/core/chunkstore"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, k int, documentIDs []int64) ([]chunkstore.ScoredChunk, error)
	Dimension() int
}

// Engine turns a natural-language query into the k most similar chunks.
type Engine struct {
	embedder Embedder
	store    VectorStore
	topK     int
}

func NewEngine(embedder Embedder, store VectorStore, topK int) *Engine {
	if topK <= 0 {
		topK = 5
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		topK:     topK,
	}
}

// Retrieve embeds the query once and searches the chunk store. Results come
// back ordered by non-increasing score; an empty slice means nothing indexed
// matched at all.
func (e *Engine) Retrieve(ctx context.Context, query string, documentIDs []int64) ([]chunkstore.ScoredChunk, error) {
	if e.embedder.Dimension() != e.store.Dimension() {
		return nil, fmt.Errorf("%w: embedder %d, store %d", chunkstore.ErrDimensionMismatch, e.embedder.Dimension(), e.store.Dimension())
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	chunks, err := e.store.Search(ctx, vectors[0], e.topK, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	return chunks, nil
}
