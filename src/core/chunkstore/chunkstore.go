package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/postgres/chunkctrl"
	"docpilot/src/storage/weaviate"
)

// ClassName is the Weaviate class holding one vector per chunk.
const ClassName = "DocumentChunk"

// ErrDimensionMismatch indicates a vector whose dimensionality differs from
// the store configuration. This is a broken configuration, not a transient
// failure, and is never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbeddedChunk is a chunk ready to be written: text plus its vector.
type EmbeddedChunk struct {
	Index   int
	Content string
	Page    int
	Heading string
	Vector  []float32
}

// ScoredChunk is a search hit. Score is the similarity certainty in [0, 1].
type ScoredChunk struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type chunkRows interface {
	ReplaceForDocument(ctx context.Context, documentID int64, chunks []chunkctrl.Chunk) ([]chunkctrl.Chunk, error)
	GetByIDs(ctx context.Context, ids []int64) ([]chunkctrl.Chunk, error)
	DeleteByDocumentID(ctx context.Context, documentID int64) error
}

type vectorIndex interface {
	EnsureSchema(ctx context.Context, className string, properties []*models.Property) error
	BatchAddVectors(ctx context.Context, className string, objects []weaviate.VectorObject) error
	QueryVectors(ctx context.Context, className string, vector []float32, config weaviate.QueryConfig) ([]weaviate.QueryResult, error)
	DeleteByProperty(ctx context.Context, className string, property string, value string) error
}

// Store keeps chunk content rows in PostgreSQL and their vectors in Weaviate.
// Writes are exclusive per document; reads may run concurrently.
type Store struct {
	chunks    chunkRows
	vectors   vectorIndex
	dimension int
}

func NewStore(chunks *chunkctrl.ChunkService, vectors *weaviate.SDK, dimension int) *Store {
	return &Store{
		chunks:    chunks,
		vectors:   vectors,
		dimension: dimension,
	}
}

// Dimension returns the fixed vector dimensionality of the store.
func (s *Store) Dimension() int {
	return s.dimension
}

// EnsureSchema creates the Weaviate class when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	properties := []*models.Property{
		{
			Name:     "documentId",
			DataType: []string{"string"},
		},
		{
			Name:     "chunkId",
			DataType: []string{"string"},
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
	}

	return s.vectors.EnsureSchema(ctx, ClassName, properties)
}

// UpsertChunks replaces the complete chunk set of a document. On any failure
// both sides are cleaned up so retrieval never observes a partial set.
func (s *Store) UpsertChunks(ctx context.Context, documentID int64, chunks []EmbeddedChunk) (int, error) {
	for _, c := range chunks {
		if len(c.Vector) != s.dimension {
			return 0, fmt.Errorf("%w: store has %d, chunk %d has %d", ErrDimensionMismatch, s.dimension, c.Index, len(c.Vector))
		}
	}

	rows := make([]chunkctrl.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkctrl.Chunk{
			ChunkIndex: c.Index,
			Content:    c.Content,
			PageNumber: c.Page,
			Heading:    c.Heading,
		}
	}

	created, err := s.chunks.ReplaceForDocument(ctx, documentID, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to store chunk rows: %w", err)
	}

	docID := strconv.FormatInt(documentID, 10)
	if err := s.vectors.DeleteByProperty(ctx, ClassName, "documentId", docID); err != nil {
		s.rollback(ctx, documentID)
		return 0, fmt.Errorf("failed to clear previous vectors: %w", err)
	}

	objects := make([]weaviate.VectorObject, len(created))
	for i, row := range created {
		objects[i] = weaviate.VectorObject{
			Vector: chunks[i].Vector,
			Properties: map[string]interface{}{
				"documentId": docID,
				"chunkId":    strconv.FormatInt(row.ID, 10),
				"chunkIndex": row.ChunkIndex,
			},
		}
	}

	if len(objects) > 0 {
		if err := s.vectors.BatchAddVectors(ctx, ClassName, objects); err != nil {
			s.rollback(ctx, documentID)
			return 0, fmt.Errorf("failed to store vectors: %w", err)
		}
	}

	return len(created), nil
}

// rollback removes whatever half-written state exists for a document.
func (s *Store) rollback(ctx context.Context, documentID int64) {
	if err := s.chunks.DeleteByDocumentID(ctx, documentID); err != nil {
		log.Error(err, "failed to roll back chunk rows", "document_id", documentID)
	}
	docID := strconv.FormatInt(documentID, 10)
	if err := s.vectors.DeleteByProperty(ctx, ClassName, "documentId", docID); err != nil {
		log.Error(err, "failed to roll back vectors", "document_id", documentID)
	}
}

// DeleteDocument removes all chunks and vectors of a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID int64) error {
	docID := strconv.FormatInt(documentID, 10)
	if err := s.vectors.DeleteByProperty(ctx, ClassName, "documentId", docID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.chunks.DeleteByDocumentID(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunk rows: %w", err)
	}
	return nil
}

// Search returns up to k chunks ordered by non-increasing similarity score.
// An optional document id subset restricts the results.
func (s *Store) Search(ctx context.Context, vector []float32, k int, documentIDs []int64) ([]ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: store has %d, query has %d", ErrDimensionMismatch, s.dimension, len(vector))
	}

	config := weaviate.QueryConfig{
		Fields: []string{"documentId", "chunkId", "chunkIndex"},
		Limit:  k,
	}

	// Filter server-side so the limit applies within the subset and a
	// filtered search can still fill all k slots.
	if len(documentIDs) > 0 {
		values := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			values[i] = strconv.FormatInt(id, 10)
		}
		config.Where = filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.ContainsAny).
			WithValueString(values...)
	}

	results, err := s.vectors.QueryVectors(ctx, ClassName, vector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	type hit struct {
		chunkID    int64
		documentID int64
		score      float64
	}

	hits := make([]hit, 0, len(results))
	ids := make([]int64, 0, len(results))
	for _, result := range results {
		chunkStr, _ := result.Properties["chunkId"].(string)
		docStr, _ := result.Properties["documentId"].(string)

		chunkID, err := strconv.ParseInt(chunkStr, 10, 64)
		if err != nil {
			continue
		}
		docID, err := strconv.ParseInt(docStr, 10, 64)
		if err != nil {
			continue
		}

		hits = append(hits, hit{chunkID: chunkID, documentID: docID, score: result.Score})
		ids = append(ids, chunkID)
	}

	rows, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk content: %w", err)
	}

	byID := make(map[int64]chunkctrl.Chunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	scored := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		row, ok := byID[h.chunkID]
		if !ok {
			// Vector without a content row: the document was deleted or its
			// ingestion was rolled back between the two reads.
			continue
		}
		scored = append(scored, ScoredChunk{
			ChunkID:    h.chunkID,
			DocumentID: h.documentID,
			ChunkIndex: row.ChunkIndex,
			Content:    row.Content,
			Score:      h.score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}

	return scored, nil
}
