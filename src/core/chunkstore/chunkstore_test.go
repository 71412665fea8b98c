package chunkstore

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"docpilot/src/storage/postgres/chunkctrl"
	"docpilot/src/storage/weaviate"
)

type fakeRows struct {
	rows       []chunkctrl.Chunk
	replaced   []chunkctrl.Chunk
	deletes    int
	replaceErr error
}

func (f *fakeRows) ReplaceForDocument(_ context.Context, documentID int64, chunks []chunkctrl.Chunk) ([]chunkctrl.Chunk, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	for i := range chunks {
		chunks[i].ID = int64(100 + i)
		chunks[i].DocumentID = documentID
	}
	f.replaced = chunks
	return chunks, nil
}

func (f *fakeRows) GetByIDs(_ context.Context, ids []int64) ([]chunkctrl.Chunk, error) {
	byID := make(map[int64]chunkctrl.Chunk, len(f.rows))
	for _, row := range f.rows {
		byID[row.ID] = row
	}
	var out []chunkctrl.Chunk
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRows) DeleteByDocumentID(context.Context, int64) error {
	f.deletes++
	return nil
}

type fakeIndex struct {
	results   []weaviate.QueryResult
	gotConfig weaviate.QueryConfig
	added     []weaviate.VectorObject
	deletes   []string
	addErr    error
}

func (f *fakeIndex) EnsureSchema(context.Context, string, []*models.Property) error {
	return nil
}

func (f *fakeIndex) BatchAddVectors(_ context.Context, _ string, objects []weaviate.VectorObject) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = objects
	return nil
}

func (f *fakeIndex) QueryVectors(_ context.Context, _ string, _ []float32, config weaviate.QueryConfig) ([]weaviate.QueryResult, error) {
	f.gotConfig = config
	return f.results, nil
}

func (f *fakeIndex) DeleteByProperty(_ context.Context, _ string, _ string, value string) error {
	f.deletes = append(f.deletes, value)
	return nil
}

func hitResult(chunkID, docID int64, score float64) weaviate.QueryResult {
	return weaviate.QueryResult{
		Score: score,
		Properties: map[string]interface{}{
			"chunkId":    strconv.FormatInt(chunkID, 10),
			"documentId": strconv.FormatInt(docID, 10),
		},
	}
}

func TestSearchAppliesDocumentFilterInQuery(t *testing.T) {
	rows := &fakeRows{rows: []chunkctrl.Chunk{{ID: 1, ChunkIndex: 0, Content: "a"}}}
	index := &fakeIndex{results: []weaviate.QueryResult{hitResult(1, 7, 0.9)}}
	store := &Store{chunks: rows, vectors: index, dimension: 4}

	chunks, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5, []int64{7, 9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if index.gotConfig.Where == nil {
		t.Fatal("document filter must be part of the vector query, not applied after it")
	}
	if index.gotConfig.Limit != 5 {
		t.Errorf("filtered search must keep the full limit, got %d", index.gotConfig.Limit)
	}
	if len(chunks) != 1 || chunks[0].DocumentID != 7 {
		t.Errorf("unexpected results %+v", chunks)
	}
}

func TestSearchWithoutFilterHasNoWhere(t *testing.T) {
	rows := &fakeRows{}
	index := &fakeIndex{}
	store := &Store{chunks: rows, vectors: index, dimension: 4}

	if _, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if index.gotConfig.Where != nil {
		t.Error("unfiltered search must not constrain the query")
	}
}

func TestSearchDropsOrphanVectors(t *testing.T) {
	rows := &fakeRows{rows: []chunkctrl.Chunk{{ID: 1, ChunkIndex: 0, Content: "kept"}}}
	index := &fakeIndex{results: []weaviate.QueryResult{
		hitResult(1, 7, 0.9),
		hitResult(999, 7, 0.8), // vector with no content row
	}}
	store := &Store{chunks: rows, vectors: index, dimension: 4}

	chunks, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ChunkID != 1 {
		t.Fatalf("orphan vector must be dropped, got %+v", chunks)
	}
}

func TestSearchOrdersByScoreAndBoundsK(t *testing.T) {
	rows := &fakeRows{rows: []chunkctrl.Chunk{
		{ID: 1, Content: "a"}, {ID: 2, Content: "b"}, {ID: 3, Content: "c"},
	}}
	index := &fakeIndex{results: []weaviate.QueryResult{
		hitResult(2, 7, 0.5),
		hitResult(1, 7, 0.9),
		hitResult(3, 7, 0.7),
	}}
	store := &Store{chunks: rows, vectors: index, dimension: 4}

	chunks, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChunkID != 1 || chunks[1].ChunkID != 3 {
		t.Errorf("results not ordered by score: %+v", chunks)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	store := &Store{chunks: &fakeRows{}, vectors: &fakeIndex{}, dimension: 4}

	_, err := store.Search(context.Background(), []float32{1, 0}, 5, nil)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestUpsertChunksRejectsWrongDimension(t *testing.T) {
	rows := &fakeRows{}
	store := &Store{chunks: rows, vectors: &fakeIndex{}, dimension: 4}

	_, err := store.UpsertChunks(context.Background(), 7, []EmbeddedChunk{
		{Index: 0, Content: "a", Vector: []float32{1, 0}},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if rows.replaced != nil {
		t.Error("no rows may be written for a mismatched vector")
	}
}

func TestUpsertChunksRollsBackOnVectorFailure(t *testing.T) {
	rows := &fakeRows{}
	index := &fakeIndex{addErr: errors.New("weaviate down")}
	store := &Store{chunks: rows, vectors: index, dimension: 2}

	_, err := store.UpsertChunks(context.Background(), 7, []EmbeddedChunk{
		{Index: 0, Content: "a", Vector: []float32{1, 0}},
	})
	if err == nil {
		t.Fatal("expected error from failing vector store")
	}
	if rows.deletes == 0 {
		t.Error("rows written before the vector failure must be rolled back")
	}
}
