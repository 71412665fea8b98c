package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docpilot/src/core/chunkstore"
	"docpilot/src/storage/postgres/documentctrl"
)

type fakeObjectStore struct {
	data map[string][]byte
}

func (f *fakeObjectStore) GetObject(_ context.Context, _, objectName string) ([]byte, error) {
	data, ok := f.data[objectName]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type fakeParser struct {
	sections []Section
	err      error
}

func (f *fakeParser) Parse(context.Context, string, []byte) ([]Section, error) {
	return f.sections, f.err
}

type fakeEmbedder struct {
	mu        sync.Mutex
	dimension int
	failures  int
	calls     int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("model unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, f.dimension)
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dimension }

type fakeDocumentStore struct {
	mu       sync.Mutex
	doc      *documentctrl.Document
	statuses []documentctrl.Status
	errorMsg string
	ready    bool
	count    int
}

func (f *fakeDocumentStore) GetByID(context.Context, int64) (*documentctrl.Document, error) {
	return f.doc, nil
}

func (f *fakeDocumentStore) UpdateStatus(_ context.Context, _ int64, status documentctrl.Status, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.errorMsg = errorMessage
	return nil
}

func (f *fakeDocumentStore) MarkReady(_ context.Context, _ int64, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = true
	f.count = chunkCount
	return nil
}

type fakeChunkStore struct {
	mu        sync.Mutex
	dimension int
	upserted  []chunkstore.EmbeddedChunk
	upserts   int
	deleted   int
	upsertErr error

	active    int32
	maxActive int32
	delay     time.Duration
}

func (f *fakeChunkStore) UpsertChunks(_ context.Context, _ int64, chunks []chunkstore.EmbeddedChunk) (int, error) {
	now := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if now <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, now) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.upsertErr != nil {
		return 0, f.upsertErr
	}

	f.mu.Lock()
	f.upserted = chunks
	f.upserts++
	f.mu.Unlock()
	return len(chunks), nil
}

func (f *fakeChunkStore) DeleteDocument(context.Context, int64) error {
	f.mu.Lock()
	f.deleted++
	f.mu.Unlock()
	return nil
}

func (f *fakeChunkStore) Dimension() int { return f.dimension }

func testPipeline(t *testing.T, parser *fakeParser, embedder *fakeEmbedder, docs *fakeDocumentStore, chunks *fakeChunkStore) *Pipeline {
	t.Helper()

	chunker, err := NewChunker(200, 20)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	objects := &fakeObjectStore{data: map[string][]byte{"obj-key": []byte("raw bytes")}}

	return NewPipeline(objects, parser, chunker, embedder, docs, chunks, Config{
		Bucket:         "documents",
		EmbedBatchSize: 2,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	})
}

func pendingDoc() *documentctrl.Document {
	return &documentctrl.Document{
		ID:        42,
		Filename:  "report.pdf",
		ObjectKey: "obj-key",
		Status:    documentctrl.StatusPending,
	}
}

func TestPipelineIngestSuccess(t *testing.T) {
	parser := &fakeParser{sections: []Section{
		{Text: "First paragraph about topic A.", Page: 1},
		{Text: strings.Repeat("filler text to force a second chunk ", 10), Page: 2},
	}}
	embedder := &fakeEmbedder{dimension: 4}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !docs.ready {
		t.Fatal("document not marked ready")
	}
	if docs.count != len(chunks.upserted) {
		t.Errorf("ready count %d != stored chunks %d", docs.count, len(chunks.upserted))
	}
	if len(chunks.upserted) == 0 {
		t.Fatal("no chunks stored")
	}
	for i, chunk := range chunks.upserted {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if len(chunk.Vector) != 4 {
			t.Errorf("chunk %d vector length %d", i, len(chunk.Vector))
		}
	}
	if len(docs.statuses) == 0 || docs.statuses[0] != documentctrl.StatusProcessing {
		t.Errorf("expected processing status first, got %v", docs.statuses)
	}
}

func TestPipelineEmbedRetriesThenSucceeds(t *testing.T) {
	parser := &fakeParser{sections: []Section{{Text: "short text", Page: 1}}}
	embedder := &fakeEmbedder{dimension: 4, failures: 1}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("expected 2 embed calls, got %d", embedder.calls)
	}
	if !docs.ready {
		t.Error("document not marked ready after retry")
	}
}

func TestPipelineEmbedExhaustsRetries(t *testing.T) {
	parser := &fakeParser{sections: []Section{{Text: "short text", Page: 1}}}
	embedder := &fakeEmbedder{dimension: 4, failures: 10}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	err := pipeline.Ingest(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error so the job is redelivered")
	}
	if docs.ready {
		t.Error("failed document must not be ready")
	}
	if len(docs.statuses) == 0 || docs.statuses[len(docs.statuses)-1] != documentctrl.StatusFailed {
		t.Errorf("expected failed status last, got %v", docs.statuses)
	}
	if chunks.deleted == 0 {
		t.Error("partial state must be cleaned up")
	}
}

func TestPipelineParseFailureIsTerminal(t *testing.T) {
	parser := &fakeParser{err: errors.New("unsupported format")}
	embedder := &fakeEmbedder{dimension: 4}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("terminal failure must acknowledge the job, got %v", err)
	}
	if docs.statuses[len(docs.statuses)-1] != documentctrl.StatusFailed {
		t.Errorf("expected failed status, got %v", docs.statuses)
	}
	if docs.errorMsg == "" {
		t.Error("failure reason must be recorded")
	}
}

func TestPipelineDimensionMismatchIsTerminal(t *testing.T) {
	parser := &fakeParser{sections: []Section{{Text: "short text", Page: 1}}}
	embedder := &fakeEmbedder{dimension: 3}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4, upsertErr: chunkstore.ErrDimensionMismatch}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("dimension mismatch must not be retried, got %v", err)
	}
	if docs.statuses[len(docs.statuses)-1] != documentctrl.StatusFailed {
		t.Errorf("expected failed status, got %v", docs.statuses)
	}
	if embedder.calls != 1 {
		t.Errorf("expected a single embed call, got %d", embedder.calls)
	}
}

func TestPipelineReingestIsIdempotent(t *testing.T) {
	parser := &fakeParser{sections: []Section{
		{Text: "First paragraph about topic A.", Page: 1},
		{Text: strings.Repeat("repeatable filler content for the second chunk ", 8), Page: 2},
	}}
	embedder := &fakeEmbedder{dimension: 4}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	firstCount := len(chunks.upserted)
	firstContents := make([]string, firstCount)
	for i, c := range chunks.upserted {
		firstContents[i] = c.Content
	}

	if err := pipeline.Ingest(context.Background(), 42); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if len(chunks.upserted) != firstCount {
		t.Fatalf("chunk count changed on re-ingest: %d then %d", firstCount, len(chunks.upserted))
	}
	for i, c := range chunks.upserted {
		if c.Index != i {
			t.Errorf("chunk %d has index %d after re-ingest", i, c.Index)
		}
		if c.Content != firstContents[i] {
			t.Errorf("chunk %d content changed on re-ingest:\n got %q\nwant %q", i, c.Content, firstContents[i])
		}
	}
	if docs.count != firstCount {
		t.Errorf("ready count %d != chunk count %d", docs.count, firstCount)
	}
}

func TestPipelineSerializesSameDocument(t *testing.T) {
	parser := &fakeParser{sections: []Section{{Text: "short text", Page: 1}}}
	embedder := &fakeEmbedder{dimension: 4}
	docs := &fakeDocumentStore{doc: pendingDoc()}
	chunks := &fakeChunkStore{dimension: 4, delay: 5 * time.Millisecond}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	const runs = 4
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipeline.Ingest(context.Background(), 42); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&chunks.maxActive); max != 1 {
		t.Fatalf("chunk store saw %d concurrent writers for one document", max)
	}
	if chunks.upserts != runs {
		t.Errorf("expected %d upserts, got %d", runs, chunks.upserts)
	}
}

func TestPipelineMissingDocumentIsNoop(t *testing.T) {
	parser := &fakeParser{}
	embedder := &fakeEmbedder{dimension: 4}
	docs := &fakeDocumentStore{doc: nil}
	chunks := &fakeChunkStore{dimension: 4}

	pipeline := testPipeline(t, parser, embedder, docs, chunks)

	if err := pipeline.Ingest(context.Background(), 99); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(docs.statuses) != 0 {
		t.Errorf("missing document must not change state, got %v", docs.statuses)
	}
}
