package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docpilot/src/core/chunkstore"
	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/postgres/documentctrl"
)

type ObjectStore interface {
	GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
}

type Parser interface {
	Parse(ctx context.Context, filename string, content []byte) ([]Section, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type DocumentStore interface {
	GetByID(ctx context.Context, id int64) (*documentctrl.Document, error)
	UpdateStatus(ctx context.Context, id int64, status documentctrl.Status, errorMessage string) error
	MarkReady(ctx context.Context, id int64, chunkCount int) error
}

type ChunkStore interface {
	UpsertChunks(ctx context.Context, documentID int64, chunks []chunkstore.EmbeddedChunk) (int, error)
	DeleteDocument(ctx context.Context, documentID int64) error
	Dimension() int
}

// Config bounds the pipeline's batching and retry behaviour.
type Config struct {
	Bucket         string
	EmbedBatchSize int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Pipeline runs a document from stored bytes to searchable chunks:
// parse, chunk, embed, store. A document is visible to retrieval only
// after the whole pipeline succeeds. Runs for the same document are
// serialized; the vector delete-then-add in the chunk store must never
// interleave with another writer of that document.
type Pipeline struct {
	objects   ObjectStore
	parser    Parser
	chunker   *Chunker
	embedder  Embedder
	documents DocumentStore
	chunks    ChunkStore
	cfg       Config

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewPipeline(objects ObjectStore, parser Parser, chunker *Chunker, embedder Embedder, documents DocumentStore, chunks ChunkStore, cfg Config) *Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 16
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	return &Pipeline{
		objects:   objects,
		parser:    parser,
		chunker:   chunker,
		embedder:  embedder,
		documents: documents,
		chunks:    chunks,
		cfg:       cfg,
		locks:     map[int64]*sync.Mutex{},
	}
}

// lockDocument takes the per-document lock and returns its release function.
func (p *Pipeline) lockDocument(documentID int64) func() {
	p.mu.Lock()
	lock, ok := p.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[documentID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Ingest processes one document end to end. It is safe to call again for the
// same document: the chunk set is replaced atomically, so a re-run converges
// to the same final state.
//
// A nil return means the work is finished, including the terminal-failure
// case where retrying cannot help. A non-nil return means the message should
// be redelivered.
func (p *Pipeline) Ingest(ctx context.Context, documentID int64) error {
	release := p.lockDocument(documentID)
	defer release()

	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %d: %w", documentID, err)
	}
	if doc == nil {
		log.Info("ingestion skipped, document no longer exists", "document_id", documentID)
		return nil
	}

	if err := p.documents.UpdateStatus(ctx, documentID, documentctrl.StatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark document %d processing: %w", documentID, err)
	}

	content, err := p.objects.GetObject(ctx, p.cfg.Bucket, doc.ObjectKey)
	if err != nil {
		return p.retryableFailure(ctx, documentID, fmt.Errorf("failed to fetch document content: %w", err))
	}

	sections, err := p.parser.Parse(ctx, doc.Filename, content)
	if err != nil {
		// Unparseable content will not parse on redelivery either.
		return p.terminalFailure(ctx, documentID, fmt.Errorf("failed to parse document: %w", err))
	}

	texts, err := p.chunker.Chunk(sections)
	if err != nil {
		return p.terminalFailure(ctx, documentID, fmt.Errorf("failed to chunk document: %w", err))
	}

	if len(texts) == 0 {
		return p.terminalFailure(ctx, documentID, errors.New("document contains no extractable text"))
	}

	embedded, err := p.embedAll(ctx, texts)
	if err != nil {
		if errors.Is(err, chunkstore.ErrDimensionMismatch) {
			return p.terminalFailure(ctx, documentID, err)
		}
		return p.retryableFailure(ctx, documentID, err)
	}

	count, err := p.chunks.UpsertChunks(ctx, documentID, embedded)
	if err != nil {
		if errors.Is(err, chunkstore.ErrDimensionMismatch) {
			return p.terminalFailure(ctx, documentID, err)
		}
		return p.retryableFailure(ctx, documentID, fmt.Errorf("failed to store chunks: %w", err))
	}

	if err := p.documents.MarkReady(ctx, documentID, count); err != nil {
		return fmt.Errorf("failed to mark document %d ready: %w", documentID, err)
	}

	log.Info("document ingested", "document_id", documentID, "chunks", count)
	return nil
}

// embedAll embeds chunk texts in bounded batches, retrying transient failures
// with exponential backoff, and verifies every vector's dimensionality.
func (p *Pipeline) embedAll(ctx context.Context, texts []ChunkText) ([]chunkstore.EmbeddedChunk, error) {
	dimension := p.embedder.Dimension()
	embedded := make([]chunkstore.EmbeddedChunk, 0, len(texts))

	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		inputs := make([]string, len(batch))
		for i, t := range batch {
			inputs[i] = t.Content
		}

		vectors, err := p.embedBatch(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d..%d: %w", start, end-1, err)
		}

		for i, vector := range vectors {
			if len(vector) != dimension {
				return nil, fmt.Errorf("%w: model returned %d, expected %d", chunkstore.ErrDimensionMismatch, len(vector), dimension)
			}
			embedded = append(embedded, chunkstore.EmbeddedChunk{
				Index:   batch[i].Index,
				Content: batch[i].Content,
				Page:    batch[i].Page,
				Heading: batch[i].Heading,
				Vector:  vector,
			})
		}
	}

	return embedded, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := p.embedder.Embed(ctx, inputs)
		if err == nil {
			if len(vectors) != len(inputs) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(inputs))
			}
			return vectors, nil
		}

		lastErr = err
		log.Info("embedding attempt failed", "attempt", attempt+1, "error", err.Error())
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// terminalFailure marks the document failed and acknowledges the job.
func (p *Pipeline) terminalFailure(ctx context.Context, documentID int64, cause error) error {
	log.Error(cause, "ingestion failed permanently", "document_id", documentID)
	p.cleanup(ctx, documentID)
	if err := p.documents.UpdateStatus(ctx, documentID, documentctrl.StatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("failed to mark document %d failed: %w", documentID, err)
	}
	return nil
}

// retryableFailure marks the document failed but reports the error so the
// job is redelivered. A successful re-run flips the document back through
// processing to ready.
func (p *Pipeline) retryableFailure(ctx context.Context, documentID int64, cause error) error {
	p.cleanup(ctx, documentID)
	if err := p.documents.UpdateStatus(ctx, documentID, documentctrl.StatusFailed, cause.Error()); err != nil {
		log.Error(err, "failed to record ingestion failure", "document_id", documentID)
	}
	return cause
}

func (p *Pipeline) cleanup(ctx context.Context, documentID int64) {
	if err := p.chunks.DeleteDocument(ctx, documentID); err != nil {
		log.Error(err, "failed to clean up partial chunks", "document_id", documentID)
	}
}
