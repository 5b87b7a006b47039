package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
)

// Ensure IngestionService implements the interface.
var _ driving.IngestionService = (*IngestionService)(nil)

// ErrIngestionClosed is returned by Ingest after Close.
var ErrIngestionClosed = errors.New("ingestion service closed")

// IngestionService runs uploaded documents through extraction, chunking,
// embedding and indexing in the background.
type IngestionService struct {
	docStore         driven.DocumentStore
	extractors       driven.ExtractorRegistry
	chunker          driven.Chunker
	embeddingService driven.EmbeddingService
	vectorIndex      driven.VectorIndex
	settings         domain.IngestionSettings
	retry            domain.RetrySettings
	metrics          *metrics.Metrics
	now              func() time.Time

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// IngestionOption configures an IngestionService.
type IngestionOption func(*IngestionService)

// WithIngestionMetrics records ingestion outcomes and index size.
func WithIngestionMetrics(mx *metrics.Metrics) IngestionOption {
	return func(s *IngestionService) { s.metrics = mx }
}

// WithRetry sets the policy for embedding calls.
func WithRetry(policy domain.RetrySettings) IngestionOption {
	return func(s *IngestionService) { s.retry = policy }
}

// NewIngestionService creates a new ingestion service.
func NewIngestionService(
	docStore driven.DocumentStore,
	extractors driven.ExtractorRegistry,
	chunker driven.Chunker,
	embeddingService driven.EmbeddingService,
	vectorIndex driven.VectorIndex,
	settings domain.IngestionSettings,
	opts ...IngestionOption,
) *IngestionService {
	if settings.MaxConcurrent < 1 {
		settings.MaxConcurrent = 1
	}
	if settings.EmbedBatchSize < 1 {
		settings.EmbedBatchSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &IngestionService{
		docStore:         docStore,
		extractors:       extractors,
		chunker:          chunker,
		embeddingService: embeddingService,
		vectorIndex:      vectorIndex,
		settings:         settings,
		retry:            domain.DefaultConfig().Retry,
		now:              time.Now,
		sem:              semaphore.NewWeighted(int64(settings.MaxConcurrent)),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest records the document as processing and schedules it. The
// returned ack is sent before extraction begins.
func (s *IngestionService) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestAck, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrIngestionClosed
	}

	now := s.now()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		FilePath:    req.FilePath,
		FileType:    req.FileType,
		Status:      domain.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	logger.Info("Accepted %s %q as %s", doc.FileType, doc.Title, doc.ID)

	content := slices.Clone(req.Content)
	s.wg.Add(1)
	go s.run(doc, content)

	return &domain.IngestAck{ID: doc.ID, Status: doc.Status}, nil
}

// run waits for a worker slot, processes the document and records the
// terminal status.
func (s *IngestionService) run(doc *domain.Document, content []byte) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		_ = s.finish(doc, 0, err)
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(s.ctx, s.settings.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.process(ctx, doc, content)
	if err != nil {
		s.cleanup(doc.ID)
	}
	if errors.Is(s.finish(doc, n, err), domain.ErrNotFound) {
		// Deleted while processing: nothing of it may stay behind.
		logger.Info("Document %s was deleted during ingestion", doc.ID)
		if err == nil {
			s.cleanup(doc.ID)
		}
	}
	logger.Elapsed(start, "Ingestion of %s finished", doc.ID)
}

// process handles the document pipeline:
// extract, chunk, embed in batches, save chunks, then index.
func (s *IngestionService) process(ctx context.Context, doc *domain.Document, content []byte) (int, error) {
	// 1. EXTRACT
	text, err := s.extractors.Extract(ctx, doc.FileType, content)
	if err != nil {
		return 0, err
	}

	// 2. CHUNK
	var chunks []domain.Chunk
	for c := range s.chunker.Chunks(doc.ID, text) {
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no text content", domain.ErrExtractionFailure)
	}
	logger.Debug("Document %s: %d chunks", doc.ID, len(chunks))

	// 3. EMBED
	for batch := range slices.Chunk(chunks, s.settings.EmbedBatchSize) {
		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Content
		}
		var vectors [][]float32
		err := Retry(ctx, s.retry, func(int) error {
			v, err := s.embeddingService.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingProvider, len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
	}

	// 4. SAVE CHUNKS
	if err := s.docStore.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}

	// 5. INDEX
	if _, err := s.docStore.GetDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	for _, c := range chunks {
		entry := driven.VectorEntry{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			Category:   doc.Category,
			Vector:     c.Embedding,
		}
		if err := s.vectorIndex.Index(ctx, entry); err != nil {
			return 0, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	return len(chunks), nil
}

// cleanup removes partial output of a failed ingestion. It runs on a
// fresh context because the ingestion's own may have expired.
func (s *IngestionService) cleanup(documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.vectorIndex.Remove(ctx, documentID); err != nil {
		logger.Warn("Failed to remove index entries of %s: %v", documentID, err)
	}
	if err := s.docStore.DeleteChunks(ctx, documentID); err != nil {
		logger.Warn("Failed to remove chunks of %s: %v", documentID, err)
	}
}

// finish moves the document to its terminal status. It returns
// domain.ErrNotFound when the document was deleted meanwhile.
func (s *IngestionService) finish(doc *domain.Document, chunks int, procErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	next := domain.StatusIndexed
	if procErr != nil {
		next = domain.StatusFailed
	}
	if !doc.Status.CanTransitionTo(next) {
		logger.Warn("Document %s: illegal transition %s -> %s", doc.ID, doc.Status, next)
		return nil
	}

	updated := *doc
	updated.Status = next
	updated.ChunkCount = chunks
	updated.UpdatedAt = s.now()
	if procErr != nil {
		updated.StatusReason = failureReason(procErr)
	}

	if err := s.docStore.UpdateStatus(ctx, &updated, doc.Status); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Failed to record status of %s: %v", doc.ID, err)
		}
		return err
	}
	if procErr != nil {
		logger.Warn("Ingestion of %s failed: %v", doc.ID, procErr)
	} else {
		logger.Info("Indexed %s: %d chunks", doc.ID, chunks)
	}
	*doc = updated
	s.metrics.IngestionOutcome(next)
	s.metrics.SetIndexSize(s.vectorIndex.Len())
	return nil
}

// failureReason renders err as "CODE: message".
func failureReason(err error) string {
	code := domain.CodeFor(err)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s: ingestion timed out", code)
	}
	return fmt.Sprintf("%s: %v", code, err)
}

// Wait blocks until every scheduled ingestion has finished or ctx ends.
func (s *IngestionService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, cancels in-flight ingestions and waits for
// them to record their status.
func (s *IngestionService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
