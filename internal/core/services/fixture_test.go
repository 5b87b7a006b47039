package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/adapters/driven/config/file"
	"github.com/custodia-labs/mizan/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/mizan/internal/adapters/driven/llm/extractive"
	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/memory"
	vectormem "github.com/custodia-labs/mizan/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/mizan/internal/calculation"
	"github.com/custodia-labs/mizan/internal/compliance"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/extractors"
	"github.com/custodia-labs/mizan/internal/metrics"
	"github.com/custodia-labs/mizan/internal/postprocessors/chunker"
	"github.com/custodia-labs/mizan/internal/routing"
)

// testConfig is the default config with fast retries and no threshold.
func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Retrieval.Threshold = 0
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	cfg.Ingestion.Timeout = 5 * time.Second
	return cfg
}

// pipeline wires every service over in-memory adapters.
type pipeline struct {
	cfg       domain.Config
	docs      *memory.DocumentStore
	index     driven.VectorIndex
	embedder  driven.EmbeddingService
	llm       driven.LLMService
	sessions  *memory.SessionStore
	manager   *SessionManager
	search    *SearchService
	ingestion *IngestionService
	documents *DocumentService
	query     *QueryService
	metrics   *metrics.Metrics
}

type pipelineOption func(*pipeline)

func withLLM(llm driven.LLMService) pipelineOption {
	return func(p *pipeline) { p.llm = llm }
}

func withIndex(index driven.VectorIndex) pipelineOption {
	return func(p *pipeline) { p.index = index }
}

func withEmbedder(e driven.EmbeddingService) pipelineOption {
	return func(p *pipeline) { p.embedder = e }
}

func withConfig(fn func(*domain.Config)) pipelineOption {
	return func(p *pipeline) { fn(&p.cfg) }
}

func newPipeline(t *testing.T, opts ...pipelineOption) *pipeline {
	t.Helper()

	p := &pipeline{
		cfg:      testConfig(),
		docs:     memory.NewDocumentStore(),
		index:    vectormem.New(hashing.DefaultDimensions),
		embedder: hashing.NewEmbeddingService(hashing.DefaultDimensions),
		llm:      extractive.NewLLMService(),
		sessions: memory.NewSessionStore(),
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ch, err := chunker.New(
		chunker.WithTargetSize(p.cfg.Chunking.TargetSize),
		chunker.WithOverlap(p.cfg.Chunking.Overlap),
		chunker.WithSnapTolerance(p.cfg.Chunking.SnapTolerance),
	)
	require.NoError(t, err)
	router, err := routing.Load("")
	require.NoError(t, err)
	calc, err := calculation.Load("")
	require.NoError(t, err)
	checker, err := compliance.Load("")
	require.NoError(t, err)
	prompts, err := file.NewPromptStore(t.TempDir())
	require.NoError(t, err)

	p.manager = NewSessionManager(p.sessions, p.cfg.Session, WithSessionMetrics(p.metrics))
	p.search = NewSearchService(p.docs, p.index, p.embedder, p.cfg.Retrieval, p.cfg.Retry)
	p.ingestion = NewIngestionService(p.docs, extractors.NewDefaultRegistry(), ch, p.embedder, p.index,
		p.cfg.Ingestion, WithRetry(p.cfg.Retry), WithIngestionMetrics(p.metrics))
	t.Cleanup(func() { _ = p.ingestion.Close() })
	p.documents = NewDocumentService(p.docs, p.index, p.metrics)
	p.query = NewQueryService(QueryDeps{
		Router:     router,
		Calculator: calc,
		Compliance: checker,
		Search:     p.search,
		LLM:        p.llm,
		Prompts:    prompts,
		Sessions:   p.manager,
		Metrics:    p.metrics,
	}, p.cfg)
	return p
}

// ingest adds a text document and waits for it to finish.
func (p *pipeline) ingest(t *testing.T, title string, category domain.Category, text string) *domain.Document {
	t.Helper()
	ack, err := p.ingestion.Ingest(context.Background(), domain.IngestRequest{
		Title:    title,
		Category: category,
		FileType: domain.FileTypeText,
		Content:  []byte(text),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.ingestion.Wait(ctx))

	doc, err := p.docs.GetDocument(context.Background(), ack.ID)
	require.NoError(t, err)
	return doc
}

// collect drains a stream.
func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		if len(out) > 0 && ev.Type == domain.EventContent && out[len(out)-1] == domain.EventContent {
			continue
		}
		out = append(out, ev.Type)
	}
	return out
}

// --- Fakes ---

// scriptedLLM runs script for each ChatStream call.
type scriptedLLM struct {
	calls  atomic.Int32
	script func(ctx context.Context, call int, onDelta func(string) error) error
}

func (l *scriptedLLM) ChatStream(
	ctx context.Context, _ []driven.ChatMessage, _ driven.ChatOptions, onDelta func(string) error,
) error {
	return l.script(ctx, int(l.calls.Add(1)), onDelta)
}

func (l *scriptedLLM) ModelName() string { return "scripted" }
func (l *scriptedLLM) Ping(context.Context) error { return nil }
func (l *scriptedLLM) Close() error { return nil }

func stream(onDelta func(string) error, pieces ...string) error {
	for _, p := range pieces {
		if err := onDelta(p); err != nil {
			return err
		}
	}
	return nil
}

// hookedEmbedder wraps the hashing embedder with a hook run before every
// call.
type hookedEmbedder struct {
	*hashing.EmbeddingService
	hook func(ctx context.Context) error
}

func newHookedEmbedder(hook func(ctx context.Context) error) *hookedEmbedder {
	return &hookedEmbedder{EmbeddingService: hashing.NewEmbeddingService(hashing.DefaultDimensions), hook: hook}
}

func (e *hookedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.hook(ctx); err != nil {
		return nil, err
	}
	return e.EmbeddingService.Embed(ctx, text)
}

func (e *hookedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.hook(ctx); err != nil {
		return nil, err
	}
	return e.EmbeddingService.EmbedBatch(ctx, texts)
}

// brokenIndex fails every search.
type brokenIndex struct {
	driven.VectorIndex
	err error
}

func (b *brokenIndex) Search(context.Context, []float32, driven.VectorQuery) ([]driven.VectorHit, error) {
	return nil, b.err
}

// recordingIndex remembers every query it served.
type recordingIndex struct {
	driven.VectorIndex
	mu      sync.Mutex
	queries []driven.VectorQuery
}

func (r *recordingIndex) Search(ctx context.Context, v []float32, q driven.VectorQuery) ([]driven.VectorHit, error) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	return r.VectorIndex.Search(ctx, v, q)
}

func (r *recordingIndex) recorded() []driven.VectorQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]driven.VectorQuery(nil), r.queries...)
}
