package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/mizan/internal/adapters/driven/ai"
	"github.com/custodia-labs/mizan/internal/adapters/driven/config/file"
	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/redis"
	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/mizan/internal/adapters/driven/vector/bolt"
	vectormem "github.com/custodia-labs/mizan/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/mizan/internal/adapters/driving/cli"
	"github.com/custodia-labs/mizan/internal/calculation"
	"github.com/custodia-labs/mizan/internal/compliance"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/services"
	"github.com/custodia-labs/mizan/internal/extractors"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
	"github.com/custodia-labs/mizan/internal/postprocessors/chunker"
	"github.com/custodia-labs/mizan/internal/routing"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = errors.Join(err, c[i]())
	}
	return err
}

// build assembles the query pipeline from cfg. Everything opened is
// released by the returned Close, or here if assembly fails.
func build(ctx context.Context, cfg domain.Config, getenv func(string) string) (_ *cli.Services, err error) {
	var cs closers
	defer func() {
		if err != nil {
			_ = cs.close()
		}
	}()

	dataDir, err := resolveDataDir(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	docStore, err := openDocumentStore(cfg.Storage.Documents, dataDir, &cs)
	if err != nil {
		return nil, err
	}
	aiServices, err := ai.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AI services: %w", err)
	}
	cs.add(aiServices.Close)

	// The index is sized by what the embedder actually produces.
	index, err := openVectorIndex(cfg.Storage.Vectors, dataDir, aiServices.Embedding.Dimensions(), &cs)
	if err != nil {
		return nil, err
	}
	sessionStore, err := openSessionStore(ctx, cfg, getenv, &cs)
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.New(
		chunker.WithTargetSize(cfg.Chunking.TargetSize),
		chunker.WithOverlap(cfg.Chunking.Overlap),
		chunker.WithSnapTolerance(cfg.Chunking.SnapTolerance),
	)
	if err != nil {
		return nil, err
	}

	router, err := routing.Load(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	calc, err := calculation.Load(cfg.FormulasFile)
	if err != nil {
		return nil, err
	}
	checker, err := compliance.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	prompts, err := file.NewPromptStore("")
	if err != nil {
		return nil, fmt.Errorf("opening prompts: %w", err)
	}

	mx := metrics.New()
	mx.SetIndexSize(index.Len())

	search := services.NewSearchService(docStore, index, aiServices.Embedding, cfg.Retrieval, cfg.Retry)
	documents := services.NewDocumentService(docStore, index, mx)
	ingestion := services.NewIngestionService(
		docStore,
		extractors.NewDefaultRegistry(),
		chunks,
		aiServices.Embedding,
		index,
		cfg.Ingestion,
		services.WithRetry(cfg.Retry),
		services.WithIngestionMetrics(mx),
	)
	cs.add(ingestion.Close)

	sessions := services.NewSessionManager(sessionStore, cfg.Session, services.WithSessionMetrics(mx))
	// Redis expires sessions itself.
	if cfg.Storage.Sessions != domain.BackendRedis {
		reaperCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := sessions.StartReaper(reaperCtx)
		cs.add(func() error {
			cancel()
			<-done
			return nil
		})
	}

	query := services.NewQueryService(services.QueryDeps{
		Router:     router,
		Calculator: calc,
		Compliance: checker,
		Search:     search,
		LLM:        aiServices.LLM,
		Prompts:    prompts,
		Sessions:   sessions,
		Metrics:    mx,
	}, cfg)

	logger.Debug("pipeline ready: documents=%s vectors=%s sessions=%s embedding=%s/%s llm=%s/%s",
		cfg.Storage.Documents, cfg.Storage.Vectors, cfg.Storage.Sessions,
		cfg.Embedding.Provider, aiServices.Embedding.ModelName(),
		cfg.LLM.Provider, aiServices.LLM.ModelName())

	return &cli.Services{
		Search:    search,
		Documents: documents,
		Ingestion: ingestion,
		Query:     query,
		Sessions:  sessions,
		Metrics:   mx,
		Close:     cs.close,
	}, nil
}

// resolveDataDir defaults to ~/.mizan/data.
func resolveDataDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".mizan", "data"), nil
}

func openDocumentStore(backend domain.Backend, dataDir string, cs *closers) (driven.DocumentStore, error) {
	switch backend {
	case domain.BackendMemory:
		return memory.NewDocumentStore(), nil
	case domain.BackendSQLite, "":
		store, err := sqlite.NewStore(dataDir)
		if err != nil {
			return nil, fmt.Errorf("opening document store: %w", err)
		}
		cs.add(store.Close)
		return store.DocumentStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported documents backend %q", domain.ErrInvalidConfiguration, backend)
	}
}

func openVectorIndex(backend domain.Backend, dataDir string, dims int, cs *closers) (driven.VectorIndex, error) {
	var index driven.VectorIndex
	switch backend {
	case domain.BackendMemory:
		index = vectormem.New(dims)
	case domain.BackendBolt, "":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		bx, err := bolt.Open(filepath.Join(dataDir, "vectors.db"), dims)
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
		index = bx
	default:
		return nil, fmt.Errorf("%w: unsupported vectors backend %q", domain.ErrInvalidConfiguration, backend)
	}
	cs.add(index.Close)
	return index, nil
}

func openSessionStore(
	ctx context.Context,
	cfg domain.Config,
	getenv func(string) string,
	cs *closers,
) (driven.SessionStore, error) {
	switch cfg.Storage.Sessions {
	case domain.BackendMemory, "":
		return memory.NewSessionStore(), nil
	case domain.BackendRedis:
		store, err := redis.NewSessionStore(ctx, redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: getenv("MIZAN_REDIS_PASSWORD"),
			DB:       cfg.Storage.RedisDB,
			TTL:      cfg.Session.Timeout,
		})
		if err != nil {
			return nil, err
		}
		cs.add(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unsupported sessions backend %q", domain.ErrInvalidConfiguration, cfg.Storage.Sessions)
	}
}
