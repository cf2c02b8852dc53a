package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lorekeep/retrieval/internal/collab"
	"github.com/lorekeep/retrieval/internal/config"
	"github.com/lorekeep/retrieval/internal/corpus"
	"github.com/lorekeep/retrieval/internal/dense"
	"github.com/lorekeep/retrieval/internal/embed"
	"github.com/lorekeep/retrieval/internal/passage"
	"github.com/lorekeep/retrieval/internal/pipeline"
	"github.com/lorekeep/retrieval/internal/sparse"
	"github.com/lorekeep/retrieval/internal/telemetry"
)

// denseBackend is what both dense implementations provide: serving
// searches and accepting reindexes.
type denseBackend interface {
	dense.Retriever
	dense.Indexer
}

// stack is the assembled retrieval service, shared by serve, index
// and search.
type stack struct {
	cfg      *config.Config
	registry *sparse.Registry
	store    passage.Store
	backend  denseBackend
	indexer  *corpus.Indexer
	pipeline *pipeline.Pipeline
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	closers  []func() error
}

// buildStack wires the full pipeline from configuration.
func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{
		cfg:      cfg,
		registry: sparse.NewRegistry(),
		metrics:  telemetry.New(),
		logger:   logger,
	}

	// Passage store: sqlite when a path is configured, memory otherwise.
	var store passage.Store
	if cfg.Passage.DBPath != "" {
		sqlite, err := passage.NewSQLiteStore(cfg.Passage.DBPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqlite.Close)
		store = sqlite
	} else {
		store = passage.NewMemoryStore()
	}
	if cfg.Passage.CacheSize > 0 {
		store = passage.NewCachedStore(store, cfg.Passage.CacheSize)
	}
	s.store = store

	embedder := embed.NewCachedEmbedder(
		embed.NewHashEmbedder(cfg.Dense.Dimensions), cfg.Dense.EmbedCacheSize)

	switch cfg.Dense.Mode {
	case "qdrant":
		qs, err := dense.NewQdrantStore(cfg.Dense.QdrantAddr, embedder,
			cfg.Dense.CollectionPrefix, cfg.Dense.Dimensions)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, qs.Close)
		s.backend = qs
	default:
		s.backend = dense.NewLocalStore(embedder, dense.WithLocalLogger(logger))
	}

	indexerOpts := []corpus.IndexerOption{
		corpus.WithDenseIndexer(s.backend),
		corpus.WithIndexerLogger(logger),
	}
	if cfg.Corpus.LockPath != "" {
		indexerOpts = append(indexerOpts, corpus.WithLockFile(cfg.Corpus.LockPath))
	}
	s.indexer = corpus.NewIndexer(s.registry, s.store,
		sparse.Params{K1: cfg.Sparse.K1, B: cfg.Sparse.B},
		sparse.NewStandardTokenizer(), indexerOpts...)

	pipelineOpts := []pipeline.Option{
		pipeline.WithMetrics(s.metrics),
		pipeline.WithLogger(logger),
	}
	if cfg.Rerank.Endpoint != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithReranker(
			collab.NewCrossEncoderClient(cfg.Rerank.Endpoint, "", cfg.Rerank.Timeout, logger)))
	}
	if cfg.Corrective.RefineEndpoint != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithRefiner(
			collab.NewRefinerClient(cfg.Corrective.RefineEndpoint, cfg.Corrective.Timeout, logger)))
	}
	if cfg.Corrective.FallbackEndpoint != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithFallback(
			collab.NewFallbackClient(cfg.Corrective.FallbackEndpoint, cfg.Rerank.TopKFinal,
				cfg.Corrective.Timeout, logger)))
	}

	s.pipeline = pipeline.New(cfg,
		pipeline.NewRegistrySearcher(s.registry),
		pipeline.NewDenseAdapter(s.backend),
		s.store, pipelineOpts...)

	return s, nil
}

// loadCorpus indexes every scope found in the corpus directory. A
// missing directory is not fatal; the service starts empty and waits
// for corpora to appear.
func (s *stack) loadCorpus(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.Corpus.Dir); os.IsNotExist(err) {
		s.logger.Warn("corpus_dir_missing", slog.String("dir", s.cfg.Corpus.Dir))
		return nil
	}

	n, err := s.indexer.ReindexDir(ctx, s.cfg.Corpus.Dir)
	if err != nil {
		return fmt.Errorf("index corpus directory %s: %w", s.cfg.Corpus.Dir, err)
	}
	s.logger.Info("corpus_loaded",
		slog.String("dir", s.cfg.Corpus.Dir),
		slog.Int("scopes", n))
	return nil
}

// close releases backends in reverse acquisition order.
func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
}
