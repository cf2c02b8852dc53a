package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/retrieval/internal/config"
	"github.com/lorekeep/retrieval/internal/corpus"
	"github.com/lorekeep/retrieval/internal/httpapi"
	"github.com/lorekeep/retrieval/internal/mcp"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Index the corpus and serve the retrieval API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.loadCorpus(ctx); err != nil {
		return err
	}

	server := httpapi.New(cfg.Server, s.pipeline, s.registry, s.store, s.metrics, logger,
		httpapi.WithReindexer(s.indexer, cfg.Corpus.Dir))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Corpus.Watch {
		watcher, err := corpus.NewWatcher(cfg.Corpus.Dir, cfg.Corpus.WatchDebounce, s.indexer, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if cfg.Server.MCPTransport == "stdio" {
		mcpServer := mcp.NewServer(s.pipeline, s.registry, s.store, logger,
			mcp.WithReindexer(s.indexer, cfg.Corpus.Dir))
		g.Go(func() error {
			if err := mcpServer.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	logger.Info("retrievald_started",
		slog.String("http_addr", cfg.Server.HTTPAddr),
		slog.String("dense_mode", cfg.Dense.Mode),
		slog.Bool("corpus_watch", cfg.Corpus.Watch))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("retrievald_stopped")
	return nil
}
