package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
	"github.com/joseph-ayodele/protocol-pilot/internal/export"
	"github.com/joseph-ayodele/protocol-pilot/internal/ingest"
	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/pipeline"
	"github.com/joseph-ayodele/protocol-pilot/internal/repository"
	"github.com/joseph-ayodele/protocol-pilot/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifacts.NewStore(cfg.Artifacts.DataRoot, logger)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	db, err := repository.Open(ctx, cfg.Database, cfg.Artifacts.DataRoot, logger)
	if err != nil {
		logger.Error("job registry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("registry close error", "error", err)
		}
	}()
	jobs := repository.NewJobRepository(db, logger)

	proposer := llm.NewClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
	}, logger)

	loop := pipeline.NewLoop(
		cfg.Loop,
		store,
		pipeline.NewTriageStage(proposer, logger),
		pipeline.NewExtractStage(proposer, logger),
		pipeline.NewAdjudicateStage(proposer, logger),
		jobs,
		logger,
	)
	exporter := export.NewService(store, logger)
	srv := server.New(store, jobs, loop, exporter, logger)

	if cfg.Ingest.WatchDir != "" {
		watcher := ingest.NewWatcher(cfg.Ingest.WatchDir, cfg.Ingest.Debounce, srv, logger)
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ingest watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.HTTPAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
