package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/reservoir-etl/internal/adapter/archive"
	httpadapter "github.com/couchcryptid/reservoir-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/reservoir-etl/internal/adapter/kafka"
	"github.com/couchcryptid/reservoir-etl/internal/adapter/miteco"
	"github.com/couchcryptid/reservoir-etl/internal/adapter/postgres"
	"github.com/couchcryptid/reservoir-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/reservoir-etl/internal/adapter/tabular"
	"github.com/couchcryptid/reservoir-etl/internal/config"
	"github.com/couchcryptid/reservoir-etl/internal/domain"
	"github.com/couchcryptid/reservoir-etl/internal/observability"
	"github.com/couchcryptid/reservoir-etl/internal/pipeline"
)

type snapshotStore interface {
	pipeline.Store
	Close() error
}

func main() {
	serve := flag.Bool("serve", false, "keep the ops HTTP server running after the run until SIGINT/SIGTERM")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var overrides []domain.Alias
	if cfg.ColumnAliasesFile != "" {
		overrides, err = domain.LoadAliases(cfg.ColumnAliasesFile)
		if err != nil {
			logger.Error("failed to load column aliases", "path", cfg.ColumnAliasesFile, "error", err)
			os.Exit(1)
		}
		logger.Info("column alias overrides loaded", "path", cfg.ColumnAliasesFile, "count", len(overrides))
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}

	stages := pipeline.Stages{
		Locator:     miteco.NewLocator(cfg.LandingURL, cfg.FallbackURL, cfg.ArchivePattern, cfg.LocateTimeout, logger, metrics),
		Fetcher:     miteco.NewFetcher(cfg.FetchTimeout, cfg.MaxArchiveBytes, logger),
		Extractor:   archive.NewExtractor(logger),
		Parser:      tabular.NewParser(tabular.ExecRunner{}, tabular.MDBTools{TablesBin: cfg.MDBTablesBin, ExportBin: cfg.MDBExportBin}, logger),
		Transformer: pipeline.NewTransformer(logger, overrides...),
		Store:       store,
	}

	var notifier *kafkaadapter.Notifier
	if cfg.KafkaEnabled {
		notifier = kafkaadapter.NewNotifier(cfg, logger)
		stages.Notifier = notifier
		logger.Info("snapshot notifications enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(stages, logger, metrics)

	var srv *httpadapter.Server
	if *serve {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, store, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	_, runErr := p.RunOnce(ctx)

	if srv != nil && ctx.Err() == nil {
		logger.Info("run finished, serving ops endpoints until signalled")
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka notifier close error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	if runErr != nil {
		var toolingErr *domain.ToolingUnavailableError
		if errors.As(runErr, &toolingErr) {
			logger.Error("legacy database tooling missing", "tool", toolingErr.Tool, "guidance", toolingErr.Guidance)
		}
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (snapshotStore, error) {
	if cfg.DatabaseURL != "" {
		logger.Info("using postgres snapshot store")
		return postgres.Open(ctx, cfg.DatabaseURL)
	}
	logger.Info("using sqlite snapshot store", "path", cfg.SQLitePath())
	return sqlite.Open(ctx, cfg.SQLitePath())
}
