package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openairdata/enviro-etl/internal/adapter/eea"
	httpadapter "github.com/openairdata/enviro-etl/internal/adapter/http"
	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/adapter/vocab"
	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
	"github.com/openairdata/enviro-etl/internal/config"
	"github.com/openairdata/enviro-etl/internal/dataset"
	"github.com/openairdata/enviro-etl/internal/observability"
	"github.com/openairdata/enviro-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := warehouse.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("warehouse connection failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema setup failed", "error", err)
		os.Exit(1)
	}

	// Vocabulary files are required for every downstream stage; a missing
	// file is a startup failure, not a skippable one.
	vocabulary, err := vocab.Load(cfg.VocabDir)
	if err != nil {
		logger.Error("vocabulary load failed", "dir", cfg.VocabDir, "error", err)
		os.Exit(1)
	}
	units, err := vocab.LoadMeasureUnits(cfg.VocabDir)
	if err != nil {
		logger.Error("measure unit vocabulary load failed", "dir", cfg.VocabDir, "error", err)
		os.Exit(1)
	}

	client := eea.NewClient(cfg.EEAAPIURL, cfg.DownloadTimeout, logger)
	tree := staging.NewTree(cfg.StagingDir)

	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewCatalog(client, logger),
		pipeline.NewLinkFetcher(client, tree, logger, metrics, cfg.DiscoveryDelay),
		pipeline.NewDownloader(tree, cfg.DownloadWorkers, cfg.DownloadTimeout, logger, metrics),
		pipeline.NewNormalizer(tree, vocabulary, store, cfg.NormalizeWorkers, logger, metrics),
		vocabulary,
		units,
		store,
		pipeline.SelectedDatasets(cfg.Dataset1, cfg.Dataset2, cfg.Dataset3),
		logger,
		metrics,
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, orchestrator, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer stop()
		runImporters(ctx, cfg, store, logger)
		if err := orchestrator.Run(ctx); err != nil {
			logger.Error("air quality pipeline failed", "error", err)
			return
		}
		logger.Info("ingestion run complete")
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// runImporters loads the supplementary datasets ahead of the air quality
// run. The country registry they build is what air measurements join
// against, so order matters; a failed importer is logged and the run moves
// on with whatever reference data exists.
func runImporters(ctx context.Context, cfg *config.Config, store *warehouse.Store, logger *slog.Logger) {
	owid := dataset.NewOWIDImporter(filepath.Join(cfg.DataDir, "OWID"), store, logger)
	if err := owid.Run(ctx); err != nil {
		logger.Error("OWID import failed", "error", err)
	}

	who := dataset.NewWHOImporter(filepath.Join(cfg.DataDir, "WHO_HFA"), store, logger)
	if err := who.Run(ctx); err != nil {
		logger.Error("WHO import failed", "error", err)
	}

	edgar := dataset.NewEDGARImporter(filepath.Join(cfg.DataDir, "EDGAR_Emissions", "data"), nil, store, logger)
	if err := edgar.Run(ctx); err != nil {
		logger.Error("EDGAR import failed", "error", err)
	}
}
