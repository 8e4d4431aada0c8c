package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidscribe/vidscribe/internal/ai"
	"github.com/vidscribe/vidscribe/internal/api"
	"github.com/vidscribe/vidscribe/internal/config"
	"github.com/vidscribe/vidscribe/internal/db"
	"github.com/vidscribe/vidscribe/internal/ingest"
	"github.com/vidscribe/vidscribe/internal/logging"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/mux"
	"github.com/vidscribe/vidscribe/internal/videos"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting vidscribe",
		"version", config.Version,
		"commit", config.GitCommit,
		"ai_provider", cfg.AIProvider,
		"webhook_signatures", cfg.WebhookSignatureRequired(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseDSN, cfg.DatabaseRetries, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := videos.NewRepository(database.Conn(), database.Dialect())
	m := metrics.New()

	muxClient := mux.NewHTTPClient(mux.Config{
		BaseURL:     cfg.MuxAPIURL,
		StreamURL:   cfg.MuxStreamURL,
		TokenID:     cfg.MuxTokenID,
		TokenSecret: cfg.MuxTokenSecret,
		Timeout:     cfg.UpstreamTimeout,
		Metrics:     m,
	}, logging.WithComponent(logger, "mux"))

	completer, err := ai.NewCompleter(ai.Config{
		Provider: cfg.AIProvider,
		Model:    cfg.AIModel,
		APIKey:   cfg.AIAPIKey,
		APIURL:   cfg.AIAPIURL,
		Timeout:  cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	policy := mux.DefaultAssetPolicy()
	policy.CORSOrigin = cfg.UploadCORSOrigin
	policy.LanguageCode = cfg.TranscriptLanguage
	policy.SubtitleName = cfg.TranscriptName

	dispatcher := ingest.NewBackgroundDispatcher(cfg.EnrichmentTimeout, logging.WithComponent(logger, "dispatcher"))
	engine := ingest.NewEngine(completer, cfg.AIProvider, m, logger)
	pipeline := ingest.NewPipeline(repo, muxClient, engine, m, logger)
	router := ingest.NewRouter(repo, pipeline, dispatcher, m, logger)
	discovery := ingest.NewDiscovery(muxClient, repo, ingest.PollPolicy{
		SettleDelay: cfg.PollSettleDelay,
		Retries:     cfg.PollRetries,
		Interval:    cfg.PollInterval,
		Deadline:    cfg.PollDeadline,
	}, m, logger)
	issuer := ingest.NewIssuer(muxClient, repo, policy, logger)
	sweeper := ingest.NewSweeper(repo, pipeline, dispatcher, ingest.RetryPolicy{
		MaxAttempts: cfg.EnrichmentMaxAttempts,
		BaseDelay:   cfg.EnrichmentRetryBase,
		MaxDelay:    cfg.EnrichmentRetryMax,
		Lease:       cfg.EnrichmentTimeout,
	}, cfg.SweepInterval, m, logger)
	library := videos.NewService(repo, muxClient, logging.WithComponent(logger, "videos"))

	go sweeper.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Addr:          cfg.Addr(),
		Issuer:        issuer,
		Discovery:     discovery,
		Router:        router,
		Sweeper:       sweeper,
		Library:       library,
		DB:            database.Conn(),
		Metrics:       m,
		Logger:        logging.WithComponent(logger, "api"),
		APIToken:      cfg.APIToken,
		WebhookSecret: cfg.MuxWebhookSecret,
		ImageURL:      cfg.MuxImageURL,
		Version:       config.Version,
		StartTime:     startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("enrichment jobs still running at shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
