package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgallion1/recordlens/internal/api"
	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/blobstore"
	"github.com/dgallion1/recordlens/internal/chunker"
	"github.com/dgallion1/recordlens/internal/config"
	"github.com/dgallion1/recordlens/internal/extract"
	"github.com/dgallion1/recordlens/internal/parser"
	"github.com/dgallion1/recordlens/internal/pipeline"
	"github.com/dgallion1/recordlens/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	rdb, err := store.Connect(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	st := store.New(rdb, store.Options{SessionTTL: cfg.SessionTTL, ResultTTL: cfg.ResultTTL})
	if err := st.Ping(ctx); err != nil {
		log.Warn("redis not reachable yet", "error", err)
	}

	var archive pipeline.Archive
	if cfg.S3.Bucket != "" {
		s3, err := blobstore.NewS3Archive(blobstore.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			log.Error("configure upload archive", "error", err)
			os.Exit(1)
		}
		archive = s3
		log.Info("archiving uploads in s3", "bucket", cfg.S3.Bucket)
	}

	completer, err := extract.NewCompleter(providerConfig(cfg))
	if err != nil {
		log.Error("configure llm", "error", err)
		os.Exit(1)
	}
	stats := extract.NewLLMStats(time.Hour)
	chunkCfg := chunker.DefaultConfig()
	chunkCfg.ChunkSize = cfg.ChunkSize
	llm := extract.NewService(completer, stats, log,
		extract.WithChunkConfig(chunkCfg),
		extract.WithMaxConcurrent(cfg.MaxConcurrentLLM),
	)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Error("configure auth", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(st, archive,
		&parser.Extractor{Options: parser.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext}},
		llm, log, pipeline.Options{
			WorkerCount:    cfg.WorkerCount,
			MaxQueueSize:   cfg.MaxQueueSize,
			MinUploadBytes: cfg.MinUploadBytes,
			MaxUploadBytes: cfg.MaxUploadBytes,
			StaleAfter:     cfg.StaleAfter,
		})
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, stats, st, verifier, log, api.Options{MaxUploadBytes: cfg.MaxUploadBytes})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		rdb.Close()
	}()

	log.Info("starting recordlens", "port", cfg.Port, "llm_provider", cfg.LLMProvider, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func providerConfig(cfg config.Config) extract.ProviderConfig {
	if strings.HasPrefix(strings.ToLower(cfg.LLMProvider), extract.ProviderOpenAI) {
		return extract.ProviderConfig{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.OpenAIModel,
			BaseURL:  cfg.OpenAIBaseURL,
		}
	}
	return extract.ProviderConfig{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.AnthropicAPIKey,
		Model:    cfg.AnthropicModel,
	}
}
