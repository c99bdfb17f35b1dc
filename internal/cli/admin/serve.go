package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/api/handlers"
	"github.com/cloo-solutions/policyrag/internal/config"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/jobs"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/server"
	"github.com/cloo-solutions/policyrag/internal/storage"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
)

const downloadTimeout = 60 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the policyrag API server: load policy documents, then answer search and question requests over HTTP.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides POLICYRAG_PORT)")
	cmd.Flags().StringP("documents", "d", "", "Directory of policy documents to load at startup (overrides POLICYRAG_DOCUMENTS_DIR)")
	cmd.Flags().Bool("watch", false, "Ingest documents written into the documents directory while running")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

// applyServeFlags lets explicitly set flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetString("port")
	}
	if cmd.Flags().Changed("documents") {
		cfg.DocumentsDir, _ = cmd.Flags().GetString("documents")
	}
	if cmd.Flags().Changed("watch") {
		cfg.WatchDocuments, _ = cmd.Flags().GetBool("watch")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger, err := logging.New(logging.Config{Format: cfg.LogFormat, Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.HasSentry() {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		}, logger)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	eng, err := newEngine(ctx, cfg, logger, engineOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.loadDocuments(ctx, cfg.DocumentsDir); err != nil {
		return err
	}

	var (
		archive    handlers.DocumentArchive
		syncMarker handlers.SyncMarker
		syncWorker *jobs.Worker
	)
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("S3 bucket ready", zap.String("bucket", s3Client.Bucket()))

		bucketSync := jobs.NewBucketSync(s3Client, eng.extractor, eng.corpus, logger)
		archive = s3Client
		syncMarker = bucketSync

		if cfg.S3SyncInterval > 0 {
			syncWorker = jobs.NewWorker(bucketSync, cfg.S3SyncInterval, logger)
			go syncWorker.Start(ctx)
		} else if err := bucketSync.ProcessJobs(ctx); err != nil {
			return fmt.Errorf("failed to sync S3 bucket: %w", err)
		}
	}

	var watcher *jobs.DirectoryWatcher
	if cfg.WatchDocuments && cfg.DocumentsDir != "" {
		watcher, err = jobs.NewDirectoryWatcher(cfg.DocumentsDir, eng.extractor, eng.corpus, jobs.DefaultDebounce, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	router := server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(eng.corpus, eng.extractor, archive, syncMarker, logger),
		QueryHandler:    handlers.NewQueryHandler(eng.retriever, eng.answers),
		HackRxHandler: handlers.NewHackRxHandler(extract.NewFetcher(downloadTimeout, 0), eng.extractor, eng.corpus, eng.answers, logger,
			handlers.WithRetainedRunDocuments(cfg.HackRxRetainedDocuments)),
		AdminHandler: newAdminHandler(eng),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("shutting down")

	if watcher != nil {
		watcher.Stop()
	}
	if syncWorker != nil {
		syncWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// newAdminHandler avoids handing a typed nil repository to the handler.
func newAdminHandler(eng *engine) *handlers.AdminHandler {
	if eng.queryLogs == nil {
		return handlers.NewAdminHandler(eng.corpus, nil)
	}
	return handlers.NewAdminHandler(eng.corpus, eng.queryLogs)
}
