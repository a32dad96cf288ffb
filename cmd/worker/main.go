package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/imageconv/internal/config"
	"github.com/dunamismax/imageconv/internal/pipeline"
	"github.com/dunamismax/imageconv/internal/storage"
	"github.com/dunamismax/imageconv/internal/store"
	"github.com/dunamismax/imageconv/internal/telemetry"
	"github.com/dunamismax/imageconv/internal/webhook"
	"github.com/dunamismax/imageconv/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup: %v", err)
	}
	defer pipeline.Shutdown()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageconv-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s runtime=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		pipeline.Runtime,
	)

	if err := os.MkdirAll(cfg.Convert.OutputDir, 0o755); err != nil {
		logger.Fatalf("create output dir: %v", err)
	}
	converter := pipeline.NewConverter(logger, pipeline.Config{
		OutputDir:      cfg.Convert.OutputDir,
		MaxSourceBytes: cfg.Convert.MaxSourceBytes,
	})

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	var jobStore store.JobStore
	if strings.EqualFold(cfg.Database.Driver, "postgres") {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("job store: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("using in-memory job store; job status is not shared with the api")
		jobStore = store.NewMemoryJobStore()
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, converter, storageClient, webhookClient, jobStore, nil)
	if err != nil {
		logger.Fatalf("build worker: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
