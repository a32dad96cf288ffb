package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/imageconv/internal/api"
	"github.com/dunamismax/imageconv/internal/config"
	"github.com/dunamismax/imageconv/internal/pipeline"
	"github.com/dunamismax/imageconv/internal/queue"
	"github.com/dunamismax/imageconv/internal/ratelimit"
	"github.com/dunamismax/imageconv/internal/storage"
	"github.com/dunamismax/imageconv/internal/store"
	"github.com/dunamismax/imageconv/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageconv-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.EnqueueOptions())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	opts := api.Options{
		Queue:        queueClient,
		Images:       pipeline.NewConverter(logger, pipeline.Config{OutputDir: cfg.Convert.OutputDir, MaxSourceBytes: cfg.Convert.MaxSourceBytes}),
		UserIDHeader: cfg.API.UserIDHeader,
		PresignTTL:   cfg.API.PresignTTL,
		FileRoot:     cfg.API.FileRoot,
		Tracer:       otel.Tracer("imageconv/api"),
	}

	if cfg.API.RateLimitRequests > 0 {
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitRequests, cfg.API.RateLimitWindow, "")
		if err != nil {
			logger.Fatalf("rate limiter: %v", err)
		}
		opts.RateLimiter = limiter
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := storageClient.EnsureBucket(bucketCtx); err != nil {
			logger.Printf("object storage disabled: %v", err)
		} else {
			opts.Storage = storageClient
		}
		cancel()
	}

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()
	opts.Jobs = jobStore

	app, err := api.NewServer(logger, opts)
	if err != nil {
		logger.Fatalf("build server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s runtime=%s", cfg.API.Addr, pipeline.Runtime)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if strings.EqualFold(cfg.Driver, "postgres") {
		pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
		if err != nil {
			logger.Fatalf("job store: %v", err)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Printf("job store close error: %v", err)
			}
		}
	}
	logger.Printf("using in-memory job store")
	return store.NewMemoryJobStore(), func() {}
}
