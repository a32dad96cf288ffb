package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/imageconv/internal/config"
	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/dunamismax/imageconv/internal/pipeline"
	"github.com/dunamismax/imageconv/internal/queue"
	"github.com/dunamismax/imageconv/internal/storage"
	"github.com/dunamismax/imageconv/internal/store"
	"github.com/dunamismax/imageconv/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errStorageUnavailable = errors.New("object storage is unavailable")

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	converter     converter
	storage       objectStore
	scratchDir    string
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type converter interface {
	Convert(ctx context.Context, req domain.ConversionRequest) domain.ConversionResult
}

type objectStore interface {
	DownloadToFile(ctx context.Context, objectKey, localPath string) error
	UploadFile(ctx context.Context, objectKey, localPath, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires the asynq consumer. storageClient and webhookClient may be
// nil; jobs that need them then fail without retry.
func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	conv *pipeline.Converter,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if conv == nil {
		return nil, fmt.Errorf("converter is required")
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		converter:  conv,
		scratchDir: workerCfg.ScratchDir,
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("imageconv/worker"),
	}
	if storageClient != nil {
		s.storage = storageClient
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertImage, s.handleConvertImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	format := payload.Format.String()

	ctx, span := s.tracer.Start(ctx, "worker.convert_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("conversion.format", format),
	)
	defer span.End()

	// A retry after the conversion already succeeded only redelivers the
	// completion webhook.
	if job, ok := s.completedJob(ctx, payload.JobID); ok {
		s.logger.Printf("Redelivering completion job_id=%s", payload.JobID)
		span.SetAttributes(attribute.Bool("job.redelivery", true))
		if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, completedBody(payload, *job.Result, job.UpdatedAt)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "webhook dispatch failed")
			return err
		}
		span.SetStatus(codes.Ok, "redelivered")
		return nil
	}

	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s format=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		format,
		payload.ObjectKey,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	sourcePath, cleanup, err := s.stageSource(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage source failed")
		if errors.Is(err, asynq.SkipRetry) || finalAttempt(ctx) {
			s.failJob(ctx, payload, domain.ConversionResult{Message: err.Error(), Err: err})
		}
		return fmt.Errorf("stage source: %w", err)
	}
	defer cleanup()

	var sourceBytes int64
	if info, err := os.Stat(sourcePath); err == nil {
		sourceBytes = info.Size()
	}

	result := s.converter.Convert(ctx, payload.ConversionRequest(sourcePath))
	if !result.Success {
		kind := pipeline.ErrorKind(result.Err)
		s.metrics.conversionsTotal.WithLabelValues(format, "failed").Inc()
		s.metrics.conversionErrors.WithLabelValues(kind).Inc()
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, kind)
		s.failJob(ctx, payload, result)
		return fmt.Errorf("convert job %s: %s: %w", payload.JobID, result.Message, asynq.SkipRetry)
	}
	if result.Err != nil {
		s.metrics.conversionErrors.WithLabelValues(pipeline.ErrorKind(result.Err)).Inc()
	}

	if payload.SourceType == domain.SourceTypeS3Presigned {
		objectKey := storage.OutputKey(payload.JobID, result.FileName)
		if err := s.storage.UploadFile(ctx, objectKey, result.FilePath, payload.Format.MIMEType()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			if finalAttempt(ctx) {
				s.failJob(ctx, payload, domain.ConversionResult{Message: err.Error(), Err: err})
			}
			return fmt.Errorf("upload output: %w", err)
		}
		result.ObjectKey = objectKey
	}

	s.logger.Printf("Converted job_id=%s file=%s bytes=%d size=%dx%d", payload.JobID, result.FileName, result.OutputBytes, result.Width, result.Height)
	s.metrics.conversionsTotal.WithLabelValues(format, "succeeded").Inc()
	s.metrics.outputBytes.WithLabelValues(format).Observe(float64(result.OutputBytes))
	s.saveResult(ctx, payload.JobID, domain.JobStatusSucceeded, result)
	s.recordUsage(ctx, payload, sourceBytes, result, time.Since(startedAt))

	outcome = domain.JobStatusSucceeded
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, completedBody(payload, result, time.Now())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	span.SetStatus(codes.Ok, "converted")
	return nil
}

// stageSource returns a local path for the job's source and a cleanup func.
func (s *Server) stageSource(ctx context.Context, payload queue.ConvertImagePayload) (string, func(), error) {
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		return payload.ObjectKey, func() {}, nil
	case domain.SourceTypeS3Presigned:
		if s.storage == nil {
			return "", nil, fmt.Errorf("%w: %w", errStorageUnavailable, asynq.SkipRetry)
		}
		f, err := os.CreateTemp(s.scratchDir, "imageconv-source-*")
		if err != nil {
			return "", nil, fmt.Errorf("create scratch file: %w", err)
		}
		path := f.Name()
		_ = f.Close()

		cleanup := func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Printf("scratch cleanup failed path=%s err=%v", path, err)
			}
		}
		if err := s.storage.DownloadToFile(ctx, payload.ObjectKey, path); err != nil {
			cleanup()
			return "", nil, err
		}
		return path, cleanup, nil
	default:
		return "", nil, fmt.Errorf("unsupported source_type %q: %w", payload.SourceType, asynq.SkipRetry)
	}
}

func (s *Server) failJob(ctx context.Context, payload queue.ConvertImagePayload, result domain.ConversionResult) {
	result.Success = false
	s.saveResult(ctx, payload.JobID, domain.JobStatusFailed, result)
	_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"format":       payload.Format.String(),
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        result.Message,
		"error_kind":   pipeline.ErrorKind(result.Err),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) saveResult(ctx context.Context, jobID, status string, result domain.ConversionResult) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResult(ctx, jobID, status, result); err != nil {
		s.logger.Printf("job result save failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		if errors.Is(err, webhook.ErrPermanent) {
			return fmt.Errorf("dispatch webhook: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

// completedJob returns the job when a previous attempt already stored a
// successful result for it.
func (s *Server) completedJob(ctx context.Context, jobID string) (domain.Job, bool) {
	if s.jobStore == nil {
		return domain.Job{}, false
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil || !ok {
		return domain.Job{}, false
	}
	if job.Status != domain.JobStatusSucceeded || job.Result == nil {
		return domain.Job{}, false
	}
	return job, true
}

func completedBody(payload queue.ConvertImagePayload, result domain.ConversionResult, completedAt time.Time) map[string]any {
	return map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"format":       payload.Format.String(),
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": completedAt.UTC(),
		"result":       webhookResult(result),
	}
}

// webhookResult is the result as delivered to webhooks. The preview is left out.
func webhookResult(result domain.ConversionResult) map[string]any {
	return map[string]any{
		"message":      result.Message,
		"file_name":    result.FileName,
		"file_path":    result.FilePath,
		"object_key":   result.ObjectKey,
		"width":        result.Width,
		"height":       result.Height,
		"output_bytes": result.OutputBytes,
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ConvertImagePayload, sourceBytes int64, result domain.ConversionResult, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	var userID string
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	usage := domain.NewUsageLog(userID, payload.JobID, payload.Format, sourceBytes, result, computeDuration, time.Now())
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved()))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS()))
}

// finalAttempt reports whether asynq will not retry the current task. Outside
// a task context every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
