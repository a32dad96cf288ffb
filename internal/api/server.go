package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/dunamismax/imageconv/internal/id"
	"github.com/dunamismax/imageconv/internal/pipeline"
	"github.com/dunamismax/imageconv/internal/queue"
	"github.com/dunamismax/imageconv/internal/storage"
	"github.com/dunamismax/imageconv/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

var (
	errMissingPath = errors.New("path is required")
	errOutsideRoot = errors.New("path is outside the allowed file root")
)

type Server struct {
	logger                *log.Logger
	queueClient           QueueEnqueuer
	jobStore              store.JobStore
	storage               ObjectStorage
	images                ImageService
	presignTTL            time.Duration
	fileRoot              string
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type QueueEnqueuer interface {
	EnqueueConvertImage(ctx context.Context, payload queue.ConvertImagePayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// ImageService is the part of the conversion pipeline the API exposes directly.
type ImageService interface {
	Inspect(path string) (domain.ImageInfo, error)
	PreviewFile(path string) (string, error)
}

type Options struct {
	Queue        QueueEnqueuer
	Jobs         store.JobStore
	Storage      ObjectStorage
	Images       ImageService
	RateLimiter  RateLimiter
	UserIDHeader string
	PresignTTL   time.Duration
	// FileRoot confines path-based endpoints and local_file jobs when set.
	FileRoot string
	Tracer   trace.Tracer
}

func NewServer(logger *log.Logger, opts Options) (*Server, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image service is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	objectStorage := opts.Storage
	if objectStorage == nil {
		objectStorage = unavailableObjectStorage{}
	}
	userIDHeader := strings.TrimSpace(opts.UserIDHeader)
	if userIDHeader == "" {
		userIDHeader = "X-User-ID"
	}

	fileRoot := strings.TrimSpace(opts.FileRoot)
	if fileRoot != "" {
		abs, err := filepath.Abs(fileRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve file root: %w", err)
		}
		if fileRoot, err = evalExisting(abs); err != nil {
			return nil, fmt.Errorf("resolve file root: %w", err)
		}
	}

	s := &Server{
		logger:                logger,
		queueClient:           opts.Queue,
		jobStore:              opts.Jobs,
		storage:               objectStorage,
		images:                opts.Images,
		presignTTL:            presignTTL,
		fileRoot:              fileRoot,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: userIDHeader,
		metrics:               newMetrics(),
		tracer:                opts.Tracer,
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/formats", s.handleFormats)
	s.mux.HandleFunc("GET /v1/images/info", s.handleImageInfo)
	s.mux.HandleFunc("GET /v1/images/preview", s.handleImagePreview)
	s.mux.HandleFunc("POST /v1/files/copy", s.handleCopyFile)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "runtime": pipeline.Runtime})
}

type formatInfo struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	MIMEType  string `json:"mime_type"`
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := domain.Formats()
	out := make([]formatInfo, 0, len(formats))
	for _, f := range formats {
		out = append(out, formatInfo{Name: f.String(), Extension: f.Extension(), MIMEType: f.MIMEType()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": out})
}

func (s *Server) handleImageInfo(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		writePathError(w, err)
		return
	}

	info, err := s.images.Inspect(path)
	s.metrics.observeImageOp("inspect", err)
	if err != nil {
		s.writePipelineError(w, "inspect", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleImagePreview(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		writePathError(w, err)
		return
	}

	preview, err := s.images.PreviewFile(path)
	s.metrics.observeImageOp("preview", err)
	if err != nil {
		s.writePipelineError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "preview": preview})
}

type copyFileRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *Server) handleCopyFile(w http.ResponseWriter, r *http.Request) {
	var req copyFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	src, err := s.resolvePath(req.Source)
	if err != nil {
		writePathError(w, fmt.Errorf("source: %w", err))
		return
	}
	dst, err := s.resolvePath(req.Destination)
	if err != nil {
		writePathError(w, fmt.Errorf("destination: %w", err))
		return
	}

	err = pipeline.CopyFile(src, dst)
	s.metrics.observeImageOp("copy", err)
	if err != nil {
		s.writePipelineError(w, "copy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "copied", "source": src, "destination": dst})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	switch sourceType {
	case domain.SourceTypeS3Presigned:
		objectKey = storage.UploadKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	case domain.SourceTypeLocalFile:
		objectKey, err = s.resolvePath(objectKey)
		if err != nil {
			writePathError(w, err)
			return
		}
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		ObjectKey:  objectKey,
		Format:     format,
		Quality:    req.Quality,
		Resize:     req.Resize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}
	s.metrics.jobsCreated.WithLabelValues(job.SourceType, job.Format.String()).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"format": job.Format,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job queue is unavailable"})
		return
	}

	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("job is already %s", job.Status)})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvertImage(r.Context(), queue.PayloadForJob(job))
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue, job.Format.String()).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type jobResponse struct {
	JobID      string                   `json:"job_id"`
	Status     string                   `json:"status"`
	SourceType string                   `json:"source_type"`
	ObjectKey  string                   `json:"object_key"`
	Format     domain.Format            `json:"format"`
	Quality    int                      `json:"quality,omitempty"`
	Resize     *domain.ResizeSpec       `json:"resize,omitempty"`
	Result     *domain.ConversionResult `json:"result,omitempty"`
	// DownloadURL is a presigned link to an output held in object storage.
	DownloadURL string    `json:"download_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		ObjectKey:  job.ObjectKey,
		Format:     job.Format,
		Quality:    job.Quality,
		Resize:     job.Resize,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.Result != nil {
		result := *job.Result
		if r.URL.Query().Get("preview") != "1" {
			result.Preview = ""
		}
		resp.Result = &result
		if result.ObjectKey != "" {
			url, err := s.storage.PresignedGetURL(r.Context(), result.ObjectKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("presign download failed for job %s: %v", job.ID, err)
			} else {
				resp.DownloadURL = url
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

// resolvePath cleans a client-supplied path and, when a file root is set,
// resolves it against the root and rejects anything that escapes it. Symlinks
// are followed before the check.
func (s *Server) resolvePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingPath
	}
	if s.fileRoot == "" {
		return filepath.Clean(raw), nil
	}

	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.fileRoot, path)
	}
	path, err := evalExisting(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(s.fileRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return path, nil
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// appends the missing remainder, so destinations that do not exist yet still
// resolve through their parent directory.
func evalExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	dir, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}

func writePathError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errOutsideRoot) {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writePipelineError(w http.ResponseWriter, op string, err error) {
	status := statusForPipelineError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s failed kind=%s err=%v", op, pipeline.ErrorKind(err), err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  pipeline.ErrorKind(err),
	})
}

func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrOversize):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrUnsupportedInput):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, pipeline.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
