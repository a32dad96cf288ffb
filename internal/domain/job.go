package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string      `json:"source_type"`
	WebhookURL string      `json:"webhook_url,omitempty"`
	ObjectKey  string      `json:"object_key,omitempty"`
	Format     string      `json:"format"`
	Quality    int         `json:"quality,omitempty"`
	Resize     *ResizeSpec `json:"resize,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	Format     Format
	Quality    int
	Resize     *ResizeSpec
	Result     *ConversionResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if strings.TrimSpace(r.Format) == "" {
		return errors.New("format is required")
	}
	if _, err := ParseFormat(r.Format); err != nil {
		return err
	}
	if r.Quality < 0 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", r.Quality)
	}
	if r.Resize != nil {
		if r.Resize.Width < 0 || r.Resize.Height < 0 {
			return errors.New("resize dimensions must not be negative")
		}
	}
	return nil
}

// ConversionRequest builds the pipeline request for a job whose source lives at path.
func (j Job) ConversionRequest(path string) ConversionRequest {
	return ConversionRequest{
		SourcePath: path,
		Format:     j.Format,
		Quality:    j.Quality,
		Resize:     j.Resize,
	}
}
