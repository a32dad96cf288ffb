package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeConvertImage = "image:convert"

type ConvertImagePayload struct {
	JobID       string             `json:"job_id"`
	SourceType  string             `json:"source_type"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	ObjectKey   string             `json:"object_key"`
	Format      domain.Format      `json:"format"`
	Quality     int                `json:"quality,omitempty"`
	Resize      *domain.ResizeSpec `json:"resize,omitempty"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewConvertImageTask(payload ConvertImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertImage, body), nil
}

func ParseConvertImagePayload(task *asynq.Task) (ConvertImagePayload, error) {
	var payload ConvertImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertImagePayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}

// PayloadForJob captures everything the worker needs to run job.
func PayloadForJob(job domain.Job) ConvertImagePayload {
	return ConvertImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Format:      job.Format,
		Quality:     job.Quality,
		Resize:      job.Resize,
		RequestedAt: time.Now().UTC(),
	}
}

// ConversionRequest builds the pipeline request for a source staged at path.
func (p ConvertImagePayload) ConversionRequest(path string) domain.ConversionRequest {
	return domain.ConversionRequest{
		SourcePath: path,
		Format:     p.Format,
		Quality:    p.Quality,
		Resize:     p.Resize,
	}
}
