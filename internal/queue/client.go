package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	DefaultMaxRetry    = 3
	DefaultTaskTimeout = 5 * time.Minute
	DefaultRetention   = 24 * time.Hour
)

// ErrAlreadyQueued is returned when a job's conversion task already exists.
var ErrAlreadyQueued = errors.New("job is already queued")

type Options struct {
	Name        string
	MaxRetry    int
	TaskTimeout time.Duration
	// Retention keeps completed tasks visible for inspection.
	Retention time.Duration
}

type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts.withDefaults(),
	}
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	} else if o.MaxRetry == 0 {
		o.MaxRetry = DefaultMaxRetry
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	if o.Retention < 0 {
		o.Retention = 0
	} else if o.Retention == 0 {
		o.Retention = DefaultRetention
	}
	return o
}

func (c *Client) Queue() string {
	return c.opts.Name
}

// EnqueueConvertImage schedules the conversion for payload.JobID. The job ID
// doubles as the task ID, so a job can only be queued once.
func (c *Client) EnqueueConvertImage(ctx context.Context, payload ConvertImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.opts.enqueueOptions(payload.JobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, payload.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TypeConvertImage, err)
	}
	return info, nil
}

func (o Options) enqueueOptions(jobID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(o.Name),
		asynq.MaxRetry(o.MaxRetry),
		asynq.Timeout(o.TaskTimeout),
	}
	if jobID != "" {
		opts = append(opts, asynq.TaskID(jobID))
	}
	if o.Retention > 0 {
		opts = append(opts, asynq.Retention(o.Retention))
	}
	return opts
}

func (c *Client) Close() error {
	return c.client.Close()
}
