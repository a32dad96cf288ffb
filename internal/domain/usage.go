package domain

import "time"

// UsageLog is one billable conversion.
type UsageLog struct {
	UserID          string
	JobID           string
	Format          Format
	SourceBytes     int64
	OutputBytes     int64
	PixelsProcessed int64
	ComputeTime     time.Duration
	CreatedAt       time.Time
}

// NewUsageLog builds the usage record for a successful conversion.
func NewUsageLog(userID, jobID string, format Format, sourceBytes int64, result ConversionResult, computeTime time.Duration, at time.Time) UsageLog {
	if userID == "" {
		userID = "anonymous"
	}
	return UsageLog{
		UserID:          userID,
		JobID:           jobID,
		Format:          format,
		SourceBytes:     sourceBytes,
		OutputBytes:     result.OutputBytes,
		PixelsProcessed: int64(result.Width) * int64(result.Height),
		ComputeTime:     computeTime,
		CreatedAt:       at.UTC(),
	}
}

// BytesSaved is never negative; conversions that grow the file save nothing.
func (u UsageLog) BytesSaved() int64 {
	return max(0, u.SourceBytes-u.OutputBytes)
}

// ComputeTimeMS rounds up to at least one millisecond.
func (u UsageLog) ComputeTimeMS() int64 {
	return max(1, u.ComputeTime.Milliseconds())
}
