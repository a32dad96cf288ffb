package id

import "github.com/google/uuid"

// New returns a time-ordered (version 7) UUID string, so job IDs and output
// file names sort by creation time. It falls back to a random v4 UUID.
func New() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.NewString()
}
