// Package aifallback retries messages the pattern extractor rejected with a
// language model, off the request path.
package aifallback

import (
	"time"

	"github.com/kharcha/reconciler/internal/domain"
)

// JobStatus is the lifecycle state of a fallback job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one message waiting for, or done with, a model parse.
type Job struct {
	ID          string         `json:"id"`
	Message     domain.Message `json:"message"`
	Status      JobStatus      `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`

	// Outcome is what the sink reported for a parsed transaction, or
	// "not_transaction" when the model declined it.
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
