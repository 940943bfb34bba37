package models

import "time"

// Job is a persisted delayed task.
type Job struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	Ref         string     `json:"ref"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	RunAt       time.Time  `json:"run_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobRetry     = "retry"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)
