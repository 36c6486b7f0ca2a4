package models

import "time"

// Fetch job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobPaused    = "paused"
)

// Per-service statuses within a fetch job.
const (
	ServicePending   = "pending"
	ServiceRunning   = "running"
	ServiceCompleted = "completed"
	ServiceFailed    = "failed"
)

// FetchJob tracks one extraction run over the services of an organization.
type FetchJob struct {
	ID            string                      `json:"id"`
	OrgID         string                      `json:"org_id"`
	StartedAt     time.Time                   `json:"started_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	CompletedAt   *time.Time                  `json:"completed_at,omitempty"`
	Status        string                      `json:"status"`
	TotalServices int                         `json:"total_services"`
	Services      map[string]*ServiceJobState `json:"services"`
	Error         *JobError                   `json:"error,omitempty"`
}

// ServiceJobState is the progress of a single service inside a FetchJob.
type ServiceJobState struct {
	Status         string     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	VariablesCount *int       `json:"variables_count,omitempty"`
}

// JobError is a job-level failure, as opposed to a per-service one.
type JobError struct {
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
	ServiceID  string    `json:"service_id,omitempty"`
}
