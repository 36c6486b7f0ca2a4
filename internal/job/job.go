// Package job implements the fetch job state machine: one job per
// extraction run over an organization's services, with per-service
// progress that survives interruption and can be resumed.
package job

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/almanac/internal/models"
)

// ErrNotResumable is returned by PrepareForResume when the job has nothing
// left to run or is still running.
var ErrNotResumable = errors.New("job is not resumable")

// InterruptedError is recorded on services that were running when their
// job was paused.
const InterruptedError = "interrupted"

// ValidTransitions maps each service status to its valid next statuses.
// Re-entering the same status is always allowed and only refreshes
// timestamps. failed → pending happens through PrepareForResume.
var ValidTransitions = map[string][]string{
	models.ServicePending: {models.ServiceRunning, models.ServiceCompleted, models.ServiceFailed},
	models.ServiceRunning: {models.ServiceCompleted, models.ServiceFailed},
	models.ServiceFailed:  {models.ServicePending},
}

// Details carries the optional outcome of a service status update.
type Details struct {
	Error          string
	VariablesCount *int
}

// Summary counts services by status.
type Summary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// New creates a running job with every service pending. It has no side
// effects; persist it with Save.
func New(orgID string, serviceIDs []string) *models.FetchJob {
	now := time.Now()
	services := make(map[string]*models.ServiceJobState, len(serviceIDs))
	for _, id := range serviceIDs {
		services[id] = &models.ServiceJobState{Status: models.ServicePending}
	}
	return &models.FetchJob{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		StartedAt:     now,
		UpdatedAt:     now,
		Status:        models.JobRunning,
		TotalServices: len(services),
		Services:      services,
	}
}

// isValidTransition checks whether moving from one service status to
// another is allowed.
func isValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateServiceStatus moves one service to status. Entering running stamps
// StartedAt once; entering completed or failed stamps CompletedAt and
// records the details. Services not yet in the job are added as pending
// first.
func UpdateServiceStatus(j *models.FetchJob, serviceID, status string, d Details) error {
	if j.Services == nil {
		j.Services = make(map[string]*models.ServiceJobState)
	}
	svc, ok := j.Services[serviceID]
	if !ok {
		svc = &models.ServiceJobState{Status: models.ServicePending}
		j.Services[serviceID] = svc
		j.TotalServices = len(j.Services)
	}
	if !isValidTransition(svc.Status, status) {
		return fmt.Errorf("job: service %s: invalid transition %s → %s", serviceID, svc.Status, status)
	}

	now := time.Now()
	svc.Status = status
	switch status {
	case models.ServiceRunning:
		if svc.StartedAt == nil {
			svc.StartedAt = &now
		}
	case models.ServiceCompleted, models.ServiceFailed:
		svc.CompletedAt = &now
		svc.Error = d.Error
		if d.VariablesCount != nil {
			n := *d.VariablesCount
			svc.VariablesCount = &n
		}
	}
	j.UpdatedAt = now
	return nil
}

// Complete finalizes the job status from its services: failed when any
// service failed and nothing is left pending, completed when every service
// completed, paused otherwise.
func Complete(j *models.FetchJob) {
	s := Summarize(j)
	now := time.Now()
	switch {
	case j.Error != nil:
		j.Status = models.JobFailed
	case s.Failed > 0 && s.Pending == 0 && s.Running == 0:
		j.Status = models.JobFailed
	case s.Completed == s.Total:
		j.Status = models.JobCompleted
	default:
		j.Status = models.JobPaused
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Pause marks an interrupted job: every running service becomes failed
// with InterruptedError and the job becomes paused.
func Pause(j *models.FetchJob) {
	now := time.Now()
	for _, svc := range j.Services {
		if svc.Status == models.ServiceRunning {
			svc.Status = models.ServiceFailed
			svc.Error = InterruptedError
			svc.CompletedAt = &now
		}
	}
	j.Status = models.JobPaused
	j.UpdatedAt = now
}

// RecordError attaches a job-level error and fails the job.
func RecordError(j *models.FetchJob, message, serviceID string) {
	now := time.Now()
	j.Error = &models.JobError{Message: message, OccurredAt: now, ServiceID: serviceID}
	j.Status = models.JobFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// ResumableServices returns the failed and pending services, sorted.
func ResumableServices(j *models.FetchJob) []string {
	var ids []string
	for id, svc := range j.Services {
		if svc.Status == models.ServiceFailed || svc.Status == models.ServicePending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CanResume reports whether the job is unfinished and has a pending or
// failed service. A live run is kept from resuming by the caller's lock.
func CanResume(j *models.FetchJob) bool {
	if j == nil || j.Status == models.JobCompleted {
		return false
	}
	return len(ResumableServices(j)) > 0
}

// PrepareForResume resets failed services to fresh pending entries,
// clears the job error and marks the job running again. It returns the
// services that will run.
func PrepareForResume(j *models.FetchJob) ([]string, error) {
	if !CanResume(j) {
		return nil, fmt.Errorf("job: %s (%s): %w", j.ID, j.Status, ErrNotResumable)
	}
	ids := ResumableServices(j)
	for _, id := range ids {
		j.Services[id] = &models.ServiceJobState{Status: models.ServicePending}
	}
	j.Status = models.JobRunning
	j.Error = nil
	j.CompletedAt = nil
	j.UpdatedAt = time.Now()
	return ids, nil
}

// Summarize counts the job's services by status.
func Summarize(j *models.FetchJob) Summary {
	s := Summary{Total: len(j.Services)}
	for _, svc := range j.Services {
		switch svc.Status {
		case models.ServicePending:
			s.Pending++
		case models.ServiceRunning:
			s.Running++
		case models.ServiceCompleted:
			s.Completed++
		case models.ServiceFailed:
			s.Failed++
		}
	}
	return s
}

// TotalVariables sums the variable counts of completed services.
func TotalVariables(j *models.FetchJob) int {
	total := 0
	for _, svc := range j.Services {
		if svc.VariablesCount != nil {
			total += *svc.VariablesCount
		}
	}
	return total
}
