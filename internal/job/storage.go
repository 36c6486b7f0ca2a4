package job

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const (
	kind      = "job"
	indexKind = "job_latest"
)

// latestIndex points at the most recently started job of an organization.
type latestIndex struct {
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}

func jobKey(orgID, id string) store.Key {
	return store.Key{Kind: kind, OrgID: orgID, SubKey: id}
}

func indexKey(orgID string) store.Key {
	return store.Key{Kind: indexKind, OrgID: orgID}
}

// Save writes the job under its own ID and moves the organization's latest
// pointer to it unless a later-started job already holds it. Earlier jobs
// are never overwritten by a new run.
func Save(ctx context.Context, st store.Store, j *models.FetchJob) error {
	if _, err := store.PutJSON(ctx, st, jobKey(j.OrgID, j.ID), j, store.AnyVersion); err != nil {
		return fmt.Errorf("job: save %s: %w", j.ID, err)
	}
	_, err := store.Update(ctx, st, indexKey(j.OrgID), func(idx *latestIndex, exists bool) error {
		if exists && idx.JobID != j.ID && idx.StartedAt.After(j.StartedAt) {
			return nil
		}
		idx.JobID = j.ID
		idx.StartedAt = j.StartedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("job: update latest for %s: %w", j.OrgID, err)
	}
	return nil
}

// Get loads a job by ID.
func Get(ctx context.Context, st store.Store, orgID, id string) (*models.FetchJob, error) {
	var j models.FetchJob
	if _, err := store.GetJSON(ctx, st, jobKey(orgID, id), &j); err != nil {
		return nil, fmt.Errorf("job: get %s/%s: %w", orgID, id, err)
	}
	return &j, nil
}

// Latest loads the organization's most recent job.
func Latest(ctx context.Context, st store.Store, orgID string) (*models.FetchJob, error) {
	var idx latestIndex
	if _, err := store.GetJSON(ctx, st, indexKey(orgID), &idx); err != nil {
		return nil, fmt.Errorf("job: latest for %s: %w", orgID, err)
	}
	return Get(ctx, st, orgID, idx.JobID)
}

// LoadLatest is Latest with lazy interruption repair: a job that still
// claims to be running but has not been touched for staleAfter is paused
// and written back, so it becomes resumable. A zero staleAfter disables
// the repair.
func LoadLatest(ctx context.Context, st store.Store, orgID string, staleAfter time.Duration) (*models.FetchJob, error) {
	j, err := Latest(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	if staleAfter > 0 && j.Status == models.JobRunning && time.Since(j.UpdatedAt) > staleAfter {
		Pause(j)
		if err := Save(ctx, st, j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// List returns every stored job of the organization, newest first.
func List(ctx context.Context, st store.Store, orgID string) ([]*models.FetchJob, error) {
	keys, err := st.List(ctx, kind, orgID)
	if err != nil {
		return nil, fmt.Errorf("job: list %s: %w", orgID, err)
	}
	jobs := make([]*models.FetchJob, 0, len(keys))
	for _, k := range keys {
		j, err := Get(ctx, st, k.OrgID, k.SubKey)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})
	return jobs, nil
}
