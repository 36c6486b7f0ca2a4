package draft

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

// Summary is the listing form of a draft.
type Summary struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Service      string    `json:"service"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	FilledCount  int       `json:"filled_count"`
	MissingCount int       `json:"missing_count"`
	TotalCount   int       `json:"total_count"`
}

// Stats counts drafts by status and by organization.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByOrg    map[string]int `json:"by_org"`
}

func summarize(d *models.Draft) Summary {
	return Summary{
		ID:           d.ID,
		OrgID:        d.OrgID,
		Service:      d.Service,
		Status:       d.Status,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		FilledCount:  len(d.Variables),
		MissingCount: len(d.MissingVariables),
		TotalCount:   len(d.Variables) + len(d.MissingVariables),
	}
}

// loadAll loads every draft of orgID, or of every organization when orgID
// is empty.
func loadAll(ctx context.Context, st store.Store, orgID string) ([]*models.Draft, error) {
	keys, err := st.List(ctx, kind, orgID)
	if err != nil {
		return nil, fmt.Errorf("draft: list: %w", err)
	}
	out := make([]*models.Draft, 0, len(keys))
	for _, k := range keys {
		d, err := Get(ctx, st, k.OrgID, k.SubKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// List returns draft summaries, most recently updated first. Empty orgID
// or status leaves that filter off.
func List(ctx context.Context, st store.Store, orgID, status string) ([]Summary, error) {
	drafts, err := loadAll(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	out := []Summary{}
	for _, d := range drafts {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, summarize(d))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ListPendingApprovals returns drafts whose approval started but never
// finished.
func ListPendingApprovals(ctx context.Context, st store.Store) ([]*models.Draft, error) {
	drafts, err := loadAll(ctx, st, "")
	if err != nil {
		return nil, err
	}
	var out []*models.Draft
	for _, d := range drafts {
		if d.Metadata.PendingApproval != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetStats counts every stored draft.
func GetStats(ctx context.Context, st store.Store) (*Stats, error) {
	drafts, err := loadAll(ctx, st, "")
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByStatus: map[string]int{
			models.DraftStatusDraft:         0,
			models.DraftStatusPendingReview: 0,
			models.DraftStatusApproved:      0,
			models.DraftStatusRejected:      0,
		},
		ByOrg: make(map[string]int),
	}
	for _, d := range drafts {
		s.Total++
		s.ByStatus[d.Status]++
		s.ByOrg[d.OrgID]++
	}
	return s, nil
}
