// Package history is the append-only audit ledger of variable changes,
// partitioned per organization by calendar month.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const (
	kind         = "history"
	monthLayout  = "2006-01"
	defaultLimit = 50
)

// ListOptions pages and filters a history listing. Zero From/To leave that
// side of the window open.
type ListOptions struct {
	Limit  int
	Offset int
	From   time.Time
	To     time.Time
}

// Summary is the listing form of a HistoryEntry.
type Summary struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	ChangeCount int       `json:"change_count"`
	ChangedBy   string    `json:"changed_by"`
	ChangedAt   time.Time `json:"changed_at"`
	ServiceID   string    `json:"service_id,omitempty"`
	Comment     string    `json:"comment,omitempty"`
}

// Stats aggregates an organization's whole history.
type Stats struct {
	TotalChanges  int        `json:"total_changes"`
	ManualChanges int        `json:"manual_changes"`
	LLMChanges    int        `json:"llm_changes"`
	LastChangedAt *time.Time `json:"last_changed_at,omitempty"`
}

// Partition returns the partition name holding entries changed at t.
func Partition(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

func partitionKey(orgID, month string) store.Key {
	return store.Key{Kind: kind, OrgID: orgID, SubKey: month}
}

// Append adds e to its month's partition. ID and ChangedAt are filled when
// empty. The partition is rewritten whole, guarded by its version.
func Append(ctx context.Context, st store.Store, e *models.HistoryEntry) error {
	if e.OrgID == "" {
		return fmt.Errorf("history: org is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ChangedAt.IsZero() {
		e.ChangedAt = time.Now()
	}
	if e.Changes == nil {
		e.Changes = []models.VariableChange{}
	}

	key := partitionKey(e.OrgID, Partition(e.ChangedAt))
	_, err := store.Update(ctx, st, key, func(entries *[]models.HistoryEntry, _ bool) error {
		*entries = append(*entries, *e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: append to %s: %w", key, err)
	}
	return nil
}

// months returns the organization's partition names, newest first.
func months(ctx context.Context, st store.Store, orgID string) ([]string, error) {
	keys, err := st.List(ctx, kind, orgID)
	if err != nil {
		return nil, fmt.Errorf("history: list partitions for %s: %w", orgID, err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.SubKey)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func loadPartition(ctx context.Context, st store.Store, orgID, month string) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if _, err := store.GetJSON(ctx, st, partitionKey(orgID, month), &entries); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: load %s/%s: %w", orgID, month, err)
	}
	return entries, nil
}

// List returns entry summaries newest first. Partitions are read newest
// first and reading stops once Offset+Limit entries are in hand; the
// gathered entries are then sorted by ChangedAt and sliced.
func List(ctx context.Context, st store.Store, orgID string, opts ListOptions) ([]Summary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	ms, err := months(ctx, st, orgID)
	if err != nil {
		return nil, err
	}

	var gathered []models.HistoryEntry
	for _, m := range ms {
		if !opts.From.IsZero() && m < Partition(opts.From) {
			break
		}
		if !opts.To.IsZero() && m > Partition(opts.To) {
			continue
		}
		entries, err := loadPartition(ctx, st, orgID, m)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if inWindow(e.ChangedAt, opts.From, opts.To) {
				gathered = append(gathered, e)
			}
		}
		if len(gathered) >= offset+limit {
			break
		}
	}

	sort.SliceStable(gathered, func(i, j int) bool {
		return gathered[i].ChangedAt.After(gathered[j].ChangedAt)
	})
	if offset >= len(gathered) {
		return []Summary{}, nil
	}
	end := offset + limit
	if end > len(gathered) {
		end = len(gathered)
	}

	out := make([]Summary, 0, end-offset)
	for _, e := range gathered[offset:end] {
		out = append(out, summarize(e))
	}
	return out, nil
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func summarize(e models.HistoryEntry) Summary {
	return Summary{
		ID:          e.ID,
		Type:        e.Type,
		Source:      e.Source,
		ChangeCount: len(e.Changes),
		ChangedBy:   e.ChangedBy,
		ChangedAt:   e.ChangedAt,
		ServiceID:   e.ServiceID,
		Comment:     e.Comment,
	}
}

// GetEntry finds one entry by ID across all partitions.
func GetEntry(ctx context.Context, st store.Store, orgID, id string) (*models.HistoryEntry, error) {
	ms, err := months(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		entries, err := loadPartition(ctx, st, orgID, m)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if entries[i].ID == id {
				return &entries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("history: entry %s/%s: %w", orgID, id, store.ErrNotFound)
}

// Exists reports whether an entry with id is recorded in the partition
// for month t.
func Exists(ctx context.Context, st store.Store, orgID, id string, t time.Time) (bool, error) {
	entries, err := loadPartition(ctx, st, orgID, Partition(t))
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// GetStats scans every partition of the organization. Counters are in
// variable changes, not ledger entries.
func GetStats(ctx context.Context, st store.Store, orgID string) (*Stats, error) {
	ms, err := months(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	for _, m := range ms {
		entries, err := loadPartition(ctx, st, orgID, m)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			n := len(e.Changes)
			stats.TotalChanges += n
			switch e.Source {
			case models.SourceManual:
				stats.ManualChanges += n
			case models.SourceLLM:
				stats.LLMChanges += n
			}
			if stats.LastChangedAt == nil || e.ChangedAt.After(*stats.LastChangedAt) {
				t := e.ChangedAt
				stats.LastChangedAt = &t
			}
		}
	}
	return stats, nil
}
