// Package notify is the operator notification feed. Every notification is
// its own record under the global organization slot; a Notifier persists
// notifications and forwards them to chat sinks.
package notify

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
	kind         = "notification"
	defaultLimit = 50
)

// Opts carries the optional fields of a new notification.
type Opts struct {
	Severity  string
	OrgID     string
	ServiceID string
	Payload   map[string]any
}

// ListOptions pages the feed.
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// Stats summarizes the feed.
type Stats struct {
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	ByType map[string]int `json:"by_type"`
}

// DefaultSeverity is the severity a notification of type typ gets when the
// caller does not choose one.
func DefaultSeverity(typ string) string {
	switch typ {
	case models.NotifyDraftApproved, models.NotifyCronCompleted, models.NotifyFetchCompleted:
		return models.SeveritySuccess
	case models.NotifyDraftRejected:
		return models.SeverityWarning
	case models.NotifyCronFailed, models.NotifyFetchFailed:
		return models.SeverityError
	default:
		return models.SeverityInfo
	}
}

func key(id string) store.Key {
	return store.Key{Kind: kind, OrgID: store.GlobalOrg, SubKey: id}
}

// Add stores a new unread notification.
func Add(ctx context.Context, st store.Store, typ, title, message string, opts Opts) (*models.Notification, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("notify: new id: %w", err)
	}
	severity := opts.Severity
	if severity == "" {
		severity = DefaultSeverity(typ)
	}
	n := &models.Notification{
		ID:        id.String(),
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		OrgID:     opts.OrgID,
		ServiceID: opts.ServiceID,
		CreatedAt: time.Now(),
		Payload:   opts.Payload,
	}
	if _, err := store.PutJSON(ctx, st, key(n.ID), n, 0); err != nil {
		return nil, fmt.Errorf("notify: add %s: %w", typ, err)
	}
	return n, nil
}

// Get loads one notification.
func Get(ctx context.Context, st store.Store, id string) (*models.Notification, error) {
	var n models.Notification
	if _, err := store.GetJSON(ctx, st, key(id), &n); err != nil {
		return nil, fmt.Errorf("notify: get %s: %w", id, err)
	}
	return &n, nil
}

// loadAll returns the whole feed newest first.
func loadAll(ctx context.Context, st store.Store) ([]models.Notification, error) {
	keys, err := st.List(ctx, kind, store.GlobalOrg)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	out := make([]models.Notification, 0, len(keys))
	for _, k := range keys {
		var n models.Notification
		if _, err := store.GetJSON(ctx, st, k, &n); err != nil {
			// Deleted between List and Get.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("notify: load %s: %w", k.SubKey, err)
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// List returns notifications newest first.
func List(ctx context.Context, st store.Store, opts ListOptions) ([]models.Notification, error) {
	all, err := loadAll(ctx, st)
	if err != nil {
		return nil, err
	}
	if opts.UnreadOnly {
		unread := all[:0]
		for _, n := range all {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		all = unread
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []models.Notification{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// MarkAsRead flags one notification as read.
func MarkAsRead(ctx context.Context, st store.Store, id string) error {
	_, err := store.Update(ctx, st, key(id), func(n *models.Notification, exists bool) error {
		if !exists {
			return store.ErrNotFound
		}
		n.Read = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("notify: mark %s read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead flags every unread notification and returns how many
// changed.
func MarkAllAsRead(ctx context.Context, st store.Store) (int, error) {
	all, err := loadAll(ctx, st)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range all {
		if n.Read {
			continue
		}
		if err := MarkAsRead(ctx, st, n.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// Delete removes one notification.
func Delete(ctx context.Context, st store.Store, id string) error {
	if err := st.Delete(ctx, key(id)); err != nil {
		return fmt.Errorf("notify: delete %s: %w", id, err)
	}
	return nil
}

// GetStats counts the feed by read state and type.
func GetStats(ctx context.Context, st store.Store) (*Stats, error) {
	all, err := loadAll(ctx, st)
	if err != nil {
		return nil, err
	}
	s := &Stats{ByType: make(map[string]int)}
	for _, n := range all {
		s.Total++
		if !n.Read {
			s.Unread++
		}
		s.ByType[n.Type]++
	}
	return s, nil
}
