package models

import "time"

// Notification types.
const (
	NotifyDraftCreated    = "draft_created"
	NotifyDraftApproved   = "draft_approved"
	NotifyDraftRejected   = "draft_rejected"
	NotifyVariableUpdated = "variable_updated"
	NotifyCronCompleted   = "cron_completed"
	NotifyCronFailed      = "cron_failed"
	NotifyFetchCompleted  = "fetch_completed"
	NotifyFetchFailed     = "fetch_failed"
	NotifySourceChanged   = "source_changed"
	NotifyReviewApproved  = "review_approved"
	NotifyReviewDismissed = "review_dismissed"
)

// Notification severities.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notification is an operator-facing event in the global feed.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	OrgID     string         `json:"org_id,omitempty"`
	ServiceID string         `json:"service_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
	Payload   map[string]any `json:"payload,omitempty"`
}
