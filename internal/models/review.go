package models

import "time"

// Page review statuses. A page with no entry is published.
const (
	ReviewRequired = "review_required"
	ReviewInReview = "in_review"
)

// PageReview flags a rendered page whose upstream sources changed.
type PageReview struct {
	Status           string     `json:"status"`
	ChangedVariables []string   `json:"changed_variables"`
	DetectedAt       time.Time  `json:"detected_at"`
	ReviewStartedAt  *time.Time `json:"review_started_at,omitempty"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
}

// SourceCheckResult is the outcome of the latest source-change scan for an
// organization.
type SourceCheckResult struct {
	OrgID          string             `json:"org_id"`
	CheckedAt      time.Time          `json:"checked_at"`
	TotalVariables int                `json:"total_variables"`
	Changed        []SourceChange     `json:"changed"`
	Errors         []SourceCheckError `json:"errors"`
}

// SourceChange describes one variable whose upstream content moved.
type SourceChange struct {
	VariableName  string   `json:"variable_name"`
	SourceURL     string   `json:"source_url"`
	OldHash       string   `json:"old_hash"`
	NewHash       string   `json:"new_hash"`
	AffectedPages []string `json:"affected_pages"`
}

// SourceCheckError records a fetch failure during a scan.
type SourceCheckError struct {
	VariableName string `json:"variable_name"`
	SourceURL    string `json:"source_url"`
	Error        string `json:"error"`
}
