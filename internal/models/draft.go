package models

import "time"

// Draft statuses. Approved and rejected are terminal.
const (
	DraftStatusDraft         = "draft"
	DraftStatusPendingReview = "pending_review"
	DraftStatusApproved      = "approved"
	DraftStatusRejected      = "rejected"
)

// Suggestion statuses.
const (
	SuggestionSuggested = "suggested"
	SuggestionAccepted  = "accepted"
	SuggestionRejected  = "rejected"
)

// Draft is an unpublished proposal of variable values for one
// (organization, service) pair.
type Draft struct {
	ID               string                   `json:"id"`
	OrgID            string                   `json:"org_id"`
	Service          string                   `json:"service"`
	Status           string                   `json:"status"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
	Variables        map[string]DraftVariable `json:"variables"`
	MissingVariables []string                 `json:"missing_variables"`
	Suggestions      []Suggestion             `json:"suggestions,omitempty"`
	Errors           []DraftError             `json:"errors,omitempty"`
	Metadata         DraftMetadata            `json:"metadata"`
}

// DraftVariable is one proposed value.
type DraftVariable struct {
	Value       string     `json:"value"`
	SourceURL   string     `json:"source_url,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
	Validated   bool       `json:"validated"`
}

// Suggestion is a hint on where a missing variable might be found.
type Suggestion struct {
	VariableName       string   `json:"variable_name"`
	Reason             string   `json:"reason"`
	SuggestedValue     string   `json:"suggested_value,omitempty"`
	SuggestedSourceURL string   `json:"suggested_source_url,omitempty"`
	RelatedURLs        []string `json:"related_urls,omitempty"`
	Confidence         float64  `json:"confidence"`
	Status             string   `json:"status"`
}

// DraftError is a problem the extraction step reported for the draft.
type DraftError struct {
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	VariableName string    `json:"variable_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DraftMetadata carries bookkeeping around a draft's lifecycle.
type DraftMetadata struct {
	FetchJobID      string           `json:"fetch_job_id,omitempty"`
	TotalVariables  int              `json:"total_variables"`
	FilledVariables int              `json:"filled_variables"`
	ApprovedBy      string           `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedBy      string           `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	PendingApproval *PendingApproval `json:"pending_approval,omitempty"`
}

// PendingApproval marks an approval whose variable merge has started but
// whose draft has not yet been finalized. It holds everything needed to
// roll the approval forward.
type PendingApproval struct {
	Actor          string                   `json:"actor"`
	StartedAt      time.Time                `json:"started_at"`
	HistoryEntryID string                   `json:"history_entry_id"`
	Changes        []VariableChange         `json:"changes"`
	Values         map[string]VariableEntry `json:"values"`
}

// IsTerminal reports whether the draft can no longer change.
func (d *Draft) IsTerminal() bool {
	return d.Status == DraftStatusApproved || d.Status == DraftStatusRejected
}
