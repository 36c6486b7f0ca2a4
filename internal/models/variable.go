package models

import "time"

// Variable sources.
const (
	SourceManual  = "manual"
	SourceLLM     = "llm"
	SourceCron    = "cron"
	SourceImport  = "import"
	SourceDefault = "default"
)

// VariableEntry is the published value of one variable for an organization.
type VariableEntry struct {
	Value             string     `json:"value"`
	Source            string     `json:"source"`
	SourceURL         string     `json:"source_url,omitempty"`
	Confidence        *float64   `json:"confidence,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SourceContentHash string     `json:"source_content_hash,omitempty"`
	LastSourceCheckAt *time.Time `json:"last_source_check_at,omitempty"`
	SourceChanged     bool       `json:"source_changed,omitempty"`
	SourceChangedAt   *time.Time `json:"source_changed_at,omitempty"`
}
