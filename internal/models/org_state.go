package models

import "time"

// OrgState is per-organization scheduling state.
type OrgState struct {
	OrgID             string     `json:"org_id"`
	LastFetchAt       *time.Time `json:"last_fetch_at,omitempty"`
	LastSourceCheckAt *time.Time `json:"last_source_check_at,omitempty"`
}
