package models

import "time"

// History entry types.
const (
	ChangeCreate  = "create"
	ChangeUpdate  = "update"
	ChangeDelete  = "delete"
	ChangeApprove = "approve"
	ChangeReject  = "reject"
)

// HistoryEntry is an immutable audit record of a change to an
// organization's variables.
type HistoryEntry struct {
	ID        string           `json:"id"`
	OrgID     string           `json:"org_id"`
	Type      string           `json:"type"`
	Source    string           `json:"source"`
	Changes   []VariableChange `json:"changes"`
	ChangedBy string           `json:"changed_by"`
	ChangedAt time.Time        `json:"changed_at"`
	ServiceID string           `json:"service_id,omitempty"`
	Comment   string           `json:"comment,omitempty"`
}

// VariableChange is an (old, new) pair for one variable. A nil OldValue
// means the variable was created; a nil NewValue means it was deleted.
type VariableChange struct {
	VariableName string  `json:"variable_name"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
}
