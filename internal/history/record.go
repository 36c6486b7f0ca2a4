package history

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

// RecordDraftApproval appends the approve entry for a merged draft. id and
// at may be preset so a retried approval finds its own entry in the same
// partition.
func RecordDraftApproval(ctx context.Context, st store.Store, id, orgID, serviceID, actor string, at time.Time, changes []models.VariableChange) (*models.HistoryEntry, error) {
	e := &models.HistoryEntry{
		ID:        id,
		ChangedAt: at,
		OrgID:     orgID,
		Type:      models.ChangeApprove,
		Source:    models.SourceLLM,
		Changes:   changes,
		ChangedBy: actor,
		ServiceID: serviceID,
		Comment:   fmt.Sprintf("Approved draft for %s (%d variables)", serviceID, len(changes)),
	}
	if err := Append(ctx, st, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordDraftRejection appends the reject entry for a discarded draft.
func RecordDraftRejection(ctx context.Context, st store.Store, orgID, serviceID, actor, reason string) (*models.HistoryEntry, error) {
	comment := reason
	if comment == "" {
		comment = fmt.Sprintf("Rejected draft for %s", serviceID)
	}
	e := &models.HistoryEntry{
		OrgID:     orgID,
		Type:      models.ChangeReject,
		Source:    models.SourceLLM,
		ChangedBy: actor,
		ServiceID: serviceID,
		Comment:   comment,
	}
	if err := Append(ctx, st, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordVariableUpdate appends a single-variable change. The entry type
// follows from which side of the change is nil.
func RecordVariableUpdate(ctx context.Context, st store.Store, orgID, actor, source, name string, oldValue, newValue *string) (*models.HistoryEntry, error) {
	typ := models.ChangeUpdate
	switch {
	case oldValue == nil:
		typ = models.ChangeCreate
	case newValue == nil:
		typ = models.ChangeDelete
	}
	e := &models.HistoryEntry{
		OrgID:     orgID,
		Type:      typ,
		Source:    source,
		Changes:   []models.VariableChange{{VariableName: name, OldValue: oldValue, NewValue: newValue}},
		ChangedBy: actor,
	}
	if err := Append(ctx, st, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordBulkUpdate appends one update entry covering several variables.
func RecordBulkUpdate(ctx context.Context, st store.Store, orgID, actor, source string, changes []models.VariableChange, comment string) (*models.HistoryEntry, error) {
	e := &models.HistoryEntry{
		OrgID:     orgID,
		Type:      models.ChangeUpdate,
		Source:    source,
		Changes:   changes,
		ChangedBy: actor,
		Comment:   comment,
	}
	if err := Append(ctx, st, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordReviewResolution appends the entry closing a page review. Approvals
// are recorded as approve, dismissals as reject with a false-positive note.
// No variable values change, so the entry carries no changes.
func RecordReviewResolution(ctx context.Context, st store.Store, orgID, page, actor string, variables []string, dismissed bool) (*models.HistoryEntry, error) {
	e := &models.HistoryEntry{
		OrgID:     orgID,
		Type:      models.ChangeApprove,
		Source:    models.SourceManual,
		ChangedBy: actor,
		Comment:   fmt.Sprintf("Page review approved for %s (%d variables)", page, len(variables)),
	}
	if dismissed {
		e.Type = models.ChangeReject
		e.Comment = fmt.Sprintf("Page review dismissed as false positive for %s (%d variables)", page, len(variables))
	}
	if err := Append(ctx, st, e); err != nil {
		return nil, err
	}
	return e, nil
}
