package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/almanac/internal/draft"
	"github.com/zulandar/almanac/internal/history"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/variable"
	"go.uber.org/zap"
)

// ApproveResult is the outcome of an approval.
type ApproveResult struct {
	Draft          *models.Draft           `json:"draft"`
	Changes        []models.VariableChange `json:"changes"`
	HistoryEntryID string                  `json:"history_entry_id"`
}

// Approve publishes every filled variable of the draft. The change set is
// computed and stored on the draft before any variable is written; an
// approval interrupted after that point is rolled forward by the next
// Approve or by RecoverApprovals.
func (s *Service) Approve(ctx context.Context, orgID, service, actor string) (*ApproveResult, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := draft.Get(ctx, s.st, orgID, service)
	if err != nil {
		return nil, err
	}
	if d.IsTerminal() {
		return nil, fmt.Errorf("pipeline: approve %s: draft is %s: %w", d.ID, d.Status, ErrInvalidState)
	}

	if d.Metadata.PendingApproval == nil {
		current, err := variable.Load(ctx, s.st, orgID)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		values := make(map[string]models.VariableEntry, len(d.Variables))
		for name, v := range d.Variables {
			e := models.VariableEntry{
				Value:      v.Value,
				Source:     models.SourceLLM,
				SourceURL:  v.SourceURL,
				Confidence: v.Confidence,
				UpdatedAt:  now,
			}
			// Same page: keep its baseline so the next check compares
			// against it. The change flag is cleared by the new value.
			if old, ok := current[name]; ok && old.SourceURL == v.SourceURL {
				e.SourceContentHash = old.SourceContentHash
				e.LastSourceCheckAt = old.LastSourceCheckAt
			}
			values[name] = e
		}
		pa := &models.PendingApproval{
			Actor:          actor,
			StartedAt:      now,
			HistoryEntryID: uuid.New().String(),
			Changes:        variable.Diff(current, values),
			Values:         values,
		}
		d, err = draft.Modify(ctx, s.st, orgID, service, func(d *models.Draft) error {
			if d.IsTerminal() || d.Metadata.PendingApproval != nil {
				return ErrInvalidState
			}
			d.Metadata.PendingApproval = pa
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s.finishApproval(ctx, d)
}

// finishApproval rolls a marked approval forward. Every step is safe to
// repeat: values are rewritten, the history entry is appended only if its
// ID is not yet recorded.
func (s *Service) finishApproval(ctx context.Context, d *models.Draft) (*ApproveResult, error) {
	pa := d.Metadata.PendingApproval
	if _, err := variable.Merge(ctx, s.st, d.OrgID, pa.Values); err != nil {
		return nil, err
	}

	recorded, err := history.Exists(ctx, s.st, d.OrgID, pa.HistoryEntryID, pa.StartedAt)
	if err != nil {
		return nil, err
	}
	if !recorded {
		if _, err := history.RecordDraftApproval(ctx, s.st, pa.HistoryEntryID, d.OrgID, d.Service, pa.Actor, pa.StartedAt, pa.Changes); err != nil {
			return nil, err
		}
		s.logNotify(s.notifier.DraftApproved(ctx, d.OrgID, s.orgName(d.OrgID), d.Service, len(pa.Changes)))
	}

	final, err := draft.Modify(ctx, s.st, d.OrgID, d.Service, func(d *models.Draft) error {
		now := time.Now()
		d.Status = models.DraftStatusApproved
		d.Metadata.ApprovedBy = pa.Actor
		d.Metadata.ApprovedAt = &now
		d.Metadata.PendingApproval = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(pa.Values))
	for name := range pa.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	s.invalidate(d.OrgID, names)

	s.log.Info("draft approved",
		zap.String("org", d.OrgID),
		zap.String("service", d.Service),
		zap.String("actor", pa.Actor),
		zap.Int("changes", len(pa.Changes)),
	)
	return &ApproveResult{Draft: final, Changes: pa.Changes, HistoryEntryID: pa.HistoryEntryID}, nil
}

// RecoverApprovals finishes every approval left half-done. Organizations
// that are busy are skipped and picked up on the next call.
func (s *Service) RecoverApprovals(ctx context.Context) (int, error) {
	drafts, err := draft.ListPendingApprovals(ctx, s.st)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, d := range drafts {
		unlock, err := s.lockOrg(d.OrgID)
		if err != nil {
			s.log.Info("approval recovery deferred", zap.String("draft", d.ID), zap.Error(err))
			continue
		}
		_, err = s.finishApproval(ctx, d)
		unlock()
		if err != nil {
			return recovered, fmt.Errorf("pipeline: recover %s: %w", d.ID, err)
		}
		recovered++
	}
	return recovered, nil
}

// Reject discards the draft. Published variables are untouched.
func (s *Service) Reject(ctx context.Context, orgID, service, actor, reason string) (*models.Draft, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := draft.Get(ctx, s.st, orgID, service)
	if err != nil {
		return nil, err
	}
	if d.IsTerminal() {
		return nil, fmt.Errorf("pipeline: reject %s: draft is %s: %w", d.ID, d.Status, ErrInvalidState)
	}
	if d.Metadata.PendingApproval != nil {
		return nil, fmt.Errorf("pipeline: reject %s: %w: %w", d.ID, ErrInvalidState, draft.ErrApprovalPending)
	}

	if _, err := history.RecordDraftRejection(ctx, s.st, orgID, service, actor, reason); err != nil {
		return nil, err
	}
	s.logNotify(s.notifier.DraftRejected(ctx, orgID, s.orgName(orgID), service, reason))

	d, err = draft.Modify(ctx, s.st, orgID, service, func(d *models.Draft) error {
		now := time.Now()
		d.Status = models.DraftStatusRejected
		d.Metadata.RejectedBy = actor
		d.Metadata.RejectedAt = &now
		d.Metadata.RejectionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("draft rejected", zap.String("org", orgID), zap.String("service", service), zap.String("actor", actor))
	return d, nil
}

// ApplySuggestion accepts a value for a missing variable into the draft.
func (s *Service) ApplySuggestion(ctx context.Context, orgID, service, name, value, sourceURL string, confidence *float64) (*models.Draft, error) {
	if name == "" || value == "" {
		return nil, fmt.Errorf("pipeline: variable name and value are required: %w", ErrValidation)
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return nil, fmt.Errorf("pipeline: confidence must be between 0 and 1: %w", ErrValidation)
	}
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return draft.Accept(ctx, s.st, orgID, service, name, value, sourceURL, confidence)
}

// RejectSuggestion marks the suggestion for name rejected.
func (s *Service) RejectSuggestion(ctx context.Context, orgID, service, name string) (*models.Draft, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline: variable name is required: %w", ErrValidation)
	}
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return draft.SetSuggestionStatus(ctx, s.st, orgID, service, name, models.SuggestionRejected)
}

// CreateDraft stores a draft built outside a fetch job.
func (s *Service) CreateDraft(ctx context.Context, orgID, service string, in draft.Input) (*models.Draft, error) {
	if _, ok := s.cfg.Service(service); !ok {
		return nil, fmt.Errorf("pipeline: unknown service %q: %w", service, ErrValidation)
	}
	for name := range in.Variables {
		if !variable.ValidName(name) {
			return nil, fmt.Errorf("pipeline: invalid variable name %q: %w", name, ErrValidation)
		}
	}
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if svc, ok := s.cfg.Service(service); ok && len(in.Expected) == 0 {
		in.Expected = svc.Variables
	}
	d, err := draft.Create(ctx, s.st, orgID, service, in)
	if err != nil {
		if errors.Is(err, draft.ErrApprovalPending) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		return nil, err
	}
	s.logNotify(s.notifier.DraftCreated(ctx, orgID, s.orgName(orgID), service, len(d.Variables)))
	return d, nil
}

// SubmitDraft moves a draft to pending_review.
func (s *Service) SubmitDraft(ctx context.Context, orgID, service string) (*models.Draft, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return draft.Submit(ctx, s.st, orgID, service)
}

// UpdateDraftVariables applies manual edits to a live draft.
func (s *Service) UpdateDraftVariables(ctx context.Context, orgID, service string, updates map[string]draft.VariableUpdate) (*models.Draft, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("pipeline: no variables to update: %w", ErrValidation)
	}
	for name, u := range updates {
		if !variable.ValidName(name) {
			return nil, fmt.Errorf("pipeline: invalid variable name %q: %w", name, ErrValidation)
		}
		if u.Value == "" {
			return nil, fmt.Errorf("pipeline: %s: value is required: %w", name, ErrValidation)
		}
	}
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return draft.UpdateVariables(ctx, s.st, orgID, service, updates)
}

// DeleteDraft removes a draft. A draft whose approval is in progress is
// kept so the approval can finish.
func (s *Service) DeleteDraft(ctx context.Context, orgID, service string) error {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return err
	}
	defer unlock()
	d, err := draft.Get(ctx, s.st, orgID, service)
	if err != nil {
		return err
	}
	if d.Metadata.PendingApproval != nil {
		return fmt.Errorf("pipeline: delete %s: %w: %w", d.ID, ErrInvalidState, draft.ErrApprovalPending)
	}
	return draft.Delete(ctx, s.st, orgID, service)
}
