package pipeline

import (
	"context"

	"github.com/zulandar/almanac/internal/history"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/review"
	"github.com/zulandar/almanac/internal/variable"
	"go.uber.org/zap"
)

// StartPageReview moves a flagged page to in_review.
func (s *Service) StartPageReview(ctx context.Context, orgID, page, actor string) (*models.PageReview, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return review.StartReview(ctx, s.st, orgID, page, actor)
}

// ApprovePageReview accepts the page as still correct after its sources
// changed.
func (s *Service) ApprovePageReview(ctx context.Context, orgID, page, actor string) (*models.PageReview, error) {
	return s.resolveReview(ctx, orgID, page, actor, false)
}

// DismissPageReview closes the review as a false positive.
func (s *Service) DismissPageReview(ctx context.Context, orgID, page, actor string) (*models.PageReview, error) {
	return s.resolveReview(ctx, orgID, page, actor, true)
}

// resolveReview clears the change flag of every variable the review names
// and removes the review. Variable values are never changed.
func (s *Service) resolveReview(ctx context.Context, orgID, page, actor string, dismissed bool) (*models.PageReview, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := review.Get(ctx, s.st, orgID, page)
	if err != nil {
		return nil, err
	}

	if len(r.ChangedVariables) > 0 {
		_, err = variable.Modify(ctx, s.st, orgID, func(vars map[string]models.VariableEntry) error {
			for _, name := range r.ChangedVariables {
				v, ok := vars[name]
				if !ok {
					continue
				}
				v.SourceChanged = false
				v.SourceChangedAt = nil
				vars[name] = v
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	removed, err := review.Remove(ctx, s.st, orgID, page)
	if err != nil {
		return nil, err
	}
	if _, err := history.RecordReviewResolution(ctx, s.st, orgID, page, actor, r.ChangedVariables, dismissed); err != nil {
		return nil, err
	}
	s.logNotify(s.notifier.ReviewResolved(ctx, orgID, s.orgName(orgID), page, actor, dismissed))

	removed.ReviewedBy = actor
	s.log.Info("page review resolved",
		zap.String("org", orgID),
		zap.String("page", page),
		zap.String("actor", actor),
		zap.Bool("dismissed", dismissed),
	)
	return removed, nil
}
