package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const orgStateKind = "org_state"

func orgStateKey(orgID string) store.Key {
	return store.Key{Kind: orgStateKind, OrgID: orgID}
}

// OrgState returns the organization's scheduling state. An organization
// never seen by a run has an empty state.
func (s *Service) OrgState(ctx context.Context, orgID string) (*models.OrgState, error) {
	st := models.OrgState{OrgID: orgID}
	if _, err := store.GetJSON(ctx, s.st, orgStateKey(orgID), &st); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("pipeline: org state %s: %w", orgID, err)
	}
	return &st, nil
}

func (s *Service) touchOrgState(ctx context.Context, orgID string, fn func(st *models.OrgState)) error {
	_, err := store.Update(ctx, s.st, orgStateKey(orgID), func(st *models.OrgState, _ bool) error {
		st.OrgID = orgID
		fn(st)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: update org state %s: %w", orgID, err)
	}
	return nil
}
