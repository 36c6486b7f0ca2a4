// Package review tracks rendered pages whose upstream sources changed and
// detects those changes by fingerprinting every source-backed variable.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const (
	kind        = "page_reviews"
	resultKind  = "source_check"
	latestCheck = "latest"
)

// ErrInvalidStatus is returned when a review is not in a status that allows
// the requested step.
var ErrInvalidStatus = errors.New("invalid review status")

// PendingPage is a page awaiting review, as listed across organizations.
type PendingPage struct {
	OrgID string `json:"org_id"`
	Page  string `json:"page"`
	models.PageReview
}

func key(orgID string) store.Key {
	return store.Key{Kind: kind, OrgID: orgID}
}

// Load returns every review entry of the organization, keyed by page.
func Load(ctx context.Context, st store.Store, orgID string) (map[string]models.PageReview, error) {
	reviews := make(map[string]models.PageReview)
	if _, err := store.GetJSON(ctx, st, key(orgID), &reviews); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reviews, nil
		}
		return nil, fmt.Errorf("review: load %s: %w", orgID, err)
	}
	return reviews, nil
}

func modify(ctx context.Context, st store.Store, orgID string, fn func(reviews map[string]models.PageReview) error) error {
	_, err := store.Update(ctx, st, key(orgID), func(reviews *map[string]models.PageReview, _ bool) error {
		if *reviews == nil {
			*reviews = make(map[string]models.PageReview)
		}
		return fn(*reviews)
	})
	if err != nil {
		return fmt.Errorf("review: update %s: %w", orgID, err)
	}
	return nil
}

// MarkPage flags page for review because variables changed. An existing
// entry gains the names; otherwise a review_required entry is created.
// An empty variable list is a no-op.
func MarkPage(ctx context.Context, st store.Store, orgID, page string, variables []string) error {
	if len(variables) == 0 {
		return nil
	}
	return modify(ctx, st, orgID, func(reviews map[string]models.PageReview) error {
		r, ok := reviews[page]
		if !ok {
			r = models.PageReview{Status: models.ReviewRequired, DetectedAt: time.Now()}
		}
		r.ChangedVariables = union(r.ChangedVariables, variables)
		reviews[page] = r
		return nil
	})
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Get returns the review entry for page.
func Get(ctx context.Context, st store.Store, orgID, page string) (*models.PageReview, error) {
	reviews, err := Load(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	r, ok := reviews[page]
	if !ok {
		return nil, fmt.Errorf("review: %s%s: %w", orgID, page, store.ErrNotFound)
	}
	return &r, nil
}

// Pending lists the organization's pages awaiting review, newest detection
// first.
func Pending(ctx context.Context, st store.Store, orgID string) ([]PendingPage, error) {
	reviews, err := Load(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingPage, 0, len(reviews))
	for page, r := range reviews {
		out = append(out, PendingPage{OrgID: orgID, Page: page, PageReview: r})
	}
	sortPending(out)
	return out, nil
}

// PendingAll lists pages awaiting review across every organization, newest
// detection first.
func PendingAll(ctx context.Context, st store.Store) ([]PendingPage, error) {
	keys, err := st.List(ctx, kind, "")
	if err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	out := []PendingPage{}
	for _, k := range keys {
		pages, err := Pending(ctx, st, k.OrgID)
		if err != nil {
			return nil, err
		}
		out = append(out, pages...)
	}
	sortPending(out)
	return out, nil
}

func sortPending(pages []PendingPage) {
	sort.SliceStable(pages, func(i, j int) bool {
		if !pages[i].DetectedAt.Equal(pages[j].DetectedAt) {
			return pages[i].DetectedAt.After(pages[j].DetectedAt)
		}
		if pages[i].OrgID != pages[j].OrgID {
			return pages[i].OrgID < pages[j].OrgID
		}
		return pages[i].Page < pages[j].Page
	})
}

// StartReview moves a review_required entry to in_review.
func StartReview(ctx context.Context, st store.Store, orgID, page, actor string) (*models.PageReview, error) {
	var out models.PageReview
	err := modify(ctx, st, orgID, func(reviews map[string]models.PageReview) error {
		r, ok := reviews[page]
		if !ok {
			return fmt.Errorf("%s: %w", page, store.ErrNotFound)
		}
		if r.Status != models.ReviewRequired {
			return fmt.Errorf("%s is %s: %w", page, r.Status, ErrInvalidStatus)
		}
		now := time.Now()
		r.Status = models.ReviewInReview
		r.ReviewStartedAt = &now
		r.ReviewedBy = actor
		reviews[page] = r
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes the entry for page, returning it. The page is published
// again.
func Remove(ctx context.Context, st store.Store, orgID, page string) (*models.PageReview, error) {
	var out models.PageReview
	err := modify(ctx, st, orgID, func(reviews map[string]models.PageReview) error {
		r, ok := reviews[page]
		if !ok {
			return fmt.Errorf("%s: %w", page, store.ErrNotFound)
		}
		out = r
		delete(reviews, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveResult stores the organization's latest scan result.
func SaveResult(ctx context.Context, st store.Store, res *models.SourceCheckResult) error {
	k := store.Key{Kind: resultKind, OrgID: res.OrgID, SubKey: latestCheck}
	if _, err := store.PutJSON(ctx, st, k, res, store.AnyVersion); err != nil {
		return fmt.Errorf("review: save check result %s: %w", res.OrgID, err)
	}
	return nil
}

// LatestResult loads the organization's latest scan result.
func LatestResult(ctx context.Context, st store.Store, orgID string) (*models.SourceCheckResult, error) {
	var res models.SourceCheckResult
	k := store.Key{Kind: resultKind, OrgID: orgID, SubKey: latestCheck}
	if _, err := store.GetJSON(ctx, st, k, &res); err != nil {
		return nil, fmt.Errorf("review: check result %s: %w", orgID, err)
	}
	return &res, nil
}
