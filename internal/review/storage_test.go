package review

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
	"github.com/zulandar/almanac/internal/store/storetest"
)

func TestMarkPage_CreatesAndMerges(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	if err := MarkPage(ctx, st, "org", "/contact", []string{"a"}); err != nil {
		t.Fatalf("MarkPage: %v", err)
	}
	first, err := Get(ctx, st, "org", "/contact")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.Status != models.ReviewRequired {
		t.Errorf("Status = %q", first.Status)
	}

	if err := MarkPage(ctx, st, "org", "/contact", []string{"b", "a"}); err != nil {
		t.Fatalf("MarkPage: %v", err)
	}
	got, _ := Get(ctx, st, "org", "/contact")
	if !reflect.DeepEqual(got.ChangedVariables, []string{"a", "b"}) {
		t.Errorf("ChangedVariables = %v", got.ChangedVariables)
	}
	if !got.DetectedAt.Equal(first.DetectedAt) {
		t.Error("merge should keep the original detection time")
	}
}

func TestMarkPage_EmptyIsNoop(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	if err := MarkPage(ctx, st, "org", "/p", nil); err != nil {
		t.Fatalf("MarkPage: %v", err)
	}
	if _, err := Get(ctx, st, "org", "/p"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkPage_KeepsInReviewStatus(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	MarkPage(ctx, st, "org", "/p", []string{"a"})
	if _, err := StartReview(ctx, st, "org", "/p", "alice"); err != nil {
		t.Fatalf("StartReview: %v", err)
	}
	MarkPage(ctx, st, "org", "/p", []string{"b"})

	got, _ := Get(ctx, st, "org", "/p")
	if got.Status != models.ReviewInReview || len(got.ChangedVariables) != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestStartReview(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	MarkPage(ctx, st, "org", "/p", []string{"a"})

	r, err := StartReview(ctx, st, "org", "/p", "alice")
	if err != nil {
		t.Fatalf("StartReview: %v", err)
	}
	if r.Status != models.ReviewInReview || r.ReviewedBy != "alice" || r.ReviewStartedAt == nil {
		t.Errorf("review = %+v", r)
	}
	if _, err := StartReview(ctx, st, "org", "/p", "bob"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("second StartReview err = %v", err)
	}
	if _, err := StartReview(ctx, st, "org", "/missing", "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing StartReview err = %v", err)
	}
}

func TestRemove(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	MarkPage(ctx, st, "org", "/p", []string{"a"})

	r, err := Remove(ctx, st, "org", "/p")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !reflect.DeepEqual(r.ChangedVariables, []string{"a"}) {
		t.Errorf("removed = %+v", r)
	}
	if _, err := Remove(ctx, st, "org", "/p"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Remove err = %v", err)
	}
}

func TestPendingAll(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	MarkPage(ctx, st, "b-org", "/old", []string{"a"})
	MarkPage(ctx, st, "a-org", "/new", []string{"b"})

	all, err := PendingAll(ctx, st)
	if err != nil {
		t.Fatalf("PendingAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].OrgID != "a-org" || all[0].Page != "/new" {
		t.Errorf("first = %+v, want newest detection first", all[0])
	}
}

func TestLatestResult(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	if _, err := LatestResult(ctx, st, "org"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if err := SaveResult(ctx, st, &models.SourceCheckResult{OrgID: "org", TotalVariables: 4}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := LatestResult(ctx, st, "org")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if got.TotalVariables != 4 {
		t.Errorf("got %+v", got)
	}
}
