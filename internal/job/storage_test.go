package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
	"github.com/zulandar/almanac/internal/store/storetest"
)

func TestSave_RoundTrip(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	j := New("tokyo-shibuya", []string{"health", "garbage"})
	UpdateServiceStatus(j, "health", models.ServiceCompleted, Details{VariablesCount: intPtr(2)})
	if err := Save(ctx, st, j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Latest(ctx, st, "tokyo-shibuya")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("Latest().ID = %q, want %q", got.ID, j.ID)
	}
	if got.Services["health"].Status != models.ServiceCompleted {
		t.Errorf("health status = %q", got.Services["health"].Status)
	}
	if *got.Services["health"].VariablesCount != 2 {
		t.Errorf("health count = %d", *got.Services["health"].VariablesCount)
	}
}

func TestLatest_NoJob(t *testing.T) {
	st := storetest.New(t)
	_, err := Latest(context.Background(), st, "nowhere")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSave_NewJobKeepsHistory(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	first := New("org", []string{"a"})
	first.StartedAt = time.Now().Add(-time.Hour)
	if err := Save(ctx, st, first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	second := New("org", []string{"a"})
	if err := Save(ctx, st, second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	// Re-saving the older job must not steal the latest pointer.
	Complete(first)
	if err := Save(ctx, st, first); err != nil {
		t.Fatalf("Save first again: %v", err)
	}

	latest, err := Latest(ctx, st, "org")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("Latest().ID = %q, want second job %q", latest.ID, second.ID)
	}

	old, err := Get(ctx, st, "org", first.ID)
	if err != nil {
		t.Fatalf("Get first: %v", err)
	}
	if old.Status != first.Status {
		t.Errorf("first job status = %q, want %q", old.Status, first.Status)
	}

	all, err := List(ctx, st, "org")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Errorf("List() = %d jobs, first %q; want 2, newest first", len(all), all[0].ID)
	}
}

func TestLoadLatest_RepairsStaleRunningJob(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	j := New("org", []string{"a", "b"})
	UpdateServiceStatus(j, "a", models.ServiceRunning, Details{})
	j.UpdatedAt = time.Now().Add(-2 * time.Hour)
	if err := Save(ctx, st, j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadLatest(ctx, st, "org", 30*time.Minute)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.Status != models.JobPaused {
		t.Errorf("Status = %q, want paused", got.Status)
	}
	if got.Services["a"].Error != InterruptedError {
		t.Errorf("service a error = %q, want interrupted", got.Services["a"].Error)
	}
	if !CanResume(got) {
		t.Error("repaired job should be resumable")
	}

	stored, err := Latest(ctx, st, "org")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if stored.Status != models.JobPaused {
		t.Errorf("repair not persisted: status %q", stored.Status)
	}
}

func TestLoadLatest_FreshRunningJobUntouched(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	j := New("org", []string{"a"})
	UpdateServiceStatus(j, "a", models.ServiceRunning, Details{})
	if err := Save(ctx, st, j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadLatest(ctx, st, "org", 30*time.Minute)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.Status != models.JobRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
}
