package job

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/zulandar/almanac/internal/models"
)

func intPtr(n int) *int { return &n }

func TestNew(t *testing.T) {
	j := New("tokyo-shibuya", []string{"health", "garbage", "pension"})

	if j.ID == "" {
		t.Error("ID should be set")
	}
	if j.Status != models.JobRunning {
		t.Errorf("Status = %q, want running", j.Status)
	}
	if j.TotalServices != 3 {
		t.Errorf("TotalServices = %d, want 3", j.TotalServices)
	}
	for id, svc := range j.Services {
		if svc.Status != models.ServicePending {
			t.Errorf("service %s status = %q, want pending", id, svc.Status)
		}
	}
	if j.CompletedAt != nil {
		t.Error("CompletedAt should be nil for a new job")
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{models.ServicePending, models.ServiceRunning, true},
		{models.ServiceRunning, models.ServiceCompleted, true},
		{models.ServiceRunning, models.ServiceFailed, true},
		{models.ServicePending, models.ServiceCompleted, true},
		{models.ServiceFailed, models.ServicePending, true},
		{models.ServiceRunning, models.ServiceRunning, true},

		{models.ServiceCompleted, models.ServiceRunning, false},
		{models.ServiceCompleted, models.ServicePending, false},
		{models.ServiceFailed, models.ServiceCompleted, false},
		{models.ServiceRunning, models.ServicePending, false},
	}
	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("isValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUpdateServiceStatus_Timestamps(t *testing.T) {
	j := New("a", []string{"health"})

	if err := UpdateServiceStatus(j, "health", models.ServiceRunning, Details{}); err != nil {
		t.Fatalf("running: %v", err)
	}
	svc := j.Services["health"]
	if svc.StartedAt == nil {
		t.Fatal("StartedAt not stamped on running")
	}
	started := *svc.StartedAt

	if err := UpdateServiceStatus(j, "health", models.ServiceRunning, Details{}); err != nil {
		t.Fatalf("running again: %v", err)
	}
	if !svc.StartedAt.Equal(started) {
		t.Error("StartedAt should be stamped only once")
	}

	if err := UpdateServiceStatus(j, "health", models.ServiceCompleted, Details{VariablesCount: intPtr(4)}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if svc.CompletedAt == nil {
		t.Error("CompletedAt not stamped on completed")
	}
	if svc.VariablesCount == nil || *svc.VariablesCount != 4 {
		t.Errorf("VariablesCount = %v, want 4", svc.VariablesCount)
	}
}

func TestUpdateServiceStatus_InvalidTransition(t *testing.T) {
	j := New("a", []string{"health"})
	UpdateServiceStatus(j, "health", models.ServiceCompleted, Details{})

	err := UpdateServiceStatus(j, "health", models.ServiceRunning, Details{})
	if err == nil {
		t.Fatal("expected error for completed → running")
	}
	if !strings.Contains(err.Error(), "invalid transition completed → running") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUpdateServiceStatus_UnknownServiceAdded(t *testing.T) {
	j := New("a", []string{"health"})
	if err := UpdateServiceStatus(j, "garbage", models.ServiceRunning, Details{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.TotalServices != 2 {
		t.Errorf("TotalServices = %d, want 2", j.TotalServices)
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]string
		want     string
	}{
		{"all completed", map[string]string{"a": models.ServiceCompleted, "b": models.ServiceCompleted}, models.JobCompleted},
		{"one failed none pending", map[string]string{"a": models.ServiceCompleted, "b": models.ServiceFailed}, models.JobFailed},
		{"failed with pending left", map[string]string{"a": models.ServiceFailed, "b": models.ServicePending}, models.JobPaused},
		{"pending left", map[string]string{"a": models.ServiceCompleted, "b": models.ServicePending}, models.JobPaused},
		{"no services", map[string]string{}, models.JobCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, 0, len(tt.statuses))
			for id := range tt.statuses {
				ids = append(ids, id)
			}
			j := New("org", ids)
			for id, st := range tt.statuses {
				j.Services[id].Status = st
			}
			Complete(j)
			if j.Status != tt.want {
				t.Errorf("Status = %q, want %q", j.Status, tt.want)
			}
			if j.CompletedAt == nil {
				t.Error("CompletedAt should be stamped")
			}
		})
	}
}

func TestComplete_InvariantCompletedImpliesAllCompleted(t *testing.T) {
	for _, statuses := range [][]string{
		{models.ServiceCompleted, models.ServiceFailed},
		{models.ServiceCompleted, models.ServicePending},
		{models.ServiceCompleted, models.ServiceRunning},
		{models.ServiceCompleted, models.ServiceCompleted},
	} {
		j := New("org", []string{"x", "y"})
		j.Services["x"].Status = statuses[0]
		j.Services["y"].Status = statuses[1]
		Complete(j)
		if j.Status == models.JobCompleted {
			for id, svc := range j.Services {
				if svc.Status != models.ServiceCompleted {
					t.Errorf("job completed but service %s is %s", id, svc.Status)
				}
			}
		}
	}
}

func TestPause(t *testing.T) {
	j := New("org", []string{"a", "b", "c"})
	j.Services["a"].Status = models.ServiceCompleted
	UpdateServiceStatus(j, "b", models.ServiceRunning, Details{})

	Pause(j)

	if j.Status != models.JobPaused {
		t.Errorf("Status = %q, want paused", j.Status)
	}
	b := j.Services["b"]
	if b.Status != models.ServiceFailed || b.Error != InterruptedError {
		t.Errorf("running service = %+v, want failed/interrupted", b)
	}
	if j.Services["a"].Status != models.ServiceCompleted {
		t.Error("completed service should be untouched")
	}
	if j.Services["c"].Status != models.ServicePending {
		t.Error("pending service should be untouched")
	}
}

func TestRecordError(t *testing.T) {
	j := New("org", []string{"a"})
	RecordError(j, "extraction endpoint unreachable", "a")

	if j.Status != models.JobFailed {
		t.Errorf("Status = %q, want failed", j.Status)
	}
	if j.Error == nil || j.Error.ServiceID != "a" {
		t.Errorf("Error = %+v", j.Error)
	}
	Complete(j)
	if j.Status != models.JobFailed {
		t.Errorf("Complete should keep a job-level error failed, got %q", j.Status)
	}
}

func TestResumableServices(t *testing.T) {
	// {completed, failed, pending} → {failed, pending}
	j := New("org", []string{"s1", "s2", "s3"})
	j.Services["s1"].Status = models.ServiceCompleted
	j.Services["s2"].Status = models.ServiceFailed
	j.Services["s3"].Status = models.ServicePending

	got := ResumableServices(j)
	if want := []string{"s2", "s3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ResumableServices() = %v, want %v", got, want)
	}
	if j.Status != models.JobRunning {
		t.Fatalf("Status = %q, want running", j.Status)
	}
	if !CanResume(j) {
		t.Error("CanResume() = false, want true")
	}
}

func TestCanResume(t *testing.T) {
	j := New("org", []string{"s1"})
	if !CanResume(j) {
		t.Error("a new job with a pending service should be resumable")
	}
	j.Services["s1"].Status = models.ServiceCompleted
	if CanResume(j) {
		t.Error("a job with nothing pending or failed should not be resumable")
	}
	j.Services["s1"].Status = models.ServiceFailed
	Complete(j)
	if j.Status == models.JobCompleted {
		t.Fatalf("a job with a failed service should not complete")
	}
	if !CanResume(j) {
		t.Errorf("%s job with a failed service should be resumable", j.Status)
	}
	j.Status = models.JobCompleted
	if CanResume(j) {
		t.Error("completed job should not be resumable")
	}
	if CanResume(nil) {
		t.Error("nil job should not be resumable")
	}
}

func TestPrepareForResume(t *testing.T) {
	j := New("org", []string{"s1", "s2", "s3"})
	j.Services["s1"].Status = models.ServiceCompleted
	UpdateServiceStatus(j, "s2", models.ServiceRunning, Details{})
	UpdateServiceStatus(j, "s2", models.ServiceFailed, Details{Error: "timeout"})
	Complete(j)
	if j.Status != models.JobPaused {
		t.Fatalf("precondition: Status = %q, want paused", j.Status)
	}

	ids, err := PrepareForResume(j)
	if err != nil {
		t.Fatalf("PrepareForResume: %v", err)
	}
	if want := []string{"s2", "s3"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	s2 := j.Services["s2"]
	if s2.Status != models.ServicePending || s2.Error != "" || s2.StartedAt != nil || s2.CompletedAt != nil {
		t.Errorf("s2 not reset: %+v", s2)
	}
	if j.Services["s1"].Status != models.ServiceCompleted {
		t.Error("completed service should stay completed")
	}
	if j.Status != models.JobRunning || j.CompletedAt != nil || j.Error != nil {
		t.Errorf("job not reset: status=%s completedAt=%v error=%v", j.Status, j.CompletedAt, j.Error)
	}
}

func TestPrepareForResume_NotResumable(t *testing.T) {
	j := New("org", []string{"s1"})
	_, err := PrepareForResume(j)
	if !errors.Is(err, ErrNotResumable) {
		t.Errorf("err = %v, want ErrNotResumable", err)
	}
}

func TestSummarizeAndTotalVariables(t *testing.T) {
	j := New("org", []string{"a", "b", "c", "d"})
	UpdateServiceStatus(j, "a", models.ServiceCompleted, Details{VariablesCount: intPtr(3)})
	UpdateServiceStatus(j, "b", models.ServiceCompleted, Details{VariablesCount: intPtr(2)})
	UpdateServiceStatus(j, "c", models.ServiceFailed, Details{Error: "boom"})

	s := Summarize(j)
	want := Summary{Total: 4, Pending: 1, Completed: 2, Failed: 1}
	if s != want {
		t.Errorf("Summarize() = %+v, want %+v", s, want)
	}
	if got := TotalVariables(j); got != 5 {
		t.Errorf("TotalVariables() = %d, want 5", got)
	}
}
