package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/pipeline"
	"github.com/zulandar/almanac/internal/store/storetest"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	got, err := NextRun("0 3 * * *", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}

	if _, err := NextRun("not a cron", from); err == nil {
		t.Error("expected parse error")
	}
}

func TestAdd_Validation(t *testing.T) {
	s := New(nil)
	if err := s.Add("x", "", func(context.Context) error { return nil }); err != nil {
		t.Errorf("empty expression should be ignored: %v", err)
	}
	if len(s.Statuses()) != 0 {
		t.Error("empty expression should not register")
	}
	if err := s.Add("x", "bad", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for bad expression")
	}
	if err := s.Add("y", "*/5 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := s.Add("y", "*/5 * * * *", func(context.Context) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestRunNow_RecordsStatus(t *testing.T) {
	s := New(nil)
	var calls int32
	s.Add("ok", "0 * * * *", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	s.Add("bad", "0 * * * *", func(context.Context) error { return errors.New("boom") })

	if err := s.RunNow("ok"); err != nil {
		t.Fatalf("RunNow ok: %v", err)
	}
	if err := s.RunNow("bad"); err == nil {
		t.Fatal("RunNow bad: expected error")
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow missing: expected error")
	}

	st := s.Statuses()
	if len(st) != 2 || st[0].Name != "bad" || st[1].Name != "ok" {
		t.Fatalf("statuses = %+v", st)
	}
	if st[0].LastError != "boom" || st[0].LastRun == nil {
		t.Errorf("bad status = %+v", st[0])
	}
	if st[1].LastError != "" || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("ok status = %+v, calls = %d", st[1], calls)
	}
}

func TestRun_SkipsOverlap(t *testing.T) {
	s := New(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32
	s.Add("slow", "0 * * * *", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.RunNow("slow")
		close(done)
	}()
	<-started
	if err := s.RunNow("slow"); err != nil {
		t.Errorf("overlapping RunNow: %v", err)
	}
	close(release)
	<-done
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestStop_CancelsContext(t *testing.T) {
	s := New(nil)
	s.Start()
	s.Stop()
	if s.ctx.Err() == nil {
		t.Error("Stop should cancel the task context")
	}
}

func TestRegister(t *testing.T) {
	cfg := &config.Config{
		Batch:       config.BatchConfig{Schedule: "0 3 * * *"},
		SourceCheck: config.SourceCheckConfig{Schedule: ""},
	}
	svc := pipeline.New(pipeline.Opts{Store: storetest.New(t), Config: cfg})
	s := New(nil)
	if err := Register(s, svc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	st := s.Statuses()
	if len(st) != 1 || st[0].Name != TaskBatch || st[0].Schedule != "0 3 * * *" {
		t.Errorf("statuses = %+v", st)
	}
}
