// Package scheduler runs the periodic batch fetch and source check on cron
// expressions.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/almanac/internal/pipeline"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task names.
const (
	TaskBatch       = "batch"
	TaskSourceCheck = "source_check"
)

// Status describes one registered task.
type Status struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type task struct {
	name      string
	schedule  string
	fn        func(context.Context) error
	id        cron.EntryID
	running   bool
	lastRun   *time.Time
	lastError string
}

// Scheduler wraps a cron runner. A task still running when its next tick
// fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a stopped Scheduler. log may be nil.
func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Add registers fn under name. An empty expression leaves the task
// unscheduled.
func (s *Scheduler) Add(name, expr string, fn func(context.Context) error) error {
	if expr == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("scheduler: task %s already registered", name)
	}
	t := &task{name: name, schedule: expr, fn: fn}
	id, err := s.cron.AddFunc(expr, func() { s.run(t) })
	if err != nil {
		return fmt.Errorf("scheduler: task %s: %w", name, err)
	}
	t.id = id
	s.tasks[name] = t
	s.log.Info("task scheduled", zap.String("task", name), zap.String("schedule", expr))
	return nil
}

// Register adds the batch fetch and the source check of svc using the
// schedules in its configuration.
func Register(s *Scheduler, svc *pipeline.Service) error {
	cfg := svc.Config()
	if err := s.Add(TaskBatch, cfg.Batch.Schedule, func(ctx context.Context) error {
		_, err := svc.RunBatch(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.Add(TaskSourceCheck, cfg.SourceCheck.Schedule, func(ctx context.Context) error {
		_, err := svc.RunSourceCheck(ctx)
		return err
	})
}

// RunNow runs the named task synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %s", name)
	}
	return s.run(t)
}

func (s *Scheduler) run(t *task) error {
	s.mu.Lock()
	if t.running {
		s.mu.Unlock()
		s.log.Info("task still running, skipped", zap.String("task", t.name))
		return nil
	}
	t.running = true
	s.mu.Unlock()

	start := time.Now()
	err := t.fn(s.ctx)

	s.mu.Lock()
	t.running = false
	t.lastRun = &start
	t.lastError = ""
	if err != nil {
		t.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("task failed", zap.String("task", t.name), zap.Duration("took", time.Since(start)), zap.Error(err))
	} else {
		s.log.Info("task finished", zap.String("task", t.name), zap.Duration("took", time.Since(start)))
	}
	return err
}

// Start begins firing tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Statuses lists the registered tasks by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		st := Status{Name: t.name, Schedule: t.schedule, Running: t.running, LastRun: t.lastRun, LastError: t.lastError}
		if e := s.cron.Entry(t.id); !e.Next.IsZero() {
			next := e.Next
			st.NextRun = &next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// NextRun returns the next fire time of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: %w", err)
	}
	return sched.Next(from), nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
