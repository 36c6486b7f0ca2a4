// Package pipeline orchestrates fetch jobs, draft approval, manual variable
// edits, source-change checks and page review resolution on top of the
// storage packages. Every read-modify-write sequence for an organization
// runs under that organization's lock.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/extract"
	"github.com/zulandar/almanac/internal/invalidate"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/review"
	"github.com/zulandar/almanac/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrValidation is returned for malformed input. Nothing is mutated.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState is returned when an operation does not apply to the
	// current state, such as approving a rejected draft.
	ErrInvalidState = errors.New("invalid state")
	// ErrBusy is returned when another operation holds the organization.
	ErrBusy = errors.New("organization is busy")
	// ErrRunTimeout is returned when a scheduled run exceeds its configured
	// wall-clock limit.
	ErrRunTimeout = errors.New("run timed out")
)

// Opts configures a Service.
type Opts struct {
	Store       store.Store
	Config      *config.Config
	Extractor   extract.Extractor
	Checker     *review.Checker        // nil disables source checks
	Notifier    *notify.Notifier       // nil persists without chat sinks
	Invalidator invalidate.Invalidator // nil discards signals
	Logger      *zap.Logger
}

// Service is the orchestration layer shared by the HTTP API, the CLI and
// the scheduler.
type Service struct {
	st          store.Store
	cfg         *config.Config
	extractor   extract.Extractor
	checker     *review.Checker
	notifier    *notify.Notifier
	invalidator invalidate.Invalidator
	log         *zap.Logger

	jobs   keyedLock
	writes keyedLock
}

// New creates a Service.
func New(opts Opts) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	n := opts.Notifier
	if n == nil {
		n = notify.NewNotifier(opts.Store, log)
	}
	inv := opts.Invalidator
	if inv == nil {
		inv = invalidate.Nop{}
	}
	return &Service{
		st:          opts.Store,
		cfg:         cfg,
		extractor:   opts.Extractor,
		checker:     opts.Checker,
		notifier:    n,
		invalidator: inv,
		log:         log,
	}
}

// Store returns the record store the service writes to.
func (s *Service) Store() store.Store {
	return s.st
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// orgName returns the configured display name, falling back to the ID.
func (s *Service) orgName(orgID string) string {
	if o, ok := s.cfg.Organization(orgID); ok && o.Name != "" {
		return o.Name
	}
	return orgID
}

// lockOrg takes the organization's write lock or fails with ErrBusy.
func (s *Service) lockOrg(orgID string) (func(), error) {
	unlock, ok := s.writes.tryLock(orgID)
	if !ok {
		return nil, fmt.Errorf("pipeline: %s: %w", orgID, ErrBusy)
	}
	return unlock, nil
}

// logNotify is used as logNotify(s.notifier.X(...)). A notification that
// cannot be stored does not undo the change it reports.
func (s *Service) logNotify(n *models.Notification, err error) {
	if err != nil {
		s.log.Warn("notification failed", zap.Error(err))
		return
	}
	s.log.Debug("notification added", zap.String("type", n.Type), zap.String("id", n.ID))
}

// invalidate signals the renderer for the pages that show names. When no
// page map is loaded every page of the organization is stale.
func (s *Service) invalidate(orgID string, names []string) {
	var paths []string
	if s.checker != nil {
		pages := s.checker.Pages()
		seen := make(map[string]bool)
		for _, name := range names {
			for _, p := range pages.PagesFor(name) {
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
		}
	}
	s.invalidator.Invalidate(orgID, paths)
}

// keyedLock is a set of mutexes keyed by organization.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *keyedLock) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *keyedLock) tryLock(key string) (func(), bool) {
	m := l.get(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

func (l *keyedLock) lock(key string) func() {
	m := l.get(key)
	m.Lock()
	return m.Unlock
}
