package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/almanac/internal/fingerprint"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
	"github.com/zulandar/almanac/internal/store"
	"github.com/zulandar/almanac/internal/variable"
	"go.uber.org/zap"
)

const defaultConcurrency = 3

// Checker fingerprints the sources of an organization's variables and
// flags the pages that render variables whose source moved.
type Checker struct {
	st          store.Store
	fetcher     fingerprint.Fetcher
	pages       PageMap
	notifier    *notify.Notifier
	concurrency int
	log         *zap.Logger
}

// CheckerOpts holds parameters for creating a Checker.
type CheckerOpts struct {
	Store       store.Store
	Fetcher     fingerprint.Fetcher
	Pages       PageMap
	Notifier    *notify.Notifier // optional; without it no notification is sent
	Concurrency int              // parallel fetches, default 3
	Logger      *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(opts CheckerOpts) *Checker {
	c := &Checker{
		st:          opts.Store,
		fetcher:     opts.Fetcher,
		pages:       opts.Pages,
		notifier:    opts.Notifier,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.pages == nil {
		c.pages = PageMap{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Pages returns the page map the checker resolves affected pages with.
func (c *Checker) Pages() PageMap {
	return c.pages
}

// InitResult counts the baselines taken by InitializeSourceHashes.
type InitResult struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// CheckOptions tunes one CheckSourceChanges call.
type CheckOptions struct {
	// Notify sends one source_changed notification when anything changed.
	Notify bool
}

type target struct {
	name string
	url  string
}

type outcome struct {
	target
	hash string
	err  error
}

// fetchAll fingerprints every target with at most c.concurrency fetches in
// flight. Outcomes are returned in target order.
func (c *Checker) fetchAll(ctx context.Context, targets []target) []outcome {
	out := make([]outcome, len(targets))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i] = outcome{target: t, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			hash, err := c.fetcher.Fingerprint(ctx, t.url)
			out[i] = outcome{target: t, hash: hash, err: err}
		}()
	}
	wg.Wait()
	return out
}

func sourceTargets(vars map[string]models.VariableEntry, onlyWithoutHash bool) []target {
	var targets []target
	for name, e := range vars {
		if e.SourceURL == "" {
			continue
		}
		if onlyWithoutHash && e.SourceContentHash != "" {
			continue
		}
		targets = append(targets, target{name: name, url: e.SourceURL})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })
	return targets
}

// InitializeSourceHashes takes a baseline fingerprint for every variable
// that has a source URL and no fingerprint yet.
func (c *Checker) InitializeSourceHashes(ctx context.Context, orgID string) (*InitResult, error) {
	vars, err := variable.Load(ctx, c.st, orgID)
	if err != nil {
		return nil, err
	}
	targets := sourceTargets(vars, true)
	res := &InitResult{}
	if len(targets) == 0 {
		return res, nil
	}

	outcomes := c.fetchAll(ctx, targets)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("review: initialize %s: %w", orgID, err)
	}

	now := time.Now()
	_, err = variable.Modify(ctx, c.st, orgID, func(vars map[string]models.VariableEntry) error {
		res.Success, res.Errors = 0, 0
		for _, o := range outcomes {
			if o.err != nil {
				res.Errors++
				continue
			}
			e, ok := vars[o.name]
			if !ok || e.SourceURL != o.url || e.SourceContentHash != "" {
				continue
			}
			e.SourceContentHash = o.hash
			e.LastSourceCheckAt = &now
			vars[o.name] = e
			res.Success++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if o.err != nil {
			c.log.Warn("source baseline failed",
				zap.String("org", orgID),
				zap.String("variable", o.name),
				zap.Error(o.err))
		}
	}
	return res, nil
}

// CheckSourceChanges fingerprints every source-backed variable and compares
// it with the stored baseline. A changed variable is flagged, its new
// fingerprint stored and every page rendering it marked for review.
// Variables without a baseline only get one. The result is stored as the
// organization's latest.
func (c *Checker) CheckSourceChanges(ctx context.Context, orgID string, opts CheckOptions) (*models.SourceCheckResult, error) {
	vars, err := variable.Load(ctx, c.st, orgID)
	if err != nil {
		return nil, err
	}
	targets := sourceTargets(vars, false)
	res := &models.SourceCheckResult{
		OrgID:          orgID,
		CheckedAt:      time.Now(),
		TotalVariables: len(targets),
		Changed:        []models.SourceChange{},
		Errors:         []models.SourceCheckError{},
	}
	if len(targets) == 0 {
		if err := SaveResult(ctx, c.st, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	outcomes := c.fetchAll(ctx, targets)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("review: check %s: %w", orgID, err)
	}

	now := time.Now()
	_, err = variable.Modify(ctx, c.st, orgID, func(vars map[string]models.VariableEntry) error {
		res.Changed = res.Changed[:0]
		res.Errors = res.Errors[:0]
		for _, o := range outcomes {
			if o.err != nil {
				res.Errors = append(res.Errors, models.SourceCheckError{
					VariableName: o.name,
					SourceURL:    o.url,
					Error:        o.err.Error(),
				})
				continue
			}
			e, ok := vars[o.name]
			if !ok || e.SourceURL != o.url {
				continue
			}
			oldHash := e.SourceContentHash
			e.SourceContentHash = o.hash
			e.LastSourceCheckAt = &now
			if oldHash != "" && oldHash != o.hash {
				e.SourceChanged = true
				e.SourceChangedAt = &now
				res.Changed = append(res.Changed, models.SourceChange{
					VariableName:  o.name,
					SourceURL:     o.url,
					OldHash:       oldHash,
					NewHash:       o.hash,
					AffectedPages: append([]string{}, c.pages.PagesFor(o.name)...),
				})
			}
			vars[o.name] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pages := make(map[string][]string)
	for _, ch := range res.Changed {
		for _, p := range ch.AffectedPages {
			pages[p] = append(pages[p], ch.VariableName)
		}
	}
	for p, names := range pages {
		if err := MarkPage(ctx, c.st, orgID, p, names); err != nil {
			return nil, err
		}
	}

	if err := SaveResult(ctx, c.st, res); err != nil {
		return nil, err
	}

	c.log.Info("source check finished",
		zap.String("org", orgID),
		zap.Int("variables", res.TotalVariables),
		zap.Int("changed", len(res.Changed)),
		zap.Int("errors", len(res.Errors)))

	if opts.Notify && len(res.Changed) > 0 && c.notifier != nil {
		if _, err := c.notifier.SourceChanged(ctx, orgID, "", len(res.Changed), len(pages)); err != nil {
			c.log.Warn("source change notification failed", zap.String("org", orgID), zap.Error(err))
		}
	}
	return res, nil
}
