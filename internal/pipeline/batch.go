package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/job"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/review"
	"go.uber.org/zap"
)

// BatchResult summarizes one scheduled fetch run.
type BatchResult struct {
	Orgs            []string      `json:"orgs"`
	Processed       int           `json:"processed"`
	ServicesUpdated int           `json:"services_updated"`
	Errors          int           `json:"errors"`
	Duration        time.Duration `json:"duration"`
}

// SourceCheckSummary summarizes one scheduled source-check run.
type SourceCheckSummary struct {
	Orgs             []string `json:"orgs"`
	Initialized      int      `json:"initialized"`
	ChangedVariables int      `json:"changed_variables"`
	AffectedPages    int      `json:"affected_pages"`
	Errors           int      `json:"errors"`
}

// candidate is an organization with the time it was last handled.
type candidate struct {
	org  config.OrgConfig
	last *time.Time
}

// dueOrgs returns enabled organizations ordered by how long ago last says
// they were handled, never-handled first, keeping those older than
// staleAfter (all when zero), capped at limit (no cap when zero).
func (s *Service) dueOrgs(ctx context.Context, staleAfter time.Duration, limit int, last func(*models.OrgState) *time.Time) ([]config.OrgConfig, error) {
	now := time.Now()
	var cands []candidate
	for _, o := range s.cfg.EnabledOrganizations() {
		st, err := s.OrgState(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		t := last(st)
		if t != nil && staleAfter > 0 && now.Sub(*t) < staleAfter {
			continue
		}
		cands = append(cands, candidate{org: o, last: t})
	}
	sort.SliceStable(cands, func(i, k int) bool {
		a, b := cands[i].last, cands[k].last
		switch {
		case a == nil && b == nil:
			return cands[i].org.ID < cands[k].org.ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return cands[i].org.ID < cands[k].org.ID
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]config.OrgConfig, len(cands))
	for i, c := range cands {
		out[i] = c.org
	}
	return out, nil
}

// RunBatch fetches the organizations whose data is oldest. The whole run
// is reported by exactly one cron_completed or cron_failed notification.
// A run cut short returns its partial result together with the error.
func (s *Service) RunBatch(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	if s.cfg.Batch.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Batch.RunTimeout)
		defer cancel()
	}
	notifyCtx := context.WithoutCancel(ctx)

	orgs, err := s.dueOrgs(ctx, s.cfg.Batch.StaleAfter, s.cfg.Batch.MaxOrgsPerRun, func(st *models.OrgState) *time.Time {
		return st.LastFetchAt
	})
	if err != nil {
		s.logNotify(s.notifier.CronFailed(notifyCtx, err))
		return nil, err
	}

	res := &BatchResult{Orgs: []string{}}
	opts := RunOptions{SkipLiveDrafts: !s.cfg.Batch.OverwriteLiveDrafts, Quiet: true}
	for _, org := range orgs {
		if ctx.Err() != nil {
			break
		}
		res.Orgs = append(res.Orgs, org.ID)
		res.Processed++
		j, err := s.Fetch(ctx, org.ID, nil, opts)
		if j != nil {
			sum := job.Summarize(j)
			res.ServicesUpdated += updatedServices(j)
			res.Errors += sum.Failed
		}
		if err != nil {
			res.Errors++
			s.log.Warn("batch fetch failed", zap.String("org", org.ID), zap.Error(err))
		}
	}
	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrRunTimeout, err)
		}
		s.log.Warn("batch run interrupted",
			zap.Int("processed", res.Processed),
			zap.Int("errors", res.Errors),
			zap.Error(err),
		)
		s.logNotify(s.notifier.CronInterrupted(notifyCtx, err, res.Processed, res.ServicesUpdated, res.Errors, res.Duration))
		return res, fmt.Errorf("pipeline: batch: %w", err)
	}
	s.logNotify(s.notifier.CronCompleted(notifyCtx, res.Processed, res.ServicesUpdated, res.Errors, res.Duration))
	s.log.Info("batch run finished",
		zap.Int("processed", res.Processed),
		zap.Int("services_updated", res.ServicesUpdated),
		zap.Int("errors", res.Errors),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

// updatedServices counts completed services that produced variables.
func updatedServices(j *models.FetchJob) int {
	n := 0
	for _, svc := range j.Services {
		if svc.Status == models.ServiceCompleted && svc.VariablesCount != nil && *svc.VariablesCount > 0 {
			n++
		}
	}
	return n
}

// RunSourceCheck baselines and checks the source pages of the organizations
// checked least recently. At most one source_changed notification is
// emitted for the whole run.
func (s *Service) RunSourceCheck(ctx context.Context) (*SourceCheckSummary, error) {
	if s.checker == nil {
		return nil, fmt.Errorf("pipeline: source checking is not configured")
	}
	if s.cfg.SourceCheck.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SourceCheck.RunTimeout)
		defer cancel()
	}
	notifyCtx := context.WithoutCancel(ctx)

	orgs, err := s.dueOrgs(ctx, 0, s.cfg.SourceCheck.MaxOrgsPerRun, func(st *models.OrgState) *time.Time {
		return st.LastSourceCheckAt
	})
	if err != nil {
		s.logNotify(s.notifier.CronFailed(notifyCtx, err))
		return nil, err
	}

	sum := &SourceCheckSummary{Orgs: []string{}}
	pages := make(map[string]bool)
	for _, org := range orgs {
		if ctx.Err() != nil {
			break
		}
		res, err := s.CheckSources(ctx, org.ID)
		if err != nil {
			sum.Errors++
			s.log.Warn("source check failed", zap.String("org", org.ID), zap.Error(err))
			continue
		}
		sum.Orgs = append(sum.Orgs, org.ID)
		sum.Initialized += res.Init.Success
		sum.Errors += res.Init.Errors + len(res.Result.Errors)
		sum.ChangedVariables += len(res.Result.Changed)
		for _, c := range res.Result.Changed {
			for _, p := range c.AffectedPages {
				pages[org.ID+p] = true
			}
		}
	}
	sum.AffectedPages = len(pages)

	if sum.ChangedVariables > 0 {
		s.logNotify(s.notifier.SourceChanged(notifyCtx, "", "", sum.ChangedVariables, sum.AffectedPages))
	}
	s.log.Info("source check run finished",
		zap.Int("orgs", len(sum.Orgs)),
		zap.Int("changed", sum.ChangedVariables),
		zap.Int("pages", sum.AffectedPages),
		zap.Int("errors", sum.Errors),
	)
	return sum, nil
}

// OrgCheck is the outcome of checking one organization's sources.
type OrgCheck struct {
	Init   *review.InitResult        `json:"init"`
	Result *models.SourceCheckResult `json:"result"`
}

// CheckSources baselines and checks one organization without notifying.
func (s *Service) CheckSources(ctx context.Context, orgID string) (*OrgCheck, error) {
	if s.checker == nil {
		return nil, fmt.Errorf("pipeline: source checking is not configured")
	}
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ir, err := s.checker.InitializeSourceHashes(ctx, orgID)
	if err != nil {
		return nil, err
	}
	res, err := s.checker.CheckSourceChanges(ctx, orgID, review.CheckOptions{})
	if err != nil {
		return nil, err
	}
	if err := s.touchOrgState(ctx, orgID, func(st *models.OrgState) {
		now := time.Now()
		st.LastSourceCheckAt = &now
	}); err != nil {
		return nil, err
	}
	return &OrgCheck{Init: ir, Result: res}, nil
}
