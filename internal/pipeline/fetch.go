package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/draft"
	"github.com/zulandar/almanac/internal/job"
	"github.com/zulandar/almanac/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RunOptions controls one fetch job run.
type RunOptions struct {
	// SkipLiveDrafts leaves services that already have a draft or
	// pending_review draft untouched.
	SkipLiveDrafts bool
	// Quiet suppresses per-service and per-job notifications. Batch runs
	// report once for the whole run.
	Quiet bool
}

// resolveFetch checks the organization and service list. An empty list
// means every configured service.
func (s *Service) resolveFetch(orgID string, services []string) (config.OrgConfig, []string, error) {
	org, ok := s.cfg.Organization(orgID)
	if !ok {
		return org, nil, fmt.Errorf("pipeline: unknown organization %q: %w", orgID, ErrValidation)
	}
	if len(services) == 0 {
		services = s.cfg.ServiceIDs()
	}
	if len(services) == 0 {
		return org, nil, fmt.Errorf("pipeline: no services configured: %w", ErrValidation)
	}
	for _, id := range services {
		if _, ok := s.cfg.Service(id); !ok {
			return org, nil, fmt.Errorf("pipeline: unknown service %q: %w", id, ErrValidation)
		}
	}
	return org, services, nil
}

func (s *Service) lockJob(orgID string) (func(), error) {
	unlock, ok := s.jobs.tryLock(orgID)
	if !ok {
		return nil, fmt.Errorf("pipeline: %s: fetch already running: %w", orgID, ErrBusy)
	}
	return unlock, nil
}

// CreateJob validates and persists a new running job without running it.
func (s *Service) CreateJob(ctx context.Context, orgID string, services []string) (*models.FetchJob, error) {
	unlock, err := s.lockJob(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.newJob(ctx, orgID, services)
}

func (s *Service) newJob(ctx context.Context, orgID string, services []string) (*models.FetchJob, error) {
	_, ids, err := s.resolveFetch(orgID, services)
	if err != nil {
		return nil, err
	}
	j := job.New(orgID, ids)
	if err := job.Save(ctx, s.st, j); err != nil {
		return nil, err
	}
	return j, nil
}

// RunJob runs every pending service of j.
func (s *Service) RunJob(ctx context.Context, j *models.FetchJob, opts RunOptions) (*models.FetchJob, error) {
	unlock, err := s.lockJob(j.OrgID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.runJob(ctx, j, pendingServices(j), opts)
}

// Fetch creates a job over services (all configured when empty) and runs
// it to the end.
func (s *Service) Fetch(ctx context.Context, orgID string, services []string, opts RunOptions) (*models.FetchJob, error) {
	return s.launch(ctx, orgID, false, opts, func(ctx context.Context) (*models.FetchJob, []string, error) {
		j, err := s.newJob(ctx, orgID, services)
		if err != nil {
			return nil, nil, err
		}
		return j, pendingServices(j), nil
	})
}

// StartFetch is Fetch that returns as soon as the job is stored. The run
// continues detached from ctx's cancellation, bounded by the batch run
// timeout.
func (s *Service) StartFetch(ctx context.Context, orgID string, services []string, opts RunOptions) (*models.FetchJob, error) {
	return s.launch(ctx, orgID, true, opts, func(ctx context.Context) (*models.FetchJob, []string, error) {
		j, err := s.newJob(ctx, orgID, services)
		if err != nil {
			return nil, nil, err
		}
		return j, pendingServices(j), nil
	})
}

// Resume reruns the failed and pending services of the organization's
// latest job.
func (s *Service) Resume(ctx context.Context, orgID string, opts RunOptions) (*models.FetchJob, error) {
	return s.launch(ctx, orgID, false, opts, s.prepareResume(orgID))
}

// StartResume is Resume that returns once the job is marked running.
func (s *Service) StartResume(ctx context.Context, orgID string, opts RunOptions) (*models.FetchJob, error) {
	return s.launch(ctx, orgID, true, opts, s.prepareResume(orgID))
}

func (s *Service) prepareResume(orgID string) func(ctx context.Context) (*models.FetchJob, []string, error) {
	return func(ctx context.Context) (*models.FetchJob, []string, error) {
		j, err := s.LatestJob(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
		ids, err := job.PrepareForResume(j)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: resume %s: %w: %w", orgID, ErrInvalidState, err)
		}
		if err := job.Save(ctx, s.st, j); err != nil {
			return nil, nil, err
		}
		return j, ids, nil
	}
}

// LatestJob returns the organization's most recent job, pausing it first
// if it claims to be running but has gone stale.
func (s *Service) LatestJob(ctx context.Context, orgID string) (*models.FetchJob, error) {
	return job.LoadLatest(ctx, s.st, orgID, s.cfg.Batch.JobStaleAfter)
}

// launch holds the organization's job lock from preparation until the run
// ends. Async runs return a snapshot of the prepared job.
func (s *Service) launch(ctx context.Context, orgID string, async bool, opts RunOptions, prepare func(context.Context) (*models.FetchJob, []string, error)) (*models.FetchJob, error) {
	unlock, err := s.lockJob(orgID)
	if err != nil {
		return nil, err
	}
	j, ids, err := prepare(ctx)
	if err != nil {
		unlock()
		return nil, err
	}
	if !async {
		defer unlock()
		return s.runJob(ctx, j, ids, opts)
	}

	snapshot := cloneJob(j)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer unlock()
		if s.cfg.Batch.RunTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.cfg.Batch.RunTimeout)
			defer cancel()
		}
		if _, err := s.runJob(runCtx, j, ids, opts); err != nil {
			s.log.Warn("background fetch ended with error", zap.String("org", orgID), zap.String("job", j.ID), zap.Error(err))
		}
	}()
	return snapshot, nil
}

// runJob extracts each service in turn. Service failures are recorded on
// the job and never abort the run. Cancelling ctx pauses the job so it can
// be resumed.
func (s *Service) runJob(ctx context.Context, j *models.FetchJob, ids []string, opts RunOptions) (*models.FetchJob, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("pipeline: extraction is not configured")
	}
	org, ok := s.cfg.Organization(j.OrgID)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown organization %q: %w", j.OrgID, ErrValidation)
	}
	name := s.orgName(org.ID)
	log := s.log.With(zap.String("org", org.ID), zap.String("job", j.ID))
	log.Info("fetch started", zap.Int("services", len(ids)))

	pace := serviceLimiter(s.cfg.Batch.ServiceDelay)
	var stopErr error
	for _, svcID := range ids {
		if err := pace.Wait(ctx); err != nil {
			stopErr = interruption(ctx)
			break
		}
		if err := s.runService(ctx, j, org, svcID, opts, log); err != nil {
			return j, err
		}
	}
	if stopErr == nil {
		stopErr = ctx.Err()
	}

	if stopErr != nil {
		job.Pause(j)
		if err := job.Save(context.WithoutCancel(ctx), s.st, j); err != nil {
			return j, err
		}
		log.Warn("fetch interrupted, job paused", zap.Error(stopErr))
		return j, fmt.Errorf("pipeline: fetch %s interrupted: %w", org.ID, stopErr)
	}

	job.Complete(j)
	if err := job.Save(ctx, s.st, j); err != nil {
		return j, err
	}
	if err := s.touchOrgState(ctx, org.ID, func(st *models.OrgState) {
		now := time.Now()
		st.LastFetchAt = &now
	}); err != nil {
		return j, err
	}

	sum := job.Summarize(j)
	log.Info("fetch finished",
		zap.String("status", j.Status),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
	)
	if !opts.Quiet {
		if j.Status == models.JobCompleted {
			s.logNotify(s.notifier.FetchCompleted(ctx, org.ID, name, sum.Completed, job.TotalVariables(j)))
		} else {
			msg := fmt.Sprintf("%d of %d services failed", sum.Failed, sum.Total)
			s.logNotify(s.notifier.FetchFailed(ctx, org.ID, name, msg))
		}
	}
	return j, nil
}

// runService runs one service. Only a store failure is returned; everything
// else is recorded on the job.
func (s *Service) runService(ctx context.Context, j *models.FetchJob, org config.OrgConfig, svcID string, opts RunOptions, log *zap.Logger) error {
	if opts.SkipLiveDrafts {
		d, err := draft.Get(ctx, s.st, org.ID, svcID)
		if err == nil && !d.IsTerminal() {
			log.Info("service skipped, live draft exists", zap.String("service", svcID))
			zero := 0
			return s.setService(ctx, j, svcID, models.ServiceCompleted, job.Details{VariablesCount: &zero})
		}
	}

	if err := s.setService(ctx, j, svcID, models.ServiceRunning, job.Details{}); err != nil {
		return err
	}

	res, err := s.extractor.FetchServiceVariables(ctx, s.orgName(org.ID), svcID, org.OfficialURL)
	if err != nil {
		if ctx.Err() != nil {
			// Left running; Pause turns it into an interrupted failure.
			return nil
		}
		log.Warn("extraction failed", zap.String("service", svcID), zap.Error(err))
		return s.setService(ctx, j, svcID, models.ServiceFailed, job.Details{Error: err.Error()})
	}
	if !res.Success {
		log.Warn("extraction unsuccessful", zap.String("service", svcID), zap.String("error", res.FirstError()))
		return s.setService(ctx, j, svcID, models.ServiceFailed, job.Details{Error: res.FirstError()})
	}

	svc, _ := s.cfg.Service(svcID)
	unlock := s.writes.lock(org.ID)
	d, err := draft.Create(ctx, s.st, org.ID, svcID, draft.Input{
		FetchJobID:  j.ID,
		Variables:   res.Filled(),
		Missing:     res.Missing(),
		Expected:    svc.Variables,
		Suggestions: res.Suggestions,
		Errors:      res.DraftErrors(),
	})
	unlock()
	if err != nil {
		if errors.Is(err, draft.ErrApprovalPending) {
			return s.setService(ctx, j, svcID, models.ServiceFailed, job.Details{Error: err.Error()})
		}
		return err
	}

	n := len(d.Variables)
	if err := s.setService(ctx, j, svcID, models.ServiceCompleted, job.Details{VariablesCount: &n}); err != nil {
		return err
	}
	log.Info("draft created", zap.String("service", svcID), zap.Int("variables", n), zap.Int("missing", len(d.MissingVariables)))
	if !opts.Quiet {
		s.logNotify(s.notifier.DraftCreated(ctx, org.ID, s.orgName(org.ID), svcID, n))
	}
	return nil
}

func (s *Service) setService(ctx context.Context, j *models.FetchJob, svcID, status string, d job.Details) error {
	if err := job.UpdateServiceStatus(j, svcID, status, d); err != nil {
		return err
	}
	return job.Save(context.WithoutCancel(ctx), s.st, j)
}

// pendingServices lists j's pending services in a stable order.
func pendingServices(j *models.FetchJob) []string {
	var ids []string
	for _, id := range job.ResumableServices(j) {
		if j.Services[id].Status == models.ServicePending {
			ids = append(ids, id)
		}
	}
	return ids
}

// serviceLimiter spaces extraction calls by delay. The first call goes
// through at once.
func serviceLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// interruption names why a paced wait failed. The limiter refuses up front
// a wait that would outlast ctx's deadline.
func interruption(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// cloneJob copies j deeply enough to be read while the original runs.
func cloneJob(j *models.FetchJob) *models.FetchJob {
	c := *j
	c.Services = make(map[string]*models.ServiceJobState, len(j.Services))
	for id, svc := range j.Services {
		sc := *svc
		c.Services[id] = &sc
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
