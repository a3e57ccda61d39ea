// Package scheduler decides when harvest definitions run and turns each due
// occurrence into persisted crawl jobs.
//
// Every trigger is one logical transaction against the repository: the
// definition is read at an edition, jobs are planned from it, and the commit
// of jobs plus the advanced schedule is rejected if the edition moved.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/estimator"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/partitioner"
)

// Repository is the persistence collaborator.
type Repository interface {
	LoadDueHarvestDefinitions(ctx context.Context, now time.Time) ([]int64, error)
	LoadHarvestDefinition(ctx context.Context, id int64) (domain.HarvestDefinition, error)
	LoadHistoricalInfo(ctx context.Context, domainName, configName string) ([]domain.HarvestInfo, error)
	// PersistJobsAndAdvance commits jobs together with the new schedule
	// state, or nothing. It returns domain.ErrConcurrentModification when
	// the stored edition is no longer expectedEdition.
	PersistJobsAndAdvance(ctx context.Context, hd domain.HarvestDefinition, jobs []domain.Job, nextDate *time.Time, numEvents int, expectedEdition int64) error
}

// TickSchedule yields the instants at which the scheduler looks for due
// definitions.
type TickSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records scheduler metrics. Implementations must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsCreated int, err error)
	TriggerOutcome(outcome string)
	JobsCreated(n int)
	OccurrencesSkipped(n int)
	EditionConflict()
}

// AnalyticsSink receives a summary of every committed trigger.
type AnalyticsSink interface {
	RecordTrigger(ctx context.Context, harvestID int64, jobs int, expectedObjects int64, at time.Time) error
}

// Config holds the scheduler tunables.
type Config struct {
	Workers         int
	ConflictRetries int
	MaxSkips        int
	// Location is where calendar arithmetic of schedules happens.
	Location *time.Location
}

// Status is the outcome of one trigger.
type Status string

const (
	StatusCreated        Status = "created"
	StatusNotReady       Status = "not_ready"
	StatusAlreadyHandled Status = "already_handled"
	StatusConflict       Status = "conflict"
	StatusFailed         Status = "failed"
)

// TriggerResult describes what a trigger did, or would do for Plan.
type TriggerResult struct {
	// Definition is the state after the trigger: advanced when jobs were
	// created, as loaded otherwise.
	Definition domain.HarvestDefinition
	Jobs       []domain.Job
	Skipped    int
	Status     Status
	Err        error
}

// ExpectedObjects sums the expectations of the created jobs.
func (r TriggerResult) ExpectedObjects() int64 {
	var total int64
	for _, j := range r.Jobs {
		total += j.ExpectedObjects
	}
	return total
}

// TickReport collects the results of one RunOnce.
type TickReport struct {
	At      time.Time
	Results []TriggerResult
}

// JobsCreated counts the jobs committed during the tick.
func (r TickReport) JobsCreated() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusCreated {
			n += len(res.Jobs)
		}
	}
	return n
}

// Failed returns the results that carry an error.
func (r TickReport) Failed() []TriggerResult {
	var out []TriggerResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Scheduler plans and commits harvest definition triggers.
type Scheduler struct {
	config      Config
	repo        Repository
	estimator   *estimator.Estimator
	partitioner *partitioner.Partitioner
	metrics     MetricsSink
	analytics   AnalyticsSink
	logger      logger.Logger
	clock       func() time.Time
}

// New creates a Scheduler. The estimator reads history through repo.
func New(config Config, repo Repository, est estimator.Params, part partitioner.Params) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.ConflictRetries < 0 {
		config.ConflictRetries = 0
	}
	if config.MaxSkips <= 0 {
		config.MaxSkips = defaultMaxSkips
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Scheduler{
		config:      config,
		repo:        repo,
		estimator:   estimator.New(est, repo),
		partitioner: partitioner.New(part),
		logger:      logger.NewNop(),
		clock:       time.Now,
	}
}

const defaultMaxSkips = 100000

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithPartitionMetrics attaches a sink observing partitioned job sizes.
func (s *Scheduler) WithPartitionMetrics(sink partitioner.MetricsSink) *Scheduler {
	s.partitioner.WithMetrics(sink)
	return s
}

// WithAnalytics attaches an analytics sink. Its failures are logged only.
func (s *Scheduler) WithAnalytics(sink AnalyticsSink) *Scheduler {
	s.analytics = sink
	return s
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(l logger.Logger) *Scheduler {
	s.logger = l.With(logger.Component("scheduler"))
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run triggers due definitions at every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickSchedule) error {
	s.logger.Info("scheduler started",
		logger.Int("workers", s.config.Workers),
		logger.String("location", s.config.Location.String()))

	for {
		now := s.clock()
		next := tick.Next(now)
		if next.IsZero() {
			return errors.New("tick schedule has no next instant")
		}
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("tick failed", logger.Error(err))
			}
		}
	}
}

// RunOnce triggers every definition that is due now, in parallel. A failing
// definition never stops the others; only a failure to list due definitions
// is returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	start := s.clock()
	now := start.In(s.config.Location)
	report := TickReport{At: now}
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	ids, err := s.repo.LoadDueHarvestDefinitions(ctx, now)
	if err != nil {
		err = domain.RepositoryError("load due harvest definitions", err)
		if s.metrics != nil {
			s.metrics.TickCompleted(s.clock().Sub(start), 0, err)
		}
		return report, err
	}

	report.Results = make([]TriggerResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Trigger(ctx, id, now)
			res.Err = err
			report.Results[i] = res
			if err != nil {
				s.logger.Error("trigger failed",
					logger.Int64("harvest_id", id),
					logger.String("status", string(res.Status)),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	created := report.JobsCreated()
	if s.metrics != nil {
		var tickErr error
		if failed := report.Failed(); len(failed) > 0 {
			tickErr = fmt.Errorf("%d of %d triggers failed", len(failed), len(ids))
		}
		s.metrics.TickCompleted(s.clock().Sub(start), created, tickErr)
	}
	s.logger.Debug("tick completed",
		logger.Int("due", len(ids)),
		logger.Int("jobs_created", created))
	return report, nil
}

// Trigger runs the trigger transaction for one definition. A stale edition
// reloads the definition and retries up to the configured number of times.
func (s *Scheduler) Trigger(ctx context.Context, id int64, now time.Time) (TriggerResult, error) {
	for attempt := 0; ; attempt++ {
		hd, err := s.repo.LoadHarvestDefinition(ctx, id)
		if err != nil {
			s.outcome(StatusFailed)
			failed := TriggerResult{Definition: domain.HarvestDefinition{ID: id}, Status: StatusFailed}
			return failed, domain.RepositoryError(fmt.Sprintf("load harvest definition %d", id), err)
		}

		res, err := s.commit(ctx, hd, now)
		if attempt > 0 && res.Status == StatusNotReady {
			res.Status = StatusAlreadyHandled
		}
		if errors.Is(err, domain.ErrConcurrentModification) {
			if s.metrics != nil {
				s.metrics.EditionConflict()
			}
			if attempt < s.config.ConflictRetries {
				s.logger.Info("edition conflict, reloading",
					logger.Int64("harvest_id", id),
					logger.Int("attempt", attempt+1))
				continue
			}
			res.Status = StatusConflict
		}
		s.outcome(res.Status)
		return res, err
	}
}

func (s *Scheduler) commit(ctx context.Context, hd domain.HarvestDefinition, now time.Time) (TriggerResult, error) {
	res, err := s.Plan(ctx, hd, now)
	if err != nil || res.Status != StatusCreated {
		return res, err
	}

	next := res.Definition
	var nextDate *time.Time
	if next.Selective != nil {
		nextDate = next.Selective.NextDate
	}
	if err := s.repo.PersistJobsAndAdvance(ctx, hd, res.Jobs, nextDate, next.NumEvents, hd.Edition); err != nil {
		failed := TriggerResult{Definition: hd, Status: StatusFailed}
		return failed, domain.RepositoryError(fmt.Sprintf("persist jobs of harvest definition %d", hd.ID), err)
	}
	res.Definition.Edition = hd.Edition + 1

	if s.metrics != nil {
		s.metrics.JobsCreated(len(res.Jobs))
		if res.Skipped > 0 {
			s.metrics.OccurrencesSkipped(res.Skipped)
		}
	}
	if s.analytics != nil {
		if err := s.analytics.RecordTrigger(ctx, hd.ID, len(res.Jobs), res.ExpectedObjects(), now); err != nil {
			s.logger.Warn("analytics write failed", logger.Int64("harvest_id", hd.ID), logger.Error(err))
		}
	}

	fields := []logger.Field{
		logger.Int64("harvest_id", hd.ID),
		logger.String("harvest", hd.Name),
		logger.Int("jobs", len(res.Jobs)),
		logger.Int("num_events", next.NumEvents),
	}
	if nextDate != nil {
		fields = append(fields, logger.Time("next_date", *nextDate))
	}
	s.logger.Info("jobs created", fields...)
	return res, nil
}

// Plan computes what triggering hd at now would produce without persisting
// anything. hd is not modified.
func (s *Scheduler) Plan(ctx context.Context, hd domain.HarvestDefinition, now time.Time) (TriggerResult, error) {
	if err := hd.Validate(); err != nil {
		return TriggerResult{Definition: hd, Status: StatusFailed}, err
	}
	if !hd.IsReady(now) {
		return TriggerResult{Definition: hd, Status: StatusNotReady}, nil
	}

	objectLimit, byteLimit := domain.Unlimited, domain.Unlimited
	switch hd.Kind {
	case domain.HarvestSnapshot:
		objectLimit, byteLimit = hd.Snapshot.MaxObjects, hd.Snapshot.MaxBytes
	case domain.HarvestSelective:
	default:
		return TriggerResult{Definition: hd, Status: StatusFailed},
			fmt.Errorf("%w: harvest definition %d has unknown kind %d", domain.ErrInvalidConfiguration, hd.ID, int(hd.Kind))
	}

	sized := make([]partitioner.Sized, 0, len(hd.Configurations))
	for _, cfg := range hd.Configurations {
		n, err := s.estimator.ExpectedObjects(ctx, cfg, objectLimit, byteLimit)
		if err != nil {
			return TriggerResult{Definition: hd, Status: StatusFailed}, err
		}
		sized = append(sized, partitioner.Sized{Config: cfg, Expected: n})
	}

	jobs := s.partitioner.Partition(sized)
	for i := range jobs {
		s.stamp(&jobs[i], hd, now)
	}

	next := hd.Clone()
	// An occurrence without configurations still counts as used.
	if len(jobs) > 0 {
		next.NumEvents += len(jobs)
	} else {
		next.NumEvents++
	}

	res := TriggerResult{Jobs: jobs, Status: StatusCreated}
	if next.Kind == domain.HarvestSelective {
		nextDate, skipped := s.advance(next, now)
		next.Selective.NextDate = nextDate
		res.Skipped = skipped
	}
	res.Definition = next
	return res, nil
}

func (s *Scheduler) stamp(job *domain.Job, hd domain.HarvestDefinition, now time.Time) {
	job.ID = uuid.New()
	job.HarvestDefinitionID = hd.ID
	job.HarvestNum = hd.NumEvents
	job.CreatedAt = now
	switch hd.Kind {
	case domain.HarvestSnapshot:
		job.MaxObjects = hd.Snapshot.MaxObjects
		job.MaxBytes = hd.Snapshot.MaxBytes
		job.MaxRunningTime = hd.Snapshot.MaxJobRunningTime
		job.Priority = domain.JobPriorityLow
	default:
		job.MaxObjects = domain.Unlimited
		job.MaxBytes = domain.Unlimited
		job.Priority = domain.JobPriorityHigh
	}
}

// advance moves a selective definition past the occurrence just used to
// the first occurrence at or after now. It returns nil when the schedule is
// exhausted, with the number of stale occurrences skipped.
func (s *Scheduler) advance(hd domain.HarvestDefinition, now time.Time) (*time.Time, int) {
	sched := hd.Selective.Schedule
	current := hd.Selective.NextDate.In(s.config.Location)

	candidate, ok := sched.NextEvent(current, hd.NumEvents)
	limit := s.skipLimit(sched.Frequency(), current, now)
	skipped := 0
	for ok && candidate.Before(now) {
		if skipped >= limit {
			first := sched.FirstEvent(now.In(s.config.Location))
			s.logger.Warn("skip limit reached, restarting schedule from now",
				logger.Int64("harvest_id", hd.ID),
				logger.Int("skipped", skipped),
				logger.Time("next_date", first))
			return &first, skipped
		}
		candidate, ok = sched.NextEvent(candidate, hd.NumEvents)
		skipped++
	}

	if skipped > 0 {
		fields := []logger.Field{
			logger.Int64("harvest_id", hd.ID),
			logger.Int("skipped", skipped),
		}
		if ok {
			fields = append(fields, logger.Time("next_date", candidate))
		}
		s.logger.Warn("skipped past occurrences", fields...)
	}
	if !ok {
		s.logger.Info("schedule exhausted", logger.Int64("harvest_id", hd.ID))
		return nil, skipped
	}
	return &candidate, skipped
}

// skipLimit bounds the skip loop by twice the number of periods that fit
// between current and now. Minute grids restart every day, so a day may
// hold one slot more than its length suggests.
func (s *Scheduler) skipLimit(freq domain.Frequency, current, now time.Time) int {
	limit := s.config.MaxSkips
	period := freq.MinPeriod()
	if period <= 0 || !now.After(current) {
		return limit
	}
	if byTime := 2*(now.Sub(current)/period) + 2; byTime < time.Duration(limit) {
		limit = int(byTime)
	}
	return limit
}

func (s *Scheduler) outcome(status Status) {
	if s.metrics != nil {
		s.metrics.TriggerOutcome(string(status))
	}
}
