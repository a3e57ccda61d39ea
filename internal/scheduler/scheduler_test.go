package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/estimator"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/partitioner"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/store/memory"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/testutil"
)

// mockRepo keeps definitions in memory and enforces editions.
type mockRepo struct {
	mu           sync.Mutex
	defs         map[int64]domain.HarvestDefinition
	history      map[domain.ConfigKey][]domain.HarvestInfo
	jobs         []domain.Job
	extraDue     []int64
	loadDueErr   error
	loadDueCalls int
	persistErr   error
	persistCalls int
	// beforePersist runs with the lock held, before the edition check.
	beforePersist func(r *mockRepo, id int64)
}

func newMockRepo(defs ...domain.HarvestDefinition) *mockRepo {
	r := &mockRepo{
		defs:    make(map[int64]domain.HarvestDefinition),
		history: make(map[domain.ConfigKey][]domain.HarvestInfo),
	}
	for _, hd := range defs {
		r.defs[hd.ID] = hd.Clone()
	}
	return r
}

func (r *mockRepo) LoadDueHarvestDefinitions(_ context.Context, now time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadDueCalls++
	if r.loadDueErr != nil {
		return nil, r.loadDueErr
	}
	var ids []int64
	for id, hd := range r.defs {
		if hd.IsReady(now) {
			ids = append(ids, id)
		}
	}
	ids = append(ids, r.extraDue...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *mockRepo) LoadHarvestDefinition(_ context.Context, id int64) (domain.HarvestDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hd, ok := r.defs[id]
	if !ok {
		return domain.HarvestDefinition{}, domain.UnknownEntityError("harvest definition", id)
	}
	return hd.Clone(), nil
}

func (r *mockRepo) LoadHistoricalInfo(_ context.Context, domainName, configName string) ([]domain.HarvestInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[domain.ConfigKey{DomainName: domainName, ConfigName: configName}], nil
}

func (r *mockRepo) PersistJobsAndAdvance(_ context.Context, hd domain.HarvestDefinition, jobs []domain.Job, nextDate *time.Time, numEvents int, expectedEdition int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistCalls++
	if r.beforePersist != nil {
		r.beforePersist(r, hd.ID)
	}
	if r.persistErr != nil {
		return r.persistErr
	}
	cur, ok := r.defs[hd.ID]
	if !ok {
		return domain.UnknownEntityError("harvest definition", hd.ID)
	}
	if cur.Edition != expectedEdition {
		return domain.ErrConcurrentModification
	}
	cur.NumEvents = numEvents
	if cur.Selective != nil {
		if nextDate == nil {
			cur.Selective.NextDate = nil
		} else {
			next := *nextDate
			cur.Selective.NextDate = &next
		}
	}
	cur.Edition++
	r.defs[hd.ID] = cur
	r.jobs = append(r.jobs, jobs...)
	return nil
}

func (r *mockRepo) stored(id int64) domain.HarvestDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defs[id].Clone()
}

func (r *mockRepo) jobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// bumpEdition simulates a writer that touched the row without handling the
// occurrence.
func bumpEdition(r *mockRepo, id int64) {
	hd := r.defs[id]
	hd.Edition++
	r.defs[id] = hd
}

// handledElsewhere simulates another worker committing the same occurrence.
func handledElsewhere(r *mockRepo, id int64) {
	hd := r.defs[id]
	next := hd.Selective.NextDate.AddDate(0, 0, 1)
	hd.Selective.NextDate = &next
	hd.NumEvents++
	hd.Edition++
	r.defs[id] = hd
}

type mockMetrics struct {
	mu          sync.Mutex
	ticks       int
	tickErrors  int
	tickJobs    int
	outcomes    map[string]int
	jobsCreated int
	skipped     int
	conflicts   int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: make(map[string]int)}
}

func (m *mockMetrics) TickStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *mockMetrics) TickCompleted(_ time.Duration, jobsCreated int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickJobs += jobsCreated
	if err != nil {
		m.tickErrors++
	}
}

func (m *mockMetrics) TriggerOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *mockMetrics) JobsCreated(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCreated += n
}

func (m *mockMetrics) OccurrencesSkipped(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped += n
}

func (m *mockMetrics) EditionConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type analyticsCall struct {
	harvestID int64
	jobs      int
	objects   int64
}

type mockAnalytics struct {
	mu    sync.Mutex
	calls []analyticsCall
	err   error
}

func (a *mockAnalytics) RecordTrigger(_ context.Context, harvestID int64, jobs int, expectedObjects int64, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, analyticsCall{harvestID, jobs, expectedObjects})
	return a.err
}

func intp(v int) *int { return &v }

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func nightly() domain.Frequency {
	return domain.MustFrequency(domain.FrequencyParams{
		Kind:     domain.FrequencyDaily,
		NumUnits: 1,
		OnHour:   intp(1),
		OnMinute: intp(0),
	})
}

func config(domainName string) domain.DomainConfiguration {
	return domain.DomainConfiguration{
		Name:       "default",
		DomainName: domainName,
		Template:   "default_orderxml",
		MaxObjects: domain.Unlimited,
		MaxBytes:   domain.Unlimited,
	}
}

func selectiveDef(t *testing.T, id int64, schedule domain.Schedule, next time.Time, configs ...domain.DomainConfiguration) domain.HarvestDefinition {
	t.Helper()
	hd := domain.HarvestDefinition{
		ID:        id,
		Name:      "news",
		Active:    true,
		Edition:   1,
		Kind:      domain.HarvestSelective,
		Selective: &domain.PartialHarvest{Schedule: schedule, NextDate: &next},
	}
	for _, c := range configs {
		require.NoError(t, hd.AddConfiguration(c))
	}
	return hd
}

func timed(t *testing.T, freq domain.Frequency) domain.Schedule {
	t.Helper()
	s, err := domain.NewTimedSchedule("nightly", "", freq, nil)
	require.NoError(t, err)
	return s
}

func repeating(t *testing.T, freq domain.Frequency, repeats int) domain.Schedule {
	t.Helper()
	s, err := domain.NewRepeatingSchedule("limited", "", freq, nil, repeats)
	require.NoError(t, err)
	return s
}

func newTestScheduler(repo Repository) *Scheduler {
	return New(Config{Workers: 4, ConflictRetries: 3, MaxSkips: 1000}, repo, estimator.DefaultParams(), partitioner.DefaultParams())
}

func TestTrigger_CreatesJobsAndAdvances(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org"), config("b.org")))
	metrics := newMockMetrics()
	s := newTestScheduler(repo).WithMetrics(metrics)

	now := next.Add(30 * time.Second)
	res, err := s.Trigger(testutil.TestContext(t), 1, now)
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, res.Status)
	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]
	assert.Equal(t, int64(1), job.HarvestDefinitionID)
	assert.Equal(t, "default_orderxml", job.Template)
	assert.Len(t, job.Configurations, 2)
	assert.Equal(t, int64(10000), job.ExpectedObjects)
	assert.Equal(t, 0, job.HarvestNum)
	assert.Equal(t, domain.JobPriorityHigh, job.Priority)
	assert.Equal(t, domain.Unlimited, job.MaxObjects)
	assert.Equal(t, now, job.CreatedAt)
	assert.NotEqual(t, uuid.Nil, job.ID)

	stored := repo.stored(1)
	assert.Equal(t, 1, stored.NumEvents)
	assert.Equal(t, int64(2), stored.Edition)
	require.NotNil(t, stored.Selective.NextDate)
	assert.Equal(t, utc(2024, 1, 16, 1, 0), *stored.Selective.NextDate)
	assert.Equal(t, int64(2), res.Definition.Edition)
	assert.Equal(t, 0, res.Skipped)

	assert.Equal(t, 1, metrics.jobsCreated)
	assert.Equal(t, 1, metrics.outcomes[string(StatusCreated)])
}

func TestTrigger_SkipsStaleOccurrences(t *testing.T) {
	tests := []struct {
		name        string
		now         time.Time
		wantSkipped int
		wantNext    time.Time
	}{
		{"lands on now", utc(2024, 1, 15, 1, 0), 2, utc(2024, 1, 15, 1, 0)},
		{"lands after now", utc(2024, 1, 15, 2, 0), 3, utc(2024, 1, 16, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale := utc(2024, 1, 12, 1, 0)
			repo := newMockRepo(selectiveDef(t, 1, repeating(t, nightly(), 10), stale, config("a.org")))
			metrics := newMockMetrics()
			s := newTestScheduler(repo).WithMetrics(metrics)

			res, err := s.Trigger(testutil.TestContext(t), 1, tt.now)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.Equal(t, tt.wantSkipped, metrics.skipped)
			next := repo.stored(1).Selective.NextDate
			require.NotNil(t, next)
			assert.Equal(t, tt.wantNext, *next)
			assert.False(t, next.Before(tt.now), "never scheduled in the past")
		})
	}
}

func TestTrigger_FiniteScheduleExhausted(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, repeating(t, nightly(), 1), next, config("a.org")))
	s := newTestScheduler(repo)

	res, err := s.Trigger(testutil.TestContext(t), 1, next)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Nil(t, res.Definition.Selective.NextDate)

	stored := repo.stored(1)
	assert.Nil(t, stored.Selective.NextDate)
	assert.False(t, stored.IsReady(next.AddDate(1, 0, 0)), "terminal state")

	res, err = s.Trigger(testutil.TestContext(t), 1, next.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, res.Status)
	assert.Equal(t, 1, repo.jobCount())
}

func TestTrigger_PersistFailureCommitsNothing(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
	boom := errors.New("disk full")
	repo.persistErr = boom
	metrics := newMockMetrics()
	s := newTestScheduler(repo).WithMetrics(metrics)

	res, err := s.Trigger(testutil.TestContext(t), 1, next)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRepositoryFailure)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, repo.persistCalls, "no automatic retry")

	stored := repo.stored(1)
	assert.Equal(t, 0, stored.NumEvents)
	assert.Equal(t, int64(1), stored.Edition)
	assert.Equal(t, next, *stored.Selective.NextDate)
	assert.Equal(t, 0, repo.jobCount())
	assert.Equal(t, 0, metrics.jobsCreated)
	assert.Equal(t, 1, metrics.outcomes[string(StatusFailed)])
}

func TestTrigger_NotReady(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
	s := newTestScheduler(repo)

	res, err := s.Trigger(testutil.TestContext(t), 1, next.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, res.Status)
	assert.Equal(t, 0, repo.persistCalls)
}

func TestTrigger_UnknownDefinition(t *testing.T) {
	s := newTestScheduler(newMockRepo())

	res, err := s.Trigger(testutil.TestContext(t), 42, utc(2024, 1, 15, 1, 0))
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, int64(42), res.Definition.ID)
}

func TestTrigger_ConflictRetries(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)

	t.Run("stale edition reloads and commits", func(t *testing.T) {
		repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
		first := true
		repo.beforePersist = func(r *mockRepo, id int64) {
			if first {
				first = false
				bumpEdition(r, id)
			}
		}
		metrics := newMockMetrics()
		s := newTestScheduler(repo).WithMetrics(metrics)

		res, err := s.Trigger(testutil.TestContext(t), 1, next)
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, res.Status)
		assert.Equal(t, 2, repo.persistCalls)
		assert.Equal(t, 1, metrics.conflicts)
		assert.Equal(t, 1, repo.jobCount())
	})

	t.Run("occurrence handled by another worker", func(t *testing.T) {
		repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
		first := true
		repo.beforePersist = func(r *mockRepo, id int64) {
			if first {
				first = false
				handledElsewhere(r, id)
			}
		}
		s := newTestScheduler(repo)

		res, err := s.Trigger(testutil.TestContext(t), 1, next)
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyHandled, res.Status)
		assert.Equal(t, 0, repo.jobCount())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
		repo.beforePersist = bumpEdition
		s := New(Config{ConflictRetries: 2}, repo, estimator.DefaultParams(), partitioner.DefaultParams())

		res, err := s.Trigger(testutil.TestContext(t), 1, next)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
		assert.Equal(t, StatusConflict, res.Status)
		assert.Equal(t, 3, repo.persistCalls)
		assert.Equal(t, 0, repo.jobCount())
	})
}

func TestTrigger_Snapshot(t *testing.T) {
	hd := domain.NewFullHarvest(7, "broad", domain.FullHarvest{
		MaxObjects:        1000,
		MaxBytes:          domain.Unlimited,
		MaxJobRunningTime: 2 * time.Hour,
		IndexReady:        true,
	})
	require.NoError(t, hd.AddConfiguration(config("a.org")))
	repo := newMockRepo(hd)
	s := newTestScheduler(repo)
	now := utc(2024, 1, 15, 1, 0)

	res, err := s.Trigger(testutil.TestContext(t), 7, now)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]
	assert.Equal(t, int64(1000), job.ExpectedObjects, "bounded by the snapshot limit")
	assert.Equal(t, int64(1000), job.MaxObjects)
	assert.Equal(t, domain.Unlimited, job.MaxBytes)
	assert.Equal(t, 2*time.Hour, job.MaxRunningTime)
	assert.Equal(t, domain.JobPriorityLow, job.Priority)

	stored := repo.stored(7)
	assert.Equal(t, 1, stored.NumEvents)
	assert.False(t, stored.IsReady(now), "a snapshot runs once")
}

func TestTrigger_SnapshotWaitsForIndex(t *testing.T) {
	hd := domain.NewFullHarvest(7, "broad", domain.FullHarvest{MaxObjects: 1000, MaxBytes: domain.Unlimited})
	repo := newMockRepo(hd)
	s := newTestScheduler(repo)

	res, err := s.Trigger(testutil.TestContext(t), 7, utc(2024, 1, 15, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, res.Status)
}

func TestTrigger_NoConfigurationsStillAdvances(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next))
	s := newTestScheduler(repo)

	res, err := s.Trigger(testutil.TestContext(t), 1, next)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Empty(t, res.Jobs)

	stored := repo.stored(1)
	assert.Equal(t, 1, stored.NumEvents)
	assert.Equal(t, utc(2024, 1, 16, 1, 0), *stored.Selective.NextDate)
}

func TestTrigger_UsesHistory(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	cfg := config("a.org")
	cfg.MaxObjects = 1100
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, cfg))
	repo.history[cfg.Key()] = []domain.HarvestInfo{{
		HarvestID: 3, DomainName: "a.org", ConfigName: "default", Date: next.AddDate(0, 0, -1),
		CountObjectRetrieved: 100, SizeDataRetrieved: 100 * 38000, StopReason: domain.StopDownloadComplete,
	}}
	s := newTestScheduler(repo)

	res, err := s.Trigger(testutil.TestContext(t), 1, next)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	assert.Equal(t, int64(200), res.Jobs[0].ExpectedObjects)
}

func TestTrigger_SkipLimitRestartsFromNow(t *testing.T) {
	everyMinute := domain.MustFrequency(domain.FrequencyParams{Kind: domain.FrequencyMinute, NumUnits: 1, Anytime: true})
	now := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, everyMinute), now.AddDate(0, 0, -1), config("a.org")))
	s := New(Config{MaxSkips: 5}, repo, estimator.DefaultParams(), partitioner.DefaultParams())

	res, err := s.Trigger(testutil.TestContext(t), 1, now)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, now, *res.Definition.Selective.NextDate)
}

func TestTrigger_NextDateNotBeforeNowAcrossOffsetChange(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	everyThreeMinutes := domain.MustFrequency(domain.FrequencyParams{Kind: domain.FrequencyMinute, NumUnits: 3, OnHour: intp(19), OnMinute: intp(59)})
	hourly := domain.MustFrequency(domain.FrequencyParams{Kind: domain.FrequencyHourly, NumUnits: 1, Anytime: true})

	// Clocks jump from 02:00 EST to 03:00 EDT on 2027-03-14 (07:00 UTC).
	tests := []struct {
		name        string
		freq        domain.Frequency
		next        time.Time
		now         time.Time
		wantNext    time.Time
		wantSkipped int
	}{
		{"minute grid due before the gap", everyThreeMinutes, utc(2027, 3, 14, 6, 59), utc(2027, 3, 14, 6, 59).Add(30 * time.Second), utc(2027, 3, 14, 7, 2), 0},
		{"minute grid stale across the gap", everyThreeMinutes, utc(2027, 3, 14, 5, 59), utc(2027, 3, 14, 7, 10), utc(2027, 3, 14, 7, 11), 23},
		{"anytime hourly before the gap", hourly, utc(2027, 3, 14, 6, 30), utc(2027, 3, 14, 6, 30).Add(10 * time.Second), utc(2027, 3, 14, 7, 30), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo(selectiveDef(t, 1, timed(t, tt.freq), tt.next.In(ny), config("a.org")))
			s := New(Config{Workers: 1, ConflictRetries: 3, MaxSkips: 1000, Location: ny}, repo, estimator.DefaultParams(), partitioner.DefaultParams())

			res, err := s.Trigger(testutil.TestContext(t), 1, tt.now.In(ny))
			require.NoError(t, err)
			require.Equal(t, StatusCreated, res.Status)

			next := repo.stored(1).Selective.NextDate
			require.NotNil(t, next)
			assert.True(t, next.Equal(tt.wantNext), "next_date %s, want %s", next.UTC(), tt.wantNext)
			assert.False(t, next.Before(tt.now), "next_date %s before now", next)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
		})
	}
}

func TestTrigger_Analytics(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org")))
	analytics := &mockAnalytics{err: errors.New("redis down")}
	s := newTestScheduler(repo).WithAnalytics(analytics)

	res, err := s.Trigger(testutil.TestContext(t), 1, next)
	require.NoError(t, err, "analytics failures never fail the trigger")
	assert.Equal(t, StatusCreated, res.Status)
	require.Len(t, analytics.calls, 1)
	assert.Equal(t, analyticsCall{harvestID: 1, jobs: 1, objects: 5000}, analytics.calls[0])
}

func TestPlan_DoesNotPersistOrMutate(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	hd := selectiveDef(t, 1, timed(t, nightly()), next, config("a.org"))
	before := hd.Clone()
	repo := newMockRepo(hd)
	s := newTestScheduler(repo)

	first, err := s.Plan(testutil.TestContext(t), hd, next)
	require.NoError(t, err)
	second, err := s.Plan(testutil.TestContext(t), hd, next)
	require.NoError(t, err)

	assert.Equal(t, before, hd)
	assert.Equal(t, 0, repo.persistCalls)
	assert.Equal(t, len(first.Jobs), len(second.Jobs))
	assert.Equal(t, *first.Definition.Selective.NextDate, *second.Definition.Selective.NextDate)
	assert.Equal(t, next, *hd.Selective.NextDate)
}

func TestPlan_RejectsInvalidDefinition(t *testing.T) {
	s := newTestScheduler(newMockRepo())

	res, err := s.Plan(testutil.TestContext(t), domain.HarvestDefinition{ID: 9, Active: true}, utc(2024, 1, 15, 1, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRunOnce_TriggersDueDefinitions(t *testing.T) {
	now := utc(2024, 1, 15, 1, 0)
	repo := newMockRepo(
		selectiveDef(t, 1, timed(t, nightly()), now, config("a.org")),
		selectiveDef(t, 2, timed(t, nightly()), now.Add(-time.Hour), config("b.org")),
		selectiveDef(t, 3, timed(t, nightly()), now.Add(time.Hour), config("c.org")),
	)
	repo.extraDue = []int64{99}
	metrics := newMockMetrics()
	clock := testutil.NewFakeClock(now)
	s := newTestScheduler(repo).WithMetrics(metrics).WithClock(clock.Now)

	report, err := s.RunOnce(testutil.TestContext(t))
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.JobsCreated())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, domain.ErrUnknownEntity)

	assert.Equal(t, 0, repo.stored(3).NumEvents)
	assert.Equal(t, 1, metrics.ticks)
	assert.Equal(t, 2, metrics.tickJobs)
	assert.Equal(t, 1, metrics.tickErrors)
}

func TestRunOnce_LoadDueFailure(t *testing.T) {
	repo := newMockRepo()
	repo.loadDueErr = errors.New("connection refused")
	metrics := newMockMetrics()
	s := newTestScheduler(repo).WithMetrics(metrics)

	_, err := s.RunOnce(testutil.TestContext(t))
	assert.ErrorIs(t, err, domain.ErrRepositoryFailure)
	assert.Equal(t, 1, metrics.tickErrors)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := newMockRepo()
	s := newTestScheduler(repo)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, everyInterval(10*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Greater(t, repo.loadDueCalls, 0)
}

type everyInterval time.Duration

func (e everyInterval) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func TestTrigger_ConcurrentTriggersCreateJobsOnce(t *testing.T) {
	next := utc(2024, 1, 15, 1, 0)
	store := memory.New()
	require.NoError(t, store.SaveHarvestDefinition(selectiveDef(t, 1, timed(t, nightly()), next, config("a.org"), config("b.org"))))
	s := newTestScheduler(store)
	ctx := testutil.TestContext(t)

	const workers = 8
	statuses := make([]Status, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Trigger(ctx, 1, next)
			assert.NoError(t, err)
			statuses[i] = res.Status
		}()
	}
	wg.Wait()

	created := 0
	for _, st := range statuses {
		if st == StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, store.Jobs(), 1)

	hd, err := store.LoadHarvestDefinition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, hd.NumEvents)
}

var _ Repository = (*memory.Store)(nil)
