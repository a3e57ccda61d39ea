package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
)

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logger.Logger

	// Scheduler metrics
	ticksTotal          prometheus.Counter
	tickErrorsTotal     prometheus.Counter
	tickDuration        prometheus.Histogram
	triggersTotal       *prometheus.CounterVec
	jobsCreatedTotal    prometheus.Counter
	skippedTotal        prometheus.Counter
	editionConflictsTot prometheus.Counter

	// Partitioner metrics
	jobSize *prometheus.HistogramVec

	// Leader election metrics
	isLeader      prometheus.Gauge
	acquiredTotal prometheus.Counter
	lostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
func NewPrometheusSink(reg prometheus.Registerer, log logger.Logger) *PrometheusSink {
	if log == nil {
		log = logger.NewNop()
	}
	s := &PrometheusSink{log: log.With(logger.Component("metrics"))}
	s.initSchedulerMetrics(reg)
	s.initPartitionerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_tick_errors_total",
		Help: "Total number of ticks with at least one failed trigger.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvestplan_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_triggers_total",
		Help: "Harvest definition triggers by outcome.",
	}, []string{"outcome"})
	s.jobsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_jobs_created_total",
		Help: "Total number of crawl jobs committed.",
	})
	s.skippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_occurrences_skipped_total",
		Help: "Past schedule occurrences skipped instead of run.",
	})
	s.editionConflictsTot = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_scheduler_edition_conflicts_total",
		Help: "Commits rejected because the definition edition moved.",
	})

	s.register(reg, s.ticksTotal, "harvestplan_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "harvestplan_scheduler_tick_errors_total")
	s.register(reg, s.tickDuration, "harvestplan_scheduler_tick_duration_seconds")
	s.register(reg, s.triggersTotal, "harvestplan_scheduler_triggers_total")
	s.register(reg, s.jobsCreatedTotal, "harvestplan_scheduler_jobs_created_total")
	s.register(reg, s.skippedTotal, "harvestplan_scheduler_occurrences_skipped_total")
	s.register(reg, s.editionConflictsTot, "harvestplan_scheduler_edition_conflicts_total")
}

func (s *PrometheusSink) initPartitionerMetrics(reg prometheus.Registerer) {
	s.jobSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvestplan_partitioner_job_size_objects",
		Help:    "Expected object count of partitioned jobs.",
		Buckets: prometheus.ExponentialBuckets(100, 4, 10),
	}, []string{"template"})

	s.register(reg, s.jobSize, "harvestplan_partitioner_job_size_objects")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvestplan_leader_is_leader",
		Help: "1 while this instance holds the scheduler lock.",
	})
	s.acquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvestplan_leader_acquired_total",
		Help: "Times this instance became leader.",
	})
	s.lostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestplan_leader_lost_total",
		Help: "Times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "harvestplan_leader_is_leader")
	s.register(reg, s.acquiredTotal, "harvestplan_leader_acquired_total")
	s.register(reg, s.lostTotal, "harvestplan_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register metric", logger.String("metric", name), logger.Error(err))
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, _ int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TriggerOutcome(outcome string) {
	s.triggersTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) JobsCreated(n int) {
	s.jobsCreatedTotal.Add(float64(n))
}

func (s *PrometheusSink) OccurrencesSkipped(n int) {
	s.skippedTotal.Add(float64(n))
}

func (s *PrometheusSink) EditionConflict() {
	s.editionConflictsTot.Inc()
}

// Partitioner metrics implementation

func (s *PrometheusSink) JobPartitioned(template string, expectedObjects int64) {
	s.jobSize.WithLabelValues(template).Observe(float64(expectedObjects))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.acquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.lostTotal.WithLabelValues(reason).Inc()
}
