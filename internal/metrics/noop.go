package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                     {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsCreated int, err error) {}
func (n *NoopSink) TriggerOutcome(outcome string)                                    {}
func (n *NoopSink) JobsCreated(count int)                                            {}
func (n *NoopSink) OccurrencesSkipped(count int)                                     {}
func (n *NoopSink) EditionConflict()                                                 {}
func (n *NoopSink) JobPartitioned(template string, expectedObjects int64)            {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                {}
func (n *NoopSink) LeaderAcquired()                                                  {}
func (n *NoopSink) LeaderLost(reason string)                                         {}

// Compile-time interface assertions
var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*PrometheusSink)(nil)
)
