package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsCreated int, err error)
	TriggerOutcome(outcome string)
	JobsCreated(n int)
	OccurrencesSkipped(n int)
	EditionConflict()

	// Partitioner metrics
	JobPartitioned(template string, expectedObjects int64)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown" or "conn_lost"
}

