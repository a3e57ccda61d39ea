// Package leaderelection provides Postgres advisory lock-based leader election.
//
// A single Postgres session-scoped advisory lock determines the leader.
// The lock is held for the lifetime of the dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres automatically
// releases the lock server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop running ticks promptly. It does NOT renew the lock.
// Harvest definition editions stay the correctness mechanism; a stale leader
// only wastes work.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
)

const (
	queryTryLock = "SELECT pg_try_advisory_lock($1)"
	queryUnlock  = "SELECT pg_advisory_unlock($1)"

	unlockTimeout = 5 * time.Second
)

// Reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Config holds the election tunables.
type Config struct {
	LockKey           int64
	RetryInterval     time.Duration // follower: how often to attempt lock acquisition
	HeartbeatInterval time.Duration // leader: how often to ping dedicated connection
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
	logger    logger.Logger
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the lock.
// The provided context is cancelled when leadership is lost.
// onElected should start the scheduler loop and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop the scheduler loop and block until it has fully stopped.
// It must be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
		logger:    logger.NewNop(),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// WithLogger sets the elector logger.
func (e *Elector) WithLogger(l logger.Logger) *Elector {
	if l != nil {
		e.logger = l.With(logger.Component("leader"))
	}
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("starting election loop",
		logger.Int64("lock_key", e.config.LockKey),
		logger.Duration("retry", e.config.RetryInterval),
		logger.Duration("heartbeat", e.config.HeartbeatInterval))

	for {
		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}

		if reason != "" {
			e.logger.Warn("lost leadership",
				logger.String("reason", reason),
				logger.Duration("retry_in", e.config.RetryInterval))
		}

		timer := time.NewTimer(e.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("election loop stopped")
			return
		case <-timer.C:
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason leadership was lost ("" if lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Error("failed to acquire dedicated connection", logger.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.config.LockKey).Scan(&acquired); err != nil {
		e.logger.Error("advisory lock query failed", logger.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance",
			logger.Int64("lock_key", e.config.LockKey))
		return ""
	}

	e.logger.Info("acquired advisory lock", logger.Int64("lock_key", e.config.LockKey))
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	if reason == ReasonShutdown {
		e.release(conn)
	}
	e.logger.Info("released advisory lock", logger.Int64("lock_key", e.config.LockKey))
	return reason
}

// release unlocks explicitly so a successor need not wait for the session
// to close.
func (e *Elector) release(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	var released bool
	if err := conn.QueryRowContext(ctx, queryUnlock, e.config.LockKey).Scan(&released); err != nil {
		e.logger.Warn("advisory unlock failed", logger.Error(err))
		return
	}
	if !released {
		e.logger.Warn("advisory lock was not held at release", logger.Int64("lock_key", e.config.LockKey))
	}
}

// holdLock blocks while pinging the dedicated connection.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("dedicated connection ping failed", logger.Error(err))
				return ReasonConnLost
			}
		}
	}
}
