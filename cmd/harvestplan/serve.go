package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/analytics"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/config"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/cron"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/leaderelection"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/metrics"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/scheduler"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/store/postgres"

	_ "github.com/lib/pq"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop against PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := config.ValidateServe(cfg); err != nil {
				return invalidConfig(err)
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, log logger.Logger) error {
	log = log.With(logger.Component("serve"))

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info("db pool configured",
		logger.Int("max_open", cfg.DBMaxOpenConns),
		logger.Int("max_idle", cfg.DBMaxIdleConns),
		logger.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		logger.Duration("max_idle_time", cfg.DBConnMaxIdleTime))

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info("schema ensured")
	}

	tick, err := cron.NewParser().Parse(cfg.TickSchedule, cfg.Timezone)
	if err != nil {
		return invalidConfig(err)
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return invalidConfig(err)
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr(),
			Handler: metricsMux,
		}
		go func() {
			log.Info("metrics server listening",
				logger.String("addr", metricsServer.Addr),
				logger.String("path", cfg.MetricsPath))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", logger.Error(err))
			}
		}()
	} else {
		log.Info("METRICS_ENABLED not set; metrics disabled")
	}

	sched := scheduler.New(schedCfg, store, cfg.EstimatorParams(), cfg.PartitionerParams()).
		WithLogger(log).
		WithMetrics(sink).
		WithPartitionMetrics(sink)

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		sched = sched.WithAnalytics(analytics.NewRedisSink(redisClient).WithRetention(cfg.AnalyticsRetention))
		log.Info("analytics enabled", logger.String("redis", cfg.RedisAddr))
	} else {
		log.Info("REDIS_ADDR not set; analytics disabled")
	}

	log.Info("started",
		logger.String("tick", tick.String()),
		logger.String("timezone", schedCfg.Location.String()),
		logger.Bool("leader_election", cfg.LeaderElectionEnabled))

	runErr := runScheduler(ctx, cfg, db, sched, tick, sink, log)

	// Stop metrics server if running
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown error", logger.Error(err))
		}
	}

	log.Info("stopped")
	return runErr
}

// runScheduler blocks until ctx is cancelled. With leader election enabled
// the loop only runs while this instance holds the advisory lock.
func runScheduler(ctx context.Context, cfg config.Config, db *sqlx.DB, sched *scheduler.Scheduler, tick scheduler.TickSchedule, sink metrics.Sink, log logger.Logger) error {
	run := func(ctx context.Context) {
		if err := sched.Run(ctx, tick); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler loop stopped", logger.Error(err))
		}
	}

	if !cfg.LeaderElectionEnabled {
		run(ctx)
		return nil
	}

	duty := &leaderDuty{run: run}
	leaderelection.New(db.DB, cfg.LeaderConfig(), duty.start, duty.stop).
		WithMetrics(sink).
		WithLogger(log).
		Run(ctx)
	duty.stop()
	return nil
}

// leaderDuty runs the scheduler loop for one term of leadership and lets
// the elector wait for it to finish.
type leaderDuty struct {
	run func(ctx context.Context)

	mu      sync.Mutex
	running sync.WaitGroup
}

func (d *leaderDuty) start(ctx context.Context) {
	d.mu.Lock()
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()
	d.run(ctx)
}

// stop waits for the current term. The elector cancels the term context
// before calling it, so a term that has not started yet returns at once.
func (d *leaderDuty) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running.Wait()
}
