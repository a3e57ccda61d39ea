// Package config loads harvestplan settings from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/estimator"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/leaderelection"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/partitioner"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/scheduler"
)

// Config holds all configuration for the harvestplan application.
// Values are loaded from environment variables by Load.
type Config struct {
	// Planning
	MaxRelativeSizeDifference     float64 `json:"jobs_max_relative_size_difference"`
	MinAbsoluteSizeDifference     int64   `json:"jobs_min_absolute_size_difference"`
	MaxTotalJobSize               int64   `json:"jobs_max_total_jobsize"`
	ErrorFactorPrevResult         int64   `json:"errorfactor_permitted_prevresult"`
	ExpectedAverageBytesPerObject int64   `json:"expected_average_bytes_per_object"`
	MaxDomainSize                 int64   `json:"max_domain_size"`

	// Scheduler
	TickSchedule    string `json:"tick_schedule"`
	Timezone        string `json:"scheduler_timezone"`
	Workers         int    `json:"scheduler_workers"`
	ConflictRetries int    `json:"scheduler_conflict_retries"`
	MaxSkips        int    `json:"scheduler_max_skips"`

	// Storage
	DatabaseURL          string        `json:"database_url"`
	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`
	EnsureSchema         bool          `json:"db_ensure_schema"`

	// Analytics
	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// Metrics
	MetricsEnabled         bool          `json:"metrics_enabled"`
	MetricsPath            string        `json:"metrics_path"`
	MetricsPort            int           `json:"metrics_port"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// Leader election
	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	// Logging
	LogLevel       string `json:"log_level"`
	LogDevelopment bool   `json:"log_development"`

	// parse failures, reported by Validate
	invalid ValidationErrors
}

// LoadEnvFiles seeds the environment from dotenv files. ENV_FILE, when set,
// is the only file read; otherwise .env.local is read before .env so its
// values win. Missing files are ignored.
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
// Malformed values keep their default and are reported by Validate.
func Load() Config {
	cfg := Config{}
	est := estimator.DefaultParams()
	part := partitioner.DefaultParams()

	cfg.MaxRelativeSizeDifference = cfg.floatEnv("JOBS_MAX_RELATIVE_SIZE_DIFFERENCE", part.MaxRelativeSizeDifference)
	cfg.MinAbsoluteSizeDifference = cfg.int64Env("JOBS_MIN_ABSOLUTE_SIZE_DIFFERENCE", part.MinAbsoluteSizeDifference)
	cfg.MaxTotalJobSize = cfg.int64Env("JOBS_MAX_TOTAL_JOBSIZE", part.MaxTotalJobSize)
	cfg.ErrorFactorPrevResult = cfg.int64Env("ERRORFACTOR_PERMITTED_PREVRESULT", est.ErrorFactorPrevResult)
	cfg.ExpectedAverageBytesPerObject = cfg.int64Env("EXPECTED_AVERAGE_BYTES_PER_OBJECT", est.ExpectedAverageBytesPerObject)
	cfg.MaxDomainSize = cfg.int64Env("MAX_DOMAIN_SIZE", est.MaxDomainSize)

	cfg.TickSchedule = stringOr("TICK_SCHEDULE", "@every 1m")
	cfg.Timezone = stringOr("SCHEDULER_TIMEZONE", "UTC")
	cfg.Workers = cfg.intEnv("SCHEDULER_WORKERS", 4)
	cfg.ConflictRetries = cfg.intEnv("SCHEDULER_CONFLICT_RETRIES", 3)
	cfg.MaxSkips = cfg.intEnv("SCHEDULER_MAX_SKIPS", 100000)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DBOpTimeoutStr = stringOr("DB_OP_TIMEOUT", "5s")
	cfg.DBMaxOpenConns = cfg.intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = cfg.intEnv("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetimeStr = stringOr("DB_CONN_MAX_LIFETIME", "30m")
	cfg.DBConnMaxIdleTimeStr = stringOr("DB_CONN_MAX_IDLE_TIME", "5m")
	cfg.EnsureSchema = cfg.boolEnv("DB_ENSURE_SCHEMA", false)

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.AnalyticsRetentionStr = stringOr("ANALYTICS_RETENTION", "168h")

	cfg.MetricsEnabled = cfg.boolEnv("METRICS_ENABLED", false)
	cfg.MetricsPath = stringOr("METRICS_PATH", "/metrics")
	cfg.MetricsPort = cfg.intEnv("METRICS_PORT", 9090)
	cfg.HTTPShutdownTimeoutStr = stringOr("HTTP_SHUTDOWN_TIMEOUT", "10s")

	cfg.LeaderElectionEnabled = cfg.boolEnv("LEADER_ELECTION_ENABLED", false)
	cfg.LeaderLockKey = cfg.int64Env("LEADER_LOCK_KEY", 482003)
	cfg.LeaderRetryIntervalStr = stringOr("LEADER_RETRY_INTERVAL", "5s")
	cfg.LeaderHeartbeatIntervalStr = stringOr("LEADER_HEARTBEAT_INTERVAL", "2s")

	cfg.LogLevel = stringOr("LOG_LEVEL", "info")
	cfg.LogDevelopment = cfg.boolEnv("LOG_DEVELOPMENT", false)

	// Parse durations; validation is handled separately by Validate().
	cfg.DBOpTimeout = parseDuration(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = parseDuration(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = parseDuration(cfg.DBConnMaxIdleTimeStr)
	cfg.AnalyticsRetention = parseDuration(cfg.AnalyticsRetentionStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.LeaderRetryInterval = parseDuration(cfg.LeaderRetryIntervalStr)
	cfg.LeaderHeartbeatInterval = parseDuration(cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) reject(key, raw, kind string) {
	c.invalid = append(c.invalid, ValidationError{
		Field:   key,
		Message: fmt.Sprintf("invalid %s %q", kind, raw),
	})
}

func (c *Config) intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.reject(key, raw, "integer")
		return def
	}
	return n
}

func (c *Config) int64Env(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.reject(key, raw, "integer")
		return def
	}
	return n
}

func (c *Config) floatEnv(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.reject(key, raw, "number")
		return def
	}
	return f
}

func (c *Config) boolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.reject(key, raw, "boolean")
		return def
	}
	return b
}

// EstimatorParams returns the estimator tunables.
func (c Config) EstimatorParams() estimator.Params {
	return estimator.Params{
		ErrorFactorPrevResult:         c.ErrorFactorPrevResult,
		ExpectedAverageBytesPerObject: c.ExpectedAverageBytesPerObject,
		MaxDomainSize:                 c.MaxDomainSize,
	}
}

// PartitionerParams returns the job partitioning limits.
func (c Config) PartitionerParams() partitioner.Params {
	return partitioner.Params{
		MaxRelativeSizeDifference: c.MaxRelativeSizeDifference,
		MinAbsoluteSizeDifference: c.MinAbsoluteSizeDifference,
		MaxTotalJobSize:           c.MaxTotalJobSize,
	}
}

// SchedulerConfig returns the scheduler tunables. It fails only on an
// unknown timezone.
func (c Config) SchedulerConfig() (scheduler.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return scheduler.Config{
		Workers:         c.Workers,
		ConflictRetries: c.ConflictRetries,
		MaxSkips:        c.MaxSkips,
		Location:        loc,
	}, nil
}

// LeaderConfig returns the leader election tunables.
func (c Config) LeaderConfig() leaderelection.Config {
	return leaderelection.Config{
		LockKey:           c.LeaderLockKey,
		RetryInterval:     c.LeaderRetryInterval,
		HeartbeatInterval: c.LeaderHeartbeatInterval,
	}
}

// LoggerConfig returns the logger settings.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.LogLevel, Development: c.LogDevelopment}
}

// MetricsAddr is the listen address of the metrics server.
func (c Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
