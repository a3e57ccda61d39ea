package config

import (
	"fmt"
	"time"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/cron"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.invalid...)

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Planning tunables
	if cfg.MaxRelativeSizeDifference < 1 {
		add("JOBS_MAX_RELATIVE_SIZE_DIFFERENCE", "must be >= 1, got %g", cfg.MaxRelativeSizeDifference)
	}
	if cfg.MinAbsoluteSizeDifference < 0 {
		add("JOBS_MIN_ABSOLUTE_SIZE_DIFFERENCE", "must be >= 0, got %d", cfg.MinAbsoluteSizeDifference)
	}
	if cfg.MaxTotalJobSize <= 0 {
		add("JOBS_MAX_TOTAL_JOBSIZE", "must be positive, got %d", cfg.MaxTotalJobSize)
	}
	if cfg.ErrorFactorPrevResult <= 0 {
		add("ERRORFACTOR_PERMITTED_PREVRESULT", "must be positive, got %d", cfg.ErrorFactorPrevResult)
	}
	if cfg.ExpectedAverageBytesPerObject <= 0 {
		add("EXPECTED_AVERAGE_BYTES_PER_OBJECT", "must be positive, got %d", cfg.ExpectedAverageBytesPerObject)
	}
	if cfg.MaxDomainSize <= 0 {
		add("MAX_DOMAIN_SIZE", "must be positive, got %d", cfg.MaxDomainSize)
	}

	// Scheduler
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		add("SCHEDULER_TIMEZONE", "unknown timezone %q", cfg.Timezone)
	} else if _, err := cron.NewParser().Parse(cfg.TickSchedule, cfg.Timezone); err != nil {
		add("TICK_SCHEDULE", "%v", err)
	}
	if cfg.Workers <= 0 {
		add("SCHEDULER_WORKERS", "must be positive, got %d", cfg.Workers)
	}
	if cfg.ConflictRetries < 0 {
		add("SCHEDULER_CONFLICT_RETRIES", "must be >= 0, got %d", cfg.ConflictRetries)
	}
	if cfg.MaxSkips <= 0 {
		add("SCHEDULER_MAX_SKIPS", "must be positive, got %d", cfg.MaxSkips)
	}

	// Storage
	if cfg.DBMaxOpenConns <= 0 {
		add("DB_MAX_OPEN_CONNS", "must be positive, got %d", cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns < 0 || cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		add("DB_MAX_IDLE_CONNS", "must be between 0 and DB_MAX_OPEN_CONNS, got %d", cfg.DBMaxIdleConns)
	}

	// Duration fields must parse and be positive
	durations := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			add(d.field, "invalid duration: %v", err)
			continue
		}
		if parsed <= 0 {
			add(d.field, "must be positive")
		}
	}

	// Metrics
	if cfg.MetricsEnabled {
		if cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535 {
			add("METRICS_PORT", "must be a valid port, got %d", cfg.MetricsPort)
		}
		if len(cfg.MetricsPath) == 0 || cfg.MetricsPath[0] != '/' {
			add("METRICS_PATH", "must start with '/', got %q", cfg.MetricsPath)
		}
	}

	// Leader election
	if cfg.LeaderElectionEnabled && cfg.LeaderLockKey <= 0 {
		add("LEADER_LOCK_KEY", "must be positive, got %d", cfg.LeaderLockKey)
	}

	if !logger.ValidLevel(cfg.LogLevel) {
		add("LOG_LEVEL", "must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateServe applies Validate plus the settings the long-running
// service needs.
func ValidateServe(cfg Config) error {
	var errs ValidationErrors
	if err := Validate(cfg); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
