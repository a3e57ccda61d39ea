// Package postgres implements the scheduler repository on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/scheduler"
)

// Schema creates the tables the store needs. It is idempotent.
//
//go:embed schema.sql
var Schema string

// Store implements scheduler.Repository using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every store operation. Zero disables the bound.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return domain.RepositoryError("apply schema", err)
	}
	return nil
}

// LoadDueHarvestDefinitions returns the ids of active definitions that are
// ready at now.
func (s *Store) LoadDueHarvestDefinitions(ctx context.Context, now time.Time) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, queryLoadDueHarvestDefinitions, now); err != nil {
		return nil, domain.RepositoryError("load due harvest definitions", err)
	}
	return ids, nil
}

// LoadHarvestDefinition returns a definition with its schedule and
// configurations. A snapshot without explicit configurations harvests the
// default configuration of every domain.
func (s *Store) LoadHarvestDefinition(ctx context.Context, id int64) (domain.HarvestDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row definitionRow
	if err := s.db.GetContext(ctx, &row, queryLoadHarvestDefinition, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HarvestDefinition{}, domain.UnknownEntityError("harvest definition", id)
		}
		return domain.HarvestDefinition{}, domain.RepositoryError(fmt.Sprintf("load harvest definition %d", id), err)
	}

	var cfgRows []configurationRow
	if err := s.db.SelectContext(ctx, &cfgRows, queryLoadHarvestConfigurations, id); err != nil {
		return domain.HarvestDefinition{}, domain.RepositoryError(fmt.Sprintf("load configurations of harvest definition %d", id), err)
	}
	if len(cfgRows) == 0 && row.Kind == kindSnapshot {
		if err := s.db.SelectContext(ctx, &cfgRows, queryLoadDefaultConfigurations); err != nil {
			return domain.HarvestDefinition{}, domain.RepositoryError("load default configurations", err)
		}
	}

	hd, err := row.toDomain()
	if err != nil {
		return domain.HarvestDefinition{}, err
	}
	for _, c := range cfgRows {
		if err := hd.AddConfiguration(c.toDomain()); err != nil {
			return domain.HarvestDefinition{}, err
		}
	}
	return hd, nil
}

// LoadHistoricalInfo returns past harvests of a configuration, most recent
// first.
func (s *Store) LoadHistoricalInfo(ctx context.Context, domainName, configName string) ([]domain.HarvestInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, queryLoadHistoricalInfo, domainName, configName); err != nil {
		return nil, domain.RepositoryError(fmt.Sprintf("load history of %s/%s", domainName, configName), err)
	}
	out := make([]domain.HarvestInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// PersistJobsAndAdvance stores jobs and the new schedule state in one
// transaction guarded by the edition.
func (s *Store) PersistJobsAndAdvance(ctx context.Context, hd domain.HarvestDefinition, jobs []domain.Job, nextDate *time.Time, numEvents int, expectedEdition int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.RepositoryError("begin transaction", err)
	}
	defer tx.Rollback()

	// The guard in the WHERE clause is evaluated after the row lock is taken,
	// so concurrent commits on one definition serialize here.
	result, err := tx.ExecContext(ctx, queryAdvanceHarvestDefinition, hd.ID, numEvents, nextDate, expectedEdition)
	if err != nil {
		return domain.RepositoryError(fmt.Sprintf("advance harvest definition %d", hd.ID), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.RepositoryError(fmt.Sprintf("advance harvest definition %d", hd.ID), err)
	}
	if affected == 0 {
		var edition int64
		err := tx.QueryRowContext(ctx, queryGetEdition, hd.ID).Scan(&edition)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UnknownEntityError("harvest definition", hd.ID)
		}
		if err != nil {
			return domain.RepositoryError(fmt.Sprintf("read edition of harvest definition %d", hd.ID), err)
		}
		return fmt.Errorf("harvest definition %d at edition %d, expected %d: %w",
			hd.ID, edition, expectedEdition, domain.ErrConcurrentModification)
	}

	for _, job := range jobs {
		_, err := tx.ExecContext(ctx, queryInsertJob,
			job.ID,
			job.HarvestDefinitionID,
			job.HarvestNum,
			job.Template,
			job.ExpectedObjects,
			job.MaxObjects,
			job.MaxBytes,
			job.MaxRunningTime.Milliseconds(),
			string(job.Priority),
			job.CreatedAt,
		)
		if err != nil {
			return domain.RepositoryError(fmt.Sprintf("insert job %s", job.ID), err)
		}
		for pos, key := range job.Configurations {
			if _, err := tx.ExecContext(ctx, queryInsertJobConfiguration, job.ID, pos, key.DomainName, key.ConfigName); err != nil {
				return domain.RepositoryError(fmt.Sprintf("insert configuration %s of job %s", key, job.ID), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.RepositoryError("commit", err)
	}
	return nil
}

// MarkIndexReady flags the deduplication index of a snapshot as built.
func (s *Store) MarkIndexReady(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkIndexReady, id)
	if err != nil {
		return domain.RepositoryError(fmt.Sprintf("mark index ready for %d", id), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.RepositoryError(fmt.Sprintf("mark index ready for %d", id), err)
	}
	if affected == 0 {
		return domain.UnknownEntityError("snapshot harvest definition", id)
	}
	return nil
}

const (
	kindSelective = "selective"
	kindSnapshot  = "snapshot"
)

type definitionRow struct {
	ID                  int64         `db:"id"`
	Name                string        `db:"name"`
	Comments            string        `db:"comments"`
	Channel             string        `db:"channel"`
	Kind                string        `db:"kind"`
	Active              bool          `db:"active"`
	NumEvents           int           `db:"num_events"`
	Edition             int64         `db:"edition"`
	NextDate            sql.NullTime  `db:"next_date"`
	MaxObjects          int64         `db:"max_objects"`
	MaxBytes            int64         `db:"max_bytes"`
	MaxJobRunningTimeMs int64         `db:"max_job_running_time_ms"`
	PreviousID          sql.NullInt64 `db:"previous_id"`
	IndexReady          bool          `db:"index_ready"`
	ScheduleID          sql.NullInt64 `db:"schedule_id"`

	ScheduleName     sql.NullString `db:"schedule_name"`
	ScheduleComments sql.NullString `db:"schedule_comments"`
	StartDate        sql.NullTime   `db:"start_date"`
	Repeats          sql.NullInt32  `db:"repeats"`
	FrequencyKind    sql.NullString `db:"frequency_kind"`
	NumUnits         sql.NullInt32  `db:"num_units"`
	Anytime          sql.NullBool   `db:"anytime"`
	OnMinute         sql.NullInt32  `db:"on_minute"`
	OnHour           sql.NullInt32  `db:"on_hour"`
	OnDayOfWeek      sql.NullInt32  `db:"on_day_of_week"`
	OnDayOfMonth     sql.NullInt32  `db:"on_day_of_month"`
}

func (r definitionRow) toDomain() (domain.HarvestDefinition, error) {
	hd := domain.HarvestDefinition{
		ID:        r.ID,
		Name:      r.Name,
		Comments:  r.Comments,
		Channel:   r.Channel,
		Active:    r.Active,
		NumEvents: r.NumEvents,
		Edition:   r.Edition,
	}
	switch r.Kind {
	case kindSelective:
		sched, err := r.schedule()
		if err != nil {
			return domain.HarvestDefinition{}, fmt.Errorf("harvest definition %d: %w", r.ID, err)
		}
		hd.Kind = domain.HarvestSelective
		hd.Selective = &domain.PartialHarvest{Schedule: sched, NextDate: nullTime(r.NextDate)}
	case kindSnapshot:
		hd.Kind = domain.HarvestSnapshot
		hd.Snapshot = &domain.FullHarvest{
			MaxObjects:        r.MaxObjects,
			MaxBytes:          r.MaxBytes,
			MaxJobRunningTime: time.Duration(r.MaxJobRunningTimeMs) * time.Millisecond,
			IndexReady:        r.IndexReady,
		}
		if r.PreviousID.Valid {
			prev := r.PreviousID.Int64
			hd.Snapshot.PreviousID = &prev
		}
	default:
		return domain.HarvestDefinition{}, fmt.Errorf("%w: harvest definition %d has unknown kind %q", domain.ErrInvalidConfiguration, r.ID, r.Kind)
	}
	return hd, nil
}

func (r definitionRow) schedule() (domain.Schedule, error) {
	if !r.ScheduleID.Valid || !r.FrequencyKind.Valid {
		return domain.Schedule{}, domain.UnknownEntityError("schedule", r.ScheduleID.Int64)
	}
	kind, err := domain.ParseFrequencyKind(r.FrequencyKind.String)
	if err != nil {
		return domain.Schedule{}, err
	}
	freq, err := domain.NewFrequency(domain.FrequencyParams{
		Kind:         kind,
		NumUnits:     int(r.NumUnits.Int32),
		Anytime:      r.Anytime.Bool,
		OnMinute:     nullInt(r.OnMinute),
		OnHour:       nullInt(r.OnHour),
		OnDayOfWeek:  nullInt(r.OnDayOfWeek),
		OnDayOfMonth: nullInt(r.OnDayOfMonth),
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	return domain.NewSchedule(domain.ScheduleParams{
		ID:        r.ScheduleID.Int64,
		Name:      r.ScheduleName.String,
		Comments:  r.ScheduleComments.String,
		StartDate: nullTime(r.StartDate),
		Frequency: freq,
		Repeats:   nullInt(r.Repeats),
	})
}

type configurationRow struct {
	DomainName     string         `db:"domain_name"`
	Name           string         `db:"name"`
	Template       string         `db:"template"`
	Seedlists      pq.StringArray `db:"seedlists"`
	Passwords      pq.StringArray `db:"passwords"`
	MaxObjects     int64          `db:"max_objects"`
	MaxBytes       int64          `db:"max_bytes"`
	MaxRequestRate int            `db:"max_request_rate"`
	Comments       string         `db:"comments"`
}

func (r configurationRow) toDomain() domain.DomainConfiguration {
	return domain.DomainConfiguration{
		Name:           r.Name,
		DomainName:     r.DomainName,
		Template:       r.Template,
		Seedlists:      []string(r.Seedlists),
		Passwords:      []string(r.Passwords),
		MaxObjects:     r.MaxObjects,
		MaxBytes:       r.MaxBytes,
		MaxRequestRate: r.MaxRequestRate,
		Comments:       r.Comments,
	}
}

type historyRow struct {
	HarvestID            int64     `db:"harvest_id"`
	DomainName           string    `db:"domain_name"`
	ConfigName           string    `db:"config_name"`
	Date                 time.Time `db:"date"`
	SizeDataRetrieved    int64     `db:"size_data_retrieved"`
	CountObjectRetrieved int64     `db:"count_object_retrieved"`
	StopReason           int       `db:"stop_reason"`
}

func (r historyRow) toDomain() domain.HarvestInfo {
	return domain.HarvestInfo{
		HarvestID:            r.HarvestID,
		DomainName:           r.DomainName,
		ConfigName:           r.ConfigName,
		Date:                 r.Date,
		SizeDataRetrieved:    r.SizeDataRetrieved,
		CountObjectRetrieved: r.CountObjectRetrieved,
		StopReason:           domain.StopReason(r.StopReason),
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}

// Compile-time interface assertion
var _ scheduler.Repository = (*Store)(nil)
