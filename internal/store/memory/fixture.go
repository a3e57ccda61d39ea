package memory

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

// Fixture is the YAML document accepted by LoadFixture.
type Fixture struct {
	Schedules      []FixtureSchedule      `yaml:"schedules"`
	Configurations []FixtureConfiguration `yaml:"configurations"`
	History        []FixtureHarvestInfo   `yaml:"history"`
	Definitions    []FixtureDefinition    `yaml:"definitions"`
}

type FixtureFrequency struct {
	Kind       string `yaml:"kind"`
	Every      int    `yaml:"every"`
	Anytime    bool   `yaml:"anytime"`
	Minute     *int   `yaml:"minute"`
	Hour       *int   `yaml:"hour"`
	DayOfWeek  *int   `yaml:"day_of_week"`
	DayOfMonth *int   `yaml:"day_of_month"`
}

type FixtureSchedule struct {
	Name      string           `yaml:"name"`
	Comments  string           `yaml:"comments"`
	Frequency FixtureFrequency `yaml:"frequency"`
	Start     *time.Time       `yaml:"start"`
	Repeats   *int             `yaml:"repeats"`
}

type FixtureConfiguration struct {
	Domain         string   `yaml:"domain"`
	Name           string   `yaml:"name"`
	Template       string   `yaml:"template"`
	Seedlists      []string `yaml:"seedlists"`
	MaxObjects     *int64   `yaml:"max_objects"`
	MaxBytes       *int64   `yaml:"max_bytes"`
	MaxRequestRate int      `yaml:"max_request_rate"`
	Comments       string   `yaml:"comments"`
}

type FixtureHarvestInfo struct {
	HarvestID  int64     `yaml:"harvest_id"`
	Domain     string    `yaml:"domain"`
	Config     string    `yaml:"config"`
	Date       time.Time `yaml:"date"`
	Objects    int64     `yaml:"objects"`
	Bytes      int64     `yaml:"bytes"`
	StopReason string    `yaml:"stop_reason"`
}

type FixtureDefinition struct {
	ID             int64              `yaml:"id"`
	Name           string             `yaml:"name"`
	Comments       string             `yaml:"comments"`
	Channel        string             `yaml:"channel"`
	Kind           string             `yaml:"kind"`
	Active         *bool              `yaml:"active"`
	NumEvents      int                `yaml:"num_events"`
	Configurations []domain.ConfigKey `yaml:"configurations"`

	// selective
	Schedule string     `yaml:"schedule"`
	NextDate *time.Time `yaml:"next_date"`

	// snapshot
	MaxObjects        *int64        `yaml:"max_objects"`
	MaxBytes          *int64        `yaml:"max_bytes"`
	MaxJobRunningTime time.Duration `yaml:"max_job_running_time"`
	PreviousID        *int64        `yaml:"previous_id"`
	IndexReady        bool          `yaml:"index_ready"`
}

// LoadFixture decodes a YAML fixture from r into s. Selective definitions
// without a next_date get the first event of their schedule at or after now.
func (s *Store) LoadFixture(r io.Reader, now time.Time) error {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode fixture: %w", domain.ErrInvalidConfiguration, err)
	}

	schedules := make(map[string]domain.Schedule, len(f.Schedules))
	for _, fs := range f.Schedules {
		sched, err := fs.build()
		if err != nil {
			return err
		}
		schedules[fs.Name] = sched
	}

	for _, fc := range f.Configurations {
		s.SaveConfiguration(fc.build())
	}

	for _, fh := range f.History {
		hi, err := fh.build()
		if err != nil {
			return err
		}
		s.AddHarvestInfo(hi)
	}

	for _, fd := range f.Definitions {
		hd, err := s.buildDefinition(fd, schedules, now)
		if err != nil {
			return err
		}
		if err := s.SaveHarvestDefinition(hd); err != nil {
			return err
		}
	}
	return nil
}

func (fs FixtureSchedule) build() (domain.Schedule, error) {
	kind, err := domain.ParseFrequencyKind(fs.Frequency.Kind)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %q: %w", fs.Name, err)
	}
	every := fs.Frequency.Every
	if every == 0 {
		every = 1
	}
	freq, err := domain.NewFrequency(domain.FrequencyParams{
		Kind:         kind,
		NumUnits:     every,
		Anytime:      fs.Frequency.Anytime,
		OnMinute:     fs.Frequency.Minute,
		OnHour:       fs.Frequency.Hour,
		OnDayOfWeek:  fs.Frequency.DayOfWeek,
		OnDayOfMonth: fs.Frequency.DayOfMonth,
	})
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %q: %w", fs.Name, err)
	}
	return domain.NewSchedule(domain.ScheduleParams{
		Name:      fs.Name,
		Comments:  fs.Comments,
		StartDate: fs.Start,
		Frequency: freq,
		Repeats:   fs.Repeats,
	})
}

func (fc FixtureConfiguration) build() domain.DomainConfiguration {
	return domain.DomainConfiguration{
		Name:           fc.Name,
		DomainName:     fc.Domain,
		Template:       fc.Template,
		Seedlists:      fc.Seedlists,
		MaxObjects:     limit(fc.MaxObjects),
		MaxBytes:       limit(fc.MaxBytes),
		MaxRequestRate: fc.MaxRequestRate,
		Comments:       fc.Comments,
	}
}

func (fh FixtureHarvestInfo) build() (domain.HarvestInfo, error) {
	reason := domain.StopDownloadComplete
	if fh.StopReason != "" {
		var err error
		if reason, err = domain.ParseStopReason(strings.ToUpper(fh.StopReason)); err != nil {
			return domain.HarvestInfo{}, fmt.Errorf("harvest %d: %w", fh.HarvestID, err)
		}
	}
	return domain.HarvestInfo{
		HarvestID:            fh.HarvestID,
		DomainName:           fh.Domain,
		ConfigName:           fh.Config,
		Date:                 fh.Date,
		SizeDataRetrieved:    fh.Bytes,
		CountObjectRetrieved: fh.Objects,
		StopReason:           reason,
	}, nil
}

func (s *Store) buildDefinition(fd FixtureDefinition, schedules map[string]domain.Schedule, now time.Time) (domain.HarvestDefinition, error) {
	var hd domain.HarvestDefinition
	switch strings.ToLower(fd.Kind) {
	case "selective", "partial":
		sched, ok := schedules[fd.Schedule]
		if !ok {
			return hd, fmt.Errorf("harvest definition %d: %w", fd.ID, domain.UnknownEntityError("schedule", fd.Schedule))
		}
		hd = domain.NewPartialHarvest(fd.ID, fd.Name, sched, now)
		if fd.NextDate != nil {
			next := *fd.NextDate
			hd.Selective.NextDate = &next
		}
	case "snapshot", "full":
		hd = domain.NewFullHarvest(fd.ID, fd.Name, domain.FullHarvest{
			MaxObjects:        limit(fd.MaxObjects),
			MaxBytes:          limit(fd.MaxBytes),
			MaxJobRunningTime: fd.MaxJobRunningTime,
			PreviousID:        fd.PreviousID,
			IndexReady:        fd.IndexReady,
		})
	default:
		return hd, fmt.Errorf("%w: harvest definition %d has unknown kind %q", domain.ErrInvalidConfiguration, fd.ID, fd.Kind)
	}

	hd.Comments = fd.Comments
	hd.Channel = fd.Channel
	hd.NumEvents = fd.NumEvents
	if fd.Active != nil {
		hd.Active = *fd.Active
	}
	for _, key := range fd.Configurations {
		cfg, err := s.Configuration(key)
		if err != nil {
			return hd, fmt.Errorf("harvest definition %d: %w", fd.ID, err)
		}
		if err := hd.AddConfiguration(cfg); err != nil {
			return hd, err
		}
	}
	return hd, nil
}

func limit(v *int64) int64 {
	if v == nil {
		return domain.Unlimited
	}
	return *v
}
