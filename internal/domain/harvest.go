package domain

import (
	"time"
)

// HarvestKind tags which variant a HarvestDefinition holds.
type HarvestKind int

const (
	// HarvestSelective is a scheduled, recurring harvest of chosen configurations.
	HarvestSelective HarvestKind = iota + 1
	// HarvestSnapshot is a one-off broad crawl, optionally chained to a previous one.
	HarvestSnapshot
)

func (k HarvestKind) String() string {
	switch k {
	case HarvestSelective:
		return "selective"
	case HarvestSnapshot:
		return "snapshot"
	}
	return "unknown"
}

// PartialHarvest holds the selective-only state.
type PartialHarvest struct {
	Schedule Schedule
	// NextDate is nil when no further run is scheduled.
	NextDate *time.Time
}

// FullHarvest holds the snapshot-only state.
type FullHarvest struct {
	MaxObjects        int64
	MaxBytes          int64
	MaxJobRunningTime time.Duration

	// PreviousID links to the snapshot this one continues, if any.
	PreviousID *int64
	// IndexReady is set by the external collaborator once the deduplication
	// index built from the previous snapshot is available.
	IndexReady bool
}

// HarvestDefinition is a schedulable harvest. Exactly one of Selective and
// Snapshot is set, matching Kind.
type HarvestDefinition struct {
	ID       int64
	Name     string
	Comments string
	Channel  string

	Active    bool
	NumEvents int

	// Edition is the optimistic concurrency counter of the stored row.
	Edition int64

	// Configurations attached to the definition. For snapshots the
	// repository resolves the configuration set.
	Configurations []DomainConfiguration

	Kind      HarvestKind
	Selective *PartialHarvest
	Snapshot  *FullHarvest
}

// NewPartialHarvest builds a selective harvest definition whose first run
// is the schedule's first event at or after now.
func NewPartialHarvest(id int64, name string, schedule Schedule, now time.Time) HarvestDefinition {
	next := schedule.FirstEvent(now)
	return HarvestDefinition{
		ID:     id,
		Name:   name,
		Active: true,
		Kind:   HarvestSelective,
		Selective: &PartialHarvest{
			Schedule: schedule,
			NextDate: &next,
		},
	}
}

// NewFullHarvest builds a snapshot harvest definition.
func NewFullHarvest(id int64, name string, full FullHarvest) HarvestDefinition {
	return HarvestDefinition{
		ID:       id,
		Name:     name,
		Active:   true,
		Kind:     HarvestSnapshot,
		Snapshot: &full,
	}
}

// Validate checks that the variant matches Kind and that attached
// configurations are unique by (domain, name).
func (h HarvestDefinition) Validate() error {
	switch h.Kind {
	case HarvestSelective:
		if h.Selective == nil || h.Snapshot != nil {
			return invalidf("harvest definition %d: selective kind needs exactly the selective part", h.ID)
		}
		if h.Selective.Schedule.Frequency().IsZero() {
			return invalidf("harvest definition %d has no schedule", h.ID)
		}
	case HarvestSnapshot:
		if h.Snapshot == nil || h.Selective != nil {
			return invalidf("harvest definition %d: snapshot kind needs exactly the snapshot part", h.ID)
		}
	default:
		return invalidf("harvest definition %d has unknown kind %d", h.ID, int(h.Kind))
	}

	seen := make(map[ConfigKey]struct{}, len(h.Configurations))
	for _, c := range h.Configurations {
		if _, dup := seen[c.Key()]; dup {
			return invalidf("harvest definition %d lists configuration %s twice", h.ID, c.Key())
		}
		seen[c.Key()] = struct{}{}
	}
	return nil
}

// AddConfiguration attaches cfg unless a configuration with the same key is
// already attached.
func (h *HarvestDefinition) AddConfiguration(cfg DomainConfiguration) error {
	for _, c := range h.Configurations {
		if c.Key() == cfg.Key() {
			return invalidf("configuration %s already attached to harvest definition %d", cfg.Key(), h.ID)
		}
	}
	h.Configurations = append(h.Configurations, cfg)
	return nil
}

// IsReady reports whether the definition is due at now. It never mutates h.
func (h HarvestDefinition) IsReady(now time.Time) bool {
	if !h.Active {
		return false
	}
	switch h.Kind {
	case HarvestSelective:
		if h.Selective == nil || h.Selective.NextDate == nil {
			return false
		}
		return !now.Before(*h.Selective.NextDate)
	case HarvestSnapshot:
		if h.Snapshot == nil {
			return false
		}
		return h.NumEvents < 1 && h.Snapshot.IndexReady
	}
	return false
}

// Clone returns a deep copy so callers can derive a new state without
// touching the original.
func (h HarvestDefinition) Clone() HarvestDefinition {
	c := h
	if h.Configurations != nil {
		c.Configurations = make([]DomainConfiguration, len(h.Configurations))
		for i, cfg := range h.Configurations {
			cfg.Seedlists = append([]string(nil), cfg.Seedlists...)
			cfg.Passwords = append([]string(nil), cfg.Passwords...)
			c.Configurations[i] = cfg
		}
	}
	if h.Selective != nil {
		sel := *h.Selective
		if sel.NextDate != nil {
			next := *sel.NextDate
			sel.NextDate = &next
		}
		c.Selective = &sel
	}
	if h.Snapshot != nil {
		snap := *h.Snapshot
		if snap.PreviousID != nil {
			prev := *snap.PreviousID
			snap.PreviousID = &prev
		}
		c.Snapshot = &snap
	}
	return c
}
