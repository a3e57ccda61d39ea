package domain

import (
	"strings"
	"time"
)

// ScheduleKind distinguishes infinite schedules from ones with a repeat bound.
type ScheduleKind int

const (
	// ScheduleTimed repeats indefinitely.
	ScheduleTimed ScheduleKind = iota + 1
	// ScheduleRepeating stops after a fixed number of events.
	ScheduleRepeating
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleTimed:
		return "timed"
	case ScheduleRepeating:
		return "repeating"
	}
	return "unknown"
}

// ScheduleParams describes a Schedule before validation. A nil Repeats
// builds a timed (infinite) schedule.
type ScheduleParams struct {
	ID        int64
	Name      string
	Comments  string
	StartDate *time.Time
	Frequency Frequency
	Repeats   *int
}

// Schedule wraps a Frequency with an optional start date and repeat bound.
// It is read-only once built.
type Schedule struct {
	id        int64
	name      string
	comments  string
	startDate *time.Time
	frequency Frequency
	kind      ScheduleKind
	repeats   int
}

// NewSchedule validates p and builds the matching schedule variant.
func NewSchedule(p ScheduleParams) (Schedule, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Schedule{}, invalidf("schedule name is required")
	}
	if p.Frequency.IsZero() {
		return Schedule{}, invalidf("schedule %q has no frequency", p.Name)
	}

	s := Schedule{
		id:        p.ID,
		name:      p.Name,
		comments:  p.Comments,
		frequency: p.Frequency,
		kind:      ScheduleTimed,
	}
	if p.StartDate != nil {
		start := *p.StartDate
		s.startDate = &start
	}
	if p.Repeats != nil {
		if *p.Repeats <= 0 {
			return Schedule{}, invalidf("schedule %q repeats must be positive, got %d", p.Name, *p.Repeats)
		}
		s.kind = ScheduleRepeating
		s.repeats = *p.Repeats
	}
	return s, nil
}

// NewTimedSchedule builds a schedule without a repeat bound.
func NewTimedSchedule(name, comments string, freq Frequency, start *time.Time) (Schedule, error) {
	return NewSchedule(ScheduleParams{Name: name, Comments: comments, Frequency: freq, StartDate: start})
}

// NewRepeatingSchedule builds a schedule that stops after repeats events.
func NewRepeatingSchedule(name, comments string, freq Frequency, start *time.Time, repeats int) (Schedule, error) {
	return NewSchedule(ScheduleParams{Name: name, Comments: comments, Frequency: freq, StartDate: start, Repeats: &repeats})
}

func (s Schedule) ID() int64            { return s.id }
func (s Schedule) Name() string         { return s.name }
func (s Schedule) Comments() string     { return s.comments }
func (s Schedule) Kind() ScheduleKind   { return s.kind }
func (s Schedule) Frequency() Frequency { return s.frequency }

// StartDate returns the configured start date, if any.
func (s Schedule) StartDate() (time.Time, bool) {
	if s.startDate == nil {
		return time.Time{}, false
	}
	return *s.startDate, true
}

// Repeats returns the repeat bound of a repeating schedule.
func (s Schedule) Repeats() (int, bool) {
	return s.repeats, s.kind == ScheduleRepeating
}

// Params returns the fields needed to rebuild s.
func (s Schedule) Params() ScheduleParams {
	p := ScheduleParams{ID: s.id, Name: s.name, Comments: s.comments, Frequency: s.frequency}
	if s.startDate != nil {
		start := *s.startDate
		p.StartDate = &start
	}
	if s.kind == ScheduleRepeating {
		repeats := s.repeats
		p.Repeats = &repeats
	}
	return p
}

// FirstEvent returns the first event at or after start, or at or after the
// schedule's start date when that lies later.
func (s Schedule) FirstEvent(start time.Time) time.Time {
	if s.startDate != nil && s.startDate.After(start) {
		start = s.startDate.In(start.Location())
	}
	return s.frequency.FirstEvent(start)
}

// NextEvent returns the event after last given how many events already
// happened. The second result is false when no more events exist: a zero
// last, or a repeating schedule that has used up its bound.
func (s Schedule) NextEvent(last time.Time, numPrevious int) (time.Time, bool) {
	if last.IsZero() {
		return time.Time{}, false
	}
	switch s.kind {
	case ScheduleRepeating:
		if numPrevious >= s.repeats {
			return time.Time{}, false
		}
		return s.frequency.NextEvent(last), true
	default:
		return s.frequency.NextEvent(last), true
	}
}
