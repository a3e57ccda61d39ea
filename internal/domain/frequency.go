package domain

import (
	"fmt"
	"strings"
	"time"
)

// FrequencyKind is the calendar unit a Frequency counts in.
type FrequencyKind int

const (
	FrequencyMinute FrequencyKind = iota + 1
	FrequencyHourly
	FrequencyDaily
	FrequencyWeekly
	FrequencyMonthly
)

// maxMinuteSteps bounds stepMinuteSlot to a little over three days.
const maxMinuteSteps = 3*24*60 + 60

var frequencyKindNames = map[FrequencyKind]string{
	FrequencyMinute:  "minute",
	FrequencyHourly:  "hourly",
	FrequencyDaily:   "daily",
	FrequencyWeekly:  "weekly",
	FrequencyMonthly: "monthly",
}

func (k FrequencyKind) String() string {
	if name, ok := frequencyKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FrequencyKind(%d)", int(k))
}

// ParseFrequencyKind maps a stored kind name back to a FrequencyKind.
func ParseFrequencyKind(s string) (FrequencyKind, error) {
	for k, name := range frequencyKindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, invalidf("unknown frequency kind %q", s)
}

// FrequencyParams describes a Frequency before validation. The On* fields are
// optional; which of them are required depends on Kind when Anytime is false.
type FrequencyParams struct {
	Kind     FrequencyKind
	NumUnits int
	Anytime  bool

	OnMinute     *int
	OnHour       *int
	OnDayOfWeek  *int // time.Weekday numbering, 0 = Sunday
	OnDayOfMonth *int // 1..31, clamped to the last day of short months
}

// Frequency is an immutable description of a recurring event: every
// NumUnits minutes/hours/days/weeks/months, either at any time or at a fixed
// calendar slot. All calendar arithmetic happens in the Location of the
// instant passed in.
type Frequency struct {
	kind     FrequencyKind
	numUnits int
	anytime  bool

	onMinute     int
	onHour       int
	onDayOfWeek  time.Weekday
	onDayOfMonth int
}

// NewFrequency validates p and builds a Frequency.
func NewFrequency(p FrequencyParams) (Frequency, error) {
	if _, ok := frequencyKindNames[p.Kind]; !ok {
		return Frequency{}, invalidf("unknown frequency kind %d", int(p.Kind))
	}
	if p.NumUnits <= 0 {
		return Frequency{}, invalidf("frequency num_units must be positive, got %d", p.NumUnits)
	}

	f := Frequency{kind: p.Kind, numUnits: p.NumUnits, anytime: p.Anytime}
	if p.Anytime {
		return f, nil
	}

	if p.OnMinute == nil {
		return Frequency{}, invalidf("%s frequency at a fixed time requires on_minute", p.Kind)
	}
	if *p.OnMinute < 0 || *p.OnMinute > 59 {
		return Frequency{}, invalidf("on_minute out of range: %d", *p.OnMinute)
	}
	f.onMinute = *p.OnMinute

	if p.Kind != FrequencyHourly {
		if p.OnHour == nil {
			return Frequency{}, invalidf("%s frequency at a fixed time requires on_hour", p.Kind)
		}
		if *p.OnHour < 0 || *p.OnHour > 23 {
			return Frequency{}, invalidf("on_hour out of range: %d", *p.OnHour)
		}
		f.onHour = *p.OnHour
	}

	switch p.Kind {
	case FrequencyWeekly:
		if p.OnDayOfWeek == nil {
			return Frequency{}, invalidf("weekly frequency at a fixed time requires on_day_of_week")
		}
		if *p.OnDayOfWeek < 0 || *p.OnDayOfWeek > 6 {
			return Frequency{}, invalidf("on_day_of_week out of range: %d", *p.OnDayOfWeek)
		}
		f.onDayOfWeek = time.Weekday(*p.OnDayOfWeek)
	case FrequencyMonthly:
		if p.OnDayOfMonth == nil {
			return Frequency{}, invalidf("monthly frequency at a fixed time requires on_day_of_month")
		}
		if *p.OnDayOfMonth < 1 || *p.OnDayOfMonth > 31 {
			return Frequency{}, invalidf("on_day_of_month out of range: %d", *p.OnDayOfMonth)
		}
		f.onDayOfMonth = *p.OnDayOfMonth
	}
	return f, nil
}

// MustFrequency is NewFrequency that panics; for fixtures and tests.
func MustFrequency(p FrequencyParams) Frequency {
	f, err := NewFrequency(p)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Frequency) Kind() FrequencyKind { return f.kind }
func (f Frequency) NumUnits() int       { return f.numUnits }
func (f Frequency) Anytime() bool       { return f.anytime }

// IsZero reports whether f was never constructed.
func (f Frequency) IsZero() bool { return f.numUnits == 0 }

// Params returns the fields needed to rebuild f, with only the fields
// relevant to its kind set.
func (f Frequency) Params() FrequencyParams {
	p := FrequencyParams{Kind: f.kind, NumUnits: f.numUnits, Anytime: f.anytime}
	if f.anytime {
		return p
	}
	minute := f.onMinute
	p.OnMinute = &minute
	if f.kind != FrequencyHourly {
		hour := f.onHour
		p.OnHour = &hour
	}
	switch f.kind {
	case FrequencyWeekly:
		dow := int(f.onDayOfWeek)
		p.OnDayOfWeek = &dow
	case FrequencyMonthly:
		dom := f.onDayOfMonth
		p.OnDayOfMonth = &dom
	}
	return p
}

// FirstEvent returns the first event at or after start. Anytime frequencies
// fire immediately.
func (f Frequency) FirstEvent(start time.Time) time.Time {
	if f.anytime {
		return start
	}
	if f.isSlot(start) {
		return start
	}
	return f.slotAfter(start)
}

// NextEvent returns the event following last. Anytime frequencies fire
// exactly NumUnits periods after last. Fixed-time frequencies fire on the
// first matching slot strictly after last, NumUnits-1 periods further out.
func (f Frequency) NextEvent(last time.Time) time.Time {
	if f.anytime {
		return f.addUnits(last, f.numUnits)
	}
	if f.kind == FrequencyMinute {
		// Minute slots are already NumUnits apart.
		return f.slotAfter(last)
	}
	return f.slotAfter(f.addUnits(last, f.numUnits-1))
}

// MinPeriod is a lower bound on the distance between two consecutive events,
// allowing for daylight saving shifts.
func (f Frequency) MinPeriod() time.Duration {
	n := time.Duration(f.numUnits)
	switch f.kind {
	case FrequencyMinute:
		return n * time.Minute
	case FrequencyHourly:
		return n * time.Hour
	case FrequencyDaily:
		return n*24*time.Hour - time.Hour
	case FrequencyWeekly:
		return n*7*24*time.Hour - time.Hour
	case FrequencyMonthly:
		return n*28*24*time.Hour - time.Hour
	}
	return time.Minute
}

func (f Frequency) String() string {
	unit := map[FrequencyKind]string{
		FrequencyMinute:  "minute",
		FrequencyHourly:  "hour",
		FrequencyDaily:   "day",
		FrequencyWeekly:  "week",
		FrequencyMonthly: "month",
	}[f.kind]
	s := fmt.Sprintf("every %d %s", f.numUnits, unit)
	if f.numUnits != 1 {
		s += "s"
	}
	if f.anytime {
		return s
	}
	switch f.kind {
	case FrequencyHourly:
		return s + fmt.Sprintf(" at minute %d", f.onMinute)
	case FrequencyWeekly:
		return s + fmt.Sprintf(" on %s at %02d:%02d", f.onDayOfWeek, f.onHour, f.onMinute)
	case FrequencyMonthly:
		return s + fmt.Sprintf(" on day %d at %02d:%02d", f.onDayOfMonth, f.onHour, f.onMinute)
	default:
		return s + fmt.Sprintf(" at %02d:%02d", f.onHour, f.onMinute)
	}
}

// addUnits moves t forward n periods. Minutes and hours are elapsed time;
// days, weeks and months follow the wall clock.
func (f Frequency) addUnits(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	switch f.kind {
	case FrequencyMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case FrequencyHourly:
		return t.Add(time.Duration(n) * time.Hour)
	case FrequencyDaily:
		return t.AddDate(0, 0, n)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(t, n)
	}
	return t
}

func (f Frequency) isSlot(t time.Time) bool {
	if t.Second() != 0 || t.Nanosecond() != 0 {
		return false
	}
	if f.kind == FrequencyMinute {
		return f.onMinuteGrid(t.Hour()*60 + t.Minute())
	}
	if t.Minute() != f.onMinute {
		return false
	}
	switch f.kind {
	case FrequencyHourly:
		return true
	case FrequencyDaily:
		return t.Hour() == f.onHour
	case FrequencyWeekly:
		return t.Hour() == f.onHour && t.Weekday() == f.onDayOfWeek
	case FrequencyMonthly:
		return t.Hour() == f.onHour && t.Day() == clampDay(t.Year(), t.Month(), f.onDayOfMonth)
	}
	return false
}

// slotAfter returns the first fixed slot strictly after t.
func (f Frequency) slotAfter(t time.Time) time.Time {
	y, mo, d := t.Date()
	loc := t.Location()

	switch f.kind {
	case FrequencyMinute:
		anchor := f.minuteAnchor()
		minuteOfDay := t.Hour()*60 + t.Minute()
		next := anchor
		if minuteOfDay >= anchor {
			next = anchor + ((minuteOfDay-anchor)/f.numUnits+1)*f.numUnits
		}
		var c time.Time
		if next >= 24*60 {
			c = time.Date(y, mo, d+1, 0, anchor, 0, 0, loc)
		} else {
			c = time.Date(y, mo, d, 0, next, 0, 0, loc)
		}
		_, tOff := t.Zone()
		_, cOff := c.Zone()
		if c.After(t) && tOff == cOff {
			return c
		}
		return f.stepMinuteSlot(t)

	case FrequencyHourly:
		hourStart := t.Add(-time.Duration(t.Minute())*time.Minute - time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
		c := hourStart.Add(time.Duration(f.onMinute) * time.Minute)
		if !c.After(t) {
			c = c.Add(time.Hour)
		}
		return c

	case FrequencyDaily:
		c := time.Date(y, mo, d, f.onHour, f.onMinute, 0, 0, loc)
		if !c.After(t) {
			c = time.Date(y, mo, d+1, f.onHour, f.onMinute, 0, 0, loc)
		}
		return c

	case FrequencyWeekly:
		offset := (int(f.onDayOfWeek) - int(t.Weekday()) + 7) % 7
		c := time.Date(y, mo, d+offset, f.onHour, f.onMinute, 0, 0, loc)
		if !c.After(t) {
			c = time.Date(y, mo, d+offset+7, f.onHour, f.onMinute, 0, 0, loc)
		}
		return c

	case FrequencyMonthly:
		c := time.Date(y, mo, clampDay(y, mo, f.onDayOfMonth), f.onHour, f.onMinute, 0, 0, loc)
		if !c.After(t) {
			ny, nm, _ := time.Date(y, mo+1, 1, 0, 0, 0, 0, loc).Date()
			c = time.Date(ny, nm, clampDay(ny, nm, f.onDayOfMonth), f.onHour, f.onMinute, 0, 0, loc)
		}
		return c
	}
	return t
}

// stepMinuteSlot walks elapsed minutes from t to the first grid slot
// strictly after it. It is used when a UTC offset change lies between t and
// the wall-clock candidate.
func (f Frequency) stepMinuteSlot(t time.Time) time.Time {
	c := t.Add(-time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
	for i := 0; i < maxMinuteSteps; i++ {
		c = c.Add(time.Minute)
		if f.isSlot(c) {
			return c
		}
	}
	return c
}

// minuteAnchor is the earliest minute of the day on the grid defined by
// the fixed hour/minute and NumUnits.
func (f Frequency) minuteAnchor() int {
	return (f.onHour*60 + f.onMinute) % f.numUnits
}

func (f Frequency) onMinuteGrid(minuteOfDay int) bool {
	return minuteOfDay >= f.minuteAnchor() && (minuteOfDay-f.minuteAnchor())%f.numUnits == 0
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(y int, m time.Month, day int) int {
	if last := daysIn(y, m); day > last {
		return last
	}
	return day
}

// addMonthsClamped adds n months keeping the day of month where possible,
// falling back to the last day of shorter months (Jan 31 + 1 = Feb 28).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, mo, d := t.Date()
	first := time.Date(y, mo+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ny, nm, _ := first.Date()
	return time.Date(ny, nm, clampDay(ny, nm, d), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
