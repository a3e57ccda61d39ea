package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyAt(h, m int) Frequency {
	return MustFrequency(FrequencyParams{Kind: FrequencyDaily, NumUnits: 1, OnHour: &h, OnMinute: &m})
}

func TestNewSchedule_Validation(t *testing.T) {
	freq := dailyAt(1, 0)
	zero := 0
	negative := -3

	tests := []struct {
		name   string
		params ScheduleParams
	}{
		{"empty name", ScheduleParams{Name: "", Frequency: freq}},
		{"blank name", ScheduleParams{Name: "   ", Frequency: freq}},
		{"no frequency", ScheduleParams{Name: "nightly"}},
		{"zero repeats", ScheduleParams{Name: "nightly", Frequency: freq, Repeats: &zero}},
		{"negative repeats", ScheduleParams{Name: "nightly", Frequency: freq, Repeats: &negative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchedule(tt.params)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestSchedule_Variants(t *testing.T) {
	timed, err := NewTimedSchedule("nightly", "", dailyAt(1, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, ScheduleTimed, timed.Kind())
	_, bounded := timed.Repeats()
	assert.False(t, bounded)

	rep, err := NewRepeatingSchedule("thrice", "three runs", dailyAt(1, 0), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, ScheduleRepeating, rep.Kind())
	n, bounded := rep.Repeats()
	assert.True(t, bounded)
	assert.Equal(t, 3, n)
}

func TestRepeatingSchedule_NextEvent(t *testing.T) {
	rep, err := NewRepeatingSchedule("thrice", "", dailyAt(1, 0), nil, 3)
	require.NoError(t, err)
	last := utc(2024, 1, 15, 1, 0, 0)

	_, ok := rep.NextEvent(last, 3)
	assert.False(t, ok, "no events once the bound is reached")
	_, ok = rep.NextEvent(last, 7)
	assert.False(t, ok)

	next, ok := rep.NextEvent(last, 2)
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 16, 1, 0, 0), next)

	_, ok = rep.NextEvent(time.Time{}, 0)
	assert.False(t, ok, "no last event means no next event")
}

func TestTimedSchedule_NextEventIsUnbounded(t *testing.T) {
	timed, err := NewTimedSchedule("nightly", "", dailyAt(1, 0), nil)
	require.NoError(t, err)

	next, ok := timed.NextEvent(utc(2024, 1, 15, 1, 0, 0), 1_000_000)
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 16, 1, 0, 0), next)
}

func TestSchedule_FirstEventHonoursStartDate(t *testing.T) {
	start := utc(2024, 3, 1, 0, 0, 0)
	s, err := NewTimedSchedule("march", "", dailyAt(6, 0), &start)
	require.NoError(t, err)

	assert.Equal(t, utc(2024, 3, 1, 6, 0, 0), s.FirstEvent(utc(2024, 1, 1, 12, 0, 0)),
		"a later start date is the basis")
	assert.Equal(t, utc(2024, 4, 2, 6, 0, 0), s.FirstEvent(utc(2024, 4, 1, 12, 0, 0)),
		"an earlier start date is ignored")

	got, ok := s.StartDate()
	require.True(t, ok)
	assert.Equal(t, start, got)
}

func TestSchedule_ParamsRebuild(t *testing.T) {
	start := utc(2024, 3, 1, 0, 0, 0)
	s, err := NewRepeatingSchedule("march", "c", dailyAt(6, 0), &start, 4)
	require.NoError(t, err)

	rebuilt, err := NewSchedule(s.Params())
	require.NoError(t, err)
	assert.Equal(t, s, rebuilt)
}
