package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mondaySchedule() *Schedule {
	start := NewTimeOfDay(9, 0)
	end := NewTimeOfDay(17, 0)
	return &Schedule{
		StartTime:  &start,
		EndTime:    &end,
		ActiveDays: Weekdays{time.Monday},
	}
}

func TestPlaylistIsActiveMondayWindow(t *testing.T) {
	p := Playlist{Active: true, Schedule: mondaySchedule()}

	// 2025-03-03 is a Monday.
	monday10 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	monday20 := time.Date(2025, 3, 3, 20, 0, 0, 0, time.UTC)
	tuesday10 := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	assert.True(t, p.IsActive(monday10))
	assert.False(t, p.IsActive(monday20))
	assert.False(t, p.IsActive(tuesday10))
}

func TestPlaylistInactiveFlagWins(t *testing.T) {
	p := Playlist{Active: false}
	assert.False(t, p.IsActive(time.Now()))

	p.Active = true
	assert.True(t, p.IsActive(time.Now()))
}

func TestScheduleDateRange(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	s := Schedule{StartDate: &from, EndDate: &to}

	assert.False(t, s.Covers(time.Date(2025, 5, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, s.Covers(time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC)))
	assert.False(t, s.Covers(time.Date(2025, 7, 1, 0, 1, 0, 0, time.UTC)))
}

func TestScheduleOvernightWindow(t *testing.T) {
	start := NewTimeOfDay(22, 0)
	end := NewTimeOfDay(6, 0)
	s := Schedule{StartTime: &start, EndTime: &end}

	assert.True(t, s.Covers(time.Date(2025, 3, 3, 23, 30, 0, 0, time.UTC)))
	assert.True(t, s.Covers(time.Date(2025, 3, 3, 5, 0, 0, 0, time.UTC)))
	assert.False(t, s.Covers(time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)))
}

func TestScheduleJSON(t *testing.T) {
	raw := `{"startTime":"09:00","endTime":"17:30","activeDays":["Monday","fri",3],"priority":100}`

	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.Equal(t, NewTimeOfDay(9, 0), *s.StartTime)
	assert.Equal(t, NewTimeOfDay(17, 30), *s.EndTime)
	assert.Equal(t, Weekdays{time.Monday, time.Friday, time.Wednesday}, s.ActiveDays)
	assert.Equal(t, PriorityHigh, s.Priority)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"activeDays":["Monday","Friday","Wednesday"]`)
	assert.Contains(t, string(out), `"endTime":"17:30"`)
}

func TestWeekdaysRejectsOutOfRange(t *testing.T) {
	var w Weekdays
	assert.ErrorIs(t, json.Unmarshal([]byte(`[7]`), &w), ErrInvalidInput)
	assert.ErrorIs(t, json.Unmarshal([]byte(`["Funday"]`), &w), ErrInvalidInput)
}
