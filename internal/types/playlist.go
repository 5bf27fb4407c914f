package types

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

type TransitionKind string

const (
	TransitionNone       TransitionKind = "None"
	TransitionFade       TransitionKind = "Fade"
	TransitionSlideLeft  TransitionKind = "SlideLeft"
	TransitionSlideRight TransitionKind = "SlideRight"
	TransitionSlideUp    TransitionKind = "SlideUp"
	TransitionSlideDown  TransitionKind = "SlideDown"
	TransitionZoom       TransitionKind = "Zoom"
)

// DefaultTransitionMillis applies to items created without a transition
// duration.
const DefaultTransitionMillis = 500

type SchedulePriority int

const (
	PriorityLow       SchedulePriority = 0
	PriorityNormal    SchedulePriority = 50
	PriorityHigh      SchedulePriority = 100
	PriorityEmergency SchedulePriority = 1000
)

type PlaylistItem struct {
	ContentID        string         `json:"contentId"`
	Order            int            `json:"order"`
	DurationSeconds  int            `json:"durationSeconds,omitempty"`
	Transition       TransitionKind `json:"transition"`
	TransitionMillis int            `json:"transitionMillis"`
}

type Playlist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Items       []PlaylistItem `json:"items"`
	Schedule    *Schedule      `json:"schedule,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (p Playlist) Clone() Playlist {
	p.Items = slices.Clone(p.Items)
	if p.Schedule != nil {
		s := p.Schedule.Clone()
		p.Schedule = &s
	}
	return p
}

// Priority is the schedule priority, Normal when unscheduled.
func (p Playlist) Priority() SchedulePriority {
	if p.Schedule == nil {
		return PriorityNormal
	}
	return p.Schedule.Priority
}

// IsActive reports whether the playlist should play at now. Dates, times
// and weekdays are evaluated in now's location.
func (p Playlist) IsActive(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.Schedule == nil {
		return true
	}
	return p.Schedule.Covers(now)
}

// Schedule restricts when a playlist plays. Zero values leave the
// corresponding dimension unrestricted; an empty ActiveDays means every
// day. A time range whose start is after its end wraps midnight.
type Schedule struct {
	StartDate  *time.Time       `json:"startDate,omitempty"`
	EndDate    *time.Time       `json:"endDate,omitempty"`
	StartTime  *TimeOfDay       `json:"startTime,omitempty"`
	EndTime    *TimeOfDay       `json:"endTime,omitempty"`
	ActiveDays Weekdays         `json:"activeDays,omitempty"`
	Priority   SchedulePriority `json:"priority"`
}

// Clone copies the schedule without sharing its dates, times or days.
func (s Schedule) Clone() Schedule {
	s.StartDate = clonePtr(s.StartDate)
	s.EndDate = clonePtr(s.EndDate)
	s.StartTime = clonePtr(s.StartTime)
	s.EndTime = clonePtr(s.EndTime)
	s.ActiveDays = slices.Clone(s.ActiveDays)
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s Schedule) Covers(now time.Time) bool {
	today := civilDate(now)
	if s.StartDate != nil && today < civilDate(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && today > civilDate(*s.EndDate) {
		return false
	}

	tod := TimeOfDayOf(now)
	switch {
	case s.StartTime != nil && s.EndTime != nil:
		start, end := *s.StartTime, *s.EndTime
		if start <= end {
			if tod < start || tod > end {
				return false
			}
		} else if tod < start && tod > end {
			return false
		}
	case s.StartTime != nil:
		if tod < *s.StartTime {
			return false
		}
	case s.EndTime != nil:
		if tod > *s.EndTime {
			return false
		}
	}

	if len(s.ActiveDays) > 0 && !slices.Contains(s.ActiveDays, now.Weekday()) {
		return false
	}
	return true
}

func civilDate(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// TimeOfDay is a wall-clock time measured from midnight. It marshals as
// "HH:MM" or "HH:MM:SS".
type TimeOfDay time.Duration

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("%w: time of day %q", ErrInvalidInput, s)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	if sec == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Weekdays marshals as day names and accepts names or 0-6 numbers.
type Weekdays []time.Weekday

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, len(w))
	for i, d := range w {
		names[i] = d.String()
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	days := make(Weekdays, 0, len(raw))
	for _, r := range raw {
		var n int
		if err := json.Unmarshal(r, &n); err == nil {
			if n < 0 || n > 6 {
				return fmt.Errorf("%w: weekday %d", ErrInvalidInput, n)
			}
			days = append(days, time.Weekday(n))
			continue
		}

		var name string
		if err := json.Unmarshal(r, &name); err != nil {
			return err
		}
		day, err := parseWeekday(name)
		if err != nil {
			return err
		}
		days = append(days, day)
	}

	*w = days
	return nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := d.String()
		if strings.EqualFold(name, full) || strings.EqualFold(name, full[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: weekday %q", ErrInvalidInput, name)
}
