package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type ScheduleID string

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// TimeOfDay is a wall-clock time in the scheduler's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: hour must be 0-23", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: minute must be 0-59", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at t on the given calendar day in loc.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ScheduleDefinition is a durable rule for unattended backups. DayOfWeek is
// set only for weekly schedules and DayOfMonth only for monthly ones.
type ScheduleDefinition struct {
	ID         ScheduleID    `json:"id"`
	Name       string        `json:"name"`
	Frequency  Frequency     `json:"frequency"`
	TimeOfDay  TimeOfDay     `json:"time_of_day"`
	DayOfWeek  *time.Weekday `json:"day_of_week,omitempty"`
	DayOfMonth *int          `json:"day_of_month,omitempty"`
	Enabled    bool          `json:"enabled"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
	LastRunAt  *time.Time    `json:"last_run_at,omitempty"`
}

func (s ScheduleDefinition) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedule %s: name is required", s.ID)
	}

	switch s.Frequency {
	case FrequencyDaily:
		if s.DayOfWeek != nil || s.DayOfMonth != nil {
			return fmt.Errorf("schedule %s: daily schedules take no day", s.ID)
		}
	case FrequencyWeekly:
		if s.DayOfWeek == nil {
			return fmt.Errorf("schedule %s: weekly schedules require day_of_week", s.ID)
		}
		if s.DayOfMonth != nil {
			return fmt.Errorf("schedule %s: weekly schedules take no day_of_month", s.ID)
		}
		if *s.DayOfWeek < time.Sunday || *s.DayOfWeek > time.Saturday {
			return fmt.Errorf("schedule %s: day_of_week must be 0-6", s.ID)
		}
	case FrequencyMonthly:
		if s.DayOfMonth == nil {
			return fmt.Errorf("schedule %s: monthly schedules require day_of_month", s.ID)
		}
		if s.DayOfWeek != nil {
			return fmt.Errorf("schedule %s: monthly schedules take no day_of_week", s.ID)
		}
		if *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			return fmt.Errorf("schedule %s: day_of_month must be 1-31", s.ID)
		}
	default:
		return fmt.Errorf("schedule %s: unknown frequency %q", s.ID, s.Frequency)
	}

	if s.TimeOfDay.Hour < 0 || s.TimeOfDay.Hour > 23 || s.TimeOfDay.Minute < 0 || s.TimeOfDay.Minute > 59 {
		return fmt.Errorf("schedule %s: invalid time_of_day %s", s.ID, s.TimeOfDay)
	}
	return nil
}

func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("unknown day of week %q", s)
}
