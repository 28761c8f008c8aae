package usecase

import (
	"time"

	"github.com/semmidev/strongbox/internal/domain"
)

// MinRunInterval suppresses a second run of the same schedule within an hour
// of the last one.
const MinRunInterval = time.Hour

// Evaluator computes when schedules fire. All wall-clock arithmetic happens
// in its location.
type Evaluator struct {
	loc *time.Location
}

func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{loc: loc}
}

// NextRunTime returns the first occurrence of s strictly after ref. Monthly
// schedules whose day does not exist in a month run on that month's last day.
func (e *Evaluator) NextRunTime(s domain.ScheduleDefinition, ref time.Time) time.Time {
	ref = ref.In(e.loc)
	y, m, d := ref.Date()
	at := s.TimeOfDay

	switch s.Frequency {
	case domain.FrequencyWeekly:
		ahead := (int(*s.DayOfWeek) - int(ref.Weekday()) + 7) % 7
		next := at.On(y, m, d+ahead, e.loc)
		if !next.After(ref) {
			next = at.On(y, m, d+ahead+7, e.loc)
		}
		return next

	case domain.FrequencyMonthly:
		next := e.monthly(s, y, m)
		if !next.After(ref) {
			following := time.Date(y, m+1, 1, 0, 0, 0, 0, e.loc)
			next = e.monthly(s, following.Year(), following.Month())
		}
		return next

	default:
		next := at.On(y, m, d, e.loc)
		if !next.After(ref) {
			next = at.On(y, m, d+1, e.loc)
		}
		return next
	}
}

func (e *Evaluator) monthly(s domain.ScheduleDefinition, y int, m time.Month) time.Time {
	day := *s.DayOfMonth
	if last := daysIn(y, m, e.loc); day > last {
		day = last
	}
	return s.TimeOfDay.On(y, m, day, e.loc)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// IsDue reports whether s should run at now. The next run is computed from
// the last run, or from creation for a schedule that never ran, so any
// number of missed occurrences collapses into one due evaluation. It stays
// true until the run is recorded.
func (e *Evaluator) IsDue(s domain.ScheduleDefinition, now time.Time) bool {
	anchor := s.CreatedAt
	if s.LastRunAt != nil {
		anchor = *s.LastRunAt
		if now.Sub(anchor) <= MinRunInterval {
			return false
		}
	}
	return !now.Before(e.NextRunTime(s, anchor))
}
