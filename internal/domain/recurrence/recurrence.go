// Package recurrence computes when a recurring schedule fires.
//
// Firing instants lie on a grid anchored at the schedule's start date:
// occurrence k is StartDate advanced by k×Interval units. Monthly and yearly
// steps are always taken from the start date, so a schedule starting on the
// 31st fires on the last day of shorter months and returns to the 31st
// afterwards. Time of day and, for weekly schedules, weekday are preserved.
//
// All functions are pure and never mutate the schedule.
package recurrence

import (
	"time"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
)

// Next returns the first firing instant strictly after after, or nil when the
// schedule has no further occurrence: the candidate falls after EndDate (whole
// days, inclusive) or OccurrencesGenerated+1 would exceed MaxOccurrences.
func Next(s *entity.RecurringSchedule, after time.Time) *time.Time {
	if s.MaxOccurrences != nil && s.OccurrencesGenerated+1 > *s.MaxOccurrences {
		return nil
	}

	candidate := nextOnGrid(s, after)
	if s.EndDate != nil && pastEndDate(candidate, *s.EndDate) {
		return nil
	}
	return &candidate
}

// First returns the first run of a new schedule: its start date, or nil if
// the schedule can never fire
func First(s *entity.RecurringSchedule) *time.Time {
	return Next(s, s.StartDate.Add(-time.Nanosecond))
}

// Upcoming returns the earliest instant not yet generated. Resuming a paused
// schedule uses it, so at most one missed run fires on resume.
func Upcoming(s *entity.RecurringSchedule) *time.Time {
	if s.LastRunAt == nil {
		return First(s)
	}
	return Next(s, *s.LastRunAt)
}

// Preview lists up to n future run instants starting at NextRunAt, never more
// than the schedule has occurrences left
func Preview(s *entity.RecurringSchedule, n int) []time.Time {
	if left := s.RemainingOccurrences(); left >= 0 && n > left {
		n = left
	}
	if s.NextRunAt == nil || n <= 0 {
		return nil
	}

	sim := *s
	runs := []time.Time{*s.NextRunAt}
	for len(runs) < n {
		sim.OccurrencesGenerated++
		next := Next(&sim, runs[len(runs)-1])
		if next == nil {
			break
		}
		runs = append(runs, *next)
	}
	return runs
}

func nextOnGrid(s *entity.RecurringSchedule, after time.Time) time.Time {
	start := s.StartDate
	if after.Before(start) {
		return start
	}

	interval := s.Interval
	if interval < 1 {
		interval = 1
	}

	k := elapsedUnits(s.Frequency, start, after) / interval
	if k < 0 {
		k = 0
	}
	for !occurrence(s.Frequency, start, k*interval).After(after) {
		k++
	}
	for k > 0 && occurrence(s.Frequency, start, (k-1)*interval).After(after) {
		k--
	}
	return occurrence(s.Frequency, start, k*interval)
}

// elapsedUnits is a lower-bound estimate of whole frequency units between
// start and t
func elapsedUnits(freq entity.Frequency, start, t time.Time) int {
	switch freq {
	case entity.FrequencyDaily:
		return int(t.Sub(start).Hours() / 24)
	case entity.FrequencyWeekly:
		return int(t.Sub(start).Hours() / (24 * 7))
	case entity.FrequencyMonthly:
		return (t.Year()-start.Year())*12 + int(t.Month()) - int(start.Month())
	case entity.FrequencyYearly:
		return t.Year() - start.Year()
	}
	return 0
}

func occurrence(freq entity.Frequency, start time.Time, units int) time.Time {
	switch freq {
	case entity.FrequencyWeekly:
		return start.AddDate(0, 0, 7*units)
	case entity.FrequencyMonthly:
		return addMonthsClamped(start, units)
	case entity.FrequencyYearly:
		return addMonthsClamped(start, 12*units)
	default:
		return start.AddDate(0, 0, units)
	}
}

// addMonthsClamped adds months to t, clamping the day to the end of the
// target month instead of overflowing into the next one
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	idx := int(month) - 1 + months
	targetYear := year + idx/12
	targetMonth := time.Month(idx%12 + 1)

	if last := daysIn(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func pastEndDate(candidate, end time.Time) bool {
	cy, cm, cd := candidate.Date()
	ey, em, ed := end.Date()
	return time.Date(cy, cm, cd, 0, 0, 0, 0, time.UTC).After(time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC))
}
