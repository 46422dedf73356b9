package schedule

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"habit-planner/internal/model"
)

// Schedule is the resolved recurrence rule of a tracker. It is built once
// per tracker and dispatched by frequency, instead of re-branching on the
// frequency string inside every calendar helper.
//
// All methods are pure: the reference instant is always passed in, never
// read from the wall clock.
type Schedule struct {
	Frequency model.Frequency
	Hour      int
	Minute    int
	Weekdays  []time.Weekday // weekly only, sorted, non-empty
	MonthDays []int          // monthly only, sorted, non-empty
}

// FromTracker resolves a tracker's schedule fields into a Schedule,
// substituting defaults for anything missing or malformed. It never fails:
// an unusable schedule degrades to daily at 09:00.
func FromTracker(t *model.Tracker) Schedule {
	s := Schedule{Frequency: t.Freq()}
	s.Hour, s.Minute = parseClock(t.ScheduledTime)

	if s.Frequency == model.FrequencyWeekly {
		for _, d := range t.ScheduledDayList() {
			s.Weekdays = append(s.Weekdays, time.Weekday(d))
		}
		if len(s.Weekdays) == 0 {
			s.Weekdays = []time.Weekday{time.Sunday}
		}
		sort.Slice(s.Weekdays, func(i, j int) bool { return s.Weekdays[i] < s.Weekdays[j] })
	}

	if s.Frequency == model.FrequencyMonthly {
		s.MonthDays = t.ScheduledDateList()
		if len(s.MonthDays) == 0 {
			s.MonthDays = []int{1}
		}
		sort.Ints(s.MonthDays)
	}

	return s
}

// PeriodBounds returns the half-open window [start, end) of the period
// containing now: the hour, calendar day, Sunday-based week, or calendar
// month.
func (s Schedule) PeriodBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()

	switch s.Frequency {
	case model.FrequencyHourly:
		start := time.Date(y, m, d, now.Hour(), 0, 0, 0, loc)
		return start, start.Add(time.Hour)
	case model.FrequencyWeekly:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, -int(now.Weekday()))
		return start, start.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}

// OccurrencesInPeriod lists every scheduled instant inside the current
// period, ascending and deduplicated. It is never empty for a valid
// schedule: defaults guarantee at least one occurrence.
func (s Schedule) OccurrencesInPeriod(now time.Time) []time.Time {
	start, end := s.PeriodBounds(now)
	loc := now.Location()

	var occ []time.Time
	switch s.Frequency {
	case model.FrequencyHourly:
		occ = append(occ, time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), s.Minute, 0, 0, loc))
	case model.FrequencyWeekly:
		for _, wd := range s.Weekdays {
			day := start.AddDate(0, 0, int(wd))
			occ = append(occ, time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, loc))
		}
	case model.FrequencyMonthly:
		limit := daysInMonth(now.Month(), now.Year())
		for _, dom := range s.MonthDays {
			if dom > limit {
				continue
			}
			occ = append(occ, time.Date(now.Year(), now.Month(), dom, s.Hour, s.Minute, 0, 0, loc))
		}
		if len(occ) == 0 {
			// Every scheduled date overflows this month; fall back to its last day.
			occ = append(occ, time.Date(now.Year(), now.Month(), limit, s.Hour, s.Minute, 0, 0, loc))
		}
	default:
		occ = append(occ, time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, loc))
	}

	return clampSorted(occ, start, end)
}

// PreviousOccurrence finds the nearest scheduled instant strictly before
// the given one. The backward search is bounded: 14 days for weekly
// schedules, the previous calendar month for monthly. The second return is
// false when no prior occurrence exists within the bound — callers treat
// that as "first ever occurrence", not as an error.
func (s Schedule) PreviousOccurrence(before time.Time) (time.Time, bool) {
	loc := before.Location()

	switch s.Frequency {
	case model.FrequencyHourly:
		cand := time.Date(before.Year(), before.Month(), before.Day(), before.Hour(), s.Minute, 0, 0, loc)
		if !cand.Before(before) {
			cand = cand.Add(-time.Hour)
		}
		return cand, true

	case model.FrequencyWeekly:
		for back := 0; back <= 14; back++ {
			day := before.AddDate(0, 0, -back)
			if !s.onWeekday(day.Weekday()) {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, loc)
			if cand.Before(before) {
				return cand, true
			}
		}
		return time.Time{}, false

	case model.FrequencyMonthly:
		// Current month first, then the previous one (dates clamped away are skipped).
		months := []time.Time{before, before.AddDate(0, -1, 0)}
		for _, ref := range months {
			limit := daysInMonth(ref.Month(), ref.Year())
			for i := len(s.MonthDays) - 1; i >= 0; i-- {
				dom := s.MonthDays[i]
				if dom > limit {
					continue
				}
				cand := time.Date(ref.Year(), ref.Month(), dom, s.Hour, s.Minute, 0, 0, loc)
				if cand.Before(before) {
					return cand, true
				}
			}
		}
		return time.Time{}, false

	default:
		cand := time.Date(before.Year(), before.Month(), before.Day(), s.Hour, s.Minute, 0, 0, loc)
		if !cand.Before(before) {
			cand = cand.AddDate(0, 0, -1)
		}
		return cand, true
	}
}

// NextOccurrences lists the first n scheduled instants strictly after from.
// Unlike OccurrencesInPeriod it crosses period boundaries, so it is only
// suitable for lookahead display and next-task creation.
func (s Schedule) NextOccurrences(from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	loc := from.Location()
	var out []time.Time

	switch s.Frequency {
	case model.FrequencyHourly:
		cand := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.Minute, 0, 0, loc)
		for len(out) < n {
			if cand.After(from) {
				out = append(out, cand)
			}
			cand = cand.Add(time.Hour)
		}

	case model.FrequencyWeekly:
		for ahead := 0; len(out) < n; ahead++ {
			day := from.AddDate(0, 0, ahead)
			if !s.onWeekday(day.Weekday()) {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, loc)
			if cand.After(from) {
				out = append(out, cand)
			}
		}

	case model.FrequencyMonthly:
		ref := from
		for months := 0; len(out) < n && months < 24; months++ {
			limit := daysInMonth(ref.Month(), ref.Year())
			for _, dom := range s.MonthDays {
				if dom > limit || len(out) >= n {
					continue
				}
				cand := time.Date(ref.Year(), ref.Month(), dom, s.Hour, s.Minute, 0, 0, loc)
				if cand.After(from) {
					out = append(out, cand)
				}
			}
			ref = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
		}

	default:
		cand := time.Date(from.Year(), from.Month(), from.Day(), s.Hour, s.Minute, 0, 0, loc)
		for len(out) < n {
			if cand.After(from) {
				out = append(out, cand)
			}
			cand = cand.AddDate(0, 0, 1)
		}
	}

	return out
}

// ScheduledOn reports whether the schedule expects an occurrence on the
// given calendar day. Hourly and daily schedules run every day.
func (s Schedule) ScheduledOn(day time.Time) bool {
	switch s.Frequency {
	case model.FrequencyWeekly:
		return s.onWeekday(day.Weekday())
	case model.FrequencyMonthly:
		limit := daysInMonth(day.Month(), day.Year())
		for _, dom := range s.MonthDays {
			if dom > limit {
				dom = limit
			}
			if dom == day.Day() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (s Schedule) onWeekday(wd time.Weekday) bool {
	for _, d := range s.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

func clampSorted(occ []time.Time, start, end time.Time) []time.Time {
	sort.Slice(occ, func(i, j int) bool { return occ[i].Before(occ[j]) })
	out := make([]time.Time, 0, len(occ))
	for _, t := range occ {
		if t.Before(start) || !t.Before(end) {
			continue
		}
		if len(out) > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// parseClock parses "HH:MM", falling back to the default 09:00 on any
// malformed input.
func parseClock(raw string) (int, int) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return parseClock(model.DefaultScheduledTime)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 9, 0
	}
	return hour, minute
}

// daysInMonth: move to next month, roll back a day.
func daysInMonth(month time.Month, year int) int {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfMonth.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return lastOfMonth.Day()
}
