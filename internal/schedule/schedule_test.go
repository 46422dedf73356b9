package schedule

import (
	"testing"
	"time"

	"habit-planner/internal/model"
)

// Wednesday, 2025-06-11.
var wednesday = time.Date(2025, time.June, 11, 15, 42, 10, 0, time.UTC)

func tracker(freq model.Frequency) *model.Tracker {
	return &model.Tracker{Frequency: string(freq), ScheduledTime: "09:00"}
}

func TestPeriodBounds_Weekly(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyWeekly))
	start, end := s.PeriodBounds(wednesday)

	wantStart := time.Date(2025, time.June, 8, 0, 0, 0, 0, time.UTC) // preceding Sunday
	wantEnd := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", end, wantEnd)
	}
}

func TestPeriodBounds_Daily(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyDaily))
	start, end := s.PeriodBounds(wednesday)
	if !start.Equal(time.Date(2025, time.June, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("unexpected window %v", end.Sub(start))
	}
}

func TestPeriodBounds_Hourly(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyHourly))
	start, end := s.PeriodBounds(wednesday)
	if !start.Equal(time.Date(2025, time.June, 11, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if end.Sub(start) != time.Hour {
		t.Fatalf("unexpected window %v", end.Sub(start))
	}
}

func TestPeriodBounds_Monthly(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyMonthly))
	start, end := s.PeriodBounds(wednesday)
	if !start.Equal(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", end)
	}
}

func TestPeriodBounds_UnknownFrequencyFallsBackToDaily(t *testing.T) {
	s := FromTracker(&model.Tracker{Frequency: "fortnightly"})
	start, end := s.PeriodBounds(wednesday)
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("expected daily fallback, got window %v", end.Sub(start))
	}
}

func TestOccurrencesInPeriod_WeeklyMonWedFri(t *testing.T) {
	tr := tracker(model.FrequencyWeekly)
	tr.ScheduledDays = "1,3,5"
	s := FromTracker(tr)

	// Evaluated on a Tuesday: Monday is already past but still in-period.
	tuesday := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	occ := s.OccurrencesInPeriod(tuesday)
	if len(occ) != 3 {
		t.Fatalf("got %d occurrences, want 3: %v", len(occ), occ)
	}
	want := []time.Time{
		time.Date(2025, time.June, 9, 9, 0, 0, 0, time.UTC),  // Monday
		time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC), // Wednesday
		time.Date(2025, time.June, 13, 9, 0, 0, 0, time.UTC), // Friday
	}
	for i := range want {
		if !occ[i].Equal(want[i]) {
			t.Fatalf("occ[%d] = %v, want %v", i, occ[i], want[i])
		}
	}
}

func TestOccurrencesInPeriod_WeeklyDefaultsToSunday(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyWeekly))
	occ := s.OccurrencesInPeriod(wednesday)
	if len(occ) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occ))
	}
	if occ[0].Weekday() != time.Sunday {
		t.Fatalf("default weekly occurrence on %v, want Sunday", occ[0].Weekday())
	}
}

func TestOccurrencesInPeriod_MonthlySkipsOverflowDates(t *testing.T) {
	tr := tracker(model.FrequencyMonthly)
	tr.ScheduledDates = "15,31"
	s := FromTracker(tr)

	june := time.Date(2025, time.June, 20, 8, 0, 0, 0, time.UTC) // June has 30 days
	occ := s.OccurrencesInPeriod(june)
	if len(occ) != 1 {
		t.Fatalf("got %d occurrences, want 1: %v", len(occ), occ)
	}
	if occ[0].Day() != 15 {
		t.Fatalf("occurrence on day %d, want 15", occ[0].Day())
	}
}

func TestOccurrencesInPeriod_Hourly(t *testing.T) {
	tr := tracker(model.FrequencyHourly)
	tr.ScheduledTime = "09:30"
	s := FromTracker(tr)

	occ := s.OccurrencesInPeriod(wednesday)
	if len(occ) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occ))
	}
	if occ[0].Hour() != 15 || occ[0].Minute() != 30 {
		t.Fatalf("occurrence at %v, want 15:30", occ[0])
	}
}

func TestOccurrencesInPeriod_NeverEmpty(t *testing.T) {
	for _, freq := range []model.Frequency{model.FrequencyHourly, model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly} {
		s := FromTracker(&model.Tracker{Frequency: string(freq)})
		if len(s.OccurrencesInPeriod(wednesday)) == 0 {
			t.Fatalf("%s: empty occurrence set", freq)
		}
	}
}

func TestPreviousOccurrence_Daily(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyDaily))

	// After today's 09:00 the previous occurrence is today's.
	prev, ok := s.PreviousOccurrence(wednesday)
	if !ok {
		t.Fatal("expected a previous occurrence")
	}
	if !prev.Equal(time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("prev = %v", prev)
	}

	// Before today's 09:00 it is yesterday's.
	prev, ok = s.PreviousOccurrence(time.Date(2025, time.June, 11, 8, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("expected a previous occurrence")
	}
	if !prev.Equal(time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("prev = %v", prev)
	}
}

func TestPreviousOccurrence_WeeklySkipsOffDays(t *testing.T) {
	tr := tracker(model.FrequencyWeekly)
	tr.ScheduledDays = "1" // Mondays only
	s := FromTracker(tr)

	prev, ok := s.PreviousOccurrence(wednesday)
	if !ok {
		t.Fatal("expected a previous occurrence")
	}
	if !prev.Equal(time.Date(2025, time.June, 9, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("prev = %v, want Monday June 9", prev)
	}
}

func TestPreviousOccurrence_MonthlyReachesPreviousMonth(t *testing.T) {
	tr := tracker(model.FrequencyMonthly)
	tr.ScheduledDates = "20"
	s := FromTracker(tr)

	prev, ok := s.PreviousOccurrence(wednesday) // June 11, before June 20
	if !ok {
		t.Fatal("expected a previous occurrence")
	}
	if !prev.Equal(time.Date(2025, time.May, 20, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("prev = %v, want May 20", prev)
	}
}

func TestNextOccurrences_CrossesPeriods(t *testing.T) {
	s := FromTracker(tracker(model.FrequencyDaily))
	next := s.NextOccurrences(wednesday, 3)
	if len(next) != 3 {
		t.Fatalf("got %d, want 3", len(next))
	}
	for i, n := range next {
		want := time.Date(2025, time.June, 12+i, 9, 0, 0, 0, time.UTC)
		if !n.Equal(want) {
			t.Fatalf("next[%d] = %v, want %v", i, n, want)
		}
	}
}

func TestNextOccurrences_WeeklyOrder(t *testing.T) {
	tr := tracker(model.FrequencyWeekly)
	tr.ScheduledDays = "1,5"
	s := FromTracker(tr)

	next := s.NextOccurrences(wednesday, 2)
	if len(next) != 2 {
		t.Fatalf("got %d, want 2", len(next))
	}
	if next[0].Weekday() != time.Friday || next[1].Weekday() != time.Monday {
		t.Fatalf("unexpected order: %v", next)
	}
}

func TestScheduledOn(t *testing.T) {
	tr := tracker(model.FrequencyWeekly)
	tr.ScheduledDays = "3" // Wednesday
	s := FromTracker(tr)

	if !s.ScheduledOn(wednesday) {
		t.Fatal("Wednesday should be scheduled")
	}
	if s.ScheduledOn(wednesday.AddDate(0, 0, 1)) {
		t.Fatal("Thursday should not be scheduled")
	}
}

func TestFromTracker_MalformedTimeDefaults(t *testing.T) {
	tr := tracker(model.FrequencyDaily)
	tr.ScheduledTime = "25:99"
	s := FromTracker(tr)
	if s.Hour != 9 || s.Minute != 0 {
		t.Fatalf("got %02d:%02d, want 09:00", s.Hour, s.Minute)
	}
}
