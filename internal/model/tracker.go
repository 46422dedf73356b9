package model

import (
	"strconv"
	"strings"
	"time"
)

// Frequency defines how often a tracker expects an occurrence.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Urgency is carried onto tasks generated from a tracker.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyCritical
)

// DefaultScheduledTime is used when a tracker has no explicit HH:MM.
const DefaultScheduledTime = "09:00"

// Tracker is a recurring goal: a schedule plus its running reward state.
type Tracker struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index"`
	Title       string
	Description string

	Frequency      string // hourly, daily, weekly, monthly
	ScheduledTime  string // HH:MM
	ScheduledDays  string // CSV of weekdays 0-6, weekly only
	ScheduledDates string // CSV of days of month 1-31, monthly only

	TargetValue int
	TargetUnit  string

	CurrentValue int
	PeriodStart  *time.Time

	TotalXP          int
	Level            int `gorm:"default:1"`
	CurrentStreak    int
	BestStreak       int
	LastCompletedAt  *time.Time
	LastOccurrenceAt *time.Time

	TotalCompletions  int
	TotalPeriods      int
	SuccessfulPeriods int

	IsActive      bool `gorm:"default:true"`
	IsPaused      bool `gorm:"default:false"`
	GenerateTasks bool `gorm:"default:true"`

	CategoryID *uint `gorm:"index"`
	Urgency    int

	CreatedAt time.Time
	UpdatedAt time.Time

	Tasks []Task `gorm:"foreignKey:TrackerID"`
}

// Freq returns the tracker frequency, falling back to daily when unset or unknown.
func (t *Tracker) Freq() Frequency {
	f := Frequency(t.Frequency)
	if !f.Valid() {
		return FrequencyDaily
	}
	return f
}

// ScheduledDayList parses the weekly day set; empty when unset.
func (t *Tracker) ScheduledDayList() []int {
	return parseIntCSV(t.ScheduledDays, 0, 6)
}

// ScheduledDateList parses the monthly date set; empty when unset.
func (t *Tracker) ScheduledDateList() []int {
	return parseIntCSV(t.ScheduledDates, 1, 31)
}

// IntCSV renders a day/date set back into its stored CSV form.
func IntCSV(values []int) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

func parseIntCSV(raw string, min, max int) []int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < min || v > max || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
