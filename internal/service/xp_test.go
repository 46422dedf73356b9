package service

import (
	"testing"

	"habit-planner/internal/model"
)

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{449, 3},
		{450, 4},
	}
	for _, c := range cases {
		if got := levelForXP(c.xp); got != c.want {
			t.Errorf("levelForXP(%d) = %d, want %d", c.xp, got, c.want)
		}
	}
}

func TestStreakMultiplierCapsAtDouble(t *testing.T) {
	if m := streakMultiplier(1); m != 1.1 {
		t.Errorf("streak 1: %v, want 1.1", m)
	}
	if m := streakMultiplier(10); m != 2.0 {
		t.Errorf("streak 10: %v, want 2.0", m)
	}
	if m := streakMultiplier(50); m != 2.0 {
		t.Errorf("streak 50: %v, want 2.0", m)
	}
}

func TestXPForCompletion(t *testing.T) {
	cases := []struct {
		freq   model.Frequency
		streak int
		want   int
	}{
		{model.FrequencyDaily, 1, 11},    // 10 * 1.1
		{model.FrequencyDaily, 5, 15},    // 10 * 1.5
		{model.FrequencyDaily, 20, 20},   // capped at 2x
		{model.FrequencyHourly, 1, 6},    // round(5 * 1.1)
		{model.FrequencyWeekly, 2, 60},   // 50 * 1.2
		{model.FrequencyMonthly, 1, 220}, // 200 * 1.1
	}
	for _, c := range cases {
		if got := xpForCompletion(c.freq, c.streak); got != c.want {
			t.Errorf("xpForCompletion(%s, %d) = %d, want %d", c.freq, c.streak, got, c.want)
		}
	}
}
