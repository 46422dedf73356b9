package service

import (
	"math"

	"habit-planner/internal/model"
)

// Base XP awarded per completed occurrence, before the streak multiplier.
// Rarer occurrences are worth more.
var baseXP = map[model.Frequency]int{
	model.FrequencyHourly:  5,
	model.FrequencyDaily:   10,
	model.FrequencyWeekly:  50,
	model.FrequencyMonthly: 200,
}

// streakMultiplier grows 10% per streak step and caps at 2x.
func streakMultiplier(streak int) float64 {
	m := 1 + 0.1*float64(streak)
	if m > 2 {
		return 2
	}
	return m
}

// xpForCompletion computes the rounded XP award for one completed
// occurrence at the given streak.
func xpForCompletion(freq model.Frequency, streak int) int {
	base, ok := baseXP[freq]
	if !ok {
		base = baseXP[model.FrequencyDaily]
	}
	return int(math.Round(float64(base) * streakMultiplier(streak)))
}

// levelForXP maps total XP to a level. Level 1 spans 0-99 XP; each level
// after that needs 50 XP more than the previous one to clear (100, 150,
// 200, ...), so level 2 spans 100-249, level 3 starts at 250.
func levelForXP(xp int) int {
	level := 1
	step := 100
	next := step
	for xp >= next {
		level++
		step += 50
		next += step
	}
	return level
}
