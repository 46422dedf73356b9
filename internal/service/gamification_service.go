package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"habit-planner/internal/logger"
	"habit-planner/internal/model"
	"habit-planner/internal/repository"
	"habit-planner/internal/schedule"
)

// GamificationService is the reward state machine of a tracker. Completing
// an occurrence awards XP with a streak multiplier, advances the level, and
// extends or resets the streak; reversing a completion only undoes the
// completion counters, never the reward. All reward fields of one tracker
// are read and written under a per-tracker lock and persisted in a single
// update, so racing completions cannot interleave.
type GamificationService struct {
	taskRepo     *repository.TaskRepository
	trackerRepo  *repository.TrackerRepository
	materializer *MaterializerService
	log          *logger.Logger
	locks        trackerLocks
}

func NewGamificationService(taskRepo *repository.TaskRepository, trackerRepo *repository.TrackerRepository, materializer *MaterializerService, log *logger.Logger) *GamificationService {
	return &GamificationService{
		taskRepo:     taskRepo,
		trackerRepo:  trackerRepo,
		materializer: materializer,
		log:          log.With("service", "gamification"),
	}
}

// CompletionResult describes what a completion earned.
type CompletionResult struct {
	XPEarned     int
	TotalXP      int
	Level        int
	LeveledUp    bool
	Streak       int
	BestStreak   int
	StreakBroken bool
	NextTask     *model.Task
}

// ReversalResult describes the state after a completion was taken back.
type ReversalResult struct {
	TotalCompletions  int
	SuccessfulPeriods int
}

// CompleteOccurrence registers the completion of a tracker task. The task's
// status flips to completed first; if a guard then rejects the completion
// (wrong day, or the single-target occurrence was already done), the status
// is rolled back and the rejection is returned to the caller.
func (s *GamificationService) CompleteOccurrence(ctx context.Context, task *model.Task, now time.Time) (*CompletionResult, error) {
	if task.TrackerID == nil {
		return nil, fmt.Errorf("task %d is not bound to a tracker", task.ID)
	}

	unlock := s.locks.lock(*task.TrackerID)
	defer unlock()

	tracker, err := s.trackerRepo.FindByID(ctx, task.UserID, *task.TrackerID)
	if err != nil {
		return nil, fmt.Errorf("load tracker: %w", err)
	}

	prevStatus := model.TaskStatus(task.Status)
	prevCompletedAt := task.CompletedAt
	if err := s.taskRepo.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, &now); err != nil {
		return nil, err
	}

	occurrence := now
	if task.DueDate != nil {
		occurrence = *task.DueDate
	}

	sched := schedule.FromTracker(tracker)
	if guardErr := s.checkCompletionGuards(tracker, sched, occurrence, now); guardErr != nil {
		if rbErr := s.taskRepo.UpdateStatus(ctx, task.ID, prevStatus, prevCompletedAt); rbErr != nil {
			return nil, fmt.Errorf("roll back task status after %v: %w", guardErr, rbErr)
		}
		return nil, guardErr
	}

	kept, err := s.previousOccurrenceKept(ctx, tracker, sched, occurrence)
	if err != nil {
		if rbErr := s.taskRepo.UpdateStatus(ctx, task.ID, prevStatus, prevCompletedAt); rbErr != nil {
			return nil, fmt.Errorf("roll back task status after %v: %w", err, rbErr)
		}
		return nil, err
	}

	newStreak := 1
	if kept {
		newStreak = tracker.CurrentStreak + 1
	}
	bestStreak := tracker.BestStreak
	if newStreak > bestStreak {
		bestStreak = newStreak
	}

	earned := xpForCompletion(tracker.Freq(), newStreak)
	totalXP := tracker.TotalXP + earned
	newLevel := levelForXP(totalXP)

	err = s.trackerRepo.UpdateFields(ctx, tracker.ID, map[string]interface{}{
		"current_value":      tracker.CurrentValue + 1,
		"total_xp":           totalXP,
		"level":              newLevel,
		"current_streak":     newStreak,
		"best_streak":        bestStreak,
		"last_completed_at":  now,
		"last_occurrence_at": occurrence,
		"total_completions":  tracker.TotalCompletions + 1,
		"total_periods":      tracker.TotalPeriods + 1,
		"successful_periods": tracker.SuccessfulPeriods + 1,
	})
	if err != nil {
		if rbErr := s.taskRepo.UpdateStatus(ctx, task.ID, prevStatus, prevCompletedAt); rbErr != nil {
			return nil, fmt.Errorf("roll back task status after %v: %w", err, rbErr)
		}
		return nil, err
	}

	result := &CompletionResult{
		XPEarned:     earned,
		TotalXP:      totalXP,
		Level:        newLevel,
		LeveledUp:    newLevel > tracker.Level,
		Streak:       newStreak,
		BestStreak:   bestStreak,
		StreakBroken: !kept,
	}

	// Keep the habit loop going: materialize the next occurrence's task.
	// The completion itself is already committed, so a failure here is
	// logged and repaired by the next materialization sweep.
	next, err := s.materializer.CreateNextOccurrenceTask(ctx, tracker, occurrence)
	if err != nil {
		s.log.Warn("next occurrence task not created", "tracker_id", tracker.ID, "err", err)
	} else {
		result.NextTask = next
	}

	task.Status = string(model.TaskStatusCompleted)
	task.CompletedAt = &now
	return result, nil
}

// UncompleteOccurrence takes back the most recent completion of a tracker
// task. Only the completion counters are reverted; XP, level and streak
// stay as earned. The asymmetry is intentional: taking a completion back
// corrects the record without clawing back the reward.
func (s *GamificationService) UncompleteOccurrence(ctx context.Context, task *model.Task) (*ReversalResult, error) {
	if task.TrackerID == nil {
		return nil, fmt.Errorf("task %d is not bound to a tracker", task.ID)
	}

	unlock := s.locks.lock(*task.TrackerID)
	defer unlock()

	tracker, err := s.trackerRepo.FindByID(ctx, task.UserID, *task.TrackerID)
	if err != nil {
		return nil, fmt.Errorf("load tracker: %w", err)
	}

	if err := s.taskRepo.UpdateStatus(ctx, task.ID, model.TaskStatusPending, nil); err != nil {
		return nil, err
	}

	completions := tracker.TotalCompletions - 1
	if completions < 0 {
		completions = 0
	}
	successful := tracker.SuccessfulPeriods - 1
	if successful < 0 {
		successful = 0
	}
	currentValue := tracker.CurrentValue - 1
	if currentValue < 0 {
		currentValue = 0
	}

	// Clearing last_completed_at lets the occurrence be completed again;
	// last_occurrence_at stays so streak continuity still sees the attempt.
	err = s.trackerRepo.UpdateFields(ctx, tracker.ID, map[string]interface{}{
		"total_completions":  completions,
		"successful_periods": successful,
		"current_value":      currentValue,
		"last_completed_at":  nil,
	})
	if err != nil {
		if rbErr := s.taskRepo.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, task.CompletedAt); rbErr != nil {
			return nil, fmt.Errorf("roll back task status after %v: %w", err, rbErr)
		}
		return nil, err
	}

	task.Status = string(model.TaskStatusPending)
	task.CompletedAt = nil
	return &ReversalResult{TotalCompletions: completions, SuccessfulPeriods: successful}, nil
}

// checkCompletionGuards rejects completions that should not count: the
// schedule must include today, and a single-target occurrence must not be
// completed twice.
func (s *GamificationService) checkCompletionGuards(tracker *model.Tracker, sched schedule.Schedule, occurrence, now time.Time) error {
	if !sched.ScheduledOn(now) {
		return ErrNotScheduledToday
	}

	if tracker.TargetValue <= 1 && tracker.LastCompletedAt != nil && tracker.LastOccurrenceAt != nil {
		if within(*tracker.LastOccurrenceAt, occurrence, repository.OccurrenceTolerance) {
			return ErrAlreadyCompleted
		}
	}
	return nil
}

// previousOccurrenceKept decides whether the streak survives: the previous
// scheduled occurrence counts as kept when a completed task exists at that
// instant or the tracker already recorded it. A tracker completing for the
// first time ever has no occurrence to have missed, so its streak always
// starts cleanly — daily and hourly schedules would otherwise report a
// phantom previous occurrence for brand-new trackers.
func (s *GamificationService) previousOccurrenceKept(ctx context.Context, tracker *model.Tracker, sched schedule.Schedule, occurrence time.Time) (bool, error) {
	if tracker.TotalCompletions == 0 && tracker.LastOccurrenceAt == nil {
		return true, nil
	}

	prev, ok := sched.PreviousOccurrence(occurrence)
	if !ok {
		return true, nil
	}

	if tracker.LastOccurrenceAt != nil && within(*tracker.LastOccurrenceAt, prev, repository.OccurrenceTolerance) {
		return true, nil
	}

	done, err := s.taskRepo.CompletedNearOccurrence(ctx, tracker.ID, prev)
	if err != nil {
		return false, err
	}
	return done, nil
}

func within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// trackerLocks hands out one mutex per tracker id, serializing the
// read-modify-write of correlated reward fields. Entries are kept for the
// life of the process: a mutex is a few words and the tracker population
// per deployment is small, so no eviction is done.
type trackerLocks struct {
	mu sync.Mutex
	m  map[uint]*sync.Mutex
}

func (t *trackerLocks) lock(id uint) func() {
	t.mu.Lock()
	if t.m == nil {
		t.m = make(map[uint]*sync.Mutex)
	}
	l, ok := t.m[id]
	if !ok {
		l = &sync.Mutex{}
		t.m[id] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}
