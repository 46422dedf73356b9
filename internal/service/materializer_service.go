package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"habit-planner/internal/logger"
	"habit-planner/internal/model"
	"habit-planner/internal/repository"
	"habit-planner/internal/schedule"
)

// MaterializerService turns tracker occurrences into concrete tasks and
// retires the ones left behind by a period rollover. Every operation is an
// idempotent "ensure": it can run on each read request, on the cron sweep,
// and concurrently with itself without ever producing a duplicate task.
type MaterializerService struct {
	taskRepo    *repository.TaskRepository
	trackerRepo *repository.TrackerRepository
	log         *logger.Logger
}

func NewMaterializerService(taskRepo *repository.TaskRepository, trackerRepo *repository.TrackerRepository, log *logger.Logger) *MaterializerService {
	return &MaterializerService{taskRepo: taskRepo, trackerRepo: trackerRepo, log: log.With("service", "materializer")}
}

// TrackerError records one tracker's failure during a batch run.
type TrackerError struct {
	TrackerID uint
	Err       error
}

func (e TrackerError) Error() string {
	return fmt.Sprintf("tracker %d: %v", e.TrackerID, e.Err)
}

// GenerationReport summarizes one materialization run.
type GenerationReport struct {
	RunID    uuid.UUID
	Created  []model.Task
	Skipped  int
	Archived int
	Errors   []TrackerError
}

// GenerateRecurringTasks ensures every eligible tracker has exactly one
// non-archived task per occurrence in its current period, archiving stale
// leftovers first. One tracker's failure is recorded and does not stop the
// others.
func (s *MaterializerService) GenerateRecurringTasks(ctx context.Context, trackers []model.Tracker, now time.Time) GenerationReport {
	report := GenerationReport{RunID: uuid.New()}

	for i := range trackers {
		tracker := &trackers[i]
		if !tracker.IsActive || tracker.IsPaused || !tracker.GenerateTasks {
			continue
		}

		archived, err := s.ArchiveStaleTasks(ctx, tracker, now)
		if err != nil {
			report.Errors = append(report.Errors, TrackerError{TrackerID: tracker.ID, Err: err})
			continue
		}
		report.Archived += archived

		sched := schedule.FromTracker(tracker)
		for _, occ := range sched.OccurrencesInPeriod(now) {
			task, created, err := s.ensureTaskAt(ctx, tracker, occ)
			if err != nil {
				report.Errors = append(report.Errors, TrackerError{TrackerID: tracker.ID, Err: err})
				break
			}
			if created {
				report.Created = append(report.Created, *task)
			} else {
				report.Skipped++
			}
		}
	}

	s.log.Debug("materialization run finished",
		"run_id", report.RunID,
		"created", len(report.Created),
		"skipped", report.Skipped,
		"archived", report.Archived,
		"errors", len(report.Errors),
	)
	return report
}

// ArchiveStaleTasks archives the tracker's pending and in-progress tasks
// whose due date precedes the current period, and resets period progress if
// the last completion happened before the period started. Returns the
// number of tasks archived.
func (s *MaterializerService) ArchiveStaleTasks(ctx context.Context, tracker *model.Tracker, now time.Time) (int, error) {
	sched := schedule.FromTracker(tracker)
	periodStart, _ := sched.PeriodBounds(now)

	archived, err := s.taskRepo.ArchiveStale(ctx, tracker.ID, periodStart)
	if err != nil {
		return 0, err
	}

	// Period rollover: progress from a previous period does not carry over.
	if tracker.CurrentValue > 0 && (tracker.LastCompletedAt == nil || tracker.LastCompletedAt.Before(periodStart)) {
		if err := s.trackerRepo.UpdateFields(ctx, tracker.ID, map[string]interface{}{
			"current_value": 0,
			"period_start":  periodStart,
		}); err != nil {
			return archived, err
		}
		tracker.CurrentValue = 0
		tracker.PeriodStart = &periodStart
	}

	return archived, nil
}

// CreateAllScheduledTasks eagerly materializes every occurrence in the
// current period. Used once at tracker creation so multi-occurrence weekly
// and monthly trackers start fully populated.
func (s *MaterializerService) CreateAllScheduledTasks(ctx context.Context, tracker *model.Tracker, now time.Time) (int, error) {
	sched := schedule.FromTracker(tracker)
	created := 0
	for _, occ := range sched.OccurrencesInPeriod(now) {
		_, ok, err := s.ensureTaskAt(ctx, tracker, occ)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// CreateNextOccurrenceTask materializes the task for the first occurrence
// after the given instant. Called after a completion so the next step of
// the habit is already waiting.
func (s *MaterializerService) CreateNextOccurrenceTask(ctx context.Context, tracker *model.Tracker, after time.Time) (*model.Task, error) {
	if !tracker.IsActive || tracker.IsPaused || !tracker.GenerateTasks {
		return nil, nil
	}
	sched := schedule.FromTracker(tracker)
	next := sched.NextOccurrences(after, 1)
	if len(next) == 0 {
		return nil, nil
	}
	task, created, err := s.ensureTaskAt(ctx, tracker, next[0])
	if err != nil || !created {
		return nil, err
	}
	return task, nil
}

// ensureTaskAt creates the task for one occurrence unless one already
// exists. The pre-check keeps the common path quiet; the unique occurrence
// index makes the race between concurrent callers collapse into a
// duplicate error, which counts as "already exists".
func (s *MaterializerService) ensureTaskAt(ctx context.Context, tracker *model.Tracker, due time.Time) (*model.Task, bool, error) {
	existing, err := s.taskRepo.FindNearOccurrence(ctx, tracker.ID, due)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	task := buildOccurrenceTask(tracker, due)
	err = s.taskRepo.Create(ctx, task)
	switch {
	case err == nil:
		return task, true, nil
	case errors.Is(err, repository.ErrDuplicateOccurrence):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func buildOccurrenceTask(tracker *model.Tracker, due time.Time) *model.Task {
	dueAt := due
	trackerID := tracker.ID
	return &model.Task{
		UserID:      tracker.UserID,
		TrackerID:   &trackerID,
		CategoryID:  tracker.CategoryID,
		Title:       tracker.Title,
		Description: tracker.Description,
		DueDate:     &dueAt,
		Status:      string(model.TaskStatusPending),
		Urgency:     tracker.Urgency,
		Source:      model.TaskSourceTracker,
	}
}
