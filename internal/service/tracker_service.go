package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"habit-planner/internal/logger"
	"habit-planner/internal/model"
	"habit-planner/internal/repository"
)

// TrackerInput represents data required to create a tracker.
type TrackerInput struct {
	Title          string
	Description    string
	Category       string
	Frequency      model.Frequency
	ScheduledTime  string
	ScheduledDays  []int // weekly
	ScheduledDates []int // monthly
	TargetValue    int
	TargetUnit     string
	Urgency        model.Urgency
	GenerateTasks  bool
}

// TrackerService wraps tracker lifecycle and the lazy materialization that
// runs in front of every read.
type TrackerService struct {
	trackerRepo  *repository.TrackerRepository
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	materializer *MaterializerService
	gamification *GamificationService
	log          *logger.Logger
}

func NewTrackerService(
	trackerRepo *repository.TrackerRepository,
	taskRepo *repository.TaskRepository,
	categoryRepo *repository.CategoryRepository,
	materializer *MaterializerService,
	gamification *GamificationService,
	log *logger.Logger,
) *TrackerService {
	return &TrackerService{
		trackerRepo:  trackerRepo,
		taskRepo:     taskRepo,
		categoryRepo: categoryRepo,
		materializer: materializer,
		gamification: gamification,
		log:          log.With("service", "tracker"),
	}
}

// CreateTracker validates the input, fills schedule defaults, stores the
// tracker and eagerly materializes every occurrence of the current period.
func (s *TrackerService) CreateTracker(ctx context.Context, user *model.User, input TrackerInput, now time.Time) (*model.Tracker, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	freq := input.Frequency
	if !freq.Valid() {
		freq = model.FrequencyDaily
	}

	scheduledTime, err := normalizeClock(input.ScheduledTime)
	if err != nil {
		return nil, err
	}

	target := input.TargetValue
	if target < 1 {
		target = 1
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	periodStart := now
	tracker := model.Tracker{
		UserID:         user.ID,
		Title:          strings.TrimSpace(input.Title),
		Description:    input.Description,
		Frequency:      string(freq),
		ScheduledTime:  scheduledTime,
		ScheduledDays:  model.IntCSV(sanitizeRange(input.ScheduledDays, 0, 6)),
		ScheduledDates: model.IntCSV(sanitizeRange(input.ScheduledDates, 1, 31)),
		TargetValue:    target,
		TargetUnit:     input.TargetUnit,
		PeriodStart:    &periodStart,
		Level:          1,
		IsActive:       true,
		GenerateTasks:  input.GenerateTasks,
		CategoryID:     categoryID,
		Urgency:        int(input.Urgency),
	}

	if err := s.trackerRepo.Create(ctx, &tracker); err != nil {
		return nil, err
	}

	if tracker.GenerateTasks {
		if _, err := s.materializer.CreateAllScheduledTasks(ctx, &tracker, now); err != nil {
			s.log.Warn("initial materialization failed", "tracker_id", tracker.ID, "err", err)
		}
	}

	return &tracker, nil
}

// ListTrackers materializes any missing occurrence tasks for the user, then
// returns the user's active trackers.
func (s *TrackerService) ListTrackers(ctx context.Context, user *model.User, now time.Time) ([]model.Tracker, error) {
	s.materializeForUser(ctx, user.ID, now)
	return s.trackerRepo.ListByUser(ctx, user.ID)
}

// ListTasks materializes any missing occurrence tasks, then returns the
// user's open tasks.
func (s *TrackerService) ListTasks(ctx context.Context, user *model.User, now time.Time) ([]model.Task, error) {
	s.materializeForUser(ctx, user.ID, now)
	return s.taskRepo.ListOpenForUser(ctx, user.ID)
}

// GetTracker loads one tracker owned by the user.
func (s *TrackerService) GetTracker(ctx context.Context, user *model.User, trackerID uint) (*model.Tracker, error) {
	return s.trackerRepo.FindByID(ctx, user.ID, trackerID)
}

// CompleteTask marks a task done. Tracker-bound tasks go through the
// gamification engine; plain tasks just flip status. The result is nil for
// plain tasks.
func (s *TrackerService) CompleteTask(ctx context.Context, user *model.User, taskID uint, now time.Time) (*model.Task, *CompletionResult, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, nil, err
	}

	if task.TrackerID == nil {
		if err := s.taskRepo.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, &now); err != nil {
			return nil, nil, err
		}
		task.Status = string(model.TaskStatusCompleted)
		task.CompletedAt = &now
		return task, nil, nil
	}

	result, err := s.gamification.CompleteOccurrence(ctx, task, now)
	if err != nil {
		return nil, nil, err
	}
	return task, result, nil
}

// UncompleteTask reverses a completion.
func (s *TrackerService) UncompleteTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, *ReversalResult, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, nil, err
	}

	if task.TrackerID == nil {
		if err := s.taskRepo.UpdateStatus(ctx, task.ID, model.TaskStatusPending, nil); err != nil {
			return nil, nil, err
		}
		task.Status = string(model.TaskStatusPending)
		task.CompletedAt = nil
		return task, nil, nil
	}

	result, err := s.gamification.UncompleteOccurrence(ctx, task)
	if err != nil {
		return nil, nil, err
	}
	return task, result, nil
}

// PauseTracker suspends occurrence generation without losing reward state.
func (s *TrackerService) PauseTracker(ctx context.Context, user *model.User, trackerID uint) error {
	return s.trackerRepo.SetPaused(ctx, user.ID, trackerID, true)
}

// ResumeTracker re-enables a paused tracker.
func (s *TrackerService) ResumeTracker(ctx context.Context, user *model.User, trackerID uint) error {
	return s.trackerRepo.SetPaused(ctx, user.ID, trackerID, false)
}

// DeactivateTracker retires a tracker. Its tasks are detached, not deleted.
func (s *TrackerService) DeactivateTracker(ctx context.Context, user *model.User, trackerID uint) error {
	return s.trackerRepo.Deactivate(ctx, user.ID, trackerID)
}

// MaterializeAll runs one generation sweep across every eligible tracker of
// every user. This is the cron entry point.
func (s *TrackerService) MaterializeAll(ctx context.Context, now time.Time) GenerationReport {
	trackers, err := s.trackerRepo.ListForGeneration(ctx, nil)
	if err != nil {
		s.log.Error("sweep: list trackers", "err", err)
		return GenerationReport{}
	}
	report := s.materializer.GenerateRecurringTasks(ctx, trackers, now)
	for _, te := range report.Errors {
		s.log.Error("sweep: tracker failed", "tracker_id", te.TrackerID, "err", te.Err)
	}
	return report
}

// materializeForUser is the lazy generation pass before a read. Failures
// are logged and never block the read itself.
func (s *TrackerService) materializeForUser(ctx context.Context, userID uint, now time.Time) {
	trackers, err := s.trackerRepo.ListForGeneration(ctx, &userID)
	if err != nil {
		s.log.Error("lazy generation: list trackers", "user_id", userID, "err", err)
		return
	}
	report := s.materializer.GenerateRecurringTasks(ctx, trackers, now)
	for _, te := range report.Errors {
		s.log.Error("lazy generation: tracker failed", "tracker_id", te.TrackerID, "err", te.Err)
	}
}

// normalizeClock validates an explicit HH:MM string. Empty input falls back
// to the default; anything present but malformed is a configuration error.
func normalizeClock(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.DefaultScheduledTime, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: time %q, expected HH:MM", ErrScheduleInvalid, raw)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("%w: time %q, expected HH:MM", ErrScheduleInvalid, raw)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func sanitizeRange(values []int, min, max int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, v := range values {
		if v < min || v > max || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
