package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"habit-planner/internal/model"
)

// ErrDuplicateOccurrence is returned when a tracker task for the same
// occurrence bucket already exists. The unique index makes the
// check-then-create race collapse into this error, which callers treat as
// "already materialized, skip".
var ErrDuplicateOccurrence = errors.New("task for this occurrence already exists")

// OccurrenceTolerance absorbs clock-granularity drift when matching a task
// against an occurrence instant.
const OccurrenceTolerance = 60 * time.Second

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a task. Tracker-bound tasks get their occurrence bucket
// derived from the due date before insert; a unique-index conflict surfaces
// as ErrDuplicateOccurrence.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.TrackerID != nil && task.DueDate != nil {
		task.DueBucket = model.OccurrenceBucket(*task.DueDate)
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOccurrence
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return &task, nil
}

// FindNearOccurrence returns the tracker's non-archived task whose due date
// falls within the tolerance window around the given instant, or nil.
func (r *TaskRepository) FindNearOccurrence(ctx context.Context, trackerID uint, at time.Time) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("tracker_id = ? AND status <> ? AND due_date BETWEEN ? AND ?",
			trackerID, model.TaskStatusArchived, at.Add(-OccurrenceTolerance), at.Add(OccurrenceTolerance)).
		First(&task).Error
	switch {
	case err == nil:
		return &task, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find occurrence task: %w", err)
	}
}

// CompletedNearOccurrence reports whether a completed task exists for the
// tracker within the tolerance window around the given instant.
func (r *TaskRepository) CompletedNearOccurrence(ctx context.Context, trackerID uint, at time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("tracker_id = ? AND status = ? AND due_date BETWEEN ? AND ?",
			trackerID, model.TaskStatusCompleted, at.Add(-OccurrenceTolerance), at.Add(OccurrenceTolerance)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count completed tasks: %w", err)
	}
	return count > 0, nil
}

// ArchiveStale moves the tracker's pending and in-progress tasks due before
// the cutoff into archived status. Returns the number of tasks archived.
func (r *TaskRepository) ArchiveStale(ctx context.Context, trackerID uint, before time.Time) (int, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("tracker_id = ? AND status IN ? AND due_date < ?",
			trackerID, []string{string(model.TaskStatusPending), string(model.TaskStatusInProgress)}, before).
		Update("status", model.TaskStatusArchived)
	if res.Error != nil {
		return 0, fmt.Errorf("archive stale tasks: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// UpdateStatus sets a task's status and completion time.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID uint, status model.TaskStatus, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":       string(status),
		"completed_at": completedAt,
	}
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// ListOpenForUser returns the user's pending and in-progress tasks ordered
// by due date.
func (r *TaskRepository) ListOpenForUser(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?",
			userID, []string{string(model.TaskStatusPending), string(model.TaskStatusInProgress)}).
		Order("due_date NULLS LAST, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return tasks, nil
}

// DetachFromTracker clears the tracker binding on all of a tracker's tasks.
// Used when a tracker is deactivated: tasks survive, occurrences stop.
func (r *TaskRepository) DetachFromTracker(ctx context.Context, trackerID uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("tracker_id = ?", trackerID).
		Updates(map[string]interface{}{"tracker_id": nil, "due_bucket": 0}).Error; err != nil {
		return fmt.Errorf("detach tasks: %w", err)
	}
	return nil
}

// Delete removes a task for the given user.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
