package model

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusArchived   TaskStatus = "archived"
)

// Open reports whether the task still expects action.
func (s TaskStatus) Open() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress
}

// TaskSourceTracker marks tasks materialized from a tracker occurrence.
const TaskSourceTracker = "tracker"

// Task represents a single item in the planner. Tracker-originated tasks
// carry a TrackerID and a DueBucket; the unique index on the pair guarantees
// at most one task per (tracker, occurrence minute) even under racing
// materialization calls.
type Task struct {
	ID         uint  `gorm:"primaryKey"`
	UserID     uint  `gorm:"index"`
	TrackerID  *uint `gorm:"index:idx_tracker_occurrence,unique"`
	DueBucket  int64 `gorm:"index:idx_tracker_occurrence,unique"`
	CategoryID *uint `gorm:"index"`

	Title       string
	Description string
	DueDate     *time.Time
	Status      string `gorm:"default:'pending'"`
	Urgency     int
	Source      string // TaskSourceTracker for generated tasks

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OccurrenceBucket maps an occurrence instant to its tolerance bucket.
// Occurrences are minute-precise, so a minute bucket absorbs sub-minute
// clock drift between racing callers.
func OccurrenceBucket(at time.Time) int64 {
	return at.Unix() / 60
}
