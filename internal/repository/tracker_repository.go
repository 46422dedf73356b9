package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"habit-planner/internal/model"
)

// TrackerRepository handles CRUD for trackers.
type TrackerRepository struct {
	db *gorm.DB
}

func NewTrackerRepository(db *gorm.DB) *TrackerRepository {
	return &TrackerRepository{db: db}
}

func (r *TrackerRepository) Create(ctx context.Context, tracker *model.Tracker) error {
	if err := r.db.WithContext(ctx).Create(tracker).Error; err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}
	return nil
}

func (r *TrackerRepository) FindByID(ctx context.Context, userID, trackerID uint) (*model.Tracker, error) {
	var tracker model.Tracker
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, trackerID).First(&tracker).Error; err != nil {
		return nil, err
	}
	return &tracker, nil
}

func (r *TrackerRepository) ListByUser(ctx context.Context, userID uint) ([]model.Tracker, error) {
	var trackers []model.Tracker
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at ASC").
		Find(&trackers).Error; err != nil {
		return nil, err
	}
	return trackers, nil
}

// ListForGeneration returns every tracker eligible for task materialization:
// active, not paused, with generation enabled. Optionally scoped to one user.
func (r *TrackerRepository) ListForGeneration(ctx context.Context, userID *uint) ([]model.Tracker, error) {
	q := r.db.WithContext(ctx).
		Where("is_active = ? AND is_paused = ? AND generate_tasks = ?", true, false, true)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var trackers []model.Tracker
	if err := q.Find(&trackers).Error; err != nil {
		return nil, err
	}
	return trackers, nil
}

// UpdateFields applies a partial update to one tracker. Gamification callers
// pass every correlated reward field in a single call so the update is
// atomic at the storage level.
func (r *TrackerRepository) UpdateFields(ctx context.Context, trackerID uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&model.Tracker{}).
		Where("id = ?", trackerID).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("update tracker: %w", err)
	}
	return nil
}

// SetPaused toggles the pause flag.
func (r *TrackerRepository) SetPaused(ctx context.Context, userID, trackerID uint, paused bool) error {
	res := r.db.WithContext(ctx).Model(&model.Tracker{}).
		Where("user_id = ? AND id = ?", userID, trackerID).
		Update("is_paused", paused)
	if res.Error != nil {
		return fmt.Errorf("pause tracker: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Deactivate retires a tracker and detaches its tasks in one transaction.
// Tasks are kept, only the tracker binding is cleared.
func (r *TrackerRepository) Deactivate(ctx context.Context, userID, trackerID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Tracker{}).
			Where("user_id = ? AND id = ?", userID, trackerID).
			Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("deactivate tracker: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Model(&model.Task{}).
			Where("tracker_id = ?", trackerID).
			Updates(map[string]interface{}{"tracker_id": nil, "due_bucket": 0}).Error; err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		return nil
	})
}
