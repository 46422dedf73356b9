package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"habit-planner/internal/logger"
	"habit-planner/internal/model"
	"habit-planner/internal/repository"
)

var testDBSeq atomic.Int64

type testEnv struct {
	db           *gorm.DB
	users        *repository.UserRepository
	categories   *repository.CategoryRepository
	tasks        *repository.TaskRepository
	trackers     *repository.TrackerRepository
	materializer *MaterializerService
	gamification *GamificationService
	svc          *TrackerService
	user         *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared&_busy_timeout=5000", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes
	// writes; the check-then-create race still interleaves between queries.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}, &model.Category{}, &model.Tracker{}, &model.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewNop()
	users := repository.NewUserRepository(db)
	categories := repository.NewCategoryRepository(db)
	tasks := repository.NewTaskRepository(db)
	trackers := repository.NewTrackerRepository(db)
	materializer := NewMaterializerService(tasks, trackers, log)
	gamification := NewGamificationService(tasks, trackers, materializer, log)
	svc := NewTrackerService(trackers, tasks, categories, materializer, gamification, log)

	user, err := users.UpsertFromTelegram(context.Background(), 42, "Test", "User", "test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	return &testEnv{
		db:           db,
		users:        users,
		categories:   categories,
		tasks:        tasks,
		trackers:     trackers,
		materializer: materializer,
		gamification: gamification,
		svc:          svc,
		user:         user,
	}
}

func (e *testEnv) createTracker(t *testing.T, input TrackerInput, now time.Time) *model.Tracker {
	t.Helper()
	if input.TargetValue == 0 {
		input.TargetValue = 1
	}
	input.GenerateTasks = true
	tracker, err := e.svc.CreateTracker(context.Background(), e.user, input, now)
	if err != nil {
		t.Fatalf("create tracker: %v", err)
	}
	return tracker
}

func (e *testEnv) countTrackerTasks(t *testing.T, trackerID uint, statuses ...model.TaskStatus) int {
	t.Helper()
	q := e.db.Model(&model.Task{}).Where("tracker_id = ?", trackerID)
	if len(statuses) > 0 {
		raw := make([]string, 0, len(statuses))
		for _, s := range statuses {
			raw = append(raw, string(s))
		}
		q = q.Where("status IN ?", raw)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		t.Fatalf("count tasks: %v", err)
	}
	return int(count)
}

func (e *testEnv) reloadTracker(t *testing.T, trackerID uint) *model.Tracker {
	t.Helper()
	tracker, err := e.trackers.FindByID(context.Background(), e.user.ID, trackerID)
	if err != nil {
		t.Fatalf("reload tracker: %v", err)
	}
	return tracker
}

// Monday, 2025-06-09.
var monday = time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)

func TestCreateTrackerMaterializesCurrentPeriod(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:         "Read",
		Frequency:     model.FrequencyDaily,
		ScheduledTime: "09:00",
	}, monday)

	if got := env.countTrackerTasks(t, tracker.ID); got != 1 {
		t.Fatalf("got %d tasks, want 1", got)
	}

	task, err := env.tasks.FindNearOccurrence(context.Background(), tracker.ID, time.Date(2025, time.June, 9, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if task == nil {
		t.Fatal("no task at the scheduled occurrence")
	}
	if task.Source != model.TaskSourceTracker {
		t.Fatalf("task source = %q, want %q", task.Source, model.TaskSourceTracker)
	}
}

func TestCreateTrackerWeeklyMaterializesAllOccurrences(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:         "Gym",
		Frequency:     model.FrequencyWeekly,
		ScheduledDays: []int{1, 3, 5},
	}, monday.AddDate(0, 0, 1)) // Tuesday

	if got := env.countTrackerTasks(t, tracker.ID); got != 3 {
		t.Fatalf("got %d tasks, want 3 (Mon/Wed/Fri)", got)
	}
}

func TestGenerateRecurringTasksIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Meditate",
		Frequency: model.FrequencyDaily,
	}, monday)

	trackers, err := env.trackers.ListForGeneration(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	report := env.materializer.GenerateRecurringTasks(context.Background(), trackers, monday)
	if len(report.Created) != 0 || report.Skipped != 1 {
		t.Fatalf("first sweep: created=%d skipped=%d, want 0/1", len(report.Created), report.Skipped)
	}

	report = env.materializer.GenerateRecurringTasks(context.Background(), trackers, monday)
	if len(report.Created) != 0 {
		t.Fatalf("second sweep created %d tasks, want 0", len(report.Created))
	}
	if got := env.countTrackerTasks(t, tracker.ID); got != 1 {
		t.Fatalf("got %d tasks, want 1", got)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
}

func TestGenerateRecurringTasksArchivesStale(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Journal",
		Frequency: model.FrequencyDaily,
	}, monday)

	nextDay := monday.AddDate(0, 0, 1)
	trackers, err := env.trackers.ListForGeneration(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	report := env.materializer.GenerateRecurringTasks(context.Background(), trackers, nextDay)

	if report.Archived != 1 {
		t.Fatalf("archived = %d, want 1", report.Archived)
	}
	if len(report.Created) != 1 {
		t.Fatalf("created = %d, want 1 (next day's task)", len(report.Created))
	}
	if got := env.countTrackerTasks(t, tracker.ID, model.TaskStatusArchived); got != 1 {
		t.Fatalf("archived tasks = %d, want 1", got)
	}
	if got := env.countTrackerTasks(t, tracker.ID, model.TaskStatusPending); got != 1 {
		t.Fatalf("pending tasks = %d, want 1", got)
	}
}

func TestArchiveStaleResetsPeriodProgress(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:       "Pushups",
		Frequency:   model.FrequencyDaily,
		TargetValue: 3,
	}, monday)

	// Simulate progress made yesterday.
	lastDone := monday.Add(-20 * time.Hour)
	if err := env.trackers.UpdateFields(context.Background(), tracker.ID, map[string]interface{}{
		"current_value":     2,
		"last_completed_at": lastDone,
	}); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	nextDay := monday.AddDate(0, 0, 1)
	fresh := env.reloadTracker(t, tracker.ID)
	if _, err := env.materializer.ArchiveStaleTasks(context.Background(), fresh, nextDay); err != nil {
		t.Fatalf("archive: %v", err)
	}

	fresh = env.reloadTracker(t, tracker.ID)
	if fresh.CurrentValue != 0 {
		t.Fatalf("current value = %d, want 0 after rollover", fresh.CurrentValue)
	}
}

func TestGenerateRecurringTasksSkipsPausedAndInactive(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Stretch",
		Frequency: model.FrequencyDaily,
	}, monday)

	if err := env.svc.PauseTracker(context.Background(), env.user, tracker.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	trackers, err := env.trackers.ListForGeneration(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trackers) != 0 {
		t.Fatalf("paused tracker still eligible for generation")
	}
}

func TestConcurrentMaterializationCreatesOneTask(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Hydrate",
		Frequency: model.FrequencyDaily,
	}, monday)

	// Wipe the eagerly created task so every goroutine races on creation.
	if err := env.db.Where("tracker_id = ?", tracker.ID).Delete(&model.Task{}).Error; err != nil {
		t.Fatalf("reset tasks: %v", err)
	}

	trackers, err := env.trackers.ListForGeneration(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.materializer.GenerateRecurringTasks(context.Background(), trackers, monday)
		}()
	}
	wg.Wait()

	if got := env.countTrackerTasks(t, tracker.ID); got != 1 {
		t.Fatalf("got %d tasks after concurrent sweeps, want exactly 1", got)
	}
}

func TestDuplicateOccurrenceCreateIsRejected(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Walk",
		Frequency: model.FrequencyDaily,
	}, monday)

	due := time.Date(2025, time.June, 9, 9, 0, 0, 0, time.UTC)
	trackerID := tracker.ID
	dup := &model.Task{
		UserID:    env.user.ID,
		TrackerID: &trackerID,
		Title:     "Walk",
		DueDate:   &due,
		Status:    string(model.TaskStatusPending),
		Source:    model.TaskSourceTracker,
	}
	err := env.tasks.Create(context.Background(), dup)
	if err != repository.ErrDuplicateOccurrence {
		t.Fatalf("got %v, want ErrDuplicateOccurrence", err)
	}
}

func TestFindMissingTaskReportsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.tasks.FindByID(context.Background(), env.user.ID, 9999)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("got %v, want wrapped gorm.ErrRecordNotFound", err)
	}
}

func TestDeactivateTrackerDetachesTasks(t *testing.T) {
	env := newTestEnv(t)
	tracker := env.createTracker(t, TrackerInput{
		Title:     "Plan week",
		Frequency: model.FrequencyDaily,
	}, monday)

	if err := env.svc.DeactivateTracker(context.Background(), env.user, tracker.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	var tasks []model.Task
	if err := env.db.Where("user_id = ?", env.user.ID).Find(&tasks).Error; err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1 surviving task", len(tasks))
	}
	if tasks[0].TrackerID != nil {
		t.Fatal("task still bound to deactivated tracker")
	}
}
