package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"habit-planner/internal/model"
	"habit-planner/internal/repository"
	"habit-planner/internal/schedule"
)

// SummaryService builds human-readable digests for daily notifications.
type SummaryService struct {
	taskRepo     *repository.TaskRepository
	trackerRepo  *repository.TrackerRepository
	categoryRepo *repository.CategoryRepository
}

func NewSummaryService(taskRepo *repository.TaskRepository, trackerRepo *repository.TrackerRepository, categoryRepo *repository.CategoryRepository) *SummaryService {
	return &SummaryService{taskRepo: taskRepo, trackerRepo: trackerRepo, categoryRepo: categoryRepo}
}

// DailyDigest renders the user's open tasks and tracker progress for the
// given day as Telegram HTML.
func (s *SummaryService) DailyDigest(ctx context.Context, user model.User, now time.Time) (string, error) {
	tasks, err := s.taskRepo.ListOpenForUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	trackers, err := s.trackerRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	categories, err := s.categoryRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		switch {
		case tasks[i].DueDate == nil && tasks[j].DueDate == nil:
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		case tasks[i].DueDate == nil:
			return false
		case tasks[j].DueDate == nil:
			return true
		default:
			return tasks[i].DueDate.Before(*tasks[j].DueDate)
		}
	})

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily digest</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon, 02 Jan 2006")))

	builder.WriteString("🔥 <b>Open tasks</b>\n")
	if len(tasks) == 0 {
		builder.WriteString("— nothing pending\n")
	} else {
		for _, task := range tasks {
			builder.WriteString(formatTaskLine(task, catNames, now))
		}
	}

	builder.WriteString("\n🎯 <b>Trackers</b>\n")
	if len(trackers) == 0 {
		builder.WriteString("— no active trackers\n")
	} else {
		for _, tracker := range trackers {
			builder.WriteString(formatTrackerLine(tracker, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatTaskLine(task model.Task, catNames map[uint]string, now time.Time) string {
	var sb strings.Builder

	icon := urgencyIcon(model.Urgency(task.Urgency))
	if task.DueDate != nil && now.After(*task.DueDate) {
		icon = "⚠️"
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s #%d %s", icon, task.ID, title))

	if task.CategoryID != nil {
		if name, ok := catNames[*task.CategoryID]; ok && strings.TrimSpace(name) != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(strings.TrimSpace(name))))
		}
	}

	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf(" · due %s, <b>overdue</b>", d.Format("02 Jan 15:04")))
		} else {
			sb.WriteString(fmt.Sprintf(" · due %s", d.Format("02 Jan 15:04")))
		}
	}

	sb.WriteByte('\n')
	return sb.String()
}

func formatTrackerLine(tracker model.Tracker, now time.Time) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("🎯 %s", html.EscapeString(strings.TrimSpace(tracker.Title))))
	sb.WriteString(fmt.Sprintf(" — lvl %d, %d XP", tracker.Level, tracker.TotalXP))
	if tracker.CurrentStreak > 0 {
		sb.WriteString(fmt.Sprintf(", 🔥 %d streak", tracker.CurrentStreak))
	}
	if tracker.IsPaused {
		sb.WriteString(" (paused)")
	}

	sched := schedule.FromTracker(&tracker)
	if next := sched.NextOccurrences(now, 1); len(next) > 0 {
		sb.WriteString(fmt.Sprintf("\n   📆 next: %s", next[0].In(now.Location()).Format("Mon, 02 Jan 15:04")))
	}
	sb.WriteString(fmt.Sprintf("\n   📈 %d/%d this period", tracker.CurrentValue, tracker.TargetValue))

	sb.WriteByte('\n')
	return sb.String()
}

func urgencyIcon(u model.Urgency) string {
	switch u {
	case model.UrgencyCritical:
		return "🔴"
	case model.UrgencyHigh:
		return "🟠"
	case model.UrgencyNormal:
		return "🟡"
	default:
		return "🟢"
	}
}
