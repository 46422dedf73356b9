package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"habit-planner/internal/logger"
	"habit-planner/internal/model"
	"habit-planner/internal/repository"
	"habit-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageFrequency
	stageSchedule
	stageTime
	stageTarget
)

const (
	cbCompletePrefix = "complete:"
	cbUndoPrefix     = "undo:"
)

const (
	btnSkip    = "Skip"
	iconStreak = "🔥"
)

var frequencyButtons = []string{"hourly", "daily", "weekly", "monthly"}

type conversationState struct {
	stage conversationStage
	input service.TrackerInput
}

// Bot aggregates the Telegram API with the tracker services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	trackerSvc    *service.TrackerService
	summarySvc    *service.SummaryService
	log           *logger.Logger
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, trackerSvc *service.TrackerService, summarySvc *service.SummaryService, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		trackerSvc:    trackerSvc,
		summarySvc:    summarySvc,
		log:           log.With("component", "bot"),
		conversations: make(map[int64]*conversationState),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	from := msg.From
	if from == nil {
		return
	}

	user, err := b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
	if err != nil {
		b.log.Error("upsert user", "telegram_id", from.ID, "err", err)
		b.reply(msg.Chat.ID, "Something went wrong, try again.")
		return
	}

	if msg.IsCommand() {
		b.resetConversation(msg.Chat.ID)
		b.handleCommand(ctx, msg, user)
		return
	}

	if state := b.conversation(msg.Chat.ID); state != nil {
		b.advanceConversation(ctx, msg, user, state)
		return
	}

	b.reply(msg.Chat.ID, "Use /new to create a tracker, /tasks to see what's due, /help for everything else.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) {
	chatID := msg.Chat.ID
	now := time.Now()

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "new":
		b.setConversation(chatID, &conversationState{stage: stageTitle, input: service.TrackerInput{GenerateTasks: true}})
		b.reply(chatID, "What habit are you tracking? Send a title.")
	case "trackers":
		b.sendTrackers(ctx, chatID, user, now)
	case "tasks":
		b.sendTasks(ctx, chatID, user, now)
	case "digest":
		b.sendDigest(ctx, chatID, *user, now)
	case "done":
		b.completeByArg(ctx, chatID, user, msg.CommandArguments(), now)
	case "undo":
		b.undoByArg(ctx, chatID, user, msg.CommandArguments())
	case "pause":
		b.toggleByArg(ctx, chatID, user, msg.CommandArguments(), true)
	case "resume":
		b.toggleByArg(ctx, chatID, user, msg.CommandArguments(), false)
	case "stop":
		b.stopByArg(ctx, chatID, user, msg.CommandArguments())
	default:
		b.reply(chatID, "Unknown command. See /help.")
	}
}

func (b *Bot) advanceConversation(ctx context.Context, msg *tgbotapi.Message, user *model.User, state *conversationState) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch state.stage {
	case stageTitle:
		if text == "" {
			b.reply(chatID, "The title cannot be empty. Try again.")
			return
		}
		state.input.Title = text
		state.stage = stageFrequency
		b.replyWithKeyboard(chatID, "How often?", frequencyButtons)

	case stageFrequency:
		freq := model.Frequency(strings.ToLower(text))
		if !freq.Valid() {
			b.replyWithKeyboard(chatID, "Pick one of: hourly, daily, weekly, monthly.", frequencyButtons)
			return
		}
		state.input.Frequency = freq
		switch freq {
		case model.FrequencyWeekly:
			state.stage = stageSchedule
			b.replyWithKeyboard(chatID, "Which weekdays? Send numbers 0-6 (0 = Sunday), e.g. <code>1,3,5</code>.", []string{btnSkip})
		case model.FrequencyMonthly:
			state.stage = stageSchedule
			b.replyWithKeyboard(chatID, "Which dates of the month? Send numbers 1-31, e.g. <code>1,15</code>.", []string{btnSkip})
		default:
			state.stage = stageTime
			b.replyWithKeyboard(chatID, "At what time? Send HH:MM or skip for 09:00.", []string{btnSkip})
		}

	case stageSchedule:
		if text != btnSkip {
			values, err := parseIntList(text)
			if err != nil {
				b.reply(chatID, "Could not read that, send comma-separated numbers or Skip.")
				return
			}
			if state.input.Frequency == model.FrequencyWeekly {
				state.input.ScheduledDays = values
			} else {
				state.input.ScheduledDates = values
			}
		}
		state.stage = stageTime
		b.replyWithKeyboard(chatID, "At what time? Send HH:MM or skip for 09:00.", []string{btnSkip})

	case stageTime:
		if text != btnSkip {
			state.input.ScheduledTime = text
		}
		state.stage = stageTarget
		b.replyWithKeyboard(chatID, "Target per period? Send a number or skip for 1.", []string{btnSkip})

	case stageTarget:
		if text != btnSkip {
			target, err := strconv.Atoi(text)
			if err != nil || target < 1 {
				b.reply(chatID, "Send a positive number or Skip.")
				return
			}
			state.input.TargetValue = target
		}
		b.resetConversation(chatID)
		b.createTracker(ctx, chatID, user, state.input)
	}
}

func (b *Bot) createTracker(ctx context.Context, chatID int64, user *model.User, input service.TrackerInput) {
	tracker, err := b.trackerSvc.CreateTracker(ctx, user, input, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrScheduleInvalid) {
			b.reply(chatID, fmt.Sprintf("Schedule rejected: %s", html.EscapeString(err.Error())))
			return
		}
		b.log.Error("create tracker", "user_id", user.ID, "err", err)
		b.reply(chatID, "Could not create the tracker, try again.")
		return
	}

	b.reply(chatID, fmt.Sprintf(
		"🎯 Tracker <b>%s</b> created (%s). Its first tasks are already on your /tasks list.",
		html.EscapeString(tracker.Title), tracker.Frequency))
}

func (b *Bot) sendTrackers(ctx context.Context, chatID int64, user *model.User, now time.Time) {
	trackers, err := b.trackerSvc.ListTrackers(ctx, user, now)
	if err != nil {
		b.log.Error("list trackers", "user_id", user.ID, "err", err)
		b.reply(chatID, "Could not load trackers.")
		return
	}
	if len(trackers) == 0 {
		b.reply(chatID, "No trackers yet. Create one with /new.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🎯 <b>Your trackers</b>\n\n")
	for _, tr := range trackers {
		sb.WriteString(fmt.Sprintf("#%d <b>%s</b> — %s, lvl %d, %d XP",
			tr.ID, html.EscapeString(tr.Title), tr.Frequency, tr.Level, tr.TotalXP))
		if tr.CurrentStreak > 0 {
			sb.WriteString(fmt.Sprintf(", %s %d", iconStreak, tr.CurrentStreak))
		}
		if tr.IsPaused {
			sb.WriteString(" (paused)")
		}
		sb.WriteString(fmt.Sprintf("\n   %d/%d this period · best streak %d\n",
			tr.CurrentValue, tr.TargetValue, tr.BestStreak))
	}
	sb.WriteString("\n/pause N, /resume N, /stop N to manage.")
	b.reply(chatID, sb.String())
}

func (b *Bot) sendTasks(ctx context.Context, chatID int64, user *model.User, now time.Time) {
	tasks, err := b.trackerSvc.ListTasks(ctx, user, now)
	if err != nil {
		b.log.Error("list tasks", "user_id", user.ID, "err", err)
		b.reply(chatID, "Could not load tasks.")
		return
	}
	if len(tasks) == 0 {
		b.reply(chatID, "Nothing pending. 🎉")
		return
	}

	var sb strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	sb.WriteString("📋 <b>Open tasks</b>\n\n")
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("#%d %s", task.ID, html.EscapeString(task.Title)))
		if task.DueDate != nil {
			sb.WriteString(fmt.Sprintf(" · due %s", task.DueDate.In(now.Location()).Format("Mon 15:04")))
		}
		sb.WriteByte('\n')
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("✅ #%d", task.ID),
				fmt.Sprintf("%s%d", cbCompletePrefix, task.ID),
			),
		))
	}

	out := tgbotapi.NewMessage(chatID, sb.String())
	out.ParseMode = tgbotapi.ModeHTML
	if len(rows) > 0 {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("send tasks", "err", err)
	}
}

func (b *Bot) sendDigest(ctx context.Context, chatID int64, user model.User, now time.Time) {
	digest, err := b.summarySvc.DailyDigest(ctx, user, now)
	if err != nil {
		b.log.Error("digest", "user_id", user.ID, "err", err)
		b.reply(chatID, "Could not build the digest.")
		return
	}
	b.reply(chatID, digest)
}

func (b *Bot) completeByArg(ctx context.Context, chatID int64, user *model.User, arg string, now time.Time) {
	taskID, ok := parseID(arg)
	if !ok {
		b.reply(chatID, "Usage: /done &lt;task id&gt;")
		return
	}
	b.completeTask(ctx, chatID, user, taskID, now)
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, user *model.User, taskID uint, now time.Time) {
	task, result, err := b.trackerSvc.CompleteTask(ctx, user, taskID, now)
	switch {
	case errors.Is(err, service.ErrNotScheduledToday):
		b.reply(chatID, "That tracker is not scheduled for today, nothing recorded.")
		return
	case errors.Is(err, service.ErrAlreadyCompleted):
		b.reply(chatID, "Already completed for this occurrence.")
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		b.reply(chatID, fmt.Sprintf("Task #%d not found.", taskID))
		return
	case err != nil:
		b.log.Error("complete task", "task_id", taskID, "err", err)
		b.reply(chatID, "Could not complete the task.")
		return
	}

	if result == nil {
		b.reply(chatID, fmt.Sprintf("✅ <b>%s</b> done.", html.EscapeString(task.Title)))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ <b>%s</b> done! +%d XP", html.EscapeString(task.Title), result.XPEarned))
	if result.Streak > 1 {
		sb.WriteString(fmt.Sprintf(" · %s %d day streak", iconStreak, result.Streak))
	}
	if result.StreakBroken {
		sb.WriteString("\nThe previous occurrence was missed, streak restarted at 1.")
	}
	if result.LeveledUp {
		sb.WriteString(fmt.Sprintf("\n🏆 Level up! You are now level %d.", result.Level))
	}
	if result.NextTask != nil && result.NextTask.DueDate != nil {
		sb.WriteString(fmt.Sprintf("\n📆 Next: %s", result.NextTask.DueDate.In(now.Location()).Format("Mon, 02 Jan 15:04")))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) undoByArg(ctx context.Context, chatID int64, user *model.User, arg string) {
	taskID, ok := parseID(arg)
	if !ok {
		b.reply(chatID, "Usage: /undo &lt;task id&gt;")
		return
	}

	task, result, err := b.trackerSvc.UncompleteTask(ctx, user, taskID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		b.reply(chatID, fmt.Sprintf("Task #%d not found.", taskID))
		return
	case err != nil:
		b.log.Error("uncomplete task", "task_id", taskID, "err", err)
		b.reply(chatID, "Could not undo the completion.")
		return
	}

	if result == nil {
		b.reply(chatID, fmt.Sprintf("↩️ <b>%s</b> is pending again.", html.EscapeString(task.Title)))
		return
	}
	b.reply(chatID, fmt.Sprintf(
		"↩️ <b>%s</b> is pending again. Completion record removed, earned XP stays.",
		html.EscapeString(task.Title)))
}

func (b *Bot) toggleByArg(ctx context.Context, chatID int64, user *model.User, arg string, pause bool) {
	trackerID, ok := parseID(arg)
	if !ok {
		if pause {
			b.reply(chatID, "Usage: /pause &lt;tracker id&gt;")
		} else {
			b.reply(chatID, "Usage: /resume &lt;tracker id&gt;")
		}
		return
	}

	var err error
	if pause {
		err = b.trackerSvc.PauseTracker(ctx, user, trackerID)
	} else {
		err = b.trackerSvc.ResumeTracker(ctx, user, trackerID)
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		b.reply(chatID, fmt.Sprintf("Tracker #%d not found.", trackerID))
	case err != nil:
		b.log.Error("toggle tracker", "tracker_id", trackerID, "err", err)
		b.reply(chatID, "Could not update the tracker.")
	case pause:
		b.reply(chatID, "⏸ Tracker paused. No new tasks until /resume.")
	default:
		b.reply(chatID, "▶️ Tracker resumed.")
	}
}

func (b *Bot) stopByArg(ctx context.Context, chatID int64, user *model.User, arg string) {
	trackerID, ok := parseID(arg)
	if !ok {
		b.reply(chatID, "Usage: /stop &lt;tracker id&gt;")
		return
	}

	err := b.trackerSvc.DeactivateTracker(ctx, user, trackerID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		b.reply(chatID, fmt.Sprintf("Tracker #%d not found.", trackerID))
	case err != nil:
		b.log.Error("deactivate tracker", "tracker_id", trackerID, "err", err)
		b.reply(chatID, "Could not stop the tracker.")
	default:
		b.reply(chatID, "🛑 Tracker stopped. Its existing tasks are kept.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.log.Error("ack callback", "err", err)
		}
	}()

	if cb.Message == nil || cb.From == nil {
		return
	}
	user, err := b.userRepo.FindByTelegramID(ctx, cb.From.ID)
	if err != nil {
		b.log.Error("callback user lookup", "telegram_id", cb.From.ID, "err", err)
		return
	}

	if strings.HasPrefix(cb.Data, cbCompletePrefix) {
		if taskID, ok := parseID(strings.TrimPrefix(cb.Data, cbCompletePrefix)); ok {
			b.completeTask(ctx, cb.Message.Chat.ID, user, taskID, time.Now())
		}
	}
}

// SendDailyDigests pushes the digest to every known user. Called from cron.
func (b *Bot) SendDailyDigests(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	now := time.Now()
	for _, user := range users {
		digest, err := b.summarySvc.DailyDigest(ctx, user, now)
		if err != nil {
			b.log.Error("digest build", "user_id", user.ID, "err", err)
			continue
		}
		b.reply(user.TelegramID, digest)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, buttons []string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	row := make([]tgbotapi.KeyboardButton, 0, len(buttons))
	for _, label := range buttons {
		row = append(row, tgbotapi.NewKeyboardButton(label))
	}
	keyboard := tgbotapi.NewReplyKeyboard(row)
	keyboard.OneTimeKeyboard = true
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) conversation(chatID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[chatID]
}

func (b *Bot) setConversation(chatID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = state
}

func (b *Bot) resetConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

const helpText = `🎯 <b>Habit planner</b>

/new — create a recurring tracker
/trackers — your trackers with streaks and XP
/tasks — open tasks with complete buttons
/done N — complete task N
/undo N — take a completion back
/pause N, /resume N — suspend a tracker
/stop N — retire a tracker (tasks are kept)
/digest — today's summary

Completing a tracker task earns XP with a streak bonus. Miss an occurrence and the streak restarts.`
