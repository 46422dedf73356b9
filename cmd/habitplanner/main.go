package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"habit-planner/internal/bot"
	"habit-planner/internal/config"
	"habit-planner/internal/logger"
	"habit-planner/internal/repository"
	"habit-planner/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer appLog.Sync()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		appLog.Error("open db", "err", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	trackerRepo := repository.NewTrackerRepository(db)

	materializer := service.NewMaterializerService(taskRepo, trackerRepo, appLog)
	gamification := service.NewGamificationService(taskRepo, trackerRepo, materializer, appLog)
	trackerSvc := service.NewTrackerService(trackerRepo, taskRepo, categoryRepo, materializer, gamification, appLog)
	summarySvc := service.NewSummaryService(taskRepo, trackerRepo, categoryRepo)

	telegramBot, err := bot.New(cfg.TelegramToken, userRepo, trackerSvc, summarySvc, appLog)
	if err != nil {
		appLog.Error("create bot", "err", err)
		os.Exit(1)
	}

	scheduler := service.NewSchedulerService(time.Local)

	if _, err := scheduler.ScheduleInterval(cfg.SweepInterval, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		report := trackerSvc.MaterializeAll(jobCtx, time.Now())
		appLog.Info("sweep done",
			"run_id", report.RunID,
			"created", len(report.Created),
			"archived", report.Archived,
			"errors", len(report.Errors),
		)
	}); err != nil {
		appLog.Error("schedule sweep", "err", err)
		os.Exit(1)
	}

	if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := telegramBot.SendDailyDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("daily digest", "err", err)
		}
	}); err != nil {
		appLog.Error("schedule digest", "err", err)
		os.Exit(1)
	}

	scheduler.Start()
	defer scheduler.Stop()

	appLog.Info("habit planner started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("bot stopped", "err", err)
		os.Exit(1)
	}
	appLog.Info("shutdown complete")
}
