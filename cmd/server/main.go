package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finbook/internal/advice"
	"finbook/internal/auth"
	"finbook/internal/config"
	"finbook/internal/handlers"
	"finbook/internal/notify"
	"finbook/internal/scheduler"
	"finbook/internal/session"
	"finbook/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Default().Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CleanExpiredSessions(ctx); err != nil {
		logger.Warn("clean expired sessions", slog.Any("error", err))
	}

	verifier, err := auth.NewVerifier(db, cfg.BcryptCost, cfg.MinPasswordLength)
	if err != nil {
		return err
	}
	sessions := session.NewManager(db, cfg.SessionTTL)

	sender := notify.NewLogSender(logger)
	sched := scheduler.New(func(ctx context.Context, r scheduler.Reminder) error {
		return sender.Send(ctx, r)
	}, logger, cfg.SchedulerIdleTick)

	if err := rescheduleBills(ctx, db, sched, logger); err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	advisor := advice.NewClient(cfg.PredictorURL, nil)

	h := handlers.New(logger, db, verifier, sessions, sched, advisor, handlers.Options{
		SecureCookie:   cfg.SecureCookie,
		SessionTTL:     cfg.SessionTTL,
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateWindow: cfg.AuthRateWindow,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	<-schedDone
	return nil
}

// rescheduleBills rebuilds the reminder schedule from unpaid bills so due
// dates survive restarts. Bills already past due fire on the scheduler's
// first wake.
func rescheduleBills(ctx context.Context, db *storage.DB, sched *scheduler.Scheduler, logger *slog.Logger) error {
	bills, err := db.ListUnpaidBills(ctx)
	if err != nil {
		return err
	}
	for _, bill := range bills {
		reminderID := sched.Schedule(bill.DueDate, scheduler.Payload{
			BillID:      bill.ID,
			OwnerID:     bill.UserID,
			Description: bill.Description,
			Amount:      bill.Amount,
		})
		if err := db.SetBillReminder(ctx, bill.ID, reminderID); err != nil {
			logger.Warn("set bill reminder", slog.Int64("bill_id", bill.ID), slog.Any("error", err))
		}
	}
	if len(bills) > 0 {
		logger.Info("rescheduled bill reminders", slog.Int("count", len(bills)))
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
