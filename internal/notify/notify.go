// Package notify delivers bill reminders. The actual transport (email, SMS)
// is pluggable behind Sender; the default implementation only logs.
package notify

import (
	"context"
	"log/slog"

	"finbook/internal/scheduler"
)

// Sender delivers a fired reminder to the user.
type Sender interface {
	Send(ctx context.Context, r scheduler.Reminder) error
}

// LogSender writes reminders to the structured log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the reminder.
func (s *LogSender) Send(ctx context.Context, r scheduler.Reminder) error {
	s.logger.InfoContext(ctx, "bill due",
		slog.Int64("bill_id", r.Payload.BillID),
		slog.Int64("user_id", r.Payload.OwnerID),
		slog.String("description", r.Payload.Description),
		slog.String("amount", r.Payload.Amount.String()))
	return nil
}
