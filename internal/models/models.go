package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session represents a server-held token-to-user binding.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expense represents a financial expense record.
type Expense struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
}

// Budget is a spending limit for a category over a period.
type Budget struct {
	ID       int64           `json:"id"`
	UserID   int64           `json:"user_id"`
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
	Period   string          `json:"period"` // "monthly" or "yearly"
}

// Bill is a payable with a due date. ReminderID links the bill to the
// scheduled due-date reminder while one is pending.
type Bill struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date"`
	Paid        bool            `json:"paid"`
	ReminderID  string          `json:"reminder_id,omitempty"`
}

// CategoryTotal aggregates spending for a single category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}
