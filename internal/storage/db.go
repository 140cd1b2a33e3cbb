package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"finbook/internal/models"

	"github.com/shopspring/decimal"
	sqlite "modernc.org/sqlite"
)

// Sentinel errors surfaced by the store.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUsername indicates a username collision on user creation.
	ErrDuplicateUsername = errors.New("username already taken")
)

// SQLITE_CONSTRAINT_UNIQUE extended result code.
const sqliteConstraintUnique = 2067

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqliteConstraintUnique
}

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer at a time; a single pooled connection keeps
	// concurrent writers queued instead of failing with SQLITE_BUSY, and
	// keeps ":memory:" databases from splitting across connections.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			amount TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			date DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS budgets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			category TEXT NOT NULL,
			limit_amount TEXT NOT NULL,
			period TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			due_date DATETIME NOT NULL,
			paid INTEGER NOT NULL DEFAULT 0,
			reminder_id TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateUser creates a new user with the given username and password hash.
// Uniqueness is enforced by the UNIQUE constraint, so concurrent creates of
// the same username cannot race into duplicates.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?",
		id,
	)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username. The lookup is case-sensitive.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CreateSession creates a new session for a user.
func (db *DB) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt,
	)
	return err
}

// GetSessionUser returns the user bound to a live session token.
func (db *DB) GetSessionUser(ctx context.Context, token string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, time.Now())
	return scanUser(row)
}

// DeleteSession removes a session by token. Missing tokens are not an error.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all expired sessions.
func (db *DB) CleanExpiredSessions(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", time.Now())
	return err
}

// CreateExpense inserts a new expense for a user.
func (db *DB) CreateExpense(ctx context.Context, userID int64, amount decimal.Decimal, description, category string, date time.Time) (*models.Expense, error) {
	if date.IsZero() {
		date = time.Now()
	}
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses (user_id, amount, description, category, date) VALUES (?, ?, ?, ?, ?)",
		userID, amount, description, category, date,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Expense{ID: id, UserID: userID, Amount: amount, Description: description, Category: category, Date: date}, nil
}

// ListExpenses retrieves a user's expenses, newest first.
func (db *DB) ListExpenses(ctx context.Context, userID int64) ([]models.Expense, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, amount, description, category, date FROM expenses WHERE user_id = ? ORDER BY date DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Category, &e.Date); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}

	return expenses, rows.Err()
}

// CategoryTotals aggregates a user's expenses per category for a given month.
func (db *DB) CategoryTotals(ctx context.Context, userID int64, year int, month time.Month) ([]models.CategoryTotal, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := db.conn.QueryContext(ctx,
		"SELECT amount, category FROM expenses WHERE user_id = ? AND date >= ? AND date < ?",
		userID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Amounts are stored as decimal strings, so summation happens here
	// rather than in SQL.
	byCategory := make(map[string]*models.CategoryTotal)
	var order []string
	for rows.Next() {
		var amount decimal.Decimal
		var category string
		if err := rows.Scan(&amount, &category); err != nil {
			return nil, err
		}
		ct, ok := byCategory[category]
		if !ok {
			ct = &models.CategoryTotal{Category: category}
			byCategory[category] = ct
			order = append(order, category)
		}
		ct.Total = ct.Total.Add(amount)
		ct.Count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totals := make([]models.CategoryTotal, 0, len(order))
	for _, category := range order {
		totals = append(totals, *byCategory[category])
	}
	return totals, nil
}

// CreateBudget inserts a new budget for a user.
func (db *DB) CreateBudget(ctx context.Context, userID int64, category string, limit decimal.Decimal, period string) (*models.Budget, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO budgets (user_id, category, limit_amount, period) VALUES (?, ?, ?, ?)",
		userID, category, limit, period,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Budget{ID: id, UserID: userID, Category: category, Limit: limit, Period: period}, nil
}

// ListBudgets retrieves a user's budgets.
func (db *DB) ListBudgets(ctx context.Context, userID int64) ([]models.Budget, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, category, limit_amount, period FROM budgets WHERE user_id = ? ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		var b models.Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.Limit, &b.Period); err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}

	return budgets, rows.Err()
}

// CreateBill inserts a new bill for a user.
func (db *DB) CreateBill(ctx context.Context, userID int64, description string, amount decimal.Decimal, dueDate time.Time) (*models.Bill, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO bills (user_id, description, amount, due_date) VALUES (?, ?, ?, ?)",
		userID, description, amount, dueDate,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Bill{ID: id, UserID: userID, Description: description, Amount: amount, DueDate: dueDate}, nil
}

// GetBill retrieves a single bill owned by a user.
func (db *DB) GetBill(ctx context.Context, userID, billID int64) (*models.Bill, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, description, amount, due_date, paid, reminder_id FROM bills WHERE id = ? AND user_id = ?",
		billID, userID,
	)
	var b models.Bill
	if err := row.Scan(&b.ID, &b.UserID, &b.Description, &b.Amount, &b.DueDate, &b.Paid, &b.ReminderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListBills retrieves a user's bills, soonest due first.
func (db *DB) ListBills(ctx context.Context, userID int64) ([]models.Bill, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, description, amount, due_date, paid, reminder_id FROM bills WHERE user_id = ? ORDER BY due_date",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBills(rows)
}

// ListUnpaidBills retrieves every unpaid bill across all users. Used at
// startup to rebuild the reminder schedule.
func (db *DB) ListUnpaidBills(ctx context.Context) ([]models.Bill, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, description, amount, due_date, paid, reminder_id FROM bills WHERE paid = 0 ORDER BY due_date",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBills(rows)
}

func scanBills(rows *sql.Rows) ([]models.Bill, error) {
	var bills []models.Bill
	for rows.Next() {
		var b models.Bill
		if err := rows.Scan(&b.ID, &b.UserID, &b.Description, &b.Amount, &b.DueDate, &b.Paid, &b.ReminderID); err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// SetBillReminder records the scheduler's reminder id on a bill.
func (db *DB) SetBillReminder(ctx context.Context, billID int64, reminderID string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE bills SET reminder_id = ? WHERE id = ?",
		reminderID, billID,
	)
	return err
}

// MarkBillPaid flags a bill as paid and clears its reminder reference.
func (db *DB) MarkBillPaid(ctx context.Context, userID, billID int64) error {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE bills SET paid = 1, reminder_id = '' WHERE id = ? AND user_id = ?",
		billID, userID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBill removes a bill owned by a user.
func (db *DB) DeleteBill(ctx context.Context, userID, billID int64) error {
	result, err := db.conn.ExecContext(ctx,
		"DELETE FROM bills WHERE id = ? AND user_id = ?",
		billID, userID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
