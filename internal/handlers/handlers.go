// Package handlers wires the HTTP surface: registration, login, the
// authorization gate, and the protected record endpoints.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"finbook/internal/advice"
	"finbook/internal/httpx"
	"finbook/internal/models"
	"finbook/internal/scheduler"
	"finbook/internal/session"
	"finbook/internal/storage"
)

// Context key type to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// SessionCookieName is the name of the session cookie.
const SessionCookieName = "session"

// Verifier is the credential verifier slice the handlers need.
type Verifier interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Verify(ctx context.Context, username, password string) (*models.User, error)
}

// Options configures the handler set.
type Options struct {
	SecureCookie   bool
	SessionTTL     time.Duration
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

// Handlers holds dependencies for the HTTP layer.
type Handlers struct {
	logger   *slog.Logger
	db       *storage.DB
	verifier Verifier
	sessions *session.Manager
	sched    *scheduler.Scheduler
	advisor  *advice.Client
	validate *validator.Validate
	opts     Options
}

// New creates a Handlers instance.
func New(logger *slog.Logger, db *storage.DB, verifier Verifier, sessions *session.Manager, sched *scheduler.Scheduler, advisor *advice.Client, opts Options) *Handlers {
	if opts.AuthRateLimit <= 0 {
		opts.AuthRateLimit = 10
	}
	if opts.AuthRateWindow <= 0 {
		opts.AuthRateWindow = time.Minute
	}
	return &Handlers{
		logger:   logger,
		db:       db,
		verifier: verifier,
		sessions: sessions,
		sched:    sched,
		advisor:  advisor,
		validate: validator.New(),
		opts:     opts,
	}
}

// Routes builds the router.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(h.opts.AuthRateLimit, h.opts.AuthRateWindow))
		r.Post("/register", h.RegisterUser)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Post("/logout", h.Logout)

		r.Get("/expenses", h.ListExpenses)
		r.Post("/expenses", h.CreateExpense)
		r.Get("/expenses/summary", h.ExpenseSummary)

		r.Get("/budgets", h.ListBudgets)
		r.Post("/budgets", h.CreateBudget)

		r.Get("/bills", h.ListBills)
		r.Post("/bills", h.CreateBill)
		r.Post("/bills/{id}/pay", h.PayBill)
		r.Delete("/bills/{id}", h.DeleteBill)

		r.Post("/advice", h.GetAdvice)
	})

	return r
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) *session.Principal {
	p, _ := ctx.Value(principalContextKey).(*session.Principal)
	return p
}

// sessionToken pulls the token from the Authorization header or the session
// cookie. Header wins.
func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireAuth is the authorization gate: every protected route resolves the
// session token to a principal or gets a uniform 401.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.sessions.Resolve(r.Context(), sessionToken(r))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required"`
}

// RegisterUser creates a new account.
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.verifier.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("register failed", slog.String("username", req.Username), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login verifies credentials and starts a session. The token is returned in
// the body and mirrored into a cookie for browser clients.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.verifier.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	sess, err := h.sessions.Start(r.Context(), user)
	if err != nil {
		h.logger.Error("start session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout ends the session. Ending an already-ended session succeeds.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(r.Context(), sessionToken(r)); err != nil {
		h.logger.Error("end session", slog.Any("error", err))
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type expenseRequest struct {
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Date        time.Time       `json:"date"`
}

// CreateExpense records an expense for the authenticated user.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	var req expenseRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	expense, err := h.db.CreateExpense(r.Context(), principal.UserID, req.Amount, req.Description, req.Category, req.Date)
	if err != nil {
		h.logger.Error("create expense", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

// ListExpenses returns the authenticated user's expenses.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	expenses, err := h.db.ListExpenses(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("list expenses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if expenses == nil {
		expenses = []models.Expense{}
	}
	httpx.JSON(w, http.StatusOK, expenses)
}

// ExpenseSummary returns per-category totals for a month (defaults to the
// current one).
func (h *Handlers) ExpenseSummary(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	now := time.Now()
	year := now.Year()
	month := now.Month()
	if s := r.URL.Query().Get("year"); s != "" {
		if y, err := strconv.Atoi(s); err == nil {
			year = y
		}
	}
	if s := r.URL.Query().Get("month"); s != "" {
		if m, err := strconv.Atoi(s); err == nil && m >= 1 && m <= 12 {
			month = time.Month(m)
		}
	}

	totals, err := h.db.CategoryTotals(r.Context(), principal.UserID, year, month)
	if err != nil {
		h.logger.Error("expense summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	total := decimal.Zero
	for _, ct := range totals {
		total = total.Add(ct.Total)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"year":       year,
		"month":      int(month),
		"total":      total,
		"categories": totals,
	})
}

type budgetRequest struct {
	Category string          `json:"category" validate:"required"`
	Limit    decimal.Decimal `json:"limit" validate:"required"`
	Period   string          `json:"period" validate:"required,oneof=monthly yearly"`
}

// CreateBudget sets a spending limit for a category.
func (h *Handlers) CreateBudget(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	var req budgetRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	budget, err := h.db.CreateBudget(r.Context(), principal.UserID, req.Category, req.Limit, req.Period)
	if err != nil {
		h.logger.Error("create budget", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, budget)
}

// ListBudgets returns the authenticated user's budgets.
func (h *Handlers) ListBudgets(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	budgets, err := h.db.ListBudgets(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("list budgets", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if budgets == nil {
		budgets = []models.Budget{}
	}
	httpx.JSON(w, http.StatusOK, budgets)
}

type billRequest struct {
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	DueDate     time.Time       `json:"due_date" validate:"required"`
}

// CreateBill records a bill and schedules its due-date reminder. A due date
// already in the past still gets a reminder; the scheduler fires it on its
// next tick.
func (h *Handlers) CreateBill(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	var req billRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	bill, err := h.db.CreateBill(r.Context(), principal.UserID, req.Description, req.Amount, req.DueDate)
	if err != nil {
		h.logger.Error("create bill", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	reminderID := h.sched.Schedule(bill.DueDate, scheduler.Payload{
		BillID:      bill.ID,
		OwnerID:     bill.UserID,
		Description: bill.Description,
		Amount:      bill.Amount,
	})
	if err := h.db.SetBillReminder(r.Context(), bill.ID, reminderID); err != nil {
		h.logger.Error("set bill reminder", slog.Int64("bill_id", bill.ID), slog.Any("error", err))
	}
	bill.ReminderID = reminderID

	httpx.JSON(w, http.StatusCreated, bill)
}

// ListBills returns the authenticated user's bills.
func (h *Handlers) ListBills(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	bills, err := h.db.ListBills(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("list bills", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if bills == nil {
		bills = []models.Bill{}
	}
	httpx.JSON(w, http.StatusOK, bills)
}

// PayBill marks a bill paid and cancels its pending reminder. A reminder
// that already fired stays fired; cancellation is best-effort.
func (h *Handlers) PayBill(w http.ResponseWriter, r *http.Request) {
	h.settleBill(w, r, func(ctx context.Context, userID, billID int64) error {
		return h.db.MarkBillPaid(ctx, userID, billID)
	})
}

// DeleteBill removes a bill and cancels its pending reminder.
func (h *Handlers) DeleteBill(w http.ResponseWriter, r *http.Request) {
	h.settleBill(w, r, func(ctx context.Context, userID, billID int64) error {
		return h.db.DeleteBill(ctx, userID, billID)
	})
}

func (h *Handlers) settleBill(w http.ResponseWriter, r *http.Request, settle func(ctx context.Context, userID, billID int64) error) {
	principal := PrincipalFromContext(r.Context())
	billID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid bill id")
		return
	}

	bill, err := h.db.GetBill(r.Context(), principal.UserID, billID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := settle(r.Context(), principal.UserID, billID); err != nil {
		h.logger.Error("settle bill", slog.Int64("bill_id", billID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	cancelled := false
	if bill.ReminderID != "" {
		cancelled = h.sched.Cancel(bill.ReminderID)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":                 billID,
		"reminder_cancelled": cancelled,
	})
}

type adviceRequest struct {
	Income  decimal.Decimal `json:"income" validate:"required"`
	Expense decimal.Decimal `json:"expense" validate:"required"`
}

// GetAdvice forwards an income/expense pair to the predictor. Upstream
// failures surface as a generic error with no internal detail.
func (h *Handlers) GetAdvice(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := h.decodeValid(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	savings, err := h.advisor.Predict(r.Context(), req.Income, req.Expense)
	if err != nil {
		h.logger.Error("predict advice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"advice":            fmt.Sprintf("With an income of %s and expenses of %s you could save about %s.", req.Income, req.Expense, savings),
		"predicted_savings": savings,
	})
}

func (h *Handlers) decodeValid(r *http.Request, target any) error {
	if err := httpx.Decode(r, target); err != nil {
		return fmt.Errorf("invalid request body")
	}
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("invalid field %s", strings.ToLower(fieldErrs[0].Field()))
		}
		return fmt.Errorf("invalid request")
	}
	return nil
}
