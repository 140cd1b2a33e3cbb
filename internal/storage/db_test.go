package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// DBTestSuite provides a test suite for database operations
type DBTestSuite struct {
	suite.Suite
	db  *DB
	ctx context.Context
}

// SetupTest runs before each test
func (suite *DBTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()
}

// TearDownTest runs after each test
func (suite *DBTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *DBTestSuite) createUser(username string) int64 {
	user, err := suite.db.CreateUser(suite.ctx, username, "hash")
	require.NoError(suite.T(), err)
	return user.ID
}

func (suite *DBTestSuite) TestCreateUser() {
	user, err := suite.db.CreateUser(suite.ctx, "alice", "somehash")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "alice", user.Username)
	assert.Equal(suite.T(), "somehash", user.PasswordHash)
	assert.NotZero(suite.T(), user.ID)
}

func (suite *DBTestSuite) TestCreateUser_Duplicate() {
	_, err := suite.db.CreateUser(suite.ctx, "alice", "hash1")
	require.NoError(suite.T(), err)

	_, err = suite.db.CreateUser(suite.ctx, "alice", "hash2")
	assert.ErrorIs(suite.T(), err, ErrDuplicateUsername)

	// No duplicate rows were stored
	count, err := suite.db.UserCount(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, count)
}

func (suite *DBTestSuite) TestGetUserByUsername_CaseSensitive() {
	suite.createUser("Alice")

	_, err := suite.db.GetUserByUsername(suite.ctx, "alice")
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	user, err := suite.db.GetUserByUsername(suite.ctx, "Alice")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Alice", user.Username)
}

func (suite *DBTestSuite) TestGetUserByID_NotFound() {
	_, err := suite.db.GetUserByID(suite.ctx, 999)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestSessionLifecycle() {
	userID := suite.createUser("alice")

	err := suite.db.CreateSession(suite.ctx, "token-1", userID, time.Now().Add(time.Hour))
	require.NoError(suite.T(), err)

	user, err := suite.db.GetSessionUser(suite.ctx, "token-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), userID, user.ID)

	err = suite.db.DeleteSession(suite.ctx, "token-1")
	require.NoError(suite.T(), err)

	_, err = suite.db.GetSessionUser(suite.ctx, "token-1")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestGetSessionUser_Expired() {
	userID := suite.createUser("alice")

	err := suite.db.CreateSession(suite.ctx, "stale", userID, time.Now().Add(-time.Minute))
	require.NoError(suite.T(), err)

	_, err = suite.db.GetSessionUser(suite.ctx, "stale")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestCleanExpiredSessions() {
	userID := suite.createUser("alice")

	require.NoError(suite.T(), suite.db.CreateSession(suite.ctx, "live", userID, time.Now().Add(time.Hour)))
	require.NoError(suite.T(), suite.db.CreateSession(suite.ctx, "stale", userID, time.Now().Add(-time.Hour)))

	require.NoError(suite.T(), suite.db.CleanExpiredSessions(suite.ctx))

	_, err := suite.db.GetSessionUser(suite.ctx, "live")
	assert.NoError(suite.T(), err)
}

func (suite *DBTestSuite) TestCreateExpense() {
	userID := suite.createUser("alice")

	expense, err := suite.db.CreateExpense(suite.ctx, userID, decimal.NewFromFloat(10.50), "Lunch", "food", time.Now())
	require.NoError(suite.T(), err)
	assert.True(suite.T(), expense.Amount.Equal(decimal.NewFromFloat(10.50)))
	assert.Equal(suite.T(), userID, expense.UserID)
}

func (suite *DBTestSuite) TestListExpenses_OwnerScoped() {
	alice := suite.createUser("alice")
	bob := suite.createUser("bob")

	base := time.Now()
	expenses := []struct {
		userID      int64
		amount      float64
		description string
		offset      time.Duration
	}{
		{alice, 20.00, "Bus", time.Minute},
		{alice, 5.00, "Coffee", 2 * time.Minute},
		{bob, 15.00, "Snack", 3 * time.Minute},
	}

	for _, exp := range expenses {
		_, err := suite.db.CreateExpense(suite.ctx, exp.userID, decimal.NewFromFloat(exp.amount), exp.description, "misc", base.Add(exp.offset))
		require.NoError(suite.T(), err, "failed to create expense: %s", exp.description)
	}

	result, err := suite.db.ListExpenses(suite.ctx, alice)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), result, 2, "expected only alice's expenses")

	// Newest first
	assert.Equal(suite.T(), "Coffee", result[0].Description)
	assert.Equal(suite.T(), "Bus", result[1].Description)
}

func (suite *DBTestSuite) TestCategoryTotals() {
	userID := suite.createUser("alice")

	date := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	_, err := suite.db.CreateExpense(suite.ctx, userID, decimal.NewFromInt(30), "Groceries", "food", date)
	require.NoError(suite.T(), err)
	_, err = suite.db.CreateExpense(suite.ctx, userID, decimal.NewFromInt(20), "Dinner", "food", date.Add(time.Hour))
	require.NoError(suite.T(), err)
	_, err = suite.db.CreateExpense(suite.ctx, userID, decimal.NewFromInt(10), "Bus", "transport", date)
	require.NoError(suite.T(), err)
	// Outside the month
	_, err = suite.db.CreateExpense(suite.ctx, userID, decimal.NewFromInt(99), "Rent", "housing", date.AddDate(0, 1, 0))
	require.NoError(suite.T(), err)

	totals, err := suite.db.CategoryTotals(suite.ctx, userID, 2026, time.March)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), totals, 2)

	byCategory := map[string]string{}
	for _, ct := range totals {
		byCategory[ct.Category] = ct.Total.String()
	}
	assert.Equal(suite.T(), "50", byCategory["food"])
	assert.Equal(suite.T(), "10", byCategory["transport"])
}

func (suite *DBTestSuite) TestBudgets() {
	userID := suite.createUser("alice")

	budget, err := suite.db.CreateBudget(suite.ctx, userID, "food", decimal.NewFromInt(300), "monthly")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "monthly", budget.Period)

	budgets, err := suite.db.ListBudgets(suite.ctx, userID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), budgets, 1)
	assert.True(suite.T(), budgets[0].Limit.Equal(decimal.NewFromInt(300)))
}

func (suite *DBTestSuite) TestBillLifecycle() {
	userID := suite.createUser("alice")

	due := time.Now().Add(48 * time.Hour)
	bill, err := suite.db.CreateBill(suite.ctx, userID, "Electricity", decimal.NewFromInt(50), due)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), bill.Paid)
	assert.Empty(suite.T(), bill.ReminderID)

	require.NoError(suite.T(), suite.db.SetBillReminder(suite.ctx, bill.ID, "rem-123"))

	stored, err := suite.db.GetBill(suite.ctx, userID, bill.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "rem-123", stored.ReminderID)

	unpaid, err := suite.db.ListUnpaidBills(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), unpaid, 1)

	require.NoError(suite.T(), suite.db.MarkBillPaid(suite.ctx, userID, bill.ID))

	stored, err = suite.db.GetBill(suite.ctx, userID, bill.ID)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), stored.Paid)
	assert.Empty(suite.T(), stored.ReminderID)

	unpaid, err = suite.db.ListUnpaidBills(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), unpaid)
}

func (suite *DBTestSuite) TestBill_OwnerIsolation() {
	alice := suite.createUser("alice")
	bob := suite.createUser("bob")

	bill, err := suite.db.CreateBill(suite.ctx, alice, "Rent", decimal.NewFromInt(900), time.Now().Add(time.Hour))
	require.NoError(suite.T(), err)

	_, err = suite.db.GetBill(suite.ctx, bob, bill.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	err = suite.db.MarkBillPaid(suite.ctx, bob, bill.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	err = suite.db.DeleteBill(suite.ctx, bob, bill.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestDeleteBill() {
	userID := suite.createUser("alice")

	bill, err := suite.db.CreateBill(suite.ctx, userID, "Water", decimal.NewFromInt(25), time.Now().Add(time.Hour))
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), suite.db.DeleteBill(suite.ctx, userID, bill.ID))

	_, err = suite.db.GetBill(suite.ctx, userID, bill.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	err = suite.db.DeleteBill(suite.ctx, userID, bill.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func TestDBTestSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}
