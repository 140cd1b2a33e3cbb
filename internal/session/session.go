// Package session maps opaque tokens to authenticated principals.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finbook/internal/auth"
	"finbook/internal/models"
	"finbook/internal/storage"
)

// ErrNoSession indicates the token does not resolve to a live session.
var ErrNoSession = errors.New("no session")

// Principal is the verified identity attached to an authorized request.
type Principal struct {
	UserID   int64
	Username string
}

// Store is the slice of the session store the manager needs.
type Store interface {
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	GetSessionUser(ctx context.Context, token string) (*models.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// Manager owns the token lifecycle. Expiry is a construction-time policy,
// not a constant.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager constructs a Manager with the given session lifetime.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Start generates a fresh token and binds it to the account.
func (m *Manager) Start(ctx context.Context, user *models.User) (*models.Session, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	expiresAt := time.Now().Add(m.ttl)
	if err := m.store.CreateSession(ctx, token, user.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return &models.Session{Token: token, UserID: user.ID, ExpiresAt: expiresAt}, nil
}

// Resolve maps a token to its Principal. Expired and unknown tokens both
// fail with ErrNoSession.
func (m *Manager) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	user, err := m.store.GetSessionUser(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return &Principal{UserID: user.ID, Username: user.Username}, nil
}

// End destroys the session. Ending an unknown token is a no-op.
func (m *Manager) End(ctx context.Context, token string) error {
	return m.store.DeleteSession(ctx, token)
}
