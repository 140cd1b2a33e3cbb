package auth

import (
	"context"
	"errors"
	"fmt"

	"finbook/internal/models"
	"finbook/internal/storage"
)

// Sentinel errors surfaced by the verifier.
var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword indicates the password fails the length policy.
	ErrWeakPassword = errors.New("password too short")
)

// Store is the slice of the credential store the verifier needs.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Verifier validates username/password pairs against a credential store.
type Verifier struct {
	store       Store
	cost        int
	minPassword int
	dummyHash   string
}

// NewVerifier constructs a Verifier. The dummy hash is computed once so an
// unknown-user lookup still pays one bcrypt comparison, keeping response
// timing uniform across both failure modes.
func NewVerifier(store Store, cost, minPassword int) (*Verifier, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	dummy, err := HashPassword(token, cost)
	if err != nil {
		return nil, err
	}
	return &Verifier{store: store, cost: cost, minPassword: minPassword, dummyHash: dummy}, nil
}

// Register hashes the plaintext and creates the account. The plaintext is
// never stored or logged.
func (v *Verifier) Register(ctx context.Context, username, password string) (*models.User, error) {
	if len(password) < v.minPassword {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, v.minPassword)
	}
	hash, err := HashPassword(password, v.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return v.store.CreateUser(ctx, username, hash)
}

// Verify checks a username/password pair and returns the matching account.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*models.User, error) {
	user, err := v.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Equivalent-cost comparison against the dummy hash.
			CheckPassword(password, v.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
