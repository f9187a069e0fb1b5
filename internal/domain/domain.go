// Package domain contains the core entities and the ports implemented by
// the persistence and transport layers.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. PasswordHash is a bcrypt hash produced by the
// auth package before the user ever reaches the store.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WatchlistEntry is one persisted symbol on a user's watchlist.
// Entries are immutable: created on add, deleted on remove.
type WatchlistEntry struct {
	Symbol  string    `json:"symbol"`
	AddedAt time.Time `json:"addedAt"`
}

// WatchlistAction is the mutation verb carried by the watchlist endpoint.
type WatchlistAction string

const (
	WatchlistAdd    WatchlistAction = "add"
	WatchlistRemove WatchlistAction = "remove"
)

// Sentinel errors shared across layers.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// UserRepository is the port for user persistence.
type UserRepository interface {
	Create(ctx context.Context, name, email, passwordHash string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// WatchlistStore is the port for the durable per-user symbol set.
// Add and Remove are idempotent and fully committed before returning.
type WatchlistStore interface {
	Add(ctx context.Context, userID uuid.UUID, symbol string) error
	Remove(ctx context.Context, userID uuid.UUID, symbol string) error
	List(ctx context.Context, userID uuid.UUID) ([]WatchlistEntry, error)
}
