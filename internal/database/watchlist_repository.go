package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/avollmer/stockwatch/internal/domain"
)

// WatchlistRepo implements domain.WatchlistStore backed by PostgreSQL.
// Every mutation is a single statement, so it is either fully committed or
// not at all; there is no partial-success state to reason about.
type WatchlistRepo struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewWatchlistRepo(pool *pgxpool.Pool, clock clockwork.Clock) *WatchlistRepo {
	return &WatchlistRepo{pool: pool, clock: clock}
}

// Add inserts the symbol into the user's watchlist. Adding a symbol that is
// already present is a no-op; the original added_at is preserved.
func (r *WatchlistRepo) Add(ctx context.Context, userID uuid.UUID, symbol string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO watchlist_entries (user_id, symbol, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, symbol) DO NOTHING
	`, userID, symbol, r.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to add watchlist entry: %w", err)
	}
	return nil
}

// Remove deletes the symbol from the user's watchlist. Removing an absent
// symbol is a no-op.
func (r *WatchlistRepo) Remove(ctx context.Context, userID uuid.UUID, symbol string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM watchlist_entries WHERE user_id = $1 AND symbol = $2
	`, userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", err)
	}
	return nil
}

// List returns the user's watchlist ordered by when each symbol was added.
func (r *WatchlistRepo) List(ctx context.Context, userID uuid.UUID) ([]domain.WatchlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT symbol, added_at FROM watchlist_entries
		WHERE user_id = $1
		ORDER BY added_at, symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	defer rows.Close()

	entries := []domain.WatchlistEntry{}
	for rows.Next() {
		var entry domain.WatchlistEntry
		if err := rows.Scan(&entry.Symbol, &entry.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist rows: %w", err)
	}
	return entries, nil
}
