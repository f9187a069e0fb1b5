// Package reconcile keeps live topic subscriptions aligned with the
// persisted watchlist.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avollmer/stockwatch/internal/domain"
	"github.com/avollmer/stockwatch/internal/registry"
)

// Registrar is the slice of the subscription registry the reconciler needs.
type Registrar interface {
	Subscribe(sessionID uuid.UUID, symbol string) error
	Unsubscribe(sessionID uuid.UUID, symbol string)
	SessionsOfUser(userID uuid.UUID) []uuid.UUID
}

// Lister is the read side of the watchlist store.
type Lister interface {
	List(ctx context.Context, userID uuid.UUID) ([]domain.WatchlistEntry, error)
}

type Reconciler struct {
	store    Lister
	registry Registrar
}

func New(store Lister, registry Registrar) *Reconciler {
	return &Reconciler{store: store, registry: registry}
}

// SessionStarted subscribes a freshly authenticated session to every symbol
// on its user's watchlist. The store is read first, outside any registry
// lock, so storage latency never blocks unrelated sessions. An error means
// the session must fail closed and never become ready.
func (r *Reconciler) SessionStarted(ctx context.Context, sessionID, userID uuid.UUID) error {
	entries, err := r.store.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}

	for _, entry := range entries {
		if err := r.registry.Subscribe(sessionID, entry.Symbol); err != nil {
			// A dropped session mid-reconciliation simply misses the rest.
			if errors.Is(err, registry.ErrUnknownSession) {
				slog.Info("Initial subscribe skipped", "session_id", sessionID, "error", err)
				return nil
			}
			// Anything else is per-symbol (e.g. a stored symbol that no
			// longer normalizes); skip it and keep going.
			slog.Warn("Skipping watchlist symbol", "session_id", sessionID, "symbol", entry.Symbol, "error", err)
		}
	}
	return nil
}

// WatchlistChanged propagates a persisted watchlist mutation to every open
// session of the user, at most once per session. Sessions that disconnect
// mid-propagation miss it; there is no queued retry.
func (r *Reconciler) WatchlistChanged(userID uuid.UUID, symbol string, action domain.WatchlistAction) {
	for _, sessionID := range r.registry.SessionsOfUser(userID) {
		switch action {
		case domain.WatchlistAdd:
			if err := r.registry.Subscribe(sessionID, symbol); err != nil {
				slog.Info("Watchlist sync subscribe skipped", "session_id", sessionID, "symbol", symbol, "error", err)
			}
		case domain.WatchlistRemove:
			r.registry.Unsubscribe(sessionID, symbol)
		}
	}
}
