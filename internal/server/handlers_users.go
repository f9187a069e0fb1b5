package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/avollmer/stockwatch/internal/domain"
	apperrors "github.com/avollmer/stockwatch/internal/errors"
)

const minPasswordLength = 6

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Token string    `json:"token"`
}

// userResponse always carries the watchlist key, [] for a fresh user.
type userResponse struct {
	ID        uuid.UUID               `json:"id"`
	Name      string                  `json:"name"`
	Email     string                  `json:"email"`
	Watchlist []domain.WatchlistEntry `json:"watchlist"`
	Token     string                  `json:"token,omitempty"`
}

type watchlistRequest struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"`
}

// watchlistOrEmpty keeps the wire contract: the watchlist key is always an
// array, never null, even if a store hands back a nil slice.
func watchlistOrEmpty(entries []domain.WatchlistEntry) []domain.WatchlistEntry {
	if entries == nil {
		return []domain.WatchlistEntry{}
	}
	return entries
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" || req.Password == "" {
		return apperrors.Validation("name, email and password are required")
	}
	if !strings.Contains(email, "@") {
		return apperrors.Validation("invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return apperrors.Validation("password must be at least 6 characters")
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return apperrors.Internal("failed to hash password", err)
	}

	user, err := s.users.Create(c.Request().Context(), name, email, hash)
	if errors.Is(err, domain.ErrEmailTaken) {
		return apperrors.Conflict("user already exists")
	}
	if err != nil {
		return apperrors.Internal("failed to create user", err)
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		return apperrors.Internal("failed to issue token", err)
	}

	return c.JSON(http.StatusCreated, registerResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Token: token,
	})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return apperrors.Validation("email and password are required")
	}

	user, err := s.users.GetByEmail(c.Request().Context(), email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.Unauthorized("invalid email or password")
	}
	if err != nil {
		return apperrors.Internal("failed to look up user", err)
	}

	if !s.passwords.Compare(user.PasswordHash, req.Password) {
		return apperrors.Unauthorized("invalid email or password")
	}

	watchlist, err := s.watchlist.List(c.Request().Context(), user.ID)
	if err != nil {
		return apperrors.Internal("failed to load watchlist", err)
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		return apperrors.Internal("failed to issue token", err)
	}

	return c.JSON(http.StatusOK, userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Watchlist: watchlistOrEmpty(watchlist),
		Token:     token,
	})
}

func (s *Server) handleProfile(c echo.Context) error {
	userID := c.Get(userIDContextKey).(uuid.UUID)

	user, err := s.users.GetByID(c.Request().Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.NotFound("user not found")
	}
	if err != nil {
		return apperrors.Internal("failed to look up user", err)
	}

	watchlist, err := s.watchlist.List(c.Request().Context(), userID)
	if err != nil {
		return apperrors.Internal("failed to load watchlist", err)
	}

	return c.JSON(http.StatusOK, userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Watchlist: watchlistOrEmpty(watchlist),
	})
}

// handleWatchlist mutates the caller's persisted watchlist and nudges
// the reconciler so open sessions follow the change.
func (s *Server) handleWatchlist(c echo.Context) error {
	userID := c.Get(userIDContextKey).(uuid.UUID)

	var req watchlistRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}

	symbol, err := domain.NormalizeSymbol(req.Symbol)
	if err != nil {
		return apperrors.Validation(err.Error())
	}

	var action domain.WatchlistAction
	switch req.Action {
	case "add":
		action = domain.WatchlistAdd
	case "remove":
		action = domain.WatchlistRemove
	default:
		return apperrors.Validation("action must be add or remove")
	}

	ctx := c.Request().Context()
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return apperrors.NotFound("user not found")
		}
		return apperrors.Internal("failed to look up user", err)
	}

	switch action {
	case domain.WatchlistAdd:
		err = s.watchlist.Add(ctx, userID, symbol)
	case domain.WatchlistRemove:
		err = s.watchlist.Remove(ctx, userID, symbol)
	}
	if err != nil {
		return apperrors.Internal("failed to update watchlist", err)
	}

	s.reconciler.WatchlistChanged(userID, symbol, action)

	watchlist, err := s.watchlist.List(ctx, userID)
	if err != nil {
		return apperrors.Internal("failed to load watchlist", err)
	}

	return c.JSON(http.StatusOK, watchlistOrEmpty(watchlist))
}
