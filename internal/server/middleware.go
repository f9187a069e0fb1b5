package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avollmer/stockwatch/internal/auth"
	apperrors "github.com/avollmer/stockwatch/internal/errors"
	"github.com/avollmer/stockwatch/internal/metrics"
)

const userIDContextKey = "userID"

// requireAuth authenticates the bearer token and stores the caller's
// user ID in the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())

		identity, err := s.auth.Authenticate(c.Request().Context(), token)
		if err != nil {
			metrics.AuthFailuresTotal.WithLabelValues(authFailureReason(err)).Inc()
			return apperrors.Unauthorized(authFailureMessage(err))
		}

		c.Set(userIDContextKey, identity.UserID)
		return next(c)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	default:
		return "invalid"
	}
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "authentication token required"
	case errors.Is(err, auth.ErrTokenExpired):
		return "authentication token expired"
	default:
		return "authentication token invalid"
	}
}
