// Package auth issues and validates bearer tokens and hashes credentials.
// Validation runs before any session or registry state exists; a failure here
// always means the connection or request is refused with nothing to clean up.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Typed authentication failures. Callers map these to refusal reasons.
var (
	ErrTokenMissing = errors.New("authentication token missing")
	ErrTokenInvalid = errors.New("authentication token invalid")
	ErrTokenExpired = errors.New("authentication token expired")
)

// Identity is the result of a successful token validation.
type Identity struct {
	UserID uuid.UUID
}

// Authenticator validates HMAC-signed bearer tokens under a bounded timeout.
type Authenticator struct {
	secret  []byte
	ttl     time.Duration
	timeout time.Duration
	clock   clockwork.Clock
}

func NewAuthenticator(secret string, ttl, timeout time.Duration, clock clockwork.Clock) *Authenticator {
	return &Authenticator{
		secret:  []byte(secret),
		ttl:     ttl,
		timeout: timeout,
		clock:   clock,
	}
}

// IssueToken signs a new bearer token for the given user.
func (a *Authenticator) IssueToken(userID uuid.UUID) (string, error) {
	now := a.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate validates a bearer token and returns the identity it carries.
// It must complete within the configured timeout; exceeding it refuses the
// caller the same way an expired token would.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		identity Identity
		err      error
	}
	done := make(chan result, 1)

	go func() {
		identity, err := a.validate(token)
		done <- result{identity, err}
	}()

	select {
	case <-ctx.Done():
		return Identity{}, ErrTokenExpired
	case r := <-done:
		return r.identity, r.err
	}
}

func (a *Authenticator) validate(token string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{UserID: userID}, nil
}
