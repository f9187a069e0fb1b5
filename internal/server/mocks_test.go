package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/avollmer/stockwatch/internal/auth"
	"github.com/avollmer/stockwatch/internal/config"
	"github.com/avollmer/stockwatch/internal/domain"
	"github.com/avollmer/stockwatch/internal/reconcile"
	"github.com/avollmer/stockwatch/internal/registry"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// memUserRepo is an in-memory UserRepository for handler tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, name, email, passwordHash string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return nil, domain.ErrEmailTaken
		}
	}
	user := &domain.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, domain.ErrUserNotFound
}

// memWatchlist is an in-memory WatchlistStore for handler tests.
type memWatchlist struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[string]time.Time
	listErr error
}

func newMemWatchlist() *memWatchlist {
	return &memWatchlist{entries: make(map[uuid.UUID]map[string]time.Time)}
}

func (s *memWatchlist) Add(_ context.Context, userID uuid.UUID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[userID] == nil {
		s.entries[userID] = make(map[string]time.Time)
	}
	if _, ok := s.entries[userID][symbol]; !ok {
		s.entries[userID][symbol] = time.Now()
	}
	return nil
}

func (s *memWatchlist) Remove(_ context.Context, userID uuid.UUID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[userID], symbol)
	return nil
}

func (s *memWatchlist) List(_ context.Context, userID uuid.UUID) ([]domain.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	entries := make([]domain.WatchlistEntry, 0, len(s.entries[userID]))
	for symbol, addedAt := range s.entries[userID] {
		entries = append(entries, domain.WatchlistEntry{Symbol: symbol, AddedAt: addedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	return entries, nil
}

// stubMarket answers every market call with a canned body and records
// the symbols it was asked for.
type stubMarket struct {
	mu      sync.Mutex
	calls   []string
	err     error
	payload json.RawMessage
}

func newStubMarket() *stubMarket {
	return &stubMarket{payload: json.RawMessage(`{"ok":true}`)}
}

func (m *stubMarket) record(op, arg string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s:%s", op, arg))
	if m.err != nil {
		return nil, m.err
	}
	return m.payload, nil
}

func (m *stubMarket) Quote(_ context.Context, symbol string) (json.RawMessage, error) {
	return m.record("quote", symbol)
}

func (m *stubMarket) Intraday(_ context.Context, symbol string) (json.RawMessage, error) {
	return m.record("intraday", symbol)
}

func (m *stubMarket) Search(_ context.Context, keywords string) (json.RawMessage, error) {
	return m.record("search", keywords)
}

func (m *stubMarket) Overview(_ context.Context, symbol string) (json.RawMessage, error) {
	return m.record("overview", symbol)
}

func (m *stubMarket) News(_ context.Context, symbol string) (json.RawMessage, error) {
	return m.record("news", symbol)
}

type stubPostgres struct {
	err error
}

func (p stubPostgres) Ping(context.Context) error { return p.err }

type stubRedis struct {
	err error
}

func (r stubRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	if r.err != nil {
		cmd.SetErr(r.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

type testEnv struct {
	server    *Server
	users     *memUserRepo
	watchlist *memWatchlist
	market    *stubMarket
	auth      *auth.Authenticator
	registry  *registry.Registry
	clock     *clockwork.FakeClock
	postgres  *stubPostgres
	redis     *stubRedis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClock()
	cfg := &config.Config{
		Port:                "0",
		JWTSecret:           testJWTSecret,
		TokenTTL:            30 * 24 * time.Hour,
		AuthTimeout:         3 * time.Second,
		MaxConnections:      100,
		MaxConnectionsPerIP: 10,
		ConnectionRate:      1000,
		ConnectionBurst:     1000,
	}

	users := newMemUserRepo()
	watchlist := newMemWatchlist()
	market := newStubMarket()
	reg := registry.New()
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, cfg.AuthTimeout, clock)
	postgres := &stubPostgres{}
	redis := &stubRedis{}

	srv := NewServer(cfg, Dependencies{
		Auth:       authenticator,
		Passwords:  auth.NewPasswordService(),
		Users:      users,
		Watchlist:  watchlist,
		Registry:   reg,
		Reconciler: reconcile.New(watchlist, reg),
		Market:     market,
		Postgres:   postgres,
		Redis:      redis,
		Clock:      clock,
	})

	return &testEnv{
		server:    srv,
		users:     users,
		watchlist: watchlist,
		market:    market,
		auth:      authenticator,
		registry:  reg,
		clock:     clock,
		postgres:  postgres,
		redis:     redis,
	}
}
