package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/avollmer/stockwatch/internal/auth"
	"github.com/avollmer/stockwatch/internal/config"
	"github.com/avollmer/stockwatch/internal/domain"
	apperrors "github.com/avollmer/stockwatch/internal/errors"
	"github.com/avollmer/stockwatch/internal/reconcile"
	"github.com/avollmer/stockwatch/internal/registry"
)

// marketAPI is the slice of the upstream market-data client the HTTP
// handlers need. Tests swap in a stub.
type marketAPI interface {
	Quote(ctx context.Context, symbol string) (json.RawMessage, error)
	Intraday(ctx context.Context, symbol string) (json.RawMessage, error)
	Search(ctx context.Context, keywords string) (json.RawMessage, error)
	Overview(ctx context.Context, symbol string) (json.RawMessage, error)
	News(ctx context.Context, symbol string) (json.RawMessage, error)
}

type postgresPinger interface {
	Ping(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Dependencies holds everything the server needs but does not own.
type Dependencies struct {
	Auth       *auth.Authenticator
	Passwords  auth.PasswordService
	Users      domain.UserRepository
	Watchlist  domain.WatchlistStore
	Registry   *registry.Registry
	Reconciler *reconcile.Reconciler
	Market     marketAPI
	Postgres   postgresPinger
	Redis      redisPinger
	Clock      clockwork.Clock
}

type Server struct {
	echo       *echo.Echo
	config     *config.Config
	auth       *auth.Authenticator
	passwords  auth.PasswordService
	users      domain.UserRepository
	watchlist  domain.WatchlistStore
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	market     marketAPI
	postgres   postgresPinger
	redis      redisPinger
	clock      clockwork.Clock
	sessions   *SessionManager
	limits     *ConnectionLimits
	startTime  time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		config:     cfg,
		auth:       deps.Auth,
		passwords:  deps.Passwords,
		users:      deps.Users,
		watchlist:  deps.Watchlist,
		registry:   deps.Registry,
		reconciler: deps.Reconciler,
		market:     deps.Market,
		postgres:   deps.Postgres,
		redis:      deps.Redis,
		clock:      deps.Clock,
		sessions:   NewSessionManager(),
		limits:     NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		startTime:  deps.Clock.Now(),
	}

	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	s.registerRoutes()
	return s
}

// Sessions exposes the session manager so the dispatcher can be wired
// to it as its frame sender.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

func (s *Server) Start() error {
	return s.echo.Start(":" + s.config.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.sessions.CloseAll()
	return err
}
