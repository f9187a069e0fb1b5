package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/avollmer/stockwatch/internal/auth"
	"github.com/avollmer/stockwatch/internal/config"
	"github.com/avollmer/stockwatch/internal/database"
	"github.com/avollmer/stockwatch/internal/dispatch"
	"github.com/avollmer/stockwatch/internal/feed"
	"github.com/avollmer/stockwatch/internal/logging"
	"github.com/avollmer/stockwatch/internal/market"
	"github.com/avollmer/stockwatch/internal/reconcile"
	"github.com/avollmer/stockwatch/internal/redis"
	"github.com/avollmer/stockwatch/internal/registry"
	"github.com/avollmer/stockwatch/internal/server"
)

const dispatchBufferSize = 1024

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, dispatcher *dispatch.Dispatcher, cancelFeed context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		cancelFeed()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		dispatcher.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	userRepo := database.NewUserRepo(pool)
	watchlistRepo := database.NewWatchlistRepo(pool, clock)

	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, cfg.AuthTimeout, clock)
	reg := registry.New()
	reconciler := reconcile.New(watchlistRepo, reg)
	marketClient := market.NewClient(cfg.MarketDataBaseURL, cfg.MarketDataAPIKey)

	srv := server.NewServer(cfg, server.Dependencies{
		Auth:       authenticator,
		Passwords:  auth.NewPasswordService(),
		Users:      userRepo,
		Watchlist:  watchlistRepo,
		Registry:   reg,
		Reconciler: reconciler,
		Market:     marketClient,
		Postgres:   pool,
		Redis:      redisClient,
		Clock:      clock,
	})

	dispatcher := dispatch.New(reg, srv.Sessions(), dispatchBufferSize)
	dispatcher.Start()

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	consumer := feed.NewConsumer(redisClient, cfg.FeedChannel, dispatcher)
	go func() {
		if err := consumer.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Price feed stopped", "error", err)
		}
	}()

	done := runGracefulShutdown(srv, dispatcher, cancelFeed)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
