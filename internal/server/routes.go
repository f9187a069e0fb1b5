package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/users/register", s.handleRegister)
	api.POST("/users/login", s.handleLogin)
	api.GET("/users/profile", s.handleProfile, s.requireAuth)
	api.POST("/users/watchlist", s.handleWatchlist, s.requireAuth)

	stocks := api.Group("/stocks", s.requireAuth)
	stocks.GET("/quote/:symbol", s.handleQuote)
	stocks.GET("/intraday/:symbol", s.handleIntraday)
	stocks.GET("/search/:keywords", s.handleSearch)
	stocks.GET("/overview/:symbol", s.handleOverview)
	stocks.GET("/news/:symbol", s.handleNews)

	s.echo.GET("/ws", s.handleWebSocket)
}
