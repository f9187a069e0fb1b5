// Package server implements the HTTP server using Echo framework.
//
// Routes: users (register/login/profile/watchlist), stocks (market data proxy),
// /ws (live price stream), health and metrics.
// Handlers split by domain: handlers_users.go, handlers_stocks.go, handlers_health.go, websocket.go.
package server
