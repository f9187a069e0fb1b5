package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avollmer/stockwatch/internal/version"
)

type livenessResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type readinessResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Now().Sub(s.startTime).Round(time.Second)
	return c.JSON(http.StatusOK, livenessResponse{
		Status: "ok",
		Uptime: uptime.String(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx := c.Request().Context()
	services := map[string]string{
		"postgres": "ok",
		"redis":    "ok",
	}
	status := http.StatusOK

	if err := s.postgres.Ping(ctx); err != nil {
		services["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		services["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	resp := readinessResponse{Status: "ok", Services: services}
	if status != http.StatusOK {
		resp.Status = "degraded"
	}
	return c.JSON(status, resp)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
