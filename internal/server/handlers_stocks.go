package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avollmer/stockwatch/internal/domain"
	apperrors "github.com/avollmer/stockwatch/internal/errors"
)

func (s *Server) handleQuote(c echo.Context) error {
	return s.proxyMarketCall(c, s.market.Quote)
}

func (s *Server) handleIntraday(c echo.Context) error {
	return s.proxyMarketCall(c, s.market.Intraday)
}

func (s *Server) handleOverview(c echo.Context) error {
	return s.proxyMarketCall(c, s.market.Overview)
}

func (s *Server) handleNews(c echo.Context) error {
	return s.proxyMarketCall(c, s.market.News)
}

func (s *Server) handleSearch(c echo.Context) error {
	keywords := strings.TrimSpace(c.Param("keywords"))
	if keywords == "" {
		return apperrors.Validation("search keywords are required")
	}

	body, err := s.market.Search(c.Request().Context(), keywords)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (s *Server) proxyMarketCall(c echo.Context, call func(context.Context, string) (json.RawMessage, error)) error {
	symbol, err := domain.NormalizeSymbol(c.Param("symbol"))
	if err != nil {
		return apperrors.Validation(err.Error())
	}

	body, err := call(c.Request().Context(), symbol)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, body)
}
