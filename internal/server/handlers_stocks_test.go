package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/avollmer/stockwatch/internal/errors"
)

func TestStockEndpointsProxyUpstream(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")

	tests := []struct {
		path string
		call string
	}{
		{"/api/stocks/quote/aapl", "quote:AAPL"},
		{"/api/stocks/intraday/msft", "intraday:MSFT"},
		{"/api/stocks/overview/nvda", "overview:NVDA"},
		{"/api/stocks/news/tsla", "news:TSLA"},
		{"/api/stocks/search/apple", "search:apple"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := doJSON(t, env, http.MethodGet, tc.path, user.Token, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
			assert.Contains(t, env.market.calls, tc.call)
		})
	}
}

func TestStockEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env, http.MethodGet, "/api/stocks/quote/AAPL", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.market.calls)
}

func TestStockEndpointsRejectMalformedSymbol(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")

	rec := doJSON(t, env, http.MethodGet, "/api/stocks/quote/not%20a%20symbol", user.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.market.calls)
}

func TestStockEndpointsSurfaceUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	env.market.err = apperrors.External("market data provider unavailable", nil)

	rec := doJSON(t, env, http.MethodGet, "/api/stocks/quote/AAPL", user.Token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
