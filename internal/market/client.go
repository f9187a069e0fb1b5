// Package market is the request/response client for the upstream market-data
// provider. All calls go through a circuit breaker so a struggling provider
// degrades into fast 502s instead of tying up request goroutines.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/avollmer/stockwatch/internal/errors"
	"github.com/avollmer/stockwatch/internal/metrics"
)

const requestTimeout = 10 * time.Second

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string) *Client {
	settings := gobreaker.Settings{
		Name:    "market-data",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Market-data breaker state change", "from", from.String(), "to", to.String())
			metrics.UpstreamBreakerState.Set(breakerStateValue(to))
		},
	}

	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Quote returns the current quote for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (json.RawMessage, error) {
	return c.get(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}})
}

// Intraday returns the 5-minute intraday series for a symbol.
func (c *Client) Intraday(ctx context.Context, symbol string) (json.RawMessage, error) {
	return c.get(ctx, url.Values{"function": {"TIME_SERIES_INTRADAY"}, "symbol": {symbol}, "interval": {"5min"}})
}

// Search looks up symbols matching the given keywords.
func (c *Client) Search(ctx context.Context, keywords string) (json.RawMessage, error) {
	return c.get(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {keywords}})
}

// Overview returns company fundamentals for a symbol.
func (c *Client) Overview(ctx context.Context, symbol string) (json.RawMessage, error) {
	return c.get(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}})
}

// News returns news and sentiment for a symbol.
func (c *Client) News(ctx context.Context, symbol string) (json.RawMessage, error) {
	return c.get(ctx, url.Values{"function": {"NEWS_SENTIMENT"}, "tickers": {symbol}})
}

func (c *Client) get(ctx context.Context, params url.Values) (json.RawMessage, error) {
	params.Set("apikey", c.apiKey)

	body, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, params)
	})
	if err != nil {
		return nil, apperrors.External("market data provider unavailable", err)
	}
	return body.(json.RawMessage), nil
}

func (c *Client) doRequest(ctx context.Context, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return json.RawMessage(body), nil
}
