// Package feed adapts the upstream market-data feed to the fan-out
// dispatcher. Updates arrive as JSON messages on a Redis pub/sub channel;
// any producer that publishes into that channel satisfies the contract.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/avollmer/stockwatch/internal/dispatch"
	"github.com/avollmer/stockwatch/internal/metrics"
)

// Publisher is the dispatcher-side contract the consumer feeds into.
type Publisher interface {
	Publish(dispatch.Update) bool
}

type Consumer struct {
	rdb        *goredis.Client
	channel    string
	dispatcher Publisher
	backoff    time.Duration
}

func NewConsumer(rdb *goredis.Client, channel string, dispatcher Publisher) *Consumer {
	return &Consumer{
		rdb:        rdb,
		channel:    channel,
		dispatcher: dispatcher,
		backoff:    time.Second,
	}
}

// Run consumes the feed channel until the context is cancelled, resubscribing
// with backoff when the pub/sub connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Feed subscription lost, reconnecting", "channel", c.channel, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer func() { _ = sub.Close() }()

	// Fail fast if the subscription could not be established.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.channel, err)
	}
	slog.Info("Feed consumer subscribed", "channel", c.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pub/sub channel closed")
			}
			c.handle(msg.Payload)
		}
	}
}

func (c *Consumer) handle(raw string) {
	update, err := parseUpdate(raw)
	if err != nil {
		metrics.FeedMessagesTotal.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed feed message", "error", err)
		return
	}

	metrics.FeedMessagesTotal.WithLabelValues("ok").Inc()
	c.dispatcher.Publish(update)
}

// parseUpdate decodes one feed message of the form
// {"symbol":"AAPL","payload":{...}}.
func parseUpdate(raw string) (dispatch.Update, error) {
	var update dispatch.Update
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return dispatch.Update{}, fmt.Errorf("invalid feed message: %w", err)
	}
	if update.Symbol == "" {
		return dispatch.Update{}, fmt.Errorf("feed message missing symbol")
	}
	if len(update.Payload) == 0 {
		return dispatch.Update{}, fmt.Errorf("feed message missing payload")
	}
	return update, nil
}
