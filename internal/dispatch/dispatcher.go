// Package dispatch fans out inbound update events to subscribed sessions.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/avollmer/stockwatch/internal/metrics"
)

// Update is one inbound event from the upstream feed integration point.
type Update struct {
	Symbol  string          `json:"symbol"`
	Payload json.RawMessage `json:"payload"`
}

// SubscriberIndex is the read path into the subscription registry.
type SubscriberIndex interface {
	SubscribersOf(symbol string) []uuid.UUID
}

// Sender delivers an encoded frame to one session. It returns false when the
// session is gone or too slow; such deliveries are dropped, not retried.
type Sender interface {
	Send(sessionID uuid.UUID, frame []byte) bool
}

// Dispatcher consumes update events on a single goroutine, which preserves
// per-symbol arrival order. Delivery is at-most-once per event per session:
// the subscriber set is read at dispatch time, and sessions that vanish
// between lookup and delivery are skipped silently.
type Dispatcher struct {
	registry SubscriberIndex
	sender   Sender

	events   chan Update
	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

func New(registry SubscriberIndex, sender Sender, buffer int) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		events:   make(chan Update, buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	go d.run()
}

// Publish enqueues an update event. It returns false when the dispatcher is
// stopped or its buffer is full; the event is discarded in both cases.
func (d *Dispatcher) Publish(u Update) bool {
	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.events <- u:
		return true
	case <-d.done:
		return false
	default:
		slog.Warn("Dispatcher buffer full, dropping update", "symbol", u.Symbol)
		return false
	}
}

// Stop halts the dispatch loop after draining already-queued events.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.finished
}

func (d *Dispatcher) run() {
	defer close(d.finished)
	for {
		select {
		case u := <-d.events:
			d.dispatch(u)
		case <-d.done:
			for {
				select {
				case u := <-d.events:
					d.dispatch(u)
				default:
					return
				}
			}
		}
	}
}

type priceUpdateFrame struct {
	Event string `json:"event"`
	Data  Update `json:"data"`
}

func (d *Dispatcher) dispatch(u Update) {
	subscribers := d.registry.SubscribersOf(u.Symbol)
	if len(subscribers) == 0 {
		return
	}

	frame, err := json.Marshal(priceUpdateFrame{Event: "price_update", Data: u})
	if err != nil {
		slog.Error("Failed to encode price update", "symbol", u.Symbol, "error", err)
		return
	}

	for _, sessionID := range subscribers {
		if d.sender.Send(sessionID, frame) {
			metrics.FanoutDeliveredTotal.Inc()
		} else {
			metrics.FanoutDroppedTotal.Inc()
		}
	}
}
