// Package registry holds the in-memory bidirectional mapping between live
// sessions and topics. It is the only shared mutable state between the
// connection handlers, the reconciler, and the fan-out dispatcher.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/avollmer/stockwatch/internal/domain"
	"github.com/avollmer/stockwatch/internal/metrics"
)

// ErrUnknownSession is returned when a subscription is attempted for a
// session that was never registered or has already been dropped.
var ErrUnknownSession = errors.New("session not registered")

// Registry maps sessions to topics and back. All operations are pure
// in-memory mutations under a single lock: subscribe and unsubscribe are
// O(1), dropping a session is O(k) in its subscribed-topic count. Topics
// exist only while at least one session subscribes to them.
type Registry struct {
	mu sync.RWMutex

	// topic (normalized symbol) -> subscribed sessions
	topics map[string]map[uuid.UUID]struct{}
	// session -> subscribed topics
	sessions map[uuid.UUID]map[string]struct{}
	// session -> owning user, and the reverse index for the reconciler
	owners map[uuid.UUID]uuid.UUID
	byUser map[uuid.UUID]map[uuid.UUID]struct{}
}

func New() *Registry {
	return &Registry{
		topics:   make(map[string]map[uuid.UUID]struct{}),
		sessions: make(map[uuid.UUID]map[string]struct{}),
		owners:   make(map[uuid.UUID]uuid.UUID),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Register creates the registry entry for an authenticated session.
// Idempotent: re-registering an existing session is a no-op.
func (r *Registry) Register(sessionID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return
	}

	r.sessions[sessionID] = make(map[string]struct{})
	r.owners[sessionID] = userID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uuid.UUID]struct{})
	}
	r.byUser[userID][sessionID] = struct{}{}

	metrics.ActiveSessions.Inc()
}

// Subscribe adds the session to the topic for symbol, creating the topic if
// absent. Subscribing twice is a no-op. The symbol is normalized first;
// malformed symbols are rejected before they can become topic keys.
func (r *Registry) Subscribe(sessionID uuid.UUID, symbol string) error {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.sessions[sessionID]
	if !exists {
		return ErrUnknownSession
	}
	if _, already := subs[sym]; already {
		return nil
	}

	subs[sym] = struct{}{}
	if r.topics[sym] == nil {
		r.topics[sym] = make(map[uuid.UUID]struct{})
		metrics.ActiveTopics.Inc()
	}
	r.topics[sym][sessionID] = struct{}{}

	metrics.SubscriptionsTotal.WithLabelValues("subscribe").Inc()
	return nil
}

// Unsubscribe removes the session from the topic. Not being subscribed is a
// no-op, not an error. A topic left empty is deleted.
func (r *Registry) Unsubscribe(sessionID uuid.UUID, symbol string) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if _, subscribed := subs[sym]; !subscribed {
		return
	}

	delete(subs, sym)
	r.removeFromTopic(sym, sessionID)
	metrics.SubscriptionsTotal.WithLabelValues("unsubscribe").Inc()
}

// DropSession removes the session from every topic it belongs to and deletes
// the session entry. Topics left empty are garbage-collected. Dropping an
// unknown or already-dropped session is a no-op.
func (r *Registry) DropSession(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.sessions[sessionID]
	if !exists {
		return
	}

	for sym := range subs {
		r.removeFromTopic(sym, sessionID)
	}
	delete(r.sessions, sessionID)

	userID := r.owners[sessionID]
	delete(r.owners, sessionID)
	if set := r.byUser[userID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}

	metrics.ActiveSessions.Dec()
}

// SubscribersOf returns a snapshot of the sessions subscribed to symbol.
// An unknown or malformed symbol yields an empty result.
func (r *Registry) SubscribersOf(symbol string) []uuid.UUID {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.topics[sym]
	if len(members) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// SessionsOfUser returns a snapshot of the live sessions owned by a user.
func (r *Registry) SessionsOfUser(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// TopicsOf returns a snapshot of the topics a session is subscribed to.
func (r *Registry) TopicsOf(sessionID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.sessions[sessionID]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for sym := range subs {
		out = append(out, sym)
	}
	return out
}

// TopicCount returns the number of live topics.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// removeFromTopic deletes sessionID from a topic's member set and
// garbage-collects the topic when empty. Caller must hold the write lock.
func (r *Registry) removeFromTopic(sym string, sessionID uuid.UUID) {
	members := r.topics[sym]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.topics, sym)
		metrics.ActiveTopics.Dec()
	}
}
