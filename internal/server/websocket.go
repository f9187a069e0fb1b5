package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	apperrors "github.com/avollmer/stockwatch/internal/errors"
	"github.com/avollmer/stockwatch/internal/logging"
	"github.com/avollmer/stockwatch/internal/metrics"
	"github.com/avollmer/stockwatch/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateClosed
)

// session is one live websocket connection bound to an authenticated
// user. Its lifecycle runs Connecting, Authenticated, Closed; teardown
// is funneled through closeOnce so every exit path converges on a
// single cleanup.
type session struct {
	id     uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn

	state  atomic.Int32
	send   chan []byte
	closed chan struct{}

	closeOnce sync.Once
}

func newSession(userID uuid.UUID, conn *websocket.Conn) *session {
	return &session{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (s *session) markAuthenticated() {
	s.state.CompareAndSwap(int32(stateConnecting), int32(stateAuthenticated))
}

// close moves the session to Closed and wakes the write pump. Safe to
// call from any goroutine, any number of times.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosed))
		close(s.closed)
		_ = s.conn.Close()
	})
}

// enqueue hands a frame to the write pump without blocking. A full
// buffer means the client cannot keep up; the frame is dropped and the
// session torn down rather than stalling the caller.
func (s *session) enqueue(frame []byte) bool {
	if sessionState(s.state.Load()) != stateAuthenticated {
		return false
	}
	select {
	case s.send <- frame:
		return true
	case <-s.closed:
		return false
	default:
		s.close()
		return false
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

type clientFrame struct {
	Event  string `json:"event"`
	Symbol string `json:"symbol"`
}

type errorFrame struct {
	Event string         `json:"event"`
	Data  errorFrameData `json:"data"`
}

type errorFrameData struct {
	Message string `json:"message"`
}

func encodeErrorFrame(message string) []byte {
	frame, _ := json.Marshal(errorFrame{Event: "error", Data: errorFrameData{Message: message}})
	return frame
}

// readPump consumes client frames until the connection dies. Malformed
// frames and failed subscriptions answer with an error frame; the
// connection stays up.
func (s *session) readPump(reg *registry.Registry, logger *slog.Logger) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.enqueue(encodeErrorFrame("malformed message"))
			continue
		}

		switch frame.Event {
		case "subscribe_stock":
			if err := reg.Subscribe(s.id, frame.Symbol); err != nil {
				s.enqueue(encodeErrorFrame(subscribeFailureMessage(err)))
				continue
			}
			logger.Debug("subscribed", logging.WithSymbol(frame.Symbol))
		case "unsubscribe_stock":
			reg.Unsubscribe(s.id, frame.Symbol)
			logger.Debug("unsubscribed", logging.WithSymbol(frame.Symbol))
		default:
			s.enqueue(encodeErrorFrame("unknown event"))
		}
	}
}

func subscribeFailureMessage(err error) string {
	if errors.Is(err, registry.ErrUnknownSession) {
		return "session not registered"
	}
	return err.Error()
}

// SessionManager tracks live sessions by ID and delivers dispatcher
// frames to them.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[uuid.UUID]*session)}
}

func (m *SessionManager) add(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
}

func (m *SessionManager) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Send delivers one frame to the identified session. It reports false
// when the session is gone or cannot accept the frame; the caller
// treats that as a drop, never a retry.
func (m *SessionManager) Send(sessionID uuid.UUID, frame []byte) bool {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return sess.enqueue(frame)
}

// CloseAll tears down every live session, used during shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// handleWebSocket upgrades an authenticated request into a live
// session. The token travels in the handshake (query parameter or
// Authorization header); a missing or bad token refuses the
// connection before any session state exists.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		return echo.NewHTTPError(http.StatusTooManyRequests, string(reason))
	}

	token := c.QueryParam("token")
	if token == "" {
		token = bearerToken(c.Request())
	}

	identity, err := s.auth.Authenticate(c.Request().Context(), token)
	if err != nil {
		s.limits.Release(ip)
		metrics.AuthFailuresTotal.WithLabelValues(authFailureReason(err)).Inc()
		return apperrors.Unauthorized(authFailureMessage(err))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		return nil
	}

	sess := newSession(identity.UserID, conn)
	logger := slog.With(logging.WithSession(sess.id), logging.WithUser(sess.userID))

	s.sessions.add(sess)
	s.registry.Register(sess.id, sess.userID)

	if err := s.reconciler.SessionStarted(c.Request().Context(), sess.id, sess.userID); err != nil {
		logger.Error("watchlist reconciliation failed, closing session", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watchlist unavailable"),
			time.Now().Add(writeWait))
		s.teardown(sess, ip)
		return nil
	}

	sess.markAuthenticated()
	logger.Info("session started")

	go sess.writePump()
	sess.readPump(s.registry, logger)

	s.teardown(sess, ip)
	logger.Info("session closed")
	return nil
}

// teardown runs the full cleanup for one session exactly once,
// regardless of which pump or error path got here first.
func (s *Server) teardown(sess *session, ip string) {
	sess.close()
	s.registry.DropSession(sess.id)
	s.sessions.remove(sess.id)
	s.limits.Release(ip)
}
