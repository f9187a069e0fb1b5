package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, token), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event, symbol string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientFrame{Event: event, Symbol: symbol}))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func frameEvent(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var event string
	require.NoError(t, json.Unmarshal(frame["event"], &event))
	return event
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.registry.SessionCount())
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "not-a-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.registry.SessionCount())
}

func TestWebSocketSubscribeRoutesToSession(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	sendFrame(t, conn, "subscribe_stock", "aapl")

	require.Eventually(t, func() bool {
		return len(env.registry.SubscribersOf("AAPL")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sessions := env.registry.SessionsOfUser(user.ID)
	require.Len(t, sessions, 1)

	frame, _ := json.Marshal(map[string]any{
		"event": "price_update",
		"data":  map[string]any{"symbol": "AAPL", "price": 187.32},
	})
	require.True(t, env.server.Sessions().Send(sessions[0], frame))

	received := readFrame(t, conn)
	assert.Equal(t, "price_update", frameEvent(t, received))
	assert.Contains(t, string(received["data"]), "AAPL")
}

func TestWebSocketSendToUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.server.Sessions().Send(uuid.New(), []byte(`{}`)))
}

func TestWebSocketConnectSubscribesWatchlist(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")

	rec := doJSON(t, env, http.MethodPost, "/api/users/watchlist", user.Token, watchlistRequest{Symbol: "AAPL", Action: "add"})
	require.Equal(t, http.StatusOK, rec.Code)

	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()
	dialWS(t, ts, user.Token)

	require.Eventually(t, func() bool {
		return len(env.registry.SubscribersOf("AAPL")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketWatchlistChangeReachesOpenSession(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	dialWS(t, ts, user.Token)
	require.Eventually(t, func() bool {
		return env.registry.SessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, env, http.MethodPost, "/api/users/watchlist", user.Token, watchlistRequest{Symbol: "MSFT", Action: "add"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(env.registry.SubscribersOf("MSFT")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(t, env, http.MethodPost, "/api/users/watchlist", user.Token, watchlistRequest{Symbol: "MSFT", Action: "remove"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(env.registry.SubscribersOf("MSFT")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketMalformedFrameAnswersError(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frameEvent(t, frame))

	// The connection survives a bad frame.
	sendFrame(t, conn, "subscribe_stock", "AAPL")
	require.Eventually(t, func() bool {
		return len(env.registry.SubscribersOf("AAPL")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketUnknownEventAnswersError(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	sendFrame(t, conn, "buy_stock", "AAPL")

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frameEvent(t, frame))
}

func TestWebSocketMalformedSymbolAnswersError(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	sendFrame(t, conn, "subscribe_stock", "not a symbol!")

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frameEvent(t, frame))
	assert.Equal(t, 0, env.registry.TopicCount())
}

func TestWebSocketUnsubscribeDropsTopic(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	sendFrame(t, conn, "subscribe_stock", "AAPL")
	require.Eventually(t, func() bool {
		return env.registry.TopicCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	sendFrame(t, conn, "unsubscribe_stock", "AAPL")
	require.Eventually(t, func() bool {
		return env.registry.TopicCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)
	sendFrame(t, conn, "subscribe_stock", "AAPL")
	require.Eventually(t, func() bool {
		return env.registry.TopicCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return env.registry.SessionCount() == 0 &&
			env.registry.TopicCount() == 0 &&
			env.server.Sessions().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketFailedWatchlistLoadClosesSession(t *testing.T) {
	env := newTestEnv(t)
	user := registerUser(t, env, "Alice", "alice@example.com", "secret123")
	env.watchlist.listErr = assert.AnError

	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	conn := dialWS(t, ts, user.Token)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return env.registry.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
