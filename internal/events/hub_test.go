package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================
// Test Helpers
// =====================================================

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == want },
		2*time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// =====================================================
// Hub Tests
// =====================================================

// TestHub_Broadcast verifies every client receives an event envelope.
func TestHub_Broadcast(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, hub, srv, 1)
	b := dial(t, hub, srv, 2)

	hub.Broadcast(EventSyncCompleted, map[string]interface{}{"resource_id": "r1", "items_synced": 3})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventSyncCompleted, env["type"])
		data := env["data"].(map[string]interface{})
		assert.Equal(t, "r1", data["resource_id"])
		assert.Equal(t, float64(3), data["items_synced"])
		assert.NotZero(t, env["timestamp"])
	}
}

// TestHub_Subscriptions verifies clients only receive subscribed events.
func TestHub_Subscriptions(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{EventSyncFailed},
	}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.Broadcast(EventSyncStarted, map[string]interface{}{"resource_id": "r1"})
	hub.Broadcast(EventSyncFailed, map[string]interface{}{"resource_id": "r1"})

	env := readEnvelope(t, conn)
	assert.Equal(t, EventSyncFailed, env["type"])
}

// TestHub_Ping verifies the application-level ping.
func TestHub_Ping(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	assert.Equal(t, "pong", readEnvelope(t, conn)["action"])
}

// TestHub_Disconnect verifies closed clients are unregistered.
func TestHub_Disconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 5*time.Millisecond)
}

// TestHub_Stopped verifies broadcasting after shutdown does not block.
func TestHub_Stopped(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	for i := 0; i < 2*sendBuffer; i++ {
		hub.Broadcast(EventSyncStarted, nil)
	}
}

// TestOriginChecker verifies origin filtering.
func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("")))
	assert.True(t, check(req("https://app.example.com")))
	assert.True(t, check(req("http://localhost:8080")))
	assert.False(t, check(req("https://evil.example.com")))

	assert.True(t, originChecker([]string{"*"})(req("https://anything.example")))
}
