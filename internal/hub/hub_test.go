package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workpulse/risk-monitor/internal/models"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(nil, Options{
		WriteTimeout: time.Second,
		PongWait:     5 * time.Second,
		PingInterval: 2 * time.Second,
		SendBuffer:   8,
	})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		h.Register(ws)
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dialObserver(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readJSON(t *testing.T, client *websocket.Conn) map[string]any {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testAlert() models.Alert {
	return models.Alert{
		Type:      models.AlertEmployeeStress,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"employee_id": "EMP001", "stress_rate": 65.5},
	}
}

func TestRegisterSendsWelcomeMessage(t *testing.T) {
	h, srv := newTestHub(t)
	client := dialObserver(t, srv)

	welcome := readJSON(t, client)
	if welcome["type"] != "connection" {
		t.Fatalf("expected welcome message, got %v", welcome)
	}
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 1 })
}

func TestBroadcastFansOutToAllObservers(t *testing.T) {
	h, srv := newTestHub(t)

	const observers = 3
	clients := make([]*websocket.Conn, 0, observers)
	for i := 0; i < observers; i++ {
		client := dialObserver(t, srv)
		readJSON(t, client) // welcome
		clients = append(clients, client)
	}
	waitFor(t, 2*time.Second, func() bool { return h.Count() == observers })

	h.Broadcast(testAlert())

	for i, client := range clients {
		msg := readJSON(t, client)
		if msg["type"] != string(models.AlertEmployeeStress) {
			t.Fatalf("observer %d: unexpected message %v", i, msg)
		}
		data, ok := msg["data"].(map[string]any)
		if !ok || data["employee_id"] != "EMP001" {
			t.Fatalf("observer %d: unexpected payload %v", i, msg)
		}
	}
}

func TestBroadcastSurvivesDeadObserver(t *testing.T) {
	h, srv := newTestHub(t)

	healthy := dialObserver(t, srv)
	readJSON(t, healthy)
	doomed := dialObserver(t, srv)
	readJSON(t, doomed)
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 2 })

	_ = doomed.Close()
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 1 })

	h.Broadcast(testAlert())

	msg := readJSON(t, healthy)
	if msg["type"] != string(models.AlertEmployeeStress) {
		t.Fatalf("healthy observer missed the alert: %v", msg)
	}
}

func TestBroadcastToEmptyHubIsNoOp(t *testing.T) {
	h := New(nil, Options{})
	h.Broadcast(testAlert())
	if h.Count() != 0 {
		t.Fatalf("expected empty hub, got %d", h.Count())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h, srv := newTestHub(t)
	client := dialObserver(t, srv)
	readJSON(t, client)
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 1 })

	var conn *Conn
	h.mu.RLock()
	for c := range h.conns {
		conn = c
	}
	h.mu.RUnlock()

	h.Unregister(conn)
	h.Unregister(conn)
	if h.Count() != 0 {
		t.Fatalf("expected zero connections, got %d", h.Count())
	}
}

func TestClientPingGetsPongReply(t *testing.T) {
	h, srv := newTestHub(t)
	client := dialObserver(t, srv)
	readJSON(t, client)
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 1 })

	if err := client.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reply := readJSON(t, client)
	if reply["type"] != "pong" {
		t.Fatalf("expected pong, got %v", reply)
	}
}

func TestStatsReportsConnections(t *testing.T) {
	h, srv := newTestHub(t)
	client := dialObserver(t, srv)
	readJSON(t, client)
	waitFor(t, 2*time.Second, func() bool { return h.Count() == 1 })

	h.Broadcast(testAlert())
	readJSON(t, client)

	count, p50, p95 := h.Stats()
	if count != 1 {
		t.Fatalf("expected one connection, got %d", count)
	}
	if p50 < 0 || p95 < p50 {
		t.Fatalf("implausible latency percentiles: p50=%v p95=%v", p50, p95)
	}
}
