package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workpulse/risk-monitor/internal/metrics"
	"github.com/workpulse/risk-monitor/internal/models"
	"github.com/workpulse/risk-monitor/internal/utils"
)

// Options tunes observer connection handling.
type Options struct {
	// WriteTimeout bounds each websocket write so a stalled observer cannot
	// stall its writer goroutine indefinitely.
	WriteTimeout time.Duration
	// PongWait is how long the reader waits for any client frame before the
	// connection is considered dead.
	PongWait time.Duration
	// PingInterval is the keep-alive ping cadence. Must be below PongWait.
	PingInterval time.Duration
	// SendBuffer is the per-connection outbound queue length. A connection
	// that cannot drain its queue is dropped rather than slowing the rest.
	SendBuffer int
}

func (o *Options) normalise() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 4 / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
}

// Hub tracks the set of live observer connections and fans alerts out to all
// of them. One slow or broken observer never blocks delivery to the others:
// Broadcast copies the connection set under lock, releases it, then hands the
// payload to each connection's buffered queue.
type Hub struct {
	logger  *slog.Logger
	opts    Options
	latency *utils.LatencyTracker

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// New constructs an empty Hub.
func New(logger *slog.Logger, opts Options) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	opts.normalise()
	return &Hub{
		logger:  logger,
		opts:    opts,
		latency: utils.NewLatencyTracker(512),
		conns:   make(map[*Conn]struct{}),
	}
}

// Register wraps an upgraded websocket connection, tracks it, starts its
// pump goroutines, and sends the welcome message.
func (h *Hub) Register(ws *websocket.Conn) *Conn {
	conn := newConn(h, ws)

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	metrics.ObserverConnected(1)
	h.logger.Info("observer connected", slog.String("conn", conn.ID()), slog.Int("total", total))

	go conn.writePump()
	go conn.readPump()

	conn.enqueue(mustMarshal(map[string]any{
		"type":      "connection",
		"message":   "connected to risk monitoring alerts",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}))
	return conn
}

// Unregister removes a connection and tears it down. Idempotent: removing an
// already-removed connection is a no-op.
func (h *Hub) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	_, present := h.conns[conn]
	if present {
		delete(h.conns, conn)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !present {
		return
	}
	conn.shutdown()
	metrics.ObserverConnected(-1)
	h.logger.Info("observer disconnected", slog.String("conn", conn.ID()), slog.Int("total", total))
}

// Broadcast serialises the alert once and delivers it to every registered
// connection. A connection whose queue is full is dropped; failures never
// propagate to the caller.
func (h *Hub) Broadcast(alert models.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		h.logger.Error("alert serialisation failed", slog.Any("error", err))
		return
	}

	start := time.Now()

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if !conn.enqueue(payload) {
			metrics.ObserveDeliveryFailure()
			h.logger.Warn("observer send queue full, dropping connection", slog.String("conn", conn.ID()))
			h.Unregister(conn)
		}
	}

	h.latency.Observe(time.Since(start))
}

// Publish lets the hub act as an alert sink for the dispatcher. Broadcast is
// best effort, so the error is always nil.
func (h *Hub) Publish(_ context.Context, alert models.Alert) error {
	h.Broadcast(alert)
	return nil
}

// Name identifies the hub in dispatcher logs.
func (h *Hub) Name() string { return "websocket" }

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats reports the connection count and broadcast latency percentiles.
func (h *Hub) Stats() (count int, p50, p95 time.Duration) {
	return h.Count(), h.latency.Percentile(50), h.latency.Percentile(95)
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
