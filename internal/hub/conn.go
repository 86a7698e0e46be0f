package hub

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/workpulse/risk-monitor/internal/metrics"
)

// Conn is one observer's live channel, owned exclusively by the Hub. The
// writer goroutine is the only writer on the underlying websocket since
// gorilla permits a single concurrent writer.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.New().String(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the connection's identifier, used only for logging.
func (c *Conn) ID() string { return c.id }

// enqueue offers a payload to the outbound queue without blocking. It reports
// false when the connection is gone or its queue is full.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// shutdown releases the connection. Safe to call more than once; the pumps
// observe the done channel and exit.
func (c *Conn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue onto the wire and emits keep-alive pings.
// Every write carries a deadline; any error is proof of death.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug("observer write failed", slog.String("conn", c.id), slog.Any("error", err))
				metrics.ObserveDeliveryFailure()
				return
			}
			metrics.ObserveDelivery()
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump consumes client frames to keep the connection's liveness deadline
// fresh. The channel is one-way for alerts, but a client text frame "ping"
// gets a JSON pong reply.
func (c *Conn) readPump() {
	defer c.hub.Unregister(c)

	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))

		if bytes.Equal(bytes.TrimSpace(message), []byte("ping")) {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.enqueue(pong)
		}
	}
}
