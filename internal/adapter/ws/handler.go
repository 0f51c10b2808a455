// Package ws implements the WebSocket adapter for real-time client communication.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"task_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Time    time.Time       `json:"time"`
}

// filter narrows the events a connection receives. Zero value matches all.
type filter struct {
	taskID string
	// prefixes match event types, e.g. "review." or "task.completed".
	prefixes []string
}

func (f filter) match(msg *Message) bool {
	if f.taskID != "" && msg.TaskID != f.taskID {
		return false
	}
	if len(f.prefixes) == 0 {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(msg.Type, p) {
			return true
		}
	}
	return false
}

// conn wraps a single WebSocket connection with its outbound queue.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte
	filter filter
}

// Hub manages all active WebSocket connections and broadcasts messages.
// A slow client never blocks a publisher: when its queue is full the
// message is dropped for that client only.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	origins []string
	dropped atomic.Int64
}

// NewHub creates a new WebSocket hub. origins lists accepted Origin host
// patterns; empty allows same-origin requests only.
func NewHub(origins []string) *Hub {
	return &Hub{
		conns:   make(map[*conn]struct{}),
		origins: origins,
	}
}

// HandleWS upgrades the request to a WebSocket. The optional query
// parameters task_id and types (comma-separated type prefixes) restrict
// the stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	f := filter{taskID: r.URL.Query().Get("task_id")}
	if types := r.URL.Query().Get("types"); types != "" {
		for _, p := range strings.Split(types, ",") {
			if p = strings.TrimSpace(p); p != "" {
				f.prefixes = append(f.prefixes, p)
			}
		}
	}

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	ctx = ws.CloseRead(ctx)
	c := &conn{ws: ws, cancel: cancel, send: make(chan []byte, sendBuffer), filter: f}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "task_id", f.taskID)

	go h.writeLoop(ctx, c)
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues a message for every connection whose filter matches.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !c.filter.match(&msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			slog.Debug("websocket client too slow, message dropped", "type", msg.Type)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// DroppedCount returns how many messages were dropped for slow clients.
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		h.remove(c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
