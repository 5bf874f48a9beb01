// Package events streams job and alert lifecycle events to dashboard
// clients over WebSocket.
package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types published on the stream.
const (
	TypeServiceAdded       = "service_added"
	TypeServiceDeleted     = "service_deleted"
	TypeServiceUnreachable = "service_unreachable"
	TypeAlertSent          = "alert_sent"
	TypeAlertAcknowledged  = "alert_acknowledged"
)

// Event is one entry on the live stream.
type Event struct {
	Type           string    `json:"type"`
	JobID          int64     `json:"job_id,omitempty"`
	NotificationID int64     `json:"notification_id,omitempty"`
	Stage          int       `json:"stage,omitempty"`
	URL            string    `json:"url,omitempty"`
	Time           time.Time `json:"time"`
}

const (
	maxClients     = 200
	publishBacklog = 64
	writeTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from a different origin.
		return true
	},
}

// Hub fans events out to every connected client. A single broadcaster
// goroutine owns the connection map; Publish never blocks the caller.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan Event
	done       chan struct{}
	log        *zap.Logger
}

// NewHub creates an event hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan Event, publishBacklog),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Publish enqueues an event for broadcast. When the backlog is full the
// event is dropped; the stream is a convenience view, never a source of
// truth, and slow dashboards must not stall alerting.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case h.events <- e:
	default:
	}
}

// Run drives the hub until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxClients {
				h.mu.Unlock()
				conn.Close()
				h.log.Warn("event stream client rejected", zap.Int("max_clients", maxClients))
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("event stream client connected", zap.Int("total", total))

		case conn := <-h.unregister:
			h.drop(conn)

		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

func (h *Hub) broadcast(e Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(e); err != nil {
			h.log.Info("event stream write failed, dropping client", zap.Error(err))
			h.drop(conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	// Read pump: clients send nothing meaningful, but reading is how we
	// learn they disconnected.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
