// Package streaming carries booking-assigned events to external
// observers: a structured-log publisher for the default path, and a
// websocket hub for a live admin-UI decision feed.
package streaming

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxWSConnections = 200

// DecisionHub fans out decision events to connected websocket clients.
// Grounded on control_plane/ws_hub.go's MetricsHub: same
// register/unregister channel pattern, same connection cap, same
// per-client write deadline to avoid one dead connection blocking the
// broadcast. Retargeted from a per-tenant ticker-poll of dashboard
// metrics to an event-driven broadcast: this domain has discrete
// decision events to push (one per Assign call) rather than a continuous
// metrics snapshot to sample, so DecisionHub is fed via Broadcast instead
// of polling a service on a ticker.
type DecisionHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan Event
	mu         sync.RWMutex
}

func NewDecisionHub() *DecisionHub {
	return &DecisionHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan Event, 256),
	}
}

// Run starts the hub's main loop, consuming registrations and events
// until ctx is cancelled.
func (h *DecisionHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("[streaming] ws connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// Broadcast enqueues an event for delivery to every connected client.
// Non-blocking: a full event queue drops the event rather than stalling
// the caller (mirrors internal/engine's publishAsync best-effort policy).
func (h *DecisionHub) Broadcast(event Event) {
	select {
	case h.events <- event:
	default:
		log.Printf("[streaming] decision hub event queue full, dropping event %s", event.ID)
	}
}

func (h *DecisionHub) broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("[streaming] ws write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *DecisionHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

func (h *DecisionHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

func (h *DecisionHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

func (h *DecisionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
