// Package websocket pushes live state-change events to connected
// dashboards. The hub subscribes to the monitor; clients are read-only
// consumers.
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// SnapshotProvider supplies the current resource set sent to each
// client on connect, so a dashboard renders without waiting for the
// next state change.
type SnapshotProvider interface {
	Snapshot() []domain.Resource
}

// message is the wire envelope for everything the hub sends.
type message struct {
	Type string    `json:"type"` // "snapshot" or "state_change"
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Hub maintains active clients and fans state-change events out to
// them. Slow clients are evicted rather than allowed to stall the
// broadcast loop.
type Hub struct {
	broadcast  chan domain.StateChange
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	snapshots SnapshotProvider // optional
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan domain.StateChange, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// WithSnapshots sets the provider for the on-connect snapshot message.
func (h *Hub) WithSnapshots(p SnapshotProvider) *Hub {
	h.snapshots = p
	return h
}

// Run is the hub's event loop; it returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Println("websocket: hub started")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			log.Println("websocket: hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket: client connected (remote=%s, total=%d)",
				client.conn.RemoteAddr(), n)
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("websocket: client disconnected (remote=%s, total=%d)",
					client.conn.RemoteAddr(), len(h.clients))
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			data, err := json.Marshal(message{Type: "state_change", At: ev.ObservedAt, Data: ev})
			if err != nil {
				log.Printf("websocket: marshal state change: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Send buffer full: the client is too slow to keep
					// the feed; drop it.
					close(client.send)
					delete(h.clients, client)
					log.Printf("websocket: client send buffer full, evicting (remote=%s)",
						client.conn.RemoteAddr())
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a state change for delivery to all clients. It
// never blocks; when the hub is saturated the event is dropped, as the
// feed is advisory and the API remains the source of truth.
func (h *Hub) Broadcast(ev domain.StateChange) {
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("websocket: broadcast channel full, dropping event for %s", ev.Resource)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshots == nil {
		return
	}
	data, err := json.Marshal(message{Type: "snapshot", At: time.Now().UTC(), Data: h.snapshots.Snapshot()})
	if err != nil {
		log.Printf("websocket: marshal snapshot: %v", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
