package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// Event types sent to websocket subscribers.
const (
	EventSnapshot = "snapshot"
	EventPush     = "push"
)

// Event is the frame written to websocket subscribers.
type Event struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// Subscriber is a connected websocket watcher.
type Subscriber struct {
	ID        string
	Conn      *websocket.Conn
	CreatedAt time.Time
	mu        sync.Mutex
}

// Hub tracks websocket subscribers and fans pushed messages out to them.
type Hub struct {
	subs map[string]*Subscriber
	mu   sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]*Subscriber),
	}
}

// Add registers a connection.
func (h *Hub) Add(conn *websocket.Conn) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Remove closes and forgets a subscriber.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		_ = sub.Conn.Close()
		delete(h.subs, id)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast sends an event to every subscriber. Write failures are logged;
// the reader goroutine of a broken connection removes it.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if err := sub.Send(data); err != nil {
			logging.WithComponent("relay").Debug("Broadcast failed",
				slog.String("subscriber", sub.ID), slog.Any("error", err))
		}
	}
}

// Send writes a text frame to the subscriber.
func (s *Subscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// SendEvent marshals and writes one event.
func (s *Subscriber) SendEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Send(data)
}
