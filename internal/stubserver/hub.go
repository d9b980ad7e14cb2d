package stubserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coach-messaging/internal/models"
)

// Hub maintains active event subscriptions keyed by user id.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*websocket.Conn]bool
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		users: make(map[string]map[*websocket.Conn]bool),
		log:   log.With().Str("component", "stub-hub").Logger(),
	}
}

// Add registers a websocket connection for a user.
func (h *Hub) Add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*websocket.Conn]bool)
	}
	h.users[userID][conn] = true
}

// Remove drops a websocket connection.
func (h *Hub) Remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
}

// Publish sends an event to all of the user's connections.
func (h *Hub) Publish(userID string, ev models.Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.users[userID]))
	for conn := range h.users[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket write error")
			conn.Close()
			h.Remove(userID, conn)
		}
	}
}
