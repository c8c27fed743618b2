// Package ws fans visit events out to every connection a clinician has open.
package ws

import (
	"io"
	"sync"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/ws"
)

// Connection is one live client channel
type Connection interface {
	ID() string
	Send(ev ws.Event) error
}

// Hub maps users to their live connections. It is created once by the
// process and handed to whoever needs to broadcast.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[Connection]struct{}
	owner map[Connection]string
	log   *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		users: make(map[string]map[Connection]struct{}),
		owner: make(map[Connection]string),
		log:   log.WithComponent("hub"),
	}
}

// Register adds conn to the user's connection set
func (h *Hub) Register(userID string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[userID]
	if !ok {
		set = make(map[Connection]struct{})
		h.users[userID] = set
	}
	set[conn] = struct{}{}
	h.owner[conn] = userID

	h.log.Debug("connection registered", "user_id", userID, "connection_id", conn.ID(), "connections", len(set))
}

// Unregister removes conn. Unknown connections are ignored.
func (h *Hub) Unregister(userID string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(userID, conn)
}

func (h *Hub) remove(userID string, conn Connection) bool {
	set, ok := h.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	delete(h.owner, conn)
	if len(set) == 0 {
		delete(h.users, userID)
	}
	return true
}

// Count returns the number of live connections of a user
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// ToSender delivers ev to the sender only
func (h *Hub) ToSender(sender Connection, ev ws.Event) {
	h.deliver([]Connection{sender}, ev)
}

// ToAllExcludingSender delivers ev to every other connection of the user
func (h *Hub) ToAllExcludingSender(sender Connection, userID string, ev ws.Event) {
	h.deliver(h.targets(userID, sender), ev)
}

// ToAllIncludingSender delivers ev to every connection of the user. The
// sender receives it even if it is not registered.
func (h *Hub) ToAllIncludingSender(sender Connection, userID string, ev ws.Event) {
	targets := h.targets(userID, sender)
	if sender != nil {
		targets = append(targets, sender)
	}
	h.deliver(targets, ev)
}

func (h *Hub) targets(userID string, exclude Connection) []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.users[userID]
	out := make([]Connection, 0, len(set))
	for conn := range set {
		if conn != exclude {
			out = append(out, conn)
		}
	}
	return out
}

// deliver sends to each target outside the lock. A failed connection is
// dropped from the hub and closed; the others still get the event.
func (h *Hub) deliver(targets []Connection, ev ws.Event) {
	for _, conn := range targets {
		if conn == nil {
			continue
		}
		if err := conn.Send(ev); err != nil {
			h.log.Warn("dropping connection after failed send",
				"connection_id", conn.ID(),
				"event", ev.Type,
				"error", err,
			)
			h.drop(conn)
		}
	}
}

func (h *Hub) drop(conn Connection) {
	h.mu.Lock()
	userID, ok := h.owner[conn]
	if ok {
		h.remove(userID, conn)
	}
	h.mu.Unlock()

	if closer, ok := conn.(io.Closer); ok {
		_ = closer.Close()
	}
}
