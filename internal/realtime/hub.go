package realtime

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ogacraft/api/internal/metrics"
)

// Hub tracks live connections and their room memberships and delivers
// events to a single user (through Presence) or to every member of a room.
// Delivery is best effort: offline users and full connection queues drop
// the event without retry.
type Hub struct {
	presence *Presence
	rooms    *Rooms
	logger   zerolog.Logger

	mu      sync.RWMutex
	conns   map[string]Conn
	members map[string]map[string]struct{} // room -> connections
	joined  map[string]map[string]struct{} // connection -> rooms
}

func NewHub(presence *Presence, rooms *Rooms, logger zerolog.Logger) *Hub {
	return &Hub{
		presence: presence,
		rooms:    rooms,
		logger:   logger.With().Str("component", "hub").Logger(),
		conns:    make(map[string]Conn),
		members:  make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Presence() *Presence { return h.presence }
func (h *Hub) Rooms() *Rooms       { return h.rooms }

func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()
	metrics.SocketConnections.Inc()
}

// Unregister drops the connection from every room and unbinds the users
// authenticated on it. It returns the unbound user ids.
func (h *Hub) Unregister(connID string) []string {
	h.mu.Lock()
	if _, ok := h.conns[connID]; ok {
		delete(h.conns, connID)
		metrics.SocketConnections.Dec()
	}
	for roomID := range h.joined[connID] {
		members := h.members[roomID]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.members, roomID)
		}
	}
	delete(h.joined, connID)
	h.mu.Unlock()

	unbound := h.presence.Unbind(connID)
	metrics.OnlineUsers.Set(float64(h.presence.Len()))
	return unbound
}

func (h *Hub) Authenticate(userID, connID string) {
	h.presence.Bind(userID, connID)
	metrics.OnlineUsers.Set(float64(h.presence.Len()))
}

func (h *Hub) EnsureRoom(jobID string) string {
	roomID := h.rooms.Ensure(jobID)
	metrics.Rooms.Set(float64(h.rooms.Len()))
	return roomID
}

// JoinRoom adds a registered connection to a room. Joining twice is a no-op.
func (h *Hub) JoinRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	members := h.members[roomID]
	if members == nil {
		members = make(map[string]struct{})
		h.members[roomID] = members
	}
	members[connID] = struct{}{}

	rooms := h.joined[connID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		h.joined[connID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Members lists the connections joined to roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.members[roomID]))
	for connID := range h.members[roomID] {
		ids = append(ids, connID)
	}
	sort.Strings(ids)
	return ids
}

// NotifyUser sends an event to the connection userID is bound to. It
// reports whether the event was queued.
func (h *Hub) NotifyUser(userID, name string, payload any) bool {
	connID, ok := h.presence.Lookup(userID)
	if !ok {
		metrics.Notifications.WithLabelValues("user", "offline").Inc()
		return false
	}

	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		metrics.Notifications.WithLabelValues("user", "offline").Inc()
		return false
	}

	event, err := NewEvent(name, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", name).Str("user_id", userID).Msg("encode notification")
		return false
	}
	if !conn.Send(event) {
		metrics.Notifications.WithLabelValues("user", "dropped").Inc()
		h.logger.Warn().Str("event", name).Str("conn_id", connID).Msg("notification dropped")
		return false
	}
	metrics.Notifications.WithLabelValues("user", "delivered").Inc()
	return true
}

// NotifyRoom sends an event to every connection joined to roomID and
// returns how many were queued.
func (h *Hub) NotifyRoom(roomID, name string, payload any) int {
	event, err := NewEvent(name, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", name).Str("room_id", roomID).Msg("encode room event")
		return 0
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.members[roomID]))
	for connID := range h.members[roomID] {
		if conn, ok := h.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Send(event) {
			delivered++
			metrics.Notifications.WithLabelValues("room", "delivered").Inc()
			continue
		}
		metrics.Notifications.WithLabelValues("room", "dropped").Inc()
		h.logger.Warn().Str("event", name).Str("conn_id", conn.ID()).Msg("room event dropped")
	}
	return delivered
}
