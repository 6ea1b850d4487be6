package signaling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/protocol"
	"github.com/BioHazard786/Warpcall/internal/roomid"
)

// MaxMembers is the room capacity of the two-party protocol.
const MaxMembers = 2

// Hub is the central brain of the signaling server.
// It manages all active rooms. Each room is locked on its own; the hub lock
// only guards the room registry.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	metrics *Metrics
}

// NewHub creates a new Hub instance. A nil metrics gets unregistered
// collectors.
func NewHub(metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		rooms:   make(map[string]*Room),
		clients: make(map[*Client]struct{}),
		metrics: metrics,
	}
}

// Register announces a new connection and tells it its participant id.
func (h *Hub) Register(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()

	h.metrics.Connections.Inc()
	slog.Info("client registered", "participant", c.ID)

	c.Enqueue(&protocol.Message{
		Type:          protocol.TypeWelcome,
		ParticipantID: c.ID,
	})
}

// Unregister removes the client from its room and shuts it down. The
// remaining member is not sent peer_left.
func (h *Hub) Unregister(c *Client) {
	h.leave(c, false)

	h.clientsMu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.clientsMu.Unlock()

	if ok {
		h.metrics.Connections.Dec()
	}
	c.Close()
	slog.Info("client unregistered", "participant", c.ID)
}

// Dispatch routes one inbound message.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	if protocol.IsRelayed(msg.Type) {
		h.Relay(c, msg)
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.Join(c, msg.RoomID)

	case protocol.TypeLeaveRoom:
		h.Leave(c)

	default:
		slog.Warn("unknown message type", "participant", c.ID, "type", msg.Type)
		h.metrics.Dropped.WithLabelValues("unknown_type").Inc()
	}
}

// Join adds c to roomID and assigns negotiation roles from a membership
// snapshot taken under the room lock. The joiner is told to offer when
// someone is already there; existing members are told to wait.
func (h *Hub) Join(c *Client, roomID string) {
	if !roomid.Valid(roomID) {
		slog.Warn("join without a valid room id", "participant", c.ID)
		h.metrics.Dropped.WithLabelValues("invalid_room").Inc()
		c.Enqueue(&protocol.Message{Type: protocol.TypeError, Error: protocol.ErrCodeInvalidRoomID})
		return
	}

	switch current := c.RoomID(); current {
	case roomID:
		slog.Debug("already in room", "participant", c.ID, "room", roomID)
		return
	case "":
	default:
		h.Leave(c)
	}

	for {
		room := h.getOrCreate(roomID)

		room.mu.Lock()
		if room.closed {
			// Lost a race with the last member leaving. Drop the dead
			// entry so the next lookup creates a fresh room.
			room.mu.Unlock()
			h.deleteRoom(room)
			continue
		}

		if len(room.members) >= MaxMembers {
			room.mu.Unlock()
			slog.Warn("room join failed: room is full", "participant", c.ID, "room", roomID)
			c.Enqueue(&protocol.Message{Type: protocol.TypeError, RoomID: roomID, Error: protocol.ErrCodeRoomFull})
			return
		}

		room.members = append(room.members, c)
		c.setRoomID(roomID)
		others := room.othersLocked(c)

		// Notifications are queued before the lock is released so no relayed
		// message from the new member can overtake them.
		if len(others) > 0 {
			c.Enqueue(&protocol.Message{Type: protocol.TypePeerReady, RoomID: roomID})
			for _, o := range others {
				o.Enqueue(&protocol.Message{
					Type:          protocol.TypeUserJoined,
					RoomID:        roomID,
					ParticipantID: c.ID,
				})
			}
		}
		room.mu.Unlock()

		slog.Info("client joined room", "participant", c.ID, "room", roomID, "members", len(others)+1)
		return
	}
}

// Relay forwards an offer, answer or ICE candidate to every other member of
// the sender's room, stamping the sender's id. Nobody to forward to is not
// an error.
func (h *Hub) Relay(c *Client, msg *protocol.Message) {
	if msg.RoomID == "" {
		slog.Warn("relay without room id", "participant", c.ID, "type", msg.Type)
		h.metrics.Dropped.WithLabelValues("missing_room").Inc()
		return
	}

	if current := c.RoomID(); current != msg.RoomID {
		slog.Warn("relay to a room the sender is not in", "participant", c.ID, "type", msg.Type, "room", msg.RoomID)
		h.metrics.Dropped.WithLabelValues("not_member").Inc()
		return
	}

	room := h.lookup(msg.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.hasLocked(c) {
		h.metrics.Dropped.WithLabelValues("not_member").Inc()
		return
	}

	for _, o := range room.othersLocked(c) {
		out := msg.Clone()
		out.From = c.ID
		out.ParticipantID = ""
		out.Error = ""
		if o.Enqueue(out) {
			h.metrics.Relayed.WithLabelValues(msg.Type).Inc()
		}
	}
}

// Leave removes c from its room. The remaining member is told the peer
// left; an emptied room is deleted right away.
func (h *Hub) Leave(c *Client) {
	h.leave(c, true)
}

func (h *Hub) leave(c *Client, notify bool) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}

	room := h.lookup(roomID)
	if room == nil {
		c.setRoomID("")
		return
	}

	room.mu.Lock()
	removed := room.removeLocked(c)
	c.setRoomID("")

	empty := len(room.members) == 0
	if empty {
		room.closed = true
	} else if removed && notify {
		for _, o := range room.members {
			o.Enqueue(&protocol.Message{
				Type:          protocol.TypePeerLeft,
				RoomID:        roomID,
				ParticipantID: c.ID,
			})
		}
	}
	room.mu.Unlock()

	if removed {
		slog.Info("client left room", "participant", c.ID, "room", roomID)
	}
	if empty {
		h.deleteRoom(room)
	}
}

// Room returns the room with the given id, if it exists.
func (h *Hub) Room(id string) (*Room, bool) {
	room := h.lookup(id)
	return room, room != nil
}

// RoomCount returns the number of rooms in the registry.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Run sweeps empty rooms every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				slog.Info("swept empty rooms", "count", n)
			}
		}
	}
}

// CloseAll disconnects every registered client, in a room or not. Used on
// shutdown, since hijacked WebSocket connections outlive
// http.Server.Shutdown.
func (h *Hub) CloseAll() int {
	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

// Sweep deletes rooms without members and returns how many were removed.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, room := range h.rooms {
		room.mu.Lock()
		if len(room.members) == 0 {
			room.closed = true
			delete(h.rooms, id)
			removed++
		}
		room.mu.Unlock()
	}
	h.metrics.Rooms.Sub(float64(removed))
	return removed
}

func (h *Hub) lookup(id string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}

func (h *Hub) getOrCreate(id string) *Room {
	if room := h.lookup(id); room != nil {
		return room
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[id]; ok {
		return room
	}
	room := newRoom(id)
	h.rooms[id] = room
	h.metrics.Rooms.Inc()
	slog.Debug("room created", "room", id)
	return room
}

func (h *Hub) deleteRoom(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room.ID] == room {
		delete(h.rooms, room.ID)
		h.metrics.Rooms.Dec()
		slog.Debug("room deleted", "room", room.ID)
	}
}
