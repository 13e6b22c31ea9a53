package chat

import (
	"strings"
	"sync"
	"time"
)

// Presence is the coarse online/away status, distinct from raw connection
// liveness.
type Presence string

const (
	PresenceOnline Presence = "online"
	PresenceAway   Presence = "away"
)

// Class marks how a connection should be treated on transport loss. Mobile
// clients get a grace window and a shorter ping period.
type Class string

const (
	ClassStandard Class = "standard"
	ClassMobile   Class = "mobile"
)

// Sink is the delivery handle for one connection. The transport layer
// implements it; delivery failures are the transport's problem and never roll
// back core state.
type Sink interface {
	Deliver(event string, body any) error
}

// Client is a snapshot of one registered connection.
type Client struct {
	ConnID          string
	DisplayName     string
	Class           Class
	Room            string
	Presence        Presence
	LastHeartbeatAt time.Time
}

// Member is the projection used in presence payloads.
type Member struct {
	ConnID      string `json:"conn_id"`
	DisplayName string `json:"display_name"`
}

type clientState struct {
	Client
	sink Sink
}

// Registry maps live connection ids to client state. It is the sole authority
// on room membership: SetRoom is the only mutation path and enforces one room
// at a time.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*clientState
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*clientState)}
}

// Register creates an entry for a fresh connection. Empty display names fall
// back to a guest name derived from the connection id.
func (r *Registry) Register(connID, displayName string, class Class, sink Sink) Client {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = guestName(connID)
	}
	if class != ClassMobile {
		class = ClassStandard
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := &clientState{
		Client: Client{
			ConnID:          connID,
			DisplayName:     name,
			Class:           class,
			Presence:        PresenceOnline,
			LastHeartbeatAt: time.Now(),
		},
		sink: sink,
	}
	r.clients[connID] = c
	return c.Client
}

// Get returns a snapshot of the entry, if any.
func (r *Registry) Get(connID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[connID]
	if !ok {
		return Client{}, false
	}
	return c.Client, true
}

// SetRoom records the client's current room and returns the previous one.
// Joining a new room implicitly leaves the old one.
func (r *Registry) SetRoom(connID, roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return "", false
	}
	prev := c.Room
	c.Room = roomID
	return prev, true
}

// SetPresence updates the presence state. Unknown connections are ignored so a
// late app-state signal after disconnect never errors.
func (r *Registry) SetPresence(connID string, p Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[connID]; ok {
		c.Presence = p
	}
}

// Touch records a heartbeat response.
func (r *Registry) Touch(connID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[connID]; ok {
		c.LastHeartbeatAt = at
	}
}

// Unregister removes and returns the entry. Removing an absent id is a no-op,
// which makes double eviction (grace timer racing a reconnect) safe.
func (r *Registry) Unregister(connID string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return Client{}, false
	}
	delete(r.clients, connID)
	return c.Client, true
}

// ListInRoom snapshots the members of a room. Linear scan; fine at the tens to
// low hundreds of connections this serves.
func (r *Registry) ListInRoom(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Member
	for _, c := range r.clients {
		if c.Room == roomID {
			out = append(out, Member{ConnID: c.ConnID, DisplayName: c.DisplayName})
		}
	}
	return out
}

// SinksInRoom snapshots delivery handles for a room, optionally excluding one
// connection. Callers do the I/O outside the registry lock.
func (r *Registry) SinksInRoom(roomID, excludeConnID string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Sink
	for _, c := range r.clients {
		if c.Room == roomID && c.ConnID != excludeConnID {
			out = append(out, c.sink)
		}
	}
	return out
}

// SinkOf returns the delivery handle for one connection.
func (r *Registry) SinkOf(connID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[connID]
	if !ok || c.sink == nil {
		return nil, false
	}
	return c.sink, true
}

func guestName(connID string) string {
	suffix := connID
	if len(suffix) > 5 {
		suffix = suffix[:5]
	}
	return "Guest_" + suffix
}
