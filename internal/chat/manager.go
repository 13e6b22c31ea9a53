package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownConnection means the event arrived for a connection the
	// manager no longer tracks (already evicted).
	ErrUnknownConnection = errors.New("unknown_connection")
	// ErrInvalidRoom rejects empty room ids on join.
	ErrInvalidRoom = errors.New("invalid_room")
)

// SessionState is the per-connection lifecycle state. Registration happens
// after the transport handshake, so a session starts out Connected.
type SessionState int

const (
	StateConnected SessionState = iota
	StateJoined
	StatePendingGrace
	StateEvicted
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StatePendingGrace:
		return "pending_grace"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

type session struct {
	connID     string
	identity   string
	class      Class
	room       string
	state      SessionState
	graceTimer *time.Timer
}

// ConnectedPayload is sent to a fresh connection so it learns its own identity
// (relevant when the display name was generated).
type ConnectedPayload struct {
	ConnID      string `json:"conn_id"`
	DisplayName string `json:"display_name"`
	Class       Class  `json:"class"`
}

// HistoryPayload carries a bounded history snapshot to one connection.
type HistoryPayload struct {
	Room        string    `json:"room"`
	DisplayName string    `json:"display_name"`
	Messages    []Message `json:"messages"`
}

// PresencePayload is broadcast to a room whenever its membership changes.
type PresencePayload struct {
	Room    string   `json:"room"`
	Members []Member `json:"members"`
	Count   int      `json:"count"`
}

// TypingPayload is forwarded to other room members, never stored.
type TypingPayload struct {
	Room     string `json:"room"`
	Sender   string `json:"sender"`
	IsTyping bool   `json:"is_typing"`
}

// ManagerOptions tune the lifecycle policy.
type ManagerOptions struct {
	// GraceWindow is how long a mobile-class connection is retained after
	// transport loss before it counts as gone.
	GraceWindow time.Duration
	// ResendLimit bounds the history resent when a client returns to the
	// foreground.
	ResendLimit int
}

// Manager owns join/leave/reconnect transitions. It is the only writer of
// session state; Room Store and Client Registry mutations flow through it and
// the Broker exclusively.
type Manager struct {
	rooms   *RoomStore
	clients *Registry
	broker  *Broker
	relay   Relay
	opts    ManagerOptions

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(rooms *RoomStore, clients *Registry, broker *Broker, relay Relay, opts ManagerOptions) *Manager {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 15 * time.Second
	}
	if opts.ResendLimit <= 0 {
		opts.ResendLimit = 20
	}
	return &Manager{
		rooms:    rooms,
		clients:  clients,
		broker:   broker,
		relay:    relay,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Connect registers a fresh connection and tells it who it is.
func (m *Manager) Connect(connID, identityHint string, class Class, sink Sink) Client {
	reg := m.clients.Register(connID, identityHint, class, sink)

	m.mu.Lock()
	m.sessions[connID] = &session{
		connID:   connID,
		identity: reg.DisplayName,
		class:    reg.Class,
		state:    StateConnected,
	}
	m.mu.Unlock()

	if err := sink.Deliver(EventConnected, ConnectedPayload{
		ConnID:      reg.ConnID,
		DisplayName: reg.DisplayName,
		Class:       reg.Class,
	}); err != nil {
		zap.L().Warn("manager.deliver_connected", zap.String("conn", connID), zap.Error(err))
	}
	zap.L().Info("client connected",
		zap.String("conn", connID),
		zap.String("name", reg.DisplayName),
		zap.String("class", string(reg.Class)))
	return reg
}

// Join moves the connection into roomID, leaving any prior room. The room is
// created on first join, the requester alone receives the stored history, and
// presence updates go to both the vacated and the joined room. A reconnecting
// mobile client absorbs its still-pending predecessor silently, so the room
// never sees a spurious "left the chat".
func (m *Manager) Join(connID, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	// Room exists before the membership is recorded.
	info, created := m.rooms.GetOrCreate(roomID)
	if created {
		zap.L().Info("room created", zap.String("room", roomID))
	}

	m.mu.Lock()
	s, ok := m.sessions[connID]
	if !ok || s.state == StateEvicted {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	silent, noisy := m.absorbPendingLocked(s.identity, roomID, connID)
	s.room = roomID
	s.state = StateJoined
	m.mu.Unlock()

	for _, staleID := range silent {
		if removed, ok := m.clients.Unregister(staleID); ok {
			if m.relay != nil && removed.Room != "" {
				m.relay.Unsubscribe(removed.Room)
			}
			zap.L().Debug("stale connection absorbed",
				zap.String("conn", staleID), zap.String("successor", connID))
		}
	}
	// A pending predecessor that sat in a different room did leave that room:
	// its members get the departure notice and a fresh roster.
	for _, staleID := range noisy {
		if removed, ok := m.clients.Unregister(staleID); ok {
			if m.relay != nil && removed.Room != "" {
				m.relay.Unsubscribe(removed.Room)
			}
			if removed.Room != "" {
				m.broker.AppendSystem(removed.Room, removed.DisplayName+" has left the chat")
				m.broadcastPresence(removed.Room)
			}
			zap.L().Debug("stale connection left its room",
				zap.String("conn", staleID), zap.String("room", removed.Room),
				zap.String("successor", connID))
		}
	}

	prev, _ := m.clients.SetRoom(connID, roomID)
	if m.relay != nil && prev != roomID {
		if prev != "" {
			m.relay.Unsubscribe(prev)
		}
		m.relay.Subscribe(roomID)
	}

	if prev != "" && prev != roomID {
		m.broadcastPresence(prev)
	}
	if sink, ok := m.clients.SinkOf(connID); ok {
		if err := sink.Deliver(EventHistory, HistoryPayload{
			Room:        roomID,
			DisplayName: info.DisplayName,
			Messages:    m.rooms.History(roomID, 0),
		}); err != nil {
			zap.L().Warn("manager.deliver_history", zap.String("conn", connID), zap.Error(err))
		}
	}
	m.broadcastPresence(roomID)
	return nil
}

// Publish submits a message on behalf of the connection.
func (m *Manager) Publish(connID, roomID, body string) (*Message, error) {
	return m.broker.Publish(roomID, connID, body)
}

// Typing forwards a typing signal to the other members of the sender's room.
func (m *Manager) Typing(connID string, isTyping bool) {
	c, ok := m.clients.Get(connID)
	if !ok || c.Room == "" {
		return
	}
	m.broker.NotifyRoom(c.Room, connID, EventTyping, TypingPayload{
		Room:     c.Room,
		Sender:   c.DisplayName,
		IsTyping: isTyping,
	})
}

// AppState handles foreground/background signals. Backgrounding marks the
// client away; returning to the foreground marks it online and resends a
// bounded slice of recent history to that connection only.
func (m *Manager) AppState(connID, state string) {
	switch state {
	case "background":
		m.clients.SetPresence(connID, PresenceAway)
	case "foreground":
		m.clients.SetPresence(connID, PresenceOnline)
		c, ok := m.clients.Get(connID)
		if !ok || c.Room == "" {
			return
		}
		info, found := m.rooms.Get(c.Room)
		if !found {
			return
		}
		if sink, ok := m.clients.SinkOf(connID); ok {
			if err := sink.Deliver(EventHistory, HistoryPayload{
				Room:        c.Room,
				DisplayName: info.DisplayName,
				Messages:    m.rooms.History(c.Room, m.opts.ResendLimit),
			}); err != nil {
				zap.L().Warn("manager.deliver_resend", zap.String("conn", connID), zap.Error(err))
			}
		}
	}
}

// Heartbeat records a pong from the transport. Missed heartbeats are not a
// disconnect trigger; the transport owns disconnect detection.
func (m *Manager) Heartbeat(connID string) {
	m.clients.Touch(connID, time.Now())
}

// Disconnect handles transport loss. Standard clients are evicted right away;
// mobile clients are held in a pending-grace state for the grace window so a
// brief backgrounding or network handoff never announces a departure.
func (m *Manager) Disconnect(connID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	if !ok || s.state == StatePendingGrace {
		m.mu.Unlock()
		return
	}
	if s.class == ClassMobile {
		s.state = StatePendingGrace
		s.graceTimer = time.AfterFunc(m.opts.GraceWindow, func() {
			m.evict(connID, "grace_expired")
		})
		m.mu.Unlock()
		zap.L().Debug("grace window started",
			zap.String("conn", connID), zap.String("reason", reason),
			zap.Duration("window", m.opts.GraceWindow))
		return
	}
	m.mu.Unlock()
	m.evict(connID, reason)
}

// State reports the lifecycle state for one connection.
func (m *Manager) State(connID string) (SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return StateEvicted, false
	}
	return s.state, true
}

// absorbPendingLocked collects pending-grace sessions for the same identity so
// a reconnect cancels their timers before one can fire. Continuity only holds
// when the reconnect rejoins the same room: those predecessors are cleaned up
// silently, while ones parked in another room are returned separately for a
// proper departure. Caller holds m.mu.
func (m *Manager) absorbPendingLocked(identity, roomID, exceptConnID string) (silent, noisy []string) {
	for id, other := range m.sessions {
		if id == exceptConnID || other.state != StatePendingGrace || other.identity != identity {
			continue
		}
		if other.graceTimer != nil {
			other.graceTimer.Stop()
			other.graceTimer = nil
		}
		sameRoom := other.room == roomID
		other.state = StateEvicted
		delete(m.sessions, id)
		if sameRoom {
			silent = append(silent, id)
		} else {
			noisy = append(noisy, id)
		}
	}
	return silent, noisy
}

func (m *Manager) evict(connID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	wasPending := s.state == StatePendingGrace
	s.state = StateEvicted
	delete(m.sessions, connID)

	// If the same identity came back in the same room under a new connection
	// id while this one sat in grace, the departure never happened as far as
	// the room knows. A successor in a different room is no continuity: the
	// vacated room still gets its notice.
	silent := false
	if wasPending {
		for _, other := range m.sessions {
			if other.identity == s.identity && other.room == s.room {
				silent = true
				break
			}
		}
	}
	m.mu.Unlock()

	removed, ok := m.clients.Unregister(connID)
	if !ok {
		return // already cleaned up by a reconnect
	}
	if m.relay != nil && removed.Room != "" {
		m.relay.Unsubscribe(removed.Room)
	}
	if removed.Room != "" {
		if !silent {
			m.broker.AppendSystem(removed.Room, removed.DisplayName+" has left the chat")
		}
		// The roster shrank either way.
		m.broadcastPresence(removed.Room)
	}
	zap.L().Info("client evicted",
		zap.String("conn", connID),
		zap.String("name", removed.DisplayName),
		zap.String("reason", reason),
		zap.Bool("silent", silent))
}

func (m *Manager) broadcastPresence(roomID string) {
	members := m.clients.ListInRoom(roomID)
	m.broker.NotifyRoom(roomID, "", EventPresence, PresencePayload{
		Room:    roomID,
		Members: members,
		Count:   len(members),
	})
}
