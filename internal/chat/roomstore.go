package chat

import (
	"sort"
	"sync"
)

// DefaultHistoryCap bounds per-room history; the oldest entries are evicted
// first once the cap is reached.
const DefaultHistoryCap = 100

type roomState struct {
	id          string
	displayName string
	history     []*Message
}

// RoomInfo is the read-side projection of a room.
type RoomInfo struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	MessageCount int    `json:"message_count"`
}

// RoomStore owns every room and its bounded history. All access goes through
// its methods; callers never see the underlying containers.
type RoomStore struct {
	mu         sync.RWMutex
	historyCap int
	rooms      map[string]*roomState
}

func NewRoomStore(historyCap int) *RoomStore {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &RoomStore{
		historyCap: historyCap,
		rooms:      make(map[string]*roomState),
	}
}

// GetOrCreate returns the room for id, creating it on first join. New rooms
// are seeded with a single system welcome message. Exactly one room exists per
// id even under concurrent first-joins.
func (s *RoomStore) GetOrCreate(roomID string) (RoomInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[roomID]; ok {
		return roomInfoOf(r), false
	}
	r := &roomState{
		id:          roomID,
		displayName: roomID,
		history:     []*Message{NewSystemMessage(roomID, "Welcome to "+roomID+"!")},
	}
	s.rooms[roomID] = r
	return roomInfoOf(r), true
}

// Get reports the room without creating it.
func (s *RoomStore) Get(roomID string) (RoomInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return roomInfoOf(r), true
}

// Append adds msg to the room's history, truncating from the front once the
// cap is exceeded. Returns false when the room does not exist.
func (s *RoomStore) Append(roomID string, msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	r.history = append(r.history, msg)
	if over := len(r.history) - s.historyCap; over > 0 {
		r.history = append([]*Message(nil), r.history[over:]...)
	}
	return true
}

// History returns a copy of the room's history in arrival order. When limit is
// positive, only the most recent limit entries are returned. Unknown rooms
// yield an empty result, never an error.
func (s *RoomStore) History(roomID string, limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	h := r.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Message, len(h))
	for i, m := range h {
		out[i] = *m
	}
	return out
}

// List enumerates all rooms for the directory endpoint.
func (s *RoomStore) List() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, roomInfoOf(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func roomInfoOf(r *roomState) RoomInfo {
	return RoomInfo{ID: r.id, DisplayName: r.displayName, MessageCount: len(r.history)}
}
