package chat

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrInvalidMessage rejects bodies that are empty after trimming.
	ErrInvalidMessage = errors.New("invalid_message")
	// ErrNotInRoom rejects publishes to a room the sender has not joined.
	ErrNotInRoom = errors.New("not_in_room")
)

// Relay is the optional cross-instance fan-out bridge. A nil relay means
// single-instance operation; the core never depends on it.
type Relay interface {
	PublishMessage(roomID string, msg *Message)
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

// Broker appends accepted messages to room history and fans them out to the
// room's current members. History is the source of truth: a delivery failure
// to one recipient never rolls an append back.
//
// Append and delivery are serialized per room, so every member observes
// messages in history order.
type Broker struct {
	rooms   *RoomStore
	clients *Registry
	relay   Relay

	mu       sync.Mutex
	dispatch map[string]*sync.Mutex // roomID -> append+delivery lock
}

func NewBroker(rooms *RoomStore, clients *Registry, relay Relay) *Broker {
	return &Broker{
		rooms:    rooms,
		clients:  clients,
		relay:    relay,
		dispatch: make(map[string]*sync.Mutex),
	}
}

func (b *Broker) roomLock(roomID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.dispatch[roomID]
	if !ok {
		l = &sync.Mutex{}
		b.dispatch[roomID] = l
	}
	return l
}

// Publish validates, stores and fans out one message. The sender gets an
// immediate direct copy; every other member of the room gets the same message
// exactly once. Senders may only publish to the room they are currently in.
func (b *Broker) Publish(roomID, senderConnID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrInvalidMessage
	}

	sender, ok := b.clients.Get(senderConnID)
	if !ok || sender.Room != roomID {
		return nil, ErrNotInRoom
	}

	// Held across append and fan-out: a concurrent publish to the same room
	// may not deliver before this one finishes, or members could observe the
	// two messages in the opposite order from history.
	l := b.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	msg := NewMessage(roomID, sender.DisplayName, body)
	b.rooms.Append(roomID, msg)

	// Direct copy to the sender first, for optimistic-UI reconciliation.
	if sink, ok := b.clients.SinkOf(senderConnID); ok {
		if err := sink.Deliver(EventMessage, msg); err != nil {
			zap.L().Warn("broker.deliver_sender", zap.String("conn", senderConnID), zap.Error(err))
		}
	}
	// Everyone else. The sender is excluded here explicitly so a room-wide
	// primitive can never double-deliver to them.
	b.fanOut(roomID, senderConnID, EventMessage, msg)

	if b.relay != nil {
		b.relay.PublishMessage(roomID, msg)
	}
	return msg, nil
}

// AppendSystem stores and fans out a system-authored notice ("left the chat").
// There is no active sender, so nobody is excluded and nothing is acked.
func (b *Broker) AppendSystem(roomID, body string) *Message {
	l := b.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	msg := NewSystemMessage(roomID, body)
	if !b.rooms.Append(roomID, msg) {
		return nil
	}
	b.fanOut(roomID, "", EventMessage, msg)
	if b.relay != nil {
		b.relay.PublishMessage(roomID, msg)
	}
	return msg
}

// DeliverRemote handles a message relayed from another instance: append it to
// the local history and hand it to local members. The per-connection dedup
// cache at the transport edge keeps a message from reaching a connection twice
// even if it arrives both directly and via the relay.
func (b *Broker) DeliverRemote(roomID string, msg *Message) {
	if msg == nil {
		return
	}
	l := b.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	if !b.rooms.Append(roomID, msg) {
		// No local room means no local members; we were subscribed late.
		return
	}
	b.fanOut(roomID, "", EventMessage, msg)
}

// NotifyRoom delivers a transient event (typing, presence) to the room's
// members without touching history.
func (b *Broker) NotifyRoom(roomID, excludeConnID, event string, body any) {
	b.fanOut(roomID, excludeConnID, event, body)
}

func (b *Broker) fanOut(roomID, excludeConnID, event string, body any) {
	// Snapshot under the registry lock, write outside it.
	sinks := b.clients.SinksInRoom(roomID, excludeConnID)
	for _, sink := range sinks {
		if err := sink.Deliver(event, body); err != nil {
			zap.L().Warn("broker.deliver", zap.String("room", roomID), zap.Error(err))
		}
	}
}
