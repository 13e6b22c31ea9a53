package chat

import (
	"fmt"
	"hash/fnv"
	"time"
)

// SystemSender authors welcome / leave notices. It is not a registered client.
const SystemSender = "system"

// Events pushed to client sinks. The transport wraps the body into its
// envelope format under this event name.
const (
	EventConnected = "chat/connected"
	EventMessage   = "chat/message"
	EventHistory   = "chat/history"
	EventPresence  = "chat/presence"
	EventTyping    = "chat/typing"
)

// Message is the canonical chat unit. Once appended to a room's history it is
// never mutated.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Room      string `json:"room"`
	CreatedAt string `json:"created_at"`
	// Pending is only ever true inside a client-local optimistic echo. The
	// server always emits it false; the field exists so echoes and canonical
	// messages share one wire shape.
	Pending bool `json:"pending,omitempty"`
}

// NewMessage builds a message with a content-derived id. Ids are deterministic
// over (arrival time, sender, body) so edge-side redelivery dedup works across
// reconnects; collisions require identical simultaneous input and are benign.
func NewMessage(room, sender, body string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        messageID(now, sender, body),
		Sender:    sender,
		Body:      body,
		Room:      room,
		CreatedAt: now.Format(time.RFC3339Nano),
	}
}

// NewSystemMessage builds a system-authored notice (welcome, "left the chat").
func NewSystemMessage(room, body string) *Message {
	return NewMessage(room, SystemSender, body)
}

func messageID(t time.Time, sender, body string) string {
	h := fnv.New64a()
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return fmt.Sprintf("%x-%x", t.UnixMilli(), h.Sum64())
}
