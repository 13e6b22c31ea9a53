package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "chat/message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// JoinRequest is the body for "chat/join".
type JoinRequest struct {
	Room string `json:"room"`
}

// PublishRequest is the body for "chat/message".
type PublishRequest struct {
	Room string `json:"room"`
	Body string `json:"body"`
}

// PublishAck is the body of "chat/message-ack" and is sent exactly once per
// publish attempt, success or not.
type PublishAck struct {
	Success   bool   `json:"success"`
	ID        string `json:"id,omitempty"`
	Room      string `json:"room,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TypingRequest is the body for "chat/typing".
type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// AppStateRequest is the body for "chat/appstate".
type AppStateRequest struct {
	State string `json:"state"` // "foreground" | "background"
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}
