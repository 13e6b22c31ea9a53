package ws

import (
	"sync"
	"time"

	"chatrelay/internal/chat"

	"github.com/gorilla/websocket"
)

type clientConn struct {
	id      string
	rawConn *websocket.Conn
	mu      sync.Mutex
	seen    *dedupeCache
	done    chan struct{}
	once    sync.Once
}

func newClientConn(id string, raw *websocket.Conn) *clientConn {
	return &clientConn{
		id:      id,
		rawConn: raw,
		seen:    newDedupeCache(dedupeCap, dedupeTTL),
		done:    make(chan struct{}),
	}
}

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}

// Deliver implements chat.Sink. Chat messages pass through the per-connection
// dedup cache so a reconnect race or relay echo never sends the same message
// id twice to one connection.
func (c *clientConn) Deliver(event string, body any) error {
	if msg, ok := body.(*chat.Message); ok {
		if !c.seen.Add(msg.ID) {
			return nil
		}
	}
	return c.writeJSON(map[string]any{"event": event, "body": body})
}

// close releases the pinger; safe to call more than once.
func (c *clientConn) close() {
	c.once.Do(func() { close(c.done) })
	_ = c.rawConn.Close()
}
