// Package relay bridges room traffic between chatrelay instances over Redis
// pub/sub. It is pure transport: nothing is retained in Redis, so a process
// restart still loses all history, exactly as it does without the relay.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"chatrelay/internal/chat"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "chat:"
const channelSuffix = ":events"

// envelope is the wire format on the Redis channel. Origin lets an instance
// drop its own publishes on the way back in.
type envelope struct {
	Origin  string        `json:"origin"`
	Message *chat.Message `json:"message"`
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

// Relay guarantees **exactly one** Redis subscription per room channel ― no
// matter how many local connections join the same room.
type Relay struct {
	rdb        *redis.Client
	instanceID string
	onMessage  func(roomID string, msg *chat.Message)

	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

func New(rdb *redis.Client, instanceID string) *Relay {
	return &Relay{
		rdb:        rdb,
		instanceID: instanceID,
		subs:       make(map[string]*subEntry),
	}
}

// OnMessage sets the sink for messages arriving from other instances. Must be
// called before the first Subscribe.
func (r *Relay) OnMessage(fn func(roomID string, msg *chat.Message)) {
	r.onMessage = fn
}

// PublishMessage pushes an accepted room message to the room's channel.
// Fire-and-forget: a Redis hiccup is logged and the local delivery that
// already happened stands.
func (r *Relay) PublishMessage(roomID string, msg *chat.Message) {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, Message: msg})
	if err != nil {
		zap.L().Warn("relay.marshal", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(context.Background(), channelName(roomID), payload).Err(); err != nil {
		zap.L().Warn("relay.publish", zap.String("room", roomID), zap.Error(err))
	}
}

// Subscribe ensures the process is subscribed to the room's channel;
// subsequent calls for the same room only increment the ref‑counter.
func (r *Relay) Subscribe(roomID string) {
	r.mu.Lock()
	if e, ok := r.subs[roomID]; ok {
		e.refCnt++
		r.mu.Unlock()
		return
	}

	// First consumer → create Redis SUB and fan‑out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := r.rdb.Subscribe(ctx, channelName(roomID))

	r.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	r.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}

				var env envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					zap.L().Warn("relay.decode", zap.Error(err))
					continue
				}
				if env.Origin == r.instanceID || env.Message == nil {
					continue // our own publish echoing back
				}
				if r.onMessage != nil {
					r.onMessage(roomID, env.Message)
				}
			}
		}
	}()
}

// Unsubscribe decrements the ref‑counter and tears the Redis SUB down when the
// last local member leaves the room.
func (r *Relay) Unsubscribe(roomID string) {
	r.mu.Lock()
	e, ok := r.subs[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.subs, roomID)
	r.mu.Unlock()

	// Outside the lock → stop the fan‑out goroutine.
	e.cancel()
}

func channelName(roomID string) string {
	return channelPrefix + roomID + channelSuffix
}
