package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records everything delivered to one connection.
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
	fail   bool
}

type capturedEvent struct {
	event string
	body  any
}

func (s *captureSink) Deliver(event string, body any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{event: event, body: body})
	if s.fail {
		return fmt.Errorf("sink closed")
	}
	return nil
}

func (s *captureSink) messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, e := range s.events {
		if m, ok := e.body.(*Message); ok && e.event == EventMessage {
			out = append(out, m)
		}
	}
	return out
}

func (s *captureSink) eventsOf(event string) []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []capturedEvent
	for _, e := range s.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type brokerFixture struct {
	rooms   *RoomStore
	clients *Registry
	broker  *Broker
}

func newBrokerFixture() *brokerFixture {
	rooms := NewRoomStore(100)
	clients := NewRegistry()
	return &brokerFixture{
		rooms:   rooms,
		clients: clients,
		broker:  NewBroker(rooms, clients, nil),
	}
}

func (f *brokerFixture) join(connID, name, room string) *captureSink {
	sink := &captureSink{}
	f.clients.Register(connID, name, ClassStandard, sink)
	f.rooms.GetOrCreate(room)
	f.clients.SetRoom(connID, room)
	return sink
}

func TestBrokerPublishDeliversToEveryMemberOnce(t *testing.T) {
	f := newBrokerFixture()
	sinkA := f.join("a", "alice", "emergency")
	sinkB := f.join("b", "bob", "emergency")

	before := len(f.rooms.History("emergency", 0))
	msg, err := f.broker.Publish("emergency", "a", "help")
	require.NoError(t, err)

	gotA, gotB := sinkA.messages(), sinkB.messages()
	require.Len(t, gotA, 1, "sender receives exactly one direct copy")
	require.Len(t, gotB, 1, "peer receives exactly one copy")
	assert.Equal(t, "help", gotA[0].Body)
	assert.Equal(t, "emergency", gotA[0].Room)
	assert.Equal(t, gotA[0].ID, gotB[0].ID)
	assert.Equal(t, "alice", gotB[0].Sender)
	assert.Same(t, msg, gotB[0])

	assert.Len(t, f.rooms.History("emergency", 0), before+1)
}

func TestBrokerPublishRejectsWhitespaceBody(t *testing.T) {
	f := newBrokerFixture()
	f.join("a", "alice", "general")

	before := len(f.rooms.History("general", 0))
	_, err := f.broker.Publish("general", "a", "   ")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Len(t, f.rooms.History("general", 0), before, "no side effects")
}

func TestBrokerPublishRejectsSenderOutsideRoom(t *testing.T) {
	f := newBrokerFixture()
	f.join("a", "alice", "Y")
	f.rooms.GetOrCreate("X")

	beforeX := len(f.rooms.History("X", 0))
	beforeY := len(f.rooms.History("Y", 0))

	_, err := f.broker.Publish("X", "a", "hello")
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Len(t, f.rooms.History("X", 0), beforeX)
	assert.Len(t, f.rooms.History("Y", 0), beforeY)
}

func TestBrokerPublishUnknownSender(t *testing.T) {
	f := newBrokerFixture()
	f.rooms.GetOrCreate("general")

	_, err := f.broker.Publish("general", "ghost", "hi")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestBrokerPublishPreservesArrivalOrder(t *testing.T) {
	f := newBrokerFixture()
	f.join("a", "alice", "r")
	f.join("b", "bob", "r")

	_, err := f.broker.Publish("r", "a", "first")
	require.NoError(t, err)
	_, err = f.broker.Publish("r", "b", "second")
	require.NoError(t, err)

	h := f.rooms.History("r", 0)
	require.Len(t, h, 3) // welcome + 2
	assert.Equal(t, "first", h[1].Body)
	assert.Equal(t, "second", h[2].Body)
}

// gateSink stalls the delivery of one chosen message until the test opens
// the gate, simulating a member whose socket is slow mid fan-out.
type gateSink struct {
	captureSink
	arrived chan struct{}
	gate    chan struct{}
	block   string
	once    sync.Once
}

func (s *gateSink) Deliver(event string, body any) error {
	if m, ok := body.(*Message); ok && m.Body == s.block {
		s.once.Do(func() { close(s.arrived) })
		<-s.gate
	}
	return s.captureSink.Deliver(event, body)
}

func TestBrokerConcurrentPublishesDeliverInHistoryOrder(t *testing.T) {
	f := newBrokerFixture()
	f.join("a", "alice", "r")
	f.join("b", "bob", "r")
	slow := &gateSink{arrived: make(chan struct{}), gate: make(chan struct{}), block: "first"}
	f.clients.Register("c", "carol", ClassStandard, slow)
	f.clients.SetRoom("c", "r")

	errs := make(chan error, 2)
	go func() {
		_, err := f.broker.Publish("r", "a", "first")
		errs <- err
	}()
	<-slow.arrived

	// Second publish lands while the first is still delivering to carol.
	go func() {
		_, err := f.broker.Publish("r", "b", "second")
		errs <- err
	}()

	// It must queue behind the first: carol has recorded nothing yet.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, slow.messages())

	close(slow.gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got := slow.messages()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "second", got[1].Body)

	h := f.rooms.History("r", 0)
	require.GreaterOrEqual(t, len(h), 2)
	assert.Equal(t, got[0].ID, h[len(h)-2].ID, "delivery order matches history")
	assert.Equal(t, got[1].ID, h[len(h)-1].ID)
}

func TestBrokerDeliveryFailureDoesNotRollBackAppend(t *testing.T) {
	f := newBrokerFixture()
	f.join("a", "alice", "r")
	sinkB := f.join("b", "bob", "r")
	sinkB.fail = true

	msg, err := f.broker.Publish("r", "a", "still committed")
	require.NoError(t, err)

	h := f.rooms.History("r", 0)
	assert.Equal(t, msg.ID, h[len(h)-1].ID)
}

func TestBrokerAppendSystemReachesAllMembers(t *testing.T) {
	f := newBrokerFixture()
	sinkA := f.join("a", "alice", "r")
	sinkB := f.join("b", "bob", "r")

	msg := f.broker.AppendSystem("r", "carol has left the chat")
	require.NotNil(t, msg)
	assert.Equal(t, SystemSender, msg.Sender)

	require.Len(t, sinkA.messages(), 1)
	require.Len(t, sinkB.messages(), 1)
	h := f.rooms.History("r", 0)
	assert.Equal(t, "carol has left the chat", h[len(h)-1].Body)
}

func TestBrokerAppendSystemUnknownRoom(t *testing.T) {
	f := newBrokerFixture()
	assert.Nil(t, f.broker.AppendSystem("ghost-room", "x"))
}

func TestBrokerDeliverRemote(t *testing.T) {
	f := newBrokerFixture()
	sinkA := f.join("a", "alice", "r")

	remote := &Message{ID: "rm1", Sender: "bob", Body: "from afar", Room: "r", CreatedAt: "2026-01-01T00:00:00Z"}
	f.broker.DeliverRemote("r", remote)

	require.Len(t, sinkA.messages(), 1)
	h := f.rooms.History("r", 0)
	assert.Equal(t, "rm1", h[len(h)-1].ID)

	// Unknown local room: nothing to do, nothing to panic about.
	assert.NotPanics(t, func() { f.broker.DeliverRemote("elsewhere", remote) })
}
