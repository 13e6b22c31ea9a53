package relay

import (
	"encoding/json"
	"testing"

	"chatrelay/internal/chat"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "chat:general:events", channelName("general"))
}

func TestPublishMessage(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := New(db, "instance-1")

	msg := &chat.Message{
		ID:        "abc-123",
		Sender:    "alice",
		Body:      "hello",
		Room:      "general",
		CreatedAt: "2026-08-30T12:00:00Z",
	}
	payload, err := json.Marshal(envelope{Origin: "instance-1", Message: msg})
	require.NoError(t, err)

	mock.ExpectPublish(channelName("general"), payload).SetVal(1)

	r.PublishMessage("general", msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishMessageRedisErrorIsSwallowed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := New(db, "instance-1")

	msg := &chat.Message{ID: "m1", Room: "r"}
	payload, _ := json.Marshal(envelope{Origin: "instance-1", Message: msg})
	mock.ExpectPublish(channelName("r"), payload).SetErr(assert.AnError)

	assert.NotPanics(t, func() { r.PublishMessage("r", msg) })
}

func TestUnsubscribeWithoutSubscribeIsNoop(t *testing.T) {
	db, _ := redismock.NewClientMock()
	r := New(db, "instance-1")

	assert.NotPanics(t, func() { r.Unsubscribe("never-joined") })
}

func TestEnvelopeCarriesOrigin(t *testing.T) {
	msg := &chat.Message{ID: "m1", Sender: "bob", Body: "x", Room: "r"}
	payload, err := json.Marshal(envelope{Origin: "other-instance", Message: msg})
	require.NoError(t, err)

	var decoded envelope
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "other-instance", decoded.Origin)
	assert.Equal(t, "m1", decoded.Message.ID)
}
