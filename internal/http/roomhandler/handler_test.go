package roomhandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(rooms *chat.RoomStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(rooms).Register(r)
	return r
}

func TestListRooms(t *testing.T) {
	rooms := chat.NewRoomStore(100)
	rooms.GetOrCreate("general")
	rooms.GetOrCreate("emergency")
	router := newTestRouter(rooms)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out []chat.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "emergency", out[0].ID)
	assert.Equal(t, 1, out[0].MessageCount)
	assert.Equal(t, "general", out[1].ID)
}

func TestListRoomsEmpty(t *testing.T) {
	router := newTestRouter(chat.NewRoomStore(100))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRoomHistory(t *testing.T) {
	rooms := chat.NewRoomStore(100)
	rooms.GetOrCreate("general")
	rooms.Append("general", chat.NewMessage("general", "alice", "hello"))
	router := newTestRouter(rooms)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/general/history", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var out HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "general", out.DisplayName)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "hello", out.Messages[1].Body)
}

func TestRoomHistoryLimit(t *testing.T) {
	rooms := chat.NewRoomStore(100)
	rooms.GetOrCreate("general")
	for i := 0; i < 5; i++ {
		rooms.Append("general", &chat.Message{ID: string(rune('a' + i)), Body: "m", Room: "general"})
	}
	router := newTestRouter(rooms)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/general/history?limit=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var out HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Messages, 2)
}

func TestRoomHistoryNotFound(t *testing.T) {
	router := newTestRouter(chat.NewRoomStore(100))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/nope/history", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHistoryBadLimit(t *testing.T) {
	rooms := chat.NewRoomStore(100)
	rooms.GetOrCreate("general")
	router := newTestRouter(rooms)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/general/history?limit=-1", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
