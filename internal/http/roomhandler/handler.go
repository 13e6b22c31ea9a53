package roomhandler

import (
	"net/http"

	"chatrelay/internal/chat"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	rooms *chat.RoomStore
}

func New(rooms *chat.RoomStore) *Handler { return &Handler{rooms: rooms} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id/history", h.history)
}

// @Summary		List rooms
// @Description	Returns every room with its display name and message count.
// @Tags			Rooms
// @Success		200	{array}	chat.RoomInfo
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.rooms.List())
}

// @Summary		Get room history
// @Description	Returns the stored message history for a room, newest last.
// @Tags			Rooms
// @Param			id		path		string	true	"Room ID"	default(general)
// @Param			limit	query		int		false	"Most recent N messages (0 = all)"	minimum(0)	maximum(100)	default(0)
// @Success		200		{object}	HistoryResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/rooms/{id}/history [get]
func (h *Handler) history(c *gin.Context) {
	var q HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	roomID := c.Param("id")

	info, ok := h.rooms.Get(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{
		DisplayName: info.DisplayName,
		Messages:    h.rooms.History(roomID, q.Limit),
	})
}
