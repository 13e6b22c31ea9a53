package roomhandler

import "chatrelay/internal/chat"

type HistoryResponse struct {
	DisplayName string         `json:"display_name"`
	Messages    []chat.Message `json:"messages"`
} // @name HistoryResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type HistoryQuery struct {
	Limit int `form:"limit,default=0" binding:"gte=0,lte=100"`
} // @name HistoryQuery
