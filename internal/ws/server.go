package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 4096
)

// Options tune the heartbeat policy per client class. Heartbeat is liveness
// observability only; disconnect detection stays with the transport.
type Options struct {
	PingPeriod       time.Duration // standard clients
	MobilePingPeriod time.Duration // assumed lossier transit, ping more often
}

type WsServer struct {
	manager  *chat.Manager
	router   *Router
	opts     Options
	upgrader websocket.Upgrader
}

func NewWsServer(manager *chat.Manager, opts Options) *WsServer {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 25 * time.Second
	}
	if opts.MobilePingPeriod <= 0 {
		opts.MobilePingPeriod = 10 * time.Second
	}
	srv := &WsServer{
		manager: manager,
		router:  NewRouter(),
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev‑only
		},
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	identity := ginCtx.Query("name")
	class := chat.ClassStandard
	if ginCtx.Query("class") == string(chat.ClassMobile) {
		class = chat.ClassMobile
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxFrameSize)

	// ─────────────────── Client joined ────────────────────────
	connID := uuid.NewString()
	wsConn := newClientConn(connID, rawConn)
	s.manager.Connect(connID, identity, class, wsConn)

	go s.reader(connID, wsConn)
	go s.pinger(connID, class, wsConn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 chat/join ------------------------------------------------------------
	Register(
		s.router,
		"chat/join",
		func(ctx context.Context, cc *ConnContext, req JoinRequest) (AckBody, error) {
			return AckBody{}, s.manager.Join(cc.ConnID, req.Room)
		},
	)

	// 🔹 chat/message ---------------------------------------------------------
	// The ack carries success/failure itself so the client's optimistic echo
	// is reconciled by exactly one reply frame.
	Register(
		s.router,
		"chat/message",
		func(ctx context.Context, cc *ConnContext, req PublishRequest) (PublishAck, error) {
			msg, err := s.manager.Publish(cc.ConnID, req.Room, req.Body)
			if err != nil {
				zap.L().Debug("ws.publish_rejected",
					zap.String("conn", cc.ConnID), zap.Error(err))
				return PublishAck{Success: false, Error: err.Error()}, nil
			}
			return PublishAck{
				Success:   true,
				ID:        msg.ID,
				Room:      msg.Room,
				Timestamp: msg.CreatedAt,
			}, nil
		},
	)

	// 🔹 chat/typing ----------------------------------------------------------
	Register(
		s.router,
		"chat/typing",
		func(ctx context.Context, cc *ConnContext, req TypingRequest) (AckBody, error) {
			s.manager.Typing(cc.ConnID, req.IsTyping)
			return AckBody{}, nil
		},
	)

	// 🔹 chat/appstate --------------------------------------------------------
	Register(
		s.router,
		"chat/appstate",
		func(ctx context.Context, cc *ConnContext, req AppStateRequest) (AckBody, error) {
			if req.State != "foreground" && req.State != "background" {
				return AckBody{}, errors.New("unknown_app_state")
			}
			s.manager.AppState(cc.ConnID, req.State)
			return AckBody{}, nil
		},
	)
}

func (s *WsServer) reader(connID string, conn *clientConn) {
	defer func() {
		conn.close()
		s.manager.Disconnect(connID, "transport_closed")
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
		s.manager.Heartbeat(connID)
		return nil
	})

	cc := &ConnContext{ConnID: connID, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zap.L().Warn("ws.read", zap.String("conn", connID), zap.Error(err))
			}
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		res, err := s.safeDispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		// Failures are reported to the requesting connection only; the rest
		// of the room never sees them.
		if err != nil {
			_ = conn.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: err.Error()},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		_ = conn.writeJSON(reply)
	}
}

// safeDispatch keeps a panicking handler from taking the whole connection
// manager down; the requester gets an error frame instead.
func (s *WsServer) safeDispatch(ctx context.Context, cc *ConnContext, env Envelope) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("ws.dispatch_panic",
				zap.String("event", env.Event), zap.Any("panic", r))
			res, err = nil, fmt.Errorf("internal_error")
		}
	}()
	return s.router.dispatch(ctx, cc, env)
}

func (s *WsServer) pinger(connID string, class chat.Class, conn *clientConn) {
	period := s.opts.PingPeriod
	if class == chat.ClassMobile {
		period = s.opts.MobilePingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				zap.L().Debug("ws.ping", zap.String("conn", connID), zap.Error(err))
				conn.close()
				return
			}
		}
	}
}
