package events

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	rosterModel "github.com/iAnanich/tgbot-member-presence/internal/model/roster"
	rosterService "github.com/iAnanich/tgbot-member-presence/internal/service/roster"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocketHandler 把名册变更事件推送给 WebSocket 订阅者
type WebSocketHandler struct {
	hub      *rosterService.Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建事件推送处理器
func NewWebSocketHandler(hub *rosterService.Hub, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger.With().Str("component", "events").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册事件订阅路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/events", h.handleWebSocket)
}

type outgoingMessage struct {
	Type      string               `json:"type"`
	ChatID    rosterModel.ChatID   `json:"chatId"`
	Event     *rosterService.Event `json:"event,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID := rosterModel.ChatID(chi.URLParam(r, "chatID"))
	if chatID == "" {
		http.Error(w, "chatID is required", http.StatusBadRequest)
		return
	}
	if h.hub == nil {
		http.Error(w, "event feed disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("chat_id", chatID.String()).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe(chatID)
	defer cancel()

	h.logger.Debug().Str("chat_id", chatID.String()).Msg("event subscriber connected")

	closed := make(chan struct{})
	go readLoop(conn, closed)

	if err := h.write(conn, outgoingMessage{Type: "subscribed", ChatID: chatID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug().Str("chat_id", chatID.String()).Msg("event subscriber disconnected")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, outgoingMessage{Type: "event", ChatID: chatID, Event: &e}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Str("chat_id", msg.ChatID.String()).Msg("event write failed")
		return err
	}
	return nil
}

// readLoop 只负责处理 pong 与关闭帧；客户端发送的数据被忽略。
func readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
