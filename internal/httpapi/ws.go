package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatcore/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 64 << 10
)

// WSHandler upgrades a conversation connection and bridges it to the hub:
// the read loop feeds inbound frames in, the write loop drains the
// channel's event queue out.
type WSHandler struct {
	Hub    *hub.Hub
	Logger *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, log *slog.Logger) *WSHandler {
	return &WSHandler{
		Hub:    h,
		Logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin allowance mirrors the permissive CORS policy on the
			// REST surface; auth happens per connection, not per origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (w *WSHandler) Connect(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")

	ch, err := w.Hub.Join(c.Request.Context(), conversationID, p.UserID)
	if err != nil {
		// Join failures happen before the upgrade so the client gets a
		// proper HTTP status instead of a dropped socket.
		ChatHandler{Logger: w.Logger}.respondError(c, err, "join conversation", "conversation_id", conversationID)
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		w.Hub.Leave(c.Request.Context(), ch)
		w.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	go w.writeLoop(conn, ch)
	w.readLoop(conn, ch)
}

func (w *WSHandler) readLoop(conn *websocket.Conn, ch *hub.Channel) {
	defer func() {
		w.Hub.Leave(context.Background(), ch)
		conn.Close()
	}()
	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.Logger.Debug("websocket closed unexpectedly", "channel_id", ch.ID, "error", err)
			}
			return
		}
		if w.Hub.HandleFrame(context.Background(), ch, data) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "protocol error limit"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (w *WSHandler) writeLoop(conn *websocket.Conn, ch *hub.Channel) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-ch.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
