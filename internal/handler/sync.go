package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/broadcast"
	"github.com/sakif/protoface/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Sync messages are tiny; anything bigger is garbage.
	maxMessageSize = 512
)

// SyncHandler relays slot switch messages between the surfaces of a user's
// display over WebSocket.
//
// Each connection joins the hub channel "<user>/<channel>", so two users
// never hear each other even when their pages use the same channel name.
// Every frame in either direction is one JSON SyncMessage.
type SyncHandler struct {
	// Channel is joined when the route carries no {channel} parameter.
	Channel string

	hub      *broadcast.Hub
	buffer   int
	upgrader websocket.Upgrader
	logger   *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func NewSyncHandler(hub *broadcast.Hub, buffer int, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		hub:    hub,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// SyncKey is the hub channel a user's surfaces share for channel name.
func SyncKey(user, channel string) string {
	channel = auth.Sanitize(channel)
	if channel == "" {
		channel = model.DefaultSyncChannel
	}
	return user + "/" + channel
}

// Close tells every open connection to go away. Hijacked connections are
// not tracked by http.Server, so the server calls this on shutdown.
func (h *SyncHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// HandleSync handles GET /api/sync/{channel}. It must run behind auth.RequireUser.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.NoCookie())
		return
	}
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		channel = h.Channel
	}
	key := SyncKey(user, channel)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ep, err := h.hub.Join(key, h.buffer)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logger := h.logger.With(slog.String("channel", key), slog.String("surface", ep.ID()))
	logger.Info("sync surface joined")

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, ep, done)
	}()

	h.readPump(conn, ep, logger)

	ep.Leave()
	close(done)
	<-writerDone
	conn.Close()
	logger.Info("sync surface left")
}

// readPump publishes every valid inbound message until the connection fails.
func (h *SyncHandler) readPump(conn *websocket.Conn, ep *broadcast.Endpoint, logger *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("sync read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg model.SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Valid() {
			logger.Debug("ignoring sync message", slog.String("payload", string(data)))
			continue
		}
		ep.Publish(msg)
	}
}

// writePump is the only goroutine writing data frames to conn.
func (h *SyncHandler) writePump(conn *websocket.Conn, ep *broadcast.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-ep.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				conn.Close() // unblocks readPump
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-done:
			return
		}
	}
}
