package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/playback"
)

const syncWriteWait = 10 * time.Second

var _ playback.Publisher = (*SyncConn)(nil)

// SyncConn is a joined sync channel. Publish is safe for concurrent use;
// Run must be called from a single goroutine.
type SyncConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu        sync.Mutex // serializes writes
	closeOnce sync.Once
}

func (c *Client) syncURL(channel string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/api/sync/" + channel
	return u.String()
}

// JoinSync opens the sync relay for channel as the current user. An empty
// channel joins the default one.
func (c *Client) JoinSync(ctx context.Context, channel string) (*SyncConn, error) {
	if channel == "" {
		channel = model.DefaultSyncChannel
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Jar:              c.jar,
	}

	conn, resp, err := dialer.DialContext(ctx, c.syncURL(channel), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, decodeAPIError(resp)
			}
		}
		return nil, fmt.Errorf("joining sync channel %q: %w", channel, err)
	}

	c.logger.Debug("sync joined", slog.String("channel", channel))
	return &SyncConn{conn: conn, logger: c.logger}, nil
}

// Publish sends msg to the other surfaces of the channel.
func (s *SyncConn) Publish(msg model.SyncMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(syncWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// PublishSlot announces a slot switch. Delivery is best effort, so a
// failure is only logged.
func (s *SyncConn) PublishSlot(slot int) {
	if err := s.Publish(model.SlotMessage(slot)); err != nil {
		s.logger.Warn("sync publish failed", slog.Int("slot", slot), slog.String("error", err.Error()))
	}
}

// Run reads messages until ctx is done or the connection closes, passing
// every valid one to fn. Frames that are not a valid SyncMessage are
// skipped. A normal close or a cancelled ctx returns nil.
func (s *SyncConn) Run(ctx context.Context, fn func(model.SyncMessage)) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("sync read: %w", err)
		}

		var msg model.SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Valid() {
			s.logger.Debug("sync message ignored", slog.String("raw", string(data)))
			continue
		}
		fn(msg)
	}
}

// Close says goodbye and closes the connection. It is safe to call more
// than once.
func (s *SyncConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
