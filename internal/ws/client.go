package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"chat-engine/internal/logging"
)

// ClientConfig bounds a single connection.
type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// Client is one websocket connection. UserID is fixed by the handshake token; the
// connection becomes identified once the client confirms it with identify.
type Client struct {
	ID     string
	UserID string
	Info   ConnInfo

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	cfg  ClientConfig

	// guarded by hub.mu
	subs   map[string]struct{}
	closed bool

	// only touched by the read goroutine
	identified bool
}

func NewClient(hub *Hub, conn *websocket.Conn, info ConnInfo, cfg ClientConfig) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Client{
		ID:     info.ConnID,
		UserID: info.UserID,
		Info:   info,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		cfg:    cfg,
		subs:   make(map[string]struct{}),
	}
}

// ReadPump feeds every inbound frame to handler until the connection fails. Frames are
// handled one at a time, so a client's events are applied in the order it sent them.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.L().Debug().Err(err).Str(logging.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}
		handler(c, message)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
