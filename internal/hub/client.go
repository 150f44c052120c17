package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdullathedruid/ptyhost/internal/trust"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize admits a maximal pty.write payload after JSON escaping.
	maxMessageSize = 8 << 20

	sendQueueSize = 1024
)

// Client is one websocket connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn, h *Hub, limiter *rate.Limiter) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, sendQueueSize),
		limiter: limiter,
	}
}

// readPump handles requests in arrival order until the connection fails.
// Sequential handling keeps writes to a session in the order they were sent.
func (c *Client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("client read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		c.hub.countMessage("in")
		c.handle(ctx, data)
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.hub.reply(c, Response{Type: TypeResult, OK: false, Error: "invalid message"})
		return
	}
	if !c.limiter.Allow() {
		c.hub.reply(c, Response{Type: TypeResult, ID: req.ID, OK: false, Error: "rate limited"})
		return
	}

	result, err := c.hub.dispatcher.Dispatch(ctx, req.Sender, req.Type, req.Params)
	if err != nil {
		if !trust.IsRejection(err) {
			c.hub.logger.Warn("command failed",
				zap.String("client", c.id),
				zap.String("command", req.Type),
				zap.Error(err))
		}
		c.hub.reply(c, Response{Type: TypeResult, ID: req.ID, OK: false, Error: err.Error()})
		return
	}
	c.hub.reply(c, Response{Type: TypeResult, ID: req.ID, OK: true, Result: result})
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
