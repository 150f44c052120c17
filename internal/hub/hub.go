// Package hub is the websocket transport between the UI and the host.
//
// A connection is admitted only with the shared token and a trusted Origin.
// Each request is routed through a Dispatcher, which applies the trust
// checks, and answered on the same connection. Notifications fan out to
// every connected client.
package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdullathedruid/ptyhost/internal/logging"
	"github.com/abdullathedruid/ptyhost/internal/trust"
)

// Dispatcher executes one validated command.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender *trust.Sender, name string, params json.RawMessage) (any, error)
}

// Metrics receives connection and message counts.
type Metrics interface {
	SetConnections(n int)
	Message(direction string)
}

// Options configure a Hub.
type Options struct {
	Token              string
	Policy             trust.Policy
	AllowMissingOrigin bool
	RequestsPerSecond  float64
	Burst              int
	Logger             *zap.Logger
	Metrics            Metrics
}

// Hub tracks connected clients.
type Hub struct {
	opts       Options
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// New creates a Hub that routes requests to d.
func New(d Dispatcher, opts Options) *Hub {
	h := &Hub{
		opts:       opts,
		dispatcher: d,
		logger:     logging.OrNop(opts.Logger).Named("hub"),
		clients:    make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return h.opts.AllowMissingOrigin
	}
	if trust.IsTrustedOrigin(origin, h.opts.Policy) {
		return true
	}
	h.logger.Warn("rejected origin", zap.String("origin", origin), zap.String("remote", r.RemoteAddr))
	return false
}

func (h *Hub) checkToken(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" || h.opts.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.Token)) == 1
}

// ServeHTTP upgrades an admitted request to a websocket client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkToken(r) {
		h.logger.Warn("rejected token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, h, h.newLimiter())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.setConnections(count)

	h.logger.Info("client connected", zap.String("client", c.id), zap.Int("total", count))

	go c.writePump()
	go c.readPump(context.Background())
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.opts.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.opts.Burst
	if burst <= 0 {
		burst = int(h.opts.RequestsPerSecond)
	}
	return rate.NewLimiter(rate.Limit(h.opts.RequestsPerSecond), burst)
}

// unregister removes c and closes its send queue once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.setConnections(count)
		h.logger.Info("client disconnected", zap.String("client", c.id), zap.Int("total", count))
	}
}

// Notify marshals msg once and queues it for every client. A client whose
// queue is full is disconnected rather than shown a gap in its stream.
func (h *Hub) Notify(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal notification", zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
			h.countMessage("out")
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("client too slow, disconnecting", zap.String("client", c.id))
		h.unregister(c)
	}
}

// reply queues a response for one client.
func (h *Hub) reply(c *Client, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("marshal response", zap.String("request", resp.ID), zap.Error(err))
		data, _ = json.Marshal(Response{Type: TypeResult, ID: resp.ID, Error: "internal error"})
	}

	h.mu.RLock()
	_, live := h.clients[c.id]
	full := false
	if live {
		select {
		case c.send <- data:
			h.countMessage("out")
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.logger.Warn("client too slow, disconnecting", zap.String("client", c.id))
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
	h.setConnections(0)
}

func (h *Hub) setConnections(n int) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.SetConnections(n)
	}
}

func (h *Hub) countMessage(direction string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.Message(direction)
	}
}
