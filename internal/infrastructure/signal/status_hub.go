// Package signal pushes session status to dashboard clients over
// websockets.
package signal

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/internal/infrastructure/middleware"
	"liveorch/pkg/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MessageStatus   = "status"
	MessageError    = "error"
	MessageSnapshot = "snapshot"
	MessageRemote   = "remote"
	MessagePong     = "pong"
)

// StatusMessage is what dashboard clients receive.
type StatusMessage struct {
	Type      string              `json:"type"`
	Message   string              `json:"message,omitempty"`
	Variant   string              `json:"variant,omitempty"`
	Status    string              `json:"status,omitempty"`
	Stats     *domain.StreamStats `json:"stats,omitempty"`
	Instance  string              `json:"instance,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

type clientMessage struct {
	Type string `json:"type"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// StatusHub fans listener events out to every connected client. Slow
// clients whose send buffer fills up are disconnected.
type StatusHub struct {
	upgrader     websocket.Upgrader
	connLimiter  *middleware.ConnectionLimiter
	cfg          *config.Config
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	maxMessage   int64

	mu       sync.RWMutex
	clients  map[string]*client
	snapshot func() StatusMessage

	logger *zap.SugaredLogger
	now    func() time.Time
}

var (
	_ ports.StatusListener    = (*StatusHub)(nil)
	_ ports.StatusFeedHandler = (*StatusHub)(nil)
)

// NewStatusHub creates a new status hub
func NewStatusHub(cfg *config.Config, logger *zap.SugaredLogger) *StatusHub {
	h := &StatusHub{
		connLimiter:  middleware.NewConnectionLimiter(cfg),
		cfg:          cfg,
		pingInterval: cfg.StatusFeed.PingInterval,
		pongTimeout:  cfg.StatusFeed.PongTimeout,
		writeTimeout: cfg.StatusFeed.WriteTimeout,
		sendBuffer:   cfg.StatusFeed.SendBuffer,
		maxMessage:   cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		clients:      make(map[string]*client),
		logger:       logger,
		now:          time.Now,
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 64
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
	}
	return h
}

// SetSnapshot installs the function that describes the current session to
// newly connected clients.
func (h *StatusHub) SetSnapshot(fn func() StatusMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

func (h *StatusHub) OnStatusChanged(text string) {
	h.Broadcast(StatusMessage{Type: MessageStatus, Message: text})
}

func (h *StatusHub) OnError(text string) {
	h.Broadcast(StatusMessage{Type: MessageError, Message: text})
}

// Broadcast never blocks.
func (h *StatusHub) Broadcast(msg StatusMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnw("failed to marshal status message", "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warnw("status feed client too slow, disconnecting", "client_id", c.id)
		h.unregister(c)
	}
}

func (h *StatusHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *StatusHub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// HandleWebSocket upgrades the request and sends the current snapshot first.
func (h *StatusHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	release, status := h.connLimiter.Acquire(r)
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}
	h.register(c)
	h.logger.Infow("status feed client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()
	h.sendSnapshot(c)
	h.readPump(c, middleware.NewMessageLimiter(h.cfg))

	h.unregister(c)
	<-done
	conn.Close()
	h.logger.Infow("status feed client disconnected", "client_id", c.id)
}

func (h *StatusHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *StatusHub) unregister(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

func (h *StatusHub) sendSnapshot(c *client) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	msg := fn()
	msg.Type = MessageSnapshot
	h.sendTo(c, msg)
}

func (h *StatusHub) sendTo(c *client, msg StatusMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// send is only closed after the client leaves the map
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.id] != c {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump handles the few client requests the feed supports and keeps
// the read deadline moving on pongs.
func (h *StatusHub) readPump(c *client, limiter *rate.Limiter) {
	if h.maxMessage > 0 {
		c.conn.SetReadLimit(h.maxMessage)
	}
	_ = c.conn.SetReadDeadline(h.now().Add(h.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(h.now().Add(h.pongTimeout))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("status feed read error", "client_id", c.id, "error", err)
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			h.logger.Warnw("status feed client exceeded message rate", "client_id", c.id)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				h.now().Add(h.writeTimeout))
			return
		}
		_ = c.conn.SetReadDeadline(h.now().Add(h.pongTimeout))

		switch msg.Type {
		case "ping":
			h.sendTo(c, StatusMessage{Type: MessagePong})
		case MessageSnapshot:
			h.sendSnapshot(c)
		default:
			h.sendTo(c, StatusMessage{Type: MessageError, Message: "unsupported message type"})
		}
	}
}

// writePump writes messages to the websocket connection
func (h *StatusHub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(h.now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// unblocks readPump
				c.conn.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Infow("status feed write failed", "client_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(h.now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Infow("error sending ping", "client_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
