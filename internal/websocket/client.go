package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coach-service/pkg/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	defaultSendBuffer = 256
)

var ErrClientDisconnected = errors.New("client disconnected")

// ConnState is the server-side lifecycle of one connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateRegistered
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn used by a Client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one accepted WebSocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn Conn
	send chan []byte

	// authUserID is the identity proven at upgrade time, if any.
	authUserID string

	mu     sync.RWMutex
	userID string

	state int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newClient(hub *Hub, conn Conn, authUserID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:         uuid.New().String(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuffer),
		authUserID: authUserID,
		state:      int32(StateOpen),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

// UserID returns the registered identity, or "" while the connection is Open.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

// markRegistered moves Open -> Registered. Closed is terminal.
func (c *Client) markRegistered(userID string) bool {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateOpen), int32(StateRegistered)) &&
		c.State() != StateRegistered {
		return false
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return true
}

// close is idempotent. It cancels both pumps and closes the transport; the
// read pump then reports the connection to the hub.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, int32(StateClosed))
		c.cancel()
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				slog.Debug("Error closing connection", "connectionID", c.id, "error", err)
			}
		}
	})
}

// SendMessage enqueues an encoded frame without blocking. A full buffer means
// the peer is not keeping up, so the connection is closed.
func (c *Client) SendMessage(data []byte) error {
	if c.State() == StateClosed {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "connectionID", c.id, "userID", c.UserID())
		c.close()
		return ErrClientDisconnected
	}
}

func (c *Client) sendEnvelope(msgType events.MessageType, data interface{}) error {
	env, err := events.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.SendMessage(raw)
}

func (c *Client) sendError(code, message string) {
	if err := c.sendEnvelope(events.MessageTypeError, events.ErrorData{Code: code, Message: message}); err != nil {
		slog.Debug("Failed to send error", "connectionID", c.id, "code", code, "error", err)
	}
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer func() {
		c.close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", "connectionID", c.id, "userID", c.UserID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "connectionID", c.id, "userID", c.UserID(), "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError(events.ErrCodeInvalidMessage, "invalid message format")
			continue
		}
		if env.Type != events.MessageTypeRegister {
			c.sendError(events.ErrCodeInvalidMessage, "unsupported message type: "+env.Type.String())
			continue
		}

		select {
		case c.hub.handleMessage <- &ClientMessage{Client: c, Envelope: &env}:
		case <-c.ctx.Done():
			return
		case <-c.hub.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "connectionID", c.id, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "connectionID", c.id, "error", err)
				c.close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ServeWS upgrades the request and hands the connection to the hub.
// authUserID is the identity proven by the upgrade request, or "".
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, authUserID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}
	if _, err := hub.Accept(conn, authUserID); err != nil {
		slog.Warn("WebSocket connection refused", "error", err)
	}
}
