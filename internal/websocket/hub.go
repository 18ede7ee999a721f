package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coach-service/pkg/events"
)

var ErrHubStopped = errors.New("hub stopped")

// TokenVerifier resolves a bearer token to the user it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// PresenceMirror publishes presence for display purposes. It is never
// consulted for routing.
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

type ClientMessage struct {
	Client   *Client
	Envelope *events.Envelope
}

type presenceUpdate struct {
	userID string
	online bool
}

// Hub owns the connection lifecycle: Open on accept, Registered on a valid
// presence.register, Closed when the transport goes away. All lifecycle
// transitions run on the Run goroutine.
type Hub struct {
	// Connections by connection ID
	connections map[string]*Client
	mu          sync.RWMutex

	registry *PresenceRegistry

	// Register requests from the transport
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Application messages from clients
	handleMessage chan *ClientMessage

	verifier   TokenVerifier
	mirror     PresenceMirror
	mirrorCh   chan presenceUpdate
	breaker    *mirrorBreaker
	metrics    *Metrics
	sendBuffer int

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type HubOption func(*Hub)

// WithTokenVerifier requires every registration to carry a token whose
// subject matches the claimed user ID.
func WithTokenVerifier(v TokenVerifier) HubOption {
	return func(h *Hub) { h.verifier = v }
}

func WithPresenceMirror(m PresenceMirror) HubOption {
	return func(h *Hub) { h.mirror = m }
}

// WithMirrorBreaker overrides how many consecutive mirror failures open the
// circuit and how long it stays open.
func WithMirrorBreaker(threshold int, openTimeout time.Duration) HubOption {
	return func(h *Hub) { h.breaker = newMirrorBreaker(threshold, openTimeout) }
}

func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections:   make(map[string]*Client),
		registry:      NewPresenceRegistry(),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		handleMessage: make(chan *ClientMessage),
		mirrorCh:      make(chan presenceUpdate, 1024),
		breaker:       newMirrorBreaker(defaultBreakerThreshold, defaultBreakerTimeout),
		sendBuffer:    defaultSendBuffer,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Presence exposes the registry read-only for the Broadcaster.
func (h *Hub) Presence() PresenceResolver {
	return h.registry
}

func (h *Hub) Run() {
	defer close(h.done)

	if h.mirror != nil {
		go h.runMirror()
	}

	for {
		select {
		case client := <-h.register:
			h.addConnection(client)

		case client := <-h.unregister:
			h.removeConnection(client)

		case msg := <-h.handleMessage:
			h.handleClientMessage(msg)

		case <-h.ctx.Done():
			slog.Info("WebSocket hub shutting down")
			h.closeAll()
			return
		}
	}
}

// Stop closes every connection and waits for the Run loop to exit.
func (h *Hub) Stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		slog.Warn("Timeout waiting for hub to stop")
	}
}

// Accept registers a transport connection in state Open and starts its pumps.
func (h *Hub) Accept(conn Conn, authUserID string) (*Client, error) {
	client := newClient(h, conn, authUserID)

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close()
		return nil, ErrHubStopped
	case <-time.After(5 * time.Second):
		slog.Error("Timeout sending registration request", "connectionID", client.id)
		_ = conn.Close()
		return nil, ErrHubStopped
	}

	client.wg.Add(2)
	go client.writePump()
	go client.readPump()
	return client, nil
}

// Send enqueues an encoded frame for a connection. It never blocks.
func (h *Hub) Send(connectionID string, data []byte) error {
	h.mu.RLock()
	client, ok := h.connections[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrClientDisconnected
	}
	return client.SendMessage(data)
}

func (h *Hub) connection(connectionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[connectionID]
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) addConnection(client *Client) {
	h.mu.Lock()
	h.connections[client.id] = client
	h.mu.Unlock()

	h.metrics.connectionOpened()
	slog.Info("Connection opened", "connectionID", client.id)
}

func (h *Hub) removeConnection(client *Client) {
	h.mu.Lock()
	if _, ok := h.connections[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, client.id)
	h.mu.Unlock()

	client.close()
	h.metrics.connectionClosed()

	userID, removed := h.registry.RemoveByConnection(client.id)
	if removed {
		h.metrics.setRegistered(h.registry.Len())
		h.mirrorPresence(userID, false)
	}
	slog.Info("Connection closed", "connectionID", client.id, "userID", client.UserID(), "presenceRemoved", removed)
}

func (h *Hub) handleClientMessage(msg *ClientMessage) {
	client := msg.Client
	if client.State() == StateClosed {
		return
	}

	switch msg.Envelope.Type {
	case events.MessageTypeRegister:
		h.handleRegister(client, msg.Envelope)
	default:
		client.sendError(events.ErrCodeInvalidMessage, "unsupported message type")
	}
}

func (h *Hub) handleRegister(client *Client, env *events.Envelope) {
	var data events.RegisterData
	if err := env.Decode(&data); err != nil || data.UserID == "" {
		h.reject(client, events.ErrCodeInvalidRegistration, "user_id is required")
		return
	}

	if h.verifier != nil {
		subject, err := h.verifier.VerifyToken(data.Token)
		if err != nil || subject != data.UserID {
			h.reject(client, events.ErrCodeUnauthorized, "token does not match user_id")
			return
		}
	}
	if client.authUserID != "" && client.authUserID != data.UserID {
		h.reject(client, events.ErrCodeUnauthorized, "connection was authenticated as a different user")
		return
	}

	// A connection keeps the identity it first registered. Switching users
	// means opening a new connection.
	if current := client.UserID(); current != "" && current != data.UserID {
		h.reject(client, events.ErrCodeIdentityLocked, "connection is already registered to another user")
		return
	}

	// Closed while the message was in flight. Taking the slot now would
	// silently supersede a live connection of the same user.
	if client.State() == StateClosed {
		return
	}
	superseded, err := h.registry.Register(data.UserID, client.id)
	if err != nil {
		h.reject(client, events.ErrCodeInvalidRegistration, err.Error())
		return
	}
	if !client.markRegistered(data.UserID) {
		// Closed between the check and the transition: give the slot back.
		h.registry.RemoveByConnection(client.id)
		if old := h.connection(superseded); old != nil && old.State() == StateRegistered {
			_, _ = h.registry.Register(data.UserID, superseded)
		}
		return
	}
	h.metrics.setRegistered(h.registry.Len())
	h.mirrorPresence(data.UserID, true)

	if err := client.sendEnvelope(events.MessageTypeRegistered, events.RegisteredData{
		ConnectionID: client.id,
		UserID:       data.UserID,
	}); err != nil {
		slog.Debug("Failed to acknowledge registration", "connectionID", client.id, "error", err)
	}

	if superseded != "" {
		if old := h.connection(superseded); old != nil {
			_ = old.sendEnvelope(events.MessageTypeSuperseded, events.SupersededData{
				UserID:          data.UserID,
				NewConnectionID: client.id,
			})
		}
		slog.Info("Presence superseded", "userID", data.UserID, "connectionID", client.id, "supersededConnectionID", superseded)
	}
	slog.Info("Connection registered", "connectionID", client.id, "userID", data.UserID)
}

func (h *Hub) reject(client *Client, code, message string) {
	h.metrics.rejectedRegistration(code)
	slog.Warn("Registration rejected", "connectionID", client.id, "code", code)
	client.sendError(code, message)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.connections))
	for id, client := range h.connections {
		clients = append(clients, client)
		delete(h.connections, id)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
		h.registry.RemoveByConnection(client.id)
		h.metrics.connectionClosed()
	}
	h.metrics.setRegistered(h.registry.Len())
}

func (h *Hub) mirrorPresence(userID string, online bool) {
	if h.mirror == nil {
		return
	}
	select {
	case h.mirrorCh <- presenceUpdate{userID: userID, online: online}:
	default:
		slog.Warn("Presence mirror queue full, dropping update", "userID", userID, "online", online)
	}
}

// runMirror applies presence updates in order off the lifecycle goroutine so a
// slow Redis never stalls registration. While the breaker is open updates are
// skipped; the mirror is display-only and converges on the next transition.
func (h *Hub) runMirror() {
	for {
		select {
		case update := <-h.mirrorCh:
			if !h.breaker.allow() {
				h.metrics.mirrorSkipped()
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			var err error
			if update.online {
				err = h.mirror.SetUserOnline(ctx, update.userID)
			} else {
				err = h.mirror.SetUserOffline(ctx, update.userID)
			}
			cancel()
			h.breaker.record(err)
			h.metrics.setMirrorCircuit(h.breaker.isOpen())
			if err != nil {
				slog.Error("Failed to mirror presence", "userID", update.userID, "online", update.online, "error", err)
			}
		case <-h.ctx.Done():
			return
		}
	}
}
