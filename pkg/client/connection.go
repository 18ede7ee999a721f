package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"coach-service/pkg/events"
)

const (
	writeWait = 10 * time.Second

	// The server pings every 54s; a silent peer for longer than this is gone.
	readWait = 70 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultMinDelay         = 500 * time.Millisecond
	defaultMaxDelay         = 30 * time.Second
)

// State is the lifecycle of a ConnectionManager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Identity is the authenticated user a connection registers as. The zero
// Identity means logged out.
type Identity struct {
	UserID string
	Token  string
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// EventHandler receives change events on the manager's reader goroutine.
type EventHandler func(ev *events.ChangeEvent)

// ConnectionManager keeps at most one registered realtime connection, for
// the identity it was last given. A new identity tears the old connection
// down completely before the new one is dialled, and subscriptions made under
// the old identity never see an event again.
type ConnectionManager struct {
	url              string
	dialer           *websocket.Dialer
	clock            clock.Clock
	minDelay         time.Duration
	maxDelay         time.Duration
	handshakeTimeout time.Duration

	mu         sync.Mutex
	identity   Identity
	generation uint64
	session    *session
	subs       map[uint64]*subscription
	nextSub    uint64
	closed     bool

	state atomic.Int32

	listenersMu         sync.Mutex
	stateListeners      map[uint64]func(State)
	supersededListeners map[uint64]func(events.SupersededData)
	nextListener        uint64
}

type ManagerOption func(*ConnectionManager)

func WithDialer(d *websocket.Dialer) ManagerOption {
	return func(cm *ConnectionManager) {
		if d != nil {
			cm.dialer = d
		}
	}
}

func WithClock(c clock.Clock) ManagerOption {
	return func(cm *ConnectionManager) {
		if c != nil {
			cm.clock = c
		}
	}
}

// WithBackoff sets the first reconnect delay and its cap. Delays double in
// between.
func WithBackoff(minDelay, maxDelay time.Duration) ManagerOption {
	return func(cm *ConnectionManager) {
		if minDelay > 0 {
			cm.minDelay = minDelay
		}
		if maxDelay >= cm.minDelay {
			cm.maxDelay = maxDelay
		}
	}
}

// WithHandshakeTimeout bounds dialling plus the registration round trip.
func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(cm *ConnectionManager) {
		if d > 0 {
			cm.handshakeTimeout = d
		}
	}
}

// NewConnectionManager does not connect until SetIdentity is called with a
// non-empty identity. wsURL is the full endpoint, e.g. Client.WebSocketURL().
func NewConnectionManager(wsURL string, opts ...ManagerOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:                 wsURL,
		dialer:              websocket.DefaultDialer,
		clock:               clock.WallClock,
		minDelay:            defaultMinDelay,
		maxDelay:            defaultMaxDelay,
		handshakeTimeout:    defaultHandshakeTimeout,
		subs:                make(map[uint64]*subscription),
		stateListeners:      make(map[uint64]func(State)),
		supersededListeners: make(map[uint64]func(events.SupersededData)),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

func (cm *ConnectionManager) State() State {
	return State(cm.state.Load())
}

// Identity returns the identity the manager is currently bound to.
func (cm *ConnectionManager) Identity() Identity {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.identity
}

// SetIdentity binds the manager to id. Calling it again with the same
// identity does nothing. A different identity detaches every subscription,
// closes the current connection and waits for it to finish before a new one
// is dialled in the background. The zero Identity only tears down.
//
// SetIdentity and Close block on the reader goroutine, so they must not be
// called from an EventHandler or a state or superseded callback.
func (cm *ConnectionManager) SetIdentity(id Identity) error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return ErrClosed
	}
	if id == cm.identity {
		cm.mu.Unlock()
		return nil
	}

	prev := cm.session
	detached := cm.detachAllLocked()
	cm.identity = id
	cm.generation++
	cm.session = nil
	if !id.IsZero() {
		s := newSession(id, cm.generation, prev)
		cm.session = s
		go cm.run(s)
	}
	cm.mu.Unlock()

	for _, sub := range detached {
		sub.detach()
	}
	if prev != nil {
		prev.stop()
	}
	return nil
}

// Close tears the connection down and detaches every subscription. It is
// idempotent.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	prev := cm.session
	detached := cm.detachAllLocked()
	cm.identity = Identity{}
	cm.generation++
	cm.session = nil
	cm.mu.Unlock()

	for _, sub := range detached {
		sub.detach()
	}
	if prev != nil {
		prev.stop()
	}
	return nil
}

// Subscribe attaches handler to the current identity. It is detached when
// the identity changes, when the manager closes, or when unsubscribe is
// called. Once unsubscribe returns the handler is not running and will not
// run again. Calling unsubscribe from inside the handler deadlocks.
func (cm *ConnectionManager) Subscribe(handler EventHandler) (unsubscribe func()) {
	sub := &subscription{handler: handler, active: true}

	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return func() {}
	}
	sub.id = cm.nextSub
	sub.generation = cm.generation
	cm.nextSub++
	cm.subs[sub.id] = sub
	cm.mu.Unlock()

	return func() {
		cm.mu.Lock()
		delete(cm.subs, sub.id)
		cm.mu.Unlock()
		sub.detach()
	}
}

// OnStateChange registers fn for every state transition. It runs on the
// manager's goroutine and must not block.
func (cm *ConnectionManager) OnStateChange(fn func(State)) (cancel func()) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	id := cm.nextListener
	cm.nextListener++
	cm.stateListeners[id] = fn
	return func() {
		cm.listenersMu.Lock()
		delete(cm.stateListeners, id)
		cm.listenersMu.Unlock()
	}
}

// OnSuperseded registers fn for presence.superseded: another connection of
// the same user took the presence slot, so this one no longer receives
// change events. The connection itself stays open.
func (cm *ConnectionManager) OnSuperseded(fn func(events.SupersededData)) (cancel func()) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	id := cm.nextListener
	cm.nextListener++
	cm.supersededListeners[id] = fn
	return func() {
		cm.listenersMu.Lock()
		delete(cm.supersededListeners, id)
		cm.listenersMu.Unlock()
	}
}

func (cm *ConnectionManager) detachAllLocked() []*subscription {
	detached := make([]*subscription, 0, len(cm.subs))
	for id, sub := range cm.subs {
		detached = append(detached, sub)
		delete(cm.subs, id)
	}
	return detached
}

// run owns one identity's connection until the session is stopped,
// reconnecting with backoff after transient failures.
func (cm *ConnectionManager) run(s *session) {
	defer close(s.done)
	defer cm.setState(s, StateDisconnected)

	if s.prev != nil {
		<-s.prev.done
		s.prev = nil
	}

	for s.ctx.Err() == nil {
		conn, early, err := cm.connect(s)
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Error("Realtime connection given up", "userID", s.identity.UserID, "error", err)
			}
			return
		}

		err = cm.serve(s, conn, early)
		s.closeConn()
		if s.ctx.Err() != nil {
			return
		}
		cm.setState(s, StateDisconnected)
		slog.Warn("Realtime connection lost, reconnecting", "userID", s.identity.UserID, "error", err)
	}
}

// connect dials and registers, retrying transient failures until it
// succeeds, the session stops, or the server rejects the identity. It also
// returns the change events that arrived ahead of the acknowledgement.
func (cm *ConnectionManager) connect(s *session) (*websocket.Conn, []events.Envelope, error) {
	var (
		conn  *websocket.Conn
		early []events.Envelope
		fatal error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			cm.setState(s, StateConnecting)
			c, pending, err := cm.dialAndRegister(s)
			if err != nil {
				return err
			}
			conn, early = c, pending
			return nil
		},
		IsFatalError: func(err error) bool {
			if errors.Is(err, ErrRegistrationRejected) || errors.Is(err, errUnauthorized) {
				fatal = err
				return true
			}
			return s.ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			slog.Debug("Realtime connect failed", "userID", s.identity.UserID, "attempt", attempt, "error", err)
		},
		Attempts:    -1,
		Delay:       cm.minDelay,
		MaxDelay:    cm.maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       cm.clock,
		Stop:        s.ctx.Done(),
	})
	switch {
	case fatal != nil:
		return nil, nil, fatal
	case s.ctx.Err() != nil:
		if conn != nil {
			s.closeConn()
		}
		return nil, nil, s.ctx.Err()
	case err != nil:
		return nil, nil, err
	}
	return conn, early, nil
}

var errUnauthorized = errors.New("client: realtime endpoint rejected the token")

func (cm *ConnectionManager) dialAndRegister(s *session) (*websocket.Conn, []events.Envelope, error) {
	ctx, cancel := context.WithTimeout(s.ctx, cm.handshakeTimeout)
	defer cancel()

	endpoint, err := url.Parse(cm.url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %q: %w", cm.url, err)
	}
	if s.identity.Token != "" {
		q := endpoint.Query()
		q.Set("token", s.identity.Token)
		endpoint.RawQuery = q.Encode()
	}

	conn, resp, err := cm.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, errUnauthorized
		}
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	if !s.setConn(conn) {
		_ = conn.Close()
		return nil, nil, context.Canceled
	}

	early, err := cm.register(ctx, s, conn)
	if err != nil {
		s.closeConn()
		return nil, nil, err
	}
	return conn, early, nil
}

// register sends presence.register and waits for the acknowledgement. The
// server takes the presence slot before it acknowledges, so change events can
// arrive first; they are returned in order for serve to dispatch.
func (cm *ConnectionManager) register(ctx context.Context, s *session, conn *websocket.Conn) ([]events.Envelope, error) {
	env, err := events.NewEnvelope(events.MessageTypeRegister, events.RegisterData{
		UserID: s.identity.UserID,
		Token:  s.identity.Token,
	})
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		return nil, fmt.Errorf("send register: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var early []events.Envelope
	for {
		var reply events.Envelope
		if err := conn.ReadJSON(&reply); err != nil {
			return nil, fmt.Errorf("await registered: %w", err)
		}
		switch reply.Type {
		case events.MessageTypeRegistered:
			var data events.RegisteredData
			if err := reply.Decode(&data); err != nil {
				return nil, fmt.Errorf("decode registered: %w", err)
			}
			slog.Info("Realtime connection registered", "userID", data.UserID, "connectionID", data.ConnectionID)
			return early, nil
		case events.MessageTypeError:
			var data events.ErrorData
			_ = reply.Decode(&data)
			return nil, fmt.Errorf("%w: %s: %s", ErrRegistrationRejected, data.Code, data.Message)
		case events.MessageTypeEntityChange:
			early = append(early, reply)
		}
	}
}

// serve dispatches the frames held back during registration, then reads
// until the connection fails or the session stops.
func (cm *ConnectionManager) serve(s *session, conn *websocket.Conn, early []events.Envelope) error {
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for i := range early {
		cm.handleFrame(s, &early[i])
	}
	cm.setState(s, StateConnected)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("Dropping malformed frame", "userID", s.identity.UserID, "error", err)
			continue
		}
		cm.handleFrame(s, &env)
	}
}

func (cm *ConnectionManager) handleFrame(s *session, env *events.Envelope) {
	switch env.Type {
	case events.MessageTypeEntityChange:
		var ev events.ChangeEvent
		if err := env.Decode(&ev); err != nil {
			slog.Warn("Dropping malformed change event", "userID", s.identity.UserID, "error", err)
			return
		}
		if err := ev.Validate(); err != nil {
			slog.Warn("Dropping invalid change event", "userID", s.identity.UserID, "error", err)
			return
		}
		cm.dispatch(s, &ev)
	case events.MessageTypeSuperseded:
		var data events.SupersededData
		if err := env.Decode(&data); err == nil {
			cm.notifySuperseded(s, data)
		}
	case events.MessageTypeError:
		var data events.ErrorData
		_ = env.Decode(&data)
		slog.Warn("Realtime server error", "userID", s.identity.UserID, "code", data.Code, "message", data.Message)
	}
}

// dispatch hands ev to the subscriptions made under the session's identity.
func (cm *ConnectionManager) dispatch(s *session, ev *events.ChangeEvent) {
	cm.mu.Lock()
	if s.generation != cm.generation {
		cm.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(cm.subs))
	for _, sub := range cm.subs {
		if sub.generation == s.generation {
			targets = append(targets, sub)
		}
	}
	cm.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

func (cm *ConnectionManager) setState(s *session, state State) {
	cm.mu.Lock()
	current := s.generation == cm.generation
	cm.mu.Unlock()
	// A stopped session may still report its own teardown.
	if !current && state != StateDisconnected {
		return
	}

	if State(cm.state.Swap(int32(state))) == state {
		return
	}

	cm.listenersMu.Lock()
	fns := make([]func(State), 0, len(cm.stateListeners))
	for _, fn := range cm.stateListeners {
		fns = append(fns, fn)
	}
	cm.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (cm *ConnectionManager) notifySuperseded(s *session, data events.SupersededData) {
	slog.Warn("Realtime presence superseded by another connection", "userID", s.identity.UserID, "newConnectionID", data.NewConnectionID)

	cm.listenersMu.Lock()
	fns := make([]func(events.SupersededData), 0, len(cm.supersededListeners))
	for _, fn := range cm.supersededListeners {
		fns = append(fns, fn)
	}
	cm.listenersMu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// session is one identity's connection lifetime, across reconnects.
type session struct {
	identity   Identity
	generation uint64
	prev       *session

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

func newSession(id Identity, generation uint64, prev *session) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		identity:   id,
		generation: generation,
		prev:       prev,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// setConn records the live transport. It refuses once the session is stopped.
func (s *session) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conn = conn
	return true
}

func (s *session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

// stop cancels the session, closes its transport and waits for run to exit.
func (s *session) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.closeConn()
	<-s.done
}

type subscription struct {
	id         uint64
	generation uint64
	handler    EventHandler

	mu     sync.Mutex
	active bool
}

func (sub *subscription) deliver(ev *events.ChangeEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.active {
		sub.handler(ev)
	}
}

// detach waits for an in-flight delivery to finish.
func (sub *subscription) detach() {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()
}
