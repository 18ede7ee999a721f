package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"coach-service/pkg/events"
)

// fakeConn implements Conn for tests. Reads block until a frame is pushed or
// the connection is closed.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return websocket.ErrCloseSent
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(t *testing.T, msgType events.MessageType, data interface{}) {
	t.Helper()
	env, err := events.NewEnvelope(msgType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	f.inbound <- raw
}

func (f *fakeConn) envelopes(t *testing.T) []events.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Envelope, 0, len(f.written))
	for _, raw := range f.written {
		var env events.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) ofType(t *testing.T, msgType events.MessageType) []events.Envelope {
	t.Helper()
	var out []events.Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

// waitFor blocks until n envelopes of msgType were written.
func (f *fakeConn) waitFor(t *testing.T, msgType events.MessageType, n int) []events.Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.ofType(t, msgType)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s frame(s)", n, msgType)
	return f.ofType(t, msgType)
}

func startHub(t *testing.T, opts ...HubOption) *Hub {
	t.Helper()
	hub := NewHub(opts...)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// connect accepts a fake connection and registers it as userID.
func connect(t *testing.T, hub *Hub, userID string) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	client, err := hub.Accept(conn, "")
	require.NoError(t, err)
	if userID != "" {
		conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: userID})
		conn.waitFor(t, events.MessageTypeRegistered, 1)
	}
	return client, conn
}

type testEntity struct {
	ID       string `json:"id"`
	CoachID  string `json:"coachId"`
	ClientID string `json:"clientId"`
	Location string `json:"location,omitempty"`
}

func (e testEntity) EntityID() string       { return e.ID }
func (e testEntity) Stakeholders() []string { return []string{e.CoachID, e.ClientID} }
