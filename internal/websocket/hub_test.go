package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach-service/pkg/events"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifyToken(token string) (string, error) {
	if userID, ok := s[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid token")
}

type recordingMirror struct {
	mu      sync.Mutex
	updates []string
}

func (m *recordingMirror) SetUserOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, "online:"+userID)
	return nil
}

func (m *recordingMirror) SetUserOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, "offline:"+userID)
	return nil
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.updates...)
}

func errorCode(t *testing.T, env events.Envelope) string {
	t.Helper()
	var data events.ErrorData
	require.NoError(t, env.Decode(&data))
	return data.Code
}

func TestHubAcceptedConnectionStartsOpen(t *testing.T) {
	hub := startHub(t)
	client, _ := connect(t, hub, "")

	assert.Equal(t, StateOpen, client.State())
	assert.Empty(t, client.UserID())
	assert.Equal(t, 1, hub.ConnectionCount())
	_, ok := hub.Presence().Resolve("u1")
	assert.False(t, ok)
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)
	client, conn := connect(t, hub, "u1")

	assert.Equal(t, StateRegistered, client.State())
	assert.Equal(t, "u1", client.UserID())

	acks := conn.ofType(t, events.MessageTypeRegistered)
	require.Len(t, acks, 1)
	var ack events.RegisteredData
	require.NoError(t, acks[0].Decode(&ack))
	assert.Equal(t, client.ID(), ack.ConnectionID)
	assert.Equal(t, "u1", ack.UserID)

	connID, ok := hub.Presence().Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, client.ID(), connID)
}

func TestHubRejectsMalformedRegistration(t *testing.T) {
	hub := startHub(t)
	client, conn := connect(t, hub, "")

	conn.push(t, events.MessageTypeRegister, events.RegisterData{})
	errs := conn.waitFor(t, events.MessageTypeError, 1)

	assert.Equal(t, events.ErrCodeInvalidRegistration, errorCode(t, errs[0]))
	assert.Equal(t, StateOpen, client.State())
	assert.False(t, conn.isClosed(), "a rejected registration leaves the connection open")
}

func TestHubRegistrationIsIdempotent(t *testing.T) {
	hub := startHub(t)
	client, conn := connect(t, hub, "u1")

	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u1"})
	conn.waitFor(t, events.MessageTypeRegistered, 2)

	connID, ok := hub.Presence().Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, client.ID(), connID)
	assert.Empty(t, conn.ofType(t, events.MessageTypeSuperseded))
}

func TestHubIdentityIsLockedPerConnection(t *testing.T) {
	hub := startHub(t)
	client, conn := connect(t, hub, "u1")

	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u2"})
	errs := conn.waitFor(t, events.MessageTypeError, 1)

	assert.Equal(t, events.ErrCodeIdentityLocked, errorCode(t, errs[0]))
	assert.Equal(t, "u1", client.UserID())
	_, ok := hub.Presence().Resolve("u2")
	assert.False(t, ok)
}

func TestHubCloseRemovesPresence(t *testing.T) {
	mirror := &recordingMirror{}
	hub := startHub(t, WithPresenceMirror(mirror))
	client, conn := connect(t, hub, "u1")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, ok := hub.Presence().Resolve("u1")
		return !ok && hub.ConnectionCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateClosed, client.State())

	require.Eventually(t, func() bool {
		return len(mirror.snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"online:u1", "offline:u1"}, mirror.snapshot())
}

func TestHubClosedConnectionDoesNotTakePresence(t *testing.T) {
	hub := startHub(t)
	live, liveConn := connect(t, hub, "u1")
	closing, _ := connect(t, hub, "")

	// the register frame was read just before the transport went away
	closing.close()
	env, err := events.NewEnvelope(events.MessageTypeRegister, events.RegisterData{UserID: "u1"})
	require.NoError(t, err)
	hub.handleRegister(closing, env)

	connectionID, ok := hub.Presence().Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, live.ID(), connectionID)
	assert.Equal(t, StateRegistered, live.State())
	assert.Never(t, func() bool {
		return len(liveConn.ofType(t, events.MessageTypeSuperseded)) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestHubSupersededConnection(t *testing.T) {
	hub := startHub(t)
	first, firstConn := connect(t, hub, "u1")
	second, _ := connect(t, hub, "u1")

	notices := firstConn.waitFor(t, events.MessageTypeSuperseded, 1)
	var data events.SupersededData
	require.NoError(t, notices[0].Decode(&data))
	assert.Equal(t, second.ID(), data.NewConnectionID)

	// Closing the superseded connection must not remove the newer record.
	require.NoError(t, firstConn.Close())
	require.Eventually(t, func() bool {
		return first.State() == StateClosed && hub.ConnectionCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	connID, ok := hub.Presence().Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, second.ID(), connID)
}

func TestHubTokenVerification(t *testing.T) {
	hub := startHub(t, WithTokenVerifier(stubVerifier{"good": "u1"}))

	_, conn := connect(t, hub, "")
	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u1", Token: "bad"})
	errs := conn.waitFor(t, events.MessageTypeError, 1)
	assert.Equal(t, events.ErrCodeUnauthorized, errorCode(t, errs[0]))

	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u2", Token: "good"})
	errs = conn.waitFor(t, events.MessageTypeError, 2)
	assert.Equal(t, events.ErrCodeUnauthorized, errorCode(t, errs[1]))

	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u1", Token: "good"})
	conn.waitFor(t, events.MessageTypeRegistered, 1)
}

func TestHubUpgradeIdentityMustMatch(t *testing.T) {
	hub := startHub(t)
	conn := newFakeConn()
	_, err := hub.Accept(conn, "u1")
	require.NoError(t, err)

	conn.push(t, events.MessageTypeRegister, events.RegisterData{UserID: "u2"})
	errs := conn.waitFor(t, events.MessageTypeError, 1)
	assert.Equal(t, events.ErrCodeUnauthorized, errorCode(t, errs[0]))
}

func TestHubRejectsUnknownMessageTypes(t *testing.T) {
	hub := startHub(t)
	_, conn := connect(t, hub, "u1")

	conn.push(t, events.MessageTypeEntityChange, map[string]string{"kind": "created"})
	errs := conn.waitFor(t, events.MessageTypeError, 1)
	assert.Equal(t, events.ErrCodeInvalidMessage, errorCode(t, errs[0]))

	conn.inbound <- []byte("not json")
	errs = conn.waitFor(t, events.MessageTypeError, 2)
	assert.Equal(t, events.ErrCodeInvalidMessage, errorCode(t, errs[1]))
}

func TestHubStopClosesConnections(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	_, conn := connect(t, hub, "u1")

	hub.Stop()

	assert.True(t, conn.isClosed())
	_, ok := hub.Presence().Resolve("u1")
	assert.False(t, ok)
	_, err := hub.Accept(newFakeConn(), "")
	assert.ErrorIs(t, err, ErrHubStopped)
}
