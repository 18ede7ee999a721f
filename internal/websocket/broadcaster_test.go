package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach-service/pkg/events"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(userID string) (string, bool) {
	conn, ok := m[userID]
	return conn, ok
}

type push struct {
	connectionID string
	frame        []byte
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []push
	fail   map[string]bool
}

func (p *recordingPusher) Send(connectionID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[connectionID] {
		return ErrClientDisconnected
	}
	p.pushes = append(p.pushes, push{connectionID: connectionID, frame: data})
	return nil
}

func (p *recordingPusher) targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.pushes))
	for _, ps := range p.pushes {
		out = append(out, ps.connectionID)
	}
	return out
}

type recordingSink struct {
	published []*events.ChangeEvent
}

func (s *recordingSink) Publish(event *events.ChangeEvent) {
	s.published = append(s.published, event)
}

func decodeChange(t *testing.T, frame []byte) events.ChangeEvent {
	t.Helper()
	var env events.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, events.MessageTypeEntityChange, env.Type)
	var change events.ChangeEvent
	require.NoError(t, env.Decode(&change))
	return change
}

func TestBroadcastSkipsDisconnectedStakeholder(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{"u1": "c1"}, pusher)
	session := testEntity{ID: "s1", CoachID: "u1", ClientID: "u2"}

	var delivered int
	require.NotPanics(t, func() {
		delivered = b.Broadcast(events.EntitySession, session, events.KindUpdated)
	})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"c1"}, pusher.targets(), "no push is attempted toward the absent stakeholder")
}

func TestBroadcastNoStakeholderConnectedIsNoop(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{}, pusher)

	delivered := b.Broadcast(events.EntityInvoice, testEntity{ID: "i1", CoachID: "u1", ClientID: "u2"}, events.KindCreated)

	assert.Zero(t, delivered)
	assert.Empty(t, pusher.targets())
}

func TestBroadcastTargetsBothStakeholdersIncludingActor(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{"u1": "c1", "u2": "c2", "u3": "c3"}, pusher)
	session := testEntity{ID: "s1", CoachID: "u1", ClientID: "u2", Location: "studio"}

	delivered := b.Broadcast(events.EntitySession, session, events.KindCreated)

	assert.Equal(t, 2, delivered)
	assert.ElementsMatch(t, []string{"c1", "c2"}, pusher.targets())

	change := decodeChange(t, pusher.pushes[0].frame)
	assert.Equal(t, events.KindCreated, change.Kind)
	assert.Equal(t, events.EntitySession, change.EntityType)
	assert.Equal(t, "s1", change.EntityID)
	var payload testEntity
	require.NoError(t, json.Unmarshal(change.Payload, &payload))
	assert.Equal(t, session, payload)
}

func TestBroadcastSameUserInBothRolesPushesOnce(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{"u1": "c1"}, pusher)

	delivered := b.Broadcast(events.EntityConversation, testEntity{ID: "x", CoachID: "u1", ClientID: "u1"}, events.KindUpdated)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"c1"}, pusher.targets())
}

func TestBroadcastDeletedCarriesEntityID(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{"u1": "c1"}, pusher)

	b.Broadcast(events.EntityMessage, testEntity{ID: "m1", CoachID: "u1", ClientID: "u2"}, events.KindDeleted)

	change := decodeChange(t, pusher.pushes[0].frame)
	assert.Equal(t, events.KindDeleted, change.Kind)
	var id string
	require.NoError(t, json.Unmarshal(change.Payload, &id))
	assert.Equal(t, "m1", id)
}

func TestBroadcastFailedSendIsNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pusher := &recordingPusher{fail: map[string]bool{"c1": true}}
	b := NewBroadcaster(mapResolver{"u1": "c1", "u2": "c2"}, pusher, WithBroadcastMetrics(metrics))

	delivered := b.Broadcast(events.EntitySession, testEntity{ID: "s1", CoachID: "u1", ClientID: "u2"}, events.KindUpdated)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.droppedSends))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.pushes.WithLabelValues("session", "updated")))
}

func TestBroadcastCountsMisses(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	b := NewBroadcaster(mapResolver{}, &recordingPusher{}, WithBroadcastMetrics(metrics))

	b.Broadcast(events.EntityInvoice, testEntity{ID: "i1", CoachID: "u1", ClientID: "u2"}, events.KindUpdated)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.misses.WithLabelValues("invoice")))
}

func TestBroadcastPublishesToSinks(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(mapResolver{}, &recordingPusher{}, WithChangeSink(sink))

	b.Broadcast(events.EntityInvoice, testEntity{ID: "i1", CoachID: "u1", ClientID: "u2"}, events.KindCreated)

	require.Len(t, sink.published, 1)
	assert.Equal(t, "i1", sink.published[0].EntityID)
	assert.Equal(t, []string{"u1", "u2"}, sink.published[0].TargetUserIDs)
}

func TestNilBroadcasterIsSafe(t *testing.T) {
	var b *Broadcaster
	assert.Zero(t, b.Broadcast(events.EntitySession, testEntity{ID: "s1"}, events.KindCreated))
}

func TestBroadcastIgnoresNilEntity(t *testing.T) {
	pusher := &recordingPusher{}
	b := NewBroadcaster(mapResolver{"u1": "c1"}, pusher)

	var missing *testEntity
	assert.NotPanics(t, func() {
		assert.Zero(t, b.Broadcast(events.EntitySession, missing, events.KindUpdated))
	})
	assert.Zero(t, b.Broadcast(events.EntitySession, nil, events.KindDeleted))
	assert.Empty(t, pusher.targets())
}

type failingSender struct{}

func (failingSender) Send(string, []byte) error { return errors.New("boom") }

func TestBroadcastThroughHubPreservesOrder(t *testing.T) {
	hub := startHub(t)
	_, coachConn := connect(t, hub, "coach")
	_, clientConn := connect(t, hub, "client")
	b := NewHubBroadcaster(hub)

	session := testEntity{ID: "s1", CoachID: "coach", ClientID: "client"}
	b.Broadcast(events.EntitySession, session, events.KindCreated)
	session.Location = "room 2"
	b.Broadcast(events.EntitySession, session, events.KindUpdated)
	b.Broadcast(events.EntitySession, session, events.KindDeleted)

	for _, conn := range []*fakeConn{coachConn, clientConn} {
		frames := conn.waitFor(t, events.MessageTypeEntityChange, 3)
		var kinds []events.Kind
		for _, env := range frames {
			var change events.ChangeEvent
			require.NoError(t, env.Decode(&change))
			kinds = append(kinds, change.Kind)
		}
		assert.Equal(t, []events.Kind{events.KindCreated, events.KindUpdated, events.KindDeleted}, kinds)
	}

	// A pusher that always fails never panics the caller.
	assert.Zero(t, NewBroadcaster(hub.Presence(), failingSender{}).Broadcast(events.EntitySession, session, events.KindUpdated))
}
