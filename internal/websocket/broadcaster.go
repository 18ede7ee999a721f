package websocket

import (
	"encoding/json"
	"log/slog"
	"reflect"

	"coach-service/pkg/events"
)

// Entity is a managed record shared by exactly two stakeholders.
type Entity interface {
	EntityID() string
	Stakeholders() []string
}

// Pusher delivers an encoded frame to one connection without blocking.
type Pusher interface {
	Send(connectionID string, data []byte) error
}

// ChangeSink receives every broadcast event after the pushes. Publish must
// not block.
type ChangeSink interface {
	Publish(event *events.ChangeEvent)
}

// Broadcaster pushes committed mutations to the stakeholders that are
// currently connected. Delivery is best effort: a stakeholder with no live
// connection simply catches up on its next fetch.
type Broadcaster struct {
	presence PresenceResolver
	pusher   Pusher
	sinks    []ChangeSink
	metrics  *Metrics
}

type BroadcasterOption func(*Broadcaster)

func WithChangeSink(sink ChangeSink) BroadcasterOption {
	return func(b *Broadcaster) {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
	}
}

func WithBroadcastMetrics(m *Metrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

func NewBroadcaster(presence PresenceResolver, pusher Pusher, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		presence: presence,
		pusher:   pusher,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewHubBroadcaster wires a Broadcaster to a hub's registry and connections.
func NewHubBroadcaster(hub *Hub, opts ...BroadcasterOption) *Broadcaster {
	return NewBroadcaster(hub.Presence(), hub, append([]BroadcasterOption{WithBroadcastMetrics(hub.metrics)}, opts...)...)
}

// Broadcast must be called after the write that produced entity has committed,
// on the same goroutine, so per-entity event order follows commit order. It
// returns the number of connections the event was enqueued to.
func (b *Broadcaster) Broadcast(entityType events.EntityType, entity Entity, kind events.Kind) int {
	if b == nil || isNilEntity(entity) {
		return 0
	}

	event, err := events.NewChangeEvent(kind, entityType, entity.EntityID(), entity)
	if err != nil {
		slog.Error("Failed to build change event", "entityType", entityType, "entityID", entity.EntityID(), "error", err)
		return 0
	}
	event.TargetUserIDs = uniqueTargets(entity.Stakeholders())

	env, err := events.NewEnvelope(events.MessageTypeEntityChange, event)
	if err != nil {
		slog.Error("Failed to build envelope", "entityType", entityType, "entityID", event.EntityID, "error", err)
		return 0
	}
	frame, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to encode envelope", "entityType", entityType, "entityID", event.EntityID, "error", err)
		return 0
	}

	delivered := 0
	for _, userID := range event.TargetUserIDs {
		connectionID, ok := b.presence.Resolve(userID)
		if !ok {
			b.metrics.missed(entityType)
			continue
		}
		if err := b.pusher.Send(connectionID, frame); err != nil {
			b.metrics.dropped()
			slog.Debug("Push dropped", "userID", userID, "connectionID", connectionID, "error", err)
			continue
		}
		b.metrics.pushed(entityType, kind)
		delivered++
	}

	for _, sink := range b.sinks {
		sink.Publish(event)
	}

	slog.Debug("Change broadcast", "entityType", entityType, "entityID", event.EntityID, "kind", kind, "delivered", delivered)
	return delivered
}

func uniqueTargets(ids []string) []string {
	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		seen := false
		for _, t := range targets {
			if t == id {
				seen = true
				break
			}
		}
		if !seen {
			targets = append(targets, id)
		}
	}
	return targets
}

// isNilEntity also catches a typed nil pointer wrapped in the interface.
func isNilEntity(entity Entity) bool {
	if entity == nil {
		return true
	}
	v := reflect.ValueOf(entity)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
