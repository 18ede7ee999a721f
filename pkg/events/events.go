// Package events holds the WebSocket wire contract shared by the server hub
// and the client SDK.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the envelope payload.
type MessageType string

const (
	// Client -> server
	MessageTypeRegister MessageType = "presence.register"

	// Server -> client
	MessageTypeRegistered   MessageType = "presence.registered"
	MessageTypeSuperseded   MessageType = "presence.superseded"
	MessageTypeEntityChange MessageType = "entity.changed"
	MessageTypeError        MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsValid checks if the MessageType is a known value
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeRegister, MessageTypeRegistered, MessageTypeSuperseded,
		MessageTypeEntityChange, MessageTypeError:
		return true
	default:
		return false
	}
}

// Kind is the mutation that produced a ChangeEvent.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

func (k Kind) IsValid() bool {
	return k == KindCreated || k == KindUpdated || k == KindDeleted
}

// EntityType names a managed entity collection.
type EntityType string

const (
	EntitySession      EntityType = "session"
	EntityInvoice      EntityType = "invoice"
	EntityMessage      EntityType = "message"
	EntityConversation EntityType = "conversation"
)

func (et EntityType) IsValid() bool {
	switch et {
	case EntitySession, EntityInvoice, EntityMessage, EntityConversation:
		return true
	default:
		return false
	}
}

// Envelope is the frame exchanged on the socket in both directions.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Validate checks the envelope structure and type
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope ID is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid message type: %s", e.Type)
	}
	return nil
}

// Decode unmarshals the envelope data into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// NewEnvelope builds an envelope with a fresh ID and the current timestamp.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	env := &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now().Unix(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// RegisterData is sent by a client to bind its identity to the connection.
type RegisterData struct {
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// RegisteredData acknowledges a successful registration.
type RegisteredData struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// SupersededData tells a connection that a newer connection of the same user
// took over its presence slot.
type SupersededData struct {
	UserID          string `json:"user_id"`
	NewConnectionID string `json:"new_connection_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorData.
const (
	ErrCodeInvalidMessage      = "INVALID_MESSAGE"
	ErrCodeInvalidRegistration = "INVALID_REGISTRATION"
	ErrCodeIdentityLocked      = "IDENTITY_LOCKED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// ChangeEvent announces a committed mutation of a managed entity.
// Payload is the full entity for created/updated and the JSON-encoded entity
// ID for deleted.
type ChangeEvent struct {
	Kind          Kind            `json:"kind"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Payload       json.RawMessage `json:"payload"`
	TargetUserIDs []string        `json:"-"`
}

// Validate rejects events a client cannot apply.
func (ce *ChangeEvent) Validate() error {
	if !ce.Kind.IsValid() {
		return fmt.Errorf("invalid change kind: %q", ce.Kind)
	}
	if !ce.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %q", ce.EntityType)
	}
	if ce.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if ce.Kind != KindDeleted && len(ce.Payload) == 0 {
		return fmt.Errorf("%s event for %s %s has no payload", ce.Kind, ce.EntityType, ce.EntityID)
	}
	return nil
}

// NewChangeEvent marshals entity into a ChangeEvent of the given kind.
func NewChangeEvent(kind Kind, entityType EntityType, entityID string, entity interface{}) (*ChangeEvent, error) {
	var (
		payload []byte
		err     error
	)
	if kind == KindDeleted {
		payload, err = json.Marshal(entityID)
	} else {
		payload, err = json.Marshal(entity)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", entityType, entityID, err)
	}
	return &ChangeEvent{
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	}, nil
}
