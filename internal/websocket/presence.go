package websocket

import (
	"errors"
	"sync"
)

var ErrInvalidIdentity = errors.New("presence: user ID and connection ID are required")

// PresenceResolver is the read-only view of the registry handed to the
// Broadcaster.
type PresenceResolver interface {
	Resolve(userID string) (connectionID string, ok bool)
}

// PresenceRegistry maps an authenticated user to the one connection that
// currently receives their change events. Last registration wins.
//
// Only the Hub mutates the registry. Everything else reads it through
// PresenceResolver.
type PresenceRegistry struct {
	mu     sync.RWMutex
	byUser map[string]string
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byUser: make(map[string]string),
	}
}

// Register binds userID to connectionID, overwriting any previous binding.
// It returns the connection that lost the slot, or "" when there was none or
// it was the same connection.
func (r *PresenceRegistry) Register(userID, connectionID string) (string, error) {
	if userID == "" || connectionID == "" {
		return "", ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUser[userID]
	r.byUser[userID] = connectionID
	if previous == connectionID {
		return "", nil
	}
	return previous, nil
}

func (r *PresenceRegistry) Resolve(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connectionID, ok := r.byUser[userID]
	return connectionID, ok
}

// RemoveByConnection drops the record pointing at connectionID. A close for a
// connection that was already superseded matches nothing and is a no-op.
func (r *PresenceRegistry) RemoveByConnection(connectionID string) (string, bool) {
	if connectionID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, current := range r.byUser {
		if current == connectionID {
			delete(r.byUser, userID)
			return userID, true
		}
	}
	return "", false
}

func (r *PresenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
