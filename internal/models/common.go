package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrorResponse is a standardized error response for API
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Base replaces gorm.Model with a UUID string key so entity identities are
// the same on the wire, in REST responses and in change events.
type Base struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// EntityID returns the identity used as the merge key by clients.
func (b Base) EntityID() string {
	return b.ID
}

// Participants is embedded by every entity shared between a coach and a client.
type Participants struct {
	CoachID  string `gorm:"type:varchar(36);not null;index" json:"coachId"`
	ClientID string `gorm:"type:varchar(36);not null;index" json:"clientId"`
}

// Stakeholders returns the two identities that receive change events.
func (p Participants) Stakeholders() []string {
	return []string{p.CoachID, p.ClientID}
}

// Involves reports whether userID is one of the participants.
func (p Participants) Involves(userID string) bool {
	return userID != "" && (p.CoachID == userID || p.ClientID == userID)
}

// Counterpart returns the other participant, or "" when userID is not involved.
func (p Participants) Counterpart(userID string) string {
	switch userID {
	case p.CoachID:
		return p.ClientID
	case p.ClientID:
		return p.CoachID
	default:
		return ""
	}
}

// AllModels lists every table managed by migrations.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Session{},
		&Invoice{},
		&Conversation{},
		&Message{},
	}
}
