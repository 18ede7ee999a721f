package models

import (
	"fmt"
	"regexp"
	"time"
)

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionNoShow    SessionStatus = "no_show"
)

var clockTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

/** --------------------ENTITIES-------------------- */
// Session is a scheduled meeting between a coach and a client
type Session struct {
	Base
	Participants
	SessionDate time.Time     `gorm:"type:date;not null;index" json:"sessionDate"`
	StartTime   string        `gorm:"type:varchar(5);not null" json:"startTime"` // HH:MM
	EndTime     string        `gorm:"type:varchar(5);not null" json:"endTime"`   // HH:MM
	Location    string        `json:"location"`
	Status      SessionStatus `gorm:"type:varchar(16);not null;default:scheduled" json:"status"`
	Notes       string        `json:"notes,omitempty"`
}

// Validate checks times and status before a write
func (s *Session) Validate() error {
	if s.CoachID == "" || s.ClientID == "" {
		return fmt.Errorf("coachId and clientId are required")
	}
	if s.CoachID == s.ClientID {
		return fmt.Errorf("coach and client must be different users")
	}
	if s.SessionDate.IsZero() {
		return fmt.Errorf("sessionDate is required")
	}
	if !clockTime.MatchString(s.StartTime) || !clockTime.MatchString(s.EndTime) {
		return fmt.Errorf("startTime and endTime must be HH:MM")
	}
	// zero-padded HH:MM compares correctly as strings
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("endTime must be after startTime")
	}
	switch s.Status {
	case SessionScheduled, SessionCompleted, SessionCancelled, SessionNoShow:
	default:
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	return nil
}

/** -------------------- DTOs -------------------- */
type CreateSessionRequest struct {
	CounterpartID string    `json:"counterpartId" binding:"required"`
	SessionDate   time.Time `json:"sessionDate" binding:"required"`
	StartTime     string    `json:"startTime" binding:"required"`
	EndTime       string    `json:"endTime" binding:"required"`
	Location      string    `json:"location"`
	Notes         string    `json:"notes"`
}

type UpdateSessionRequest struct {
	SessionDate *time.Time     `json:"sessionDate,omitempty"`
	StartTime   *string        `json:"startTime,omitempty"`
	EndTime     *string        `json:"endTime,omitempty"`
	Location    *string        `json:"location,omitempty"`
	Status      *SessionStatus `json:"status,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
}

// Apply copies the set fields onto s.
func (r *UpdateSessionRequest) Apply(s *Session) {
	if r.SessionDate != nil {
		s.SessionDate = *r.SessionDate
	}
	if r.StartTime != nil {
		s.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		s.EndTime = *r.EndTime
	}
	if r.Location != nil {
		s.Location = *r.Location
	}
	if r.Status != nil {
		s.Status = *r.Status
	}
	if r.Notes != nil {
		s.Notes = *r.Notes
	}
}
