package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const maxMessageLength = 4000

/** --------------------ENTITIES-------------------- */
// Conversation is the chat thread between one coach and one client
type Conversation struct {
	Base
	Participants
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
}

// Message belongs to a conversation. The participants are copied from the
// conversation so a message carries its own stakeholders.
type Message struct {
	Base
	Participants
	ConversationID string `gorm:"type:varchar(36);not null;index" json:"conversationId"`
	SenderID       string `gorm:"type:varchar(36);not null" json:"senderId"`
	Text           string `gorm:"type:text;not null" json:"text"`
}

func (m *Message) Validate() error {
	if m.Text == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(m.Text) > maxMessageLength {
		return fmt.Errorf("text exceeds %d characters", maxMessageLength)
	}
	if !m.Involves(m.SenderID) {
		return fmt.Errorf("sender is not a participant")
	}
	return nil
}

// Preview truncates text for the conversation list.
func Preview(text string) string {
	const n = 80
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}

/** -------------------- DTOs -------------------- */
type CreateConversationRequest struct {
	CounterpartID string `json:"counterpartId" binding:"required"`
}

type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}
