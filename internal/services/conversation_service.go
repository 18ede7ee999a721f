package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 200
)

type ConversationService struct {
	repo        ConversationRepository
	users       UserRepository
	broadcaster ChangeBroadcaster
	locks       *entityLocks
	now         func() time.Time
}

func NewConversationService(repo ConversationRepository, users UserRepository, broadcaster ChangeBroadcaster) *ConversationService {
	return &ConversationService{
		repo:        repo,
		users:       users,
		broadcaster: broadcaster,
		locks:       newEntityLocks(),
		now:         time.Now,
	}
}

func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	conversations, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

func (s *ConversationService) Get(ctx context.Context, actorID, id string) (*models.Conversation, error) {
	conversation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("conversation", err)
	}
	if !conversation.Involves(actorID) {
		return nil, ErrForbidden
	}
	return conversation, nil
}

// Open returns the conversation between the actor and the counterpart,
// creating it on first use. created reports whether a new row was written.
func (s *ConversationService) Open(ctx context.Context, actorID, counterpartID string) (conversation *models.Conversation, created bool, err error) {
	participants, _, err := pairParticipants(ctx, s.users, actorID, counterpartID)
	if err != nil {
		return nil, false, err
	}

	key := "pair:" + participants.CoachID + ":" + participants.ClientID
	unlock := s.locks.Lock(key)
	defer unlock()

	existing, err := s.repo.FindByParticipants(ctx, participants.CoachID, participants.ClientID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conversation = &models.Conversation{Participants: participants}
	if err := s.repo.Create(ctx, conversation); err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityConversation, conversation, events.KindCreated)
	return conversation, true, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, actorID, conversationID string, limit int, before *int64) ([]*models.Message, error) {
	if _, err := s.Get(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessagePage
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	messages, err := s.repo.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// SendMessage stores a message and announces both the new message and the
// conversation's updated preview.
func (s *ConversationService) SendMessage(ctx context.Context, actorID, conversationID string, req *models.SendMessageRequest) (*models.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	conversation, err := s.Get(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		Participants:   conversation.Participants,
		ConversationID: conversation.ID,
		SenderID:       actorID,
		Text:           req.Text,
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sentAt := s.now()
	conversation.LastMessageAt = &sentAt
	conversation.LastMessagePreview = models.Preview(msg.Text)

	if err := s.repo.AppendMessage(ctx, conversation, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityMessage, msg, events.KindCreated)
	s.broadcaster.Broadcast(events.EntityConversation, conversation, events.KindUpdated)
	return msg, nil
}

// DeleteMessage lets the sender retract a message.
func (s *ConversationService) DeleteMessage(ctx context.Context, actorID, conversationID, messageID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	msg, err := s.repo.FindMessage(ctx, messageID)
	if err != nil {
		return lookupErr("message", err)
	}
	if msg.ConversationID != conversationID {
		return fmt.Errorf("message: %w", ErrNotFound)
	}
	if msg.SenderID != actorID {
		return ErrForbidden
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityMessage, msg, events.KindDeleted)
	return nil
}
