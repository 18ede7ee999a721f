package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"coach-service/internal/models"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *ConversationRepository) FindByParticipants(ctx context.Context, coachID, clientID string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("coach_id = ? AND client_id = ?", coachID, clientID).
		First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// ListForUser returns conversations with the most recently active first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := r.db.WithContext(ctx).
		Scopes(involving(userID)).
		Order("last_message_at IS NULL, last_message_at DESC, created_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversation *models.Conversation, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		result := tx.Model(&models.Conversation{}).
			Where("id = ?", conversation.ID).
			Updates(map[string]interface{}{
				"last_message_at":      conversation.LastMessageAt,
				"last_message_preview": conversation.LastMessagePreview,
				"updated_at":           msg.CreatedAt,
			})
		if err := affected(result); err != nil {
			return err
		}
		conversation.UpdatedAt = msg.CreatedAt
		return nil
	})
}

func (r *ConversationRepository) FindMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *ConversationRepository) DeleteMessage(ctx context.Context, id string) error {
	return affected(r.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", id))
}

// ListMessages returns up to limit messages in chronological order. When
// before is set, only messages created before that Unix millisecond are
// returned, so pages walk backwards through history.
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string, limit int, before *int64) ([]*models.Message, error) {
	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != nil {
		query = query.Where("created_at < ?", time.UnixMilli(*before))
	}

	var messages []*models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
