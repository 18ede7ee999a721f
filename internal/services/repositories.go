package services

import (
	"context"

	"coach-service/internal/models"
	"coach-service/internal/websocket"
	"coach-service/pkg/events"
)

// Repositories return gorm.ErrRecordNotFound for missing rows.

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Session, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	Update(ctx context.Context, invoice *models.Invoice) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Invoice, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	FindByParticipants(ctx context.Context, coachID, clientID string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	// AppendMessage stores msg and updates the conversation's last-message
	// fields in one transaction.
	AppendMessage(ctx context.Context, conversation *models.Conversation, msg *models.Message) error
	FindMessage(ctx context.Context, id string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string, limit int, before *int64) ([]*models.Message, error)
}

// ChangeBroadcaster is called after every committed write.
type ChangeBroadcaster interface {
	Broadcast(entityType events.EntityType, entity websocket.Entity, kind events.Kind) int
}
