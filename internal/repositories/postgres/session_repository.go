package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"coach-service/internal/models"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	return updateAll(r.db.WithContext(ctx), session)
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return affected(r.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", id))
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListForUser returns the user's sessions in calendar order.
func (r *SessionRepository) ListForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.WithContext(ctx).
		Scopes(involving(userID)).
		Order("session_date, start_time").
		Find(&sessions).Error
	return sessions, err
}
