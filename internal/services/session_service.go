package services

import (
	"context"
	"fmt"
	"log/slog"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

type SessionService struct {
	repo        SessionRepository
	users       UserRepository
	broadcaster ChangeBroadcaster
	locks       *entityLocks
}

func NewSessionService(repo SessionRepository, users UserRepository, broadcaster ChangeBroadcaster) *SessionService {
	return &SessionService{
		repo:        repo,
		users:       users,
		broadcaster: broadcaster,
		locks:       newEntityLocks(),
	}
}

func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	sessions, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) Get(ctx context.Context, actorID, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("session", err)
	}
	if !session.Involves(actorID) {
		return nil, ErrForbidden
	}
	return session, nil
}

func (s *SessionService) Create(ctx context.Context, actorID string, req *models.CreateSessionRequest) (*models.Session, error) {
	participants, _, err := pairParticipants(ctx, s.users, actorID, req.CounterpartID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		Participants: participants,
		SessionDate:  req.SessionDate,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Location:     req.Location,
		Status:       models.SessionScheduled,
		Notes:        req.Notes,
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.broadcaster.Broadcast(events.EntitySession, session, events.KindCreated)

	slog.Info("Session created", "sessionID", session.ID, "coachID", session.CoachID, "clientID", session.ClientID)
	return session, nil
}

func (s *SessionService) Update(ctx context.Context, actorID, id string, req *models.UpdateSessionRequest) (*models.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	req.Apply(session)
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	s.broadcaster.Broadcast(events.EntitySession, session, events.KindUpdated)
	return session, nil
}

func (s *SessionService) Delete(ctx context.Context, actorID, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.Get(ctx, actorID, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.broadcaster.Broadcast(events.EntitySession, session, events.KindDeleted)

	slog.Info("Session deleted", "sessionID", id, "actorID", actorID)
	return nil
}
