package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"coach-service/internal/models"
)

// pairParticipants orders the actor and the counterpart into coach and client
// by their roles. The two must hold different roles.
func pairParticipants(ctx context.Context, users UserRepository, actorID, counterpartID string) (models.Participants, *models.User, error) {
	if actorID == "" || counterpartID == "" || actorID == counterpartID {
		return models.Participants{}, nil, fmt.Errorf("%w: counterpart must be another user", ErrInvalidInput)
	}

	actor, err := users.FindByID(ctx, actorID)
	if err != nil {
		return models.Participants{}, nil, lookupErr("actor", err)
	}
	counterpart, err := users.FindByID(ctx, counterpartID)
	if err != nil {
		return models.Participants{}, nil, lookupErr("counterpart", err)
	}
	if actor.Role == counterpart.Role {
		return models.Participants{}, nil, fmt.Errorf("%w: a %s cannot pair with another %s", ErrInvalidInput, actor.Role, counterpart.Role)
	}

	if actor.Role == models.RoleCoach {
		return models.Participants{CoachID: actor.ID, ClientID: counterpart.ID}, actor, nil
	}
	return models.Participants{CoachID: counterpart.ID, ClientID: actor.ID}, actor, nil
}

func lookupErr(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
