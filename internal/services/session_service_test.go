package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

func newSessionFixture() (*SessionService, *fakeSessions, *recordingBroadcaster) {
	repo := newFakeSessions()
	b := &recordingBroadcaster{}
	return NewSessionService(repo, testUsers(), b), repo, b
}

func sessionRequest(counterpart string) *models.CreateSessionRequest {
	return &models.CreateSessionRequest{
		CounterpartID: counterpart,
		SessionDate:   time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		StartTime:     "14:00",
		EndTime:       "15:00",
		Location:      "Studio",
	}
}

func TestSessionCreateBroadcastsToBothStakeholders(t *testing.T) {
	svc, _, b := newSessionFixture()

	// the client books with their coach; roles decide the participant slots
	session, err := svc.Create(context.Background(), client.ID, sessionRequest(coach.ID))
	require.NoError(t, err)
	assert.Equal(t, coach.ID, session.CoachID)
	assert.Equal(t, client.ID, session.ClientID)
	assert.Equal(t, models.SessionScheduled, session.Status)

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, events.EntitySession, calls[0].EntityType)
	assert.Equal(t, events.KindCreated, calls[0].Kind)
	assert.Equal(t, session.ID, calls[0].EntityID)
	assert.ElementsMatch(t, []string{coach.ID, client.ID}, calls[0].Targets)
}

func TestSessionCreateRejectsInvalidPairs(t *testing.T) {
	svc, _, b := newSessionFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, client.ID, sessionRequest(client2.ID))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(ctx, coach.ID, sessionRequest(coach.ID))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(ctx, coach.ID, sessionRequest("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)

	bad := sessionRequest(client.ID)
	bad.EndTime = "13:00"
	_, err = svc.Create(ctx, coach.ID, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, b.Calls())
}

func TestSessionWriteFailureDoesNotBroadcast(t *testing.T) {
	svc, repo, b := newSessionFixture()
	ctx := context.Background()

	session, err := svc.Create(ctx, coach.ID, sessionRequest(client.ID))
	require.NoError(t, err)

	repo.fail = true
	location := "Elsewhere"
	_, err = svc.Update(ctx, coach.ID, session.ID, &models.UpdateSessionRequest{Location: &location})
	assert.ErrorIs(t, err, errStorage)
	assert.ErrorIs(t, svc.Delete(ctx, coach.ID, session.ID), errStorage)

	require.Len(t, b.Calls(), 1, "only the successful create is broadcast")
}

func TestSessionUpdateAndDelete(t *testing.T) {
	svc, _, b := newSessionFixture()
	ctx := context.Background()

	session, err := svc.Create(ctx, coach.ID, sessionRequest(client.ID))
	require.NoError(t, err)

	status := models.SessionCompleted
	updated, err := svc.Update(ctx, client.ID, session.ID, &models.UpdateSessionRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, updated.Status)

	require.NoError(t, svc.Delete(ctx, coach.ID, session.ID))

	calls := b.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, events.KindUpdated, calls[1].Kind)
	assert.Equal(t, events.KindDeleted, calls[2].Kind)
	assert.Equal(t, session.ID, calls[2].EntityID)
	assert.ElementsMatch(t, []string{coach.ID, client.ID}, calls[2].Targets, "deletes still reach both stakeholders")

	_, err = svc.Get(ctx, coach.ID, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionAccessIsLimitedToStakeholders(t *testing.T) {
	svc, _, b := newSessionFixture()
	ctx := context.Background()

	session, err := svc.Create(ctx, coach.ID, sessionRequest(client.ID))
	require.NoError(t, err)

	_, err = svc.Get(ctx, client2.ID, session.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	location := "Hijacked"
	_, err = svc.Update(ctx, outsider.ID, session.ID, &models.UpdateSessionRequest{Location: &location})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, outsider.ID, session.ID), ErrForbidden)

	assert.Len(t, b.Calls(), 1)

	mine, err := svc.ListForUser(ctx, client.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := svc.ListForUser(ctx, client2.ID)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestConcurrentUpdatesBroadcastInCommitOrder(t *testing.T) {
	svc, repo, b := newSessionFixture()
	ctx := context.Background()

	session, err := svc.Create(ctx, coach.ID, sessionRequest(client.ID))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			notes := string(rune('a' + i))
			_, err := svc.Update(ctx, coach.ID, session.ID, &models.UpdateSessionRequest{Notes: &notes})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	calls := b.Calls()
	require.Len(t, calls, 21)
	stored, err := repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	last := calls[len(calls)-1].Entity.(*models.Session)
	assert.Equal(t, stored.Notes, last.Notes, "the last event carries the committed state")
}
