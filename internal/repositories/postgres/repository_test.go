package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coach-service/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a second pooled connection would see a different in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func pair() models.Participants {
	return models.Participants{CoachID: "coach-1", ClientID: "client-1"}
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	user := &models.User{Name: "Coach", Email: "coach@example.com", Password: "hash", Role: models.RoleCoach}
	require.NoError(t, repo.Create(ctx, user))
	assert.NotEmpty(t, user.ID)

	found, err := repo.FindByEmail(ctx, "coach@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	byID, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCoach, byID.Role)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	dup := &models.User{Name: "Other", Email: "coach@example.com", Password: "hash", Role: models.RoleClient}
	assert.ErrorIs(t, repo.Create(ctx, dup), gorm.ErrDuplicatedKey)
}

func TestSessionRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	session := &models.Session{
		Participants: pair(),
		SessionDate:  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:    "09:00",
		EndTime:      "10:00",
		Location:     "Room A",
		Status:       models.SessionScheduled,
	}
	require.NoError(t, repo.Create(ctx, session))

	session.Location = "Room B"
	require.NoError(t, repo.Update(ctx, session))

	found, err := repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Room B", found.Location)

	forCoach, err := repo.ListForUser(ctx, "coach-1")
	require.NoError(t, err)
	assert.Len(t, forCoach, 1)
	forStranger, err := repo.ListForUser(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, forStranger)

	require.NoError(t, repo.Delete(ctx, session.ID))
	assert.ErrorIs(t, repo.Delete(ctx, session.ID), gorm.ErrRecordNotFound)

	missing := &models.Session{Base: models.Base{ID: "missing"}, Participants: pair()}
	assert.ErrorIs(t, repo.Update(ctx, missing), gorm.ErrRecordNotFound)
}

func TestInvoiceRepositoryStoresLineItems(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))

	invoice := &models.Invoice{
		Participants: pair(),
		Currency:     "USD",
		Status:       models.InvoiceDraft,
		LineItems:    []models.LineItem{{Description: "Session", Quantity: 2, UnitAmount: 5000}},
		Amount:       10000,
	}
	require.NoError(t, repo.Create(ctx, invoice))

	found, err := repo.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, found.LineItems, 1)
	assert.Equal(t, int64(5000), found.LineItems[0].UnitAmount)

	found.Status = models.InvoiceSent
	require.NoError(t, repo.Update(ctx, found))

	list, err := repo.ListForUser(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.InvoiceSent, list[0].Status)
}

func TestConversationRepositoryMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(newTestDB(t))

	conversation := &models.Conversation{Participants: pair()}
	require.NoError(t, repo.Create(ctx, conversation))

	found, err := repo.FindByParticipants(ctx, "coach-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, conversation.ID, found.ID)

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"one", "two", "three"} {
		msg := &models.Message{
			Base:           models.Base{CreatedAt: base.Add(time.Duration(i) * time.Minute)},
			Participants:   conversation.Participants,
			ConversationID: conversation.ID,
			SenderID:       "coach-1",
			Text:           text,
		}
		at := msg.CreatedAt
		conversation.LastMessageAt = &at
		conversation.LastMessagePreview = text
		require.NoError(t, repo.AppendMessage(ctx, conversation, msg))
	}

	reloaded, err := repo.FindByID(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "three", reloaded.LastMessagePreview)

	all, err := repo.ListMessages(ctx, conversation.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Text)
	assert.Equal(t, "three", all[2].Text)

	latest, err := repo.ListMessages(ctx, conversation.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "two", latest[0].Text)

	cursor := latest[0].CreatedAt.UnixMilli()
	older, err := repo.ListMessages(ctx, conversation.ID, 10, &cursor)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "one", older[0].Text)

	require.NoError(t, repo.DeleteMessage(ctx, all[0].ID))
	_, err = repo.FindMessage(ctx, all[0].ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	orphan := &models.Conversation{Base: models.Base{ID: "missing"}, Participants: pair()}
	msg := &models.Message{Participants: pair(), ConversationID: "missing", SenderID: "coach-1", Text: "lost"}
	assert.ErrorIs(t, repo.AppendMessage(ctx, orphan, msg), gorm.ErrRecordNotFound)
}
