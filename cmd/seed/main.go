package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"coach-service/internal/config"
	"coach-service/internal/database"
	"coach-service/internal/models"
	"coach-service/internal/repositories/postgres"
	"coach-service/internal/services"
	"coach-service/internal/websocket"
)

const seedPassword = "123456"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting database seeding...")

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	ctx := context.Background()
	userRepo := postgres.NewUserRepository(db)
	authService := services.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpirationTime)

	// Nothing is connected while seeding, so there is nobody to notify.
	var quiet *websocket.Broadcaster
	sessionService := services.NewSessionService(postgres.NewSessionRepository(db), userRepo, quiet)
	invoiceService := services.NewInvoiceService(postgres.NewInvoiceRepository(db), userRepo, nil, quiet)
	conversationService := services.NewConversationService(postgres.NewConversationRepository(db), userRepo, quiet)

	slog.Info("Creating initial users...")
	coach := ensureUser(ctx, authService, userRepo, "Casey Coach", "coach@coach.dev", models.RoleCoach)
	clients := []*models.User{
		ensureUser(ctx, authService, userRepo, "Alice", "alice@coach.dev", models.RoleClient),
		ensureUser(ctx, authService, userRepo, "Bob", "bob@coach.dev", models.RoleClient),
	}
	if coach == nil {
		log.Fatal("Coach user could not be created")
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	for i, client := range clients {
		if client == nil {
			continue
		}

		session, err := sessionService.Create(ctx, coach.ID, &models.CreateSessionRequest{
			CounterpartID: client.ID,
			SessionDate:   tomorrow.AddDate(0, 0, i),
			StartTime:     "09:00",
			EndTime:       "10:00",
			Location:      "Video call",
		})
		if err != nil {
			slog.Warn("Failed to seed session", "client", client.Email, "error", err)
		} else {
			slog.Info("Created session", "id", session.ID, "client", client.Email)
		}

		invoice, err := invoiceService.Create(ctx, coach.ID, &models.CreateInvoiceRequest{
			ClientID:  client.ID,
			Currency:  "USD",
			LineItems: []models.LineItem{{Description: "Coaching session", Quantity: 1, UnitAmount: 12000}},
		})
		if err != nil {
			slog.Warn("Failed to seed invoice", "client", client.Email, "error", err)
		} else {
			slog.Info("Created invoice", "id", invoice.ID, "amount", invoice.Amount)
		}

		conversation, _, err := conversationService.Open(ctx, coach.ID, client.ID)
		if err != nil {
			slog.Warn("Failed to seed conversation", "client", client.Email, "error", err)
			continue
		}
		if _, err := conversationService.SendMessage(ctx, coach.ID, conversation.ID, &models.SendMessageRequest{
			Text: "Welcome " + client.Name + "! Looking forward to our first session.",
		}); err != nil {
			slog.Warn("Failed to seed message", "conversation", conversation.ID, "error", err)
		}
	}

	slog.Info("Database seeding completed successfully!")
}

// ensureUser registers the user or returns the existing account.
func ensureUser(ctx context.Context, auth *services.AuthService, users *postgres.UserRepository, name, email string, role models.Role) *models.User {
	_, err := auth.Register(ctx, &models.RegisterRequest{Name: name, Email: email, Password: seedPassword, Role: role})
	switch {
	case err == nil:
		slog.Info("Created user", "email", email, "role", role)
	case errors.Is(err, services.ErrUserAlreadyExists):
		slog.Info("User already exists", "email", email)
	default:
		slog.Warn("Failed to create user", "email", email, "error", err)
		return nil
	}

	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		slog.Warn("Failed to load user", "email", email, "error", err)
		return nil
	}
	return user
}
