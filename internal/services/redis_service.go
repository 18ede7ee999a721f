package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"coach-service/internal/database"
)

const onlineUsersKey = "online_users"

// PresenceStatus is the display-only view of a user's presence.
type PresenceStatus struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type RedisService struct {
	client *database.RedisClient
	now    func() time.Time
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
		now:    time.Now,
	}
}

// =============================================================================
// User Status Management
// =============================================================================

func statusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}

func (r *RedisService) SetUserOnline(ctx context.Context, userID string) error {
	now := r.now().Unix()
	pipe := r.client.GetClient().TxPipeline()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey(userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, statusKey(userID), 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set user online", "userID", userID, "error", err)
		return err
	}

	slog.Debug("User set to online", "userID", userID)
	return nil
}

func (r *RedisService) SetUserOffline(ctx context.Context, userID string) error {
	now := r.now().Unix()
	pipe := r.client.GetClient().TxPipeline()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey(userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, statusKey(userID), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set user offline", "userID", userID, "error", err)
		return err
	}

	slog.Debug("User set to offline", "userID", userID)
	return nil
}

func (r *RedisService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, onlineUsersKey, userID).Result()
}

func (r *RedisService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}

// GetPresence reads the mirrored status of one user.
func (r *RedisService) GetPresence(ctx context.Context, userID string) (*PresenceStatus, error) {
	online, err := r.IsUserOnline(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &PresenceStatus{UserID: userID, Online: online}

	lastSeen, err := r.client.GetClient().HGet(ctx, statusKey(userID), "last_seen").Int64()
	switch {
	case err == nil:
		status.LastSeen = lastSeen
	case err != redis.Nil:
		return nil, err
	}
	return status, nil
}

// =============================================================================
// Invoice Numbering
// =============================================================================

func (r *RedisService) NextInvoiceNumber(ctx context.Context, coachID string) (int64, error) {
	return r.client.GetClient().Incr(ctx, fmt.Sprintf("coach:%s:invoice_seq", coachID)).Result()
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records one hit against key and reports whether the caller
// is still within limit hits per window.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	windowStart := now.Add(-window).UnixNano()

	pipe := r.client.GetClient().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() < int64(limit), nil
}
