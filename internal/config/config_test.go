package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpirationTime)
	assert.True(t, cfg.WebSocket.RequireToken)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Storage.Enabled())
	assert.Equal(t, "invoices", cfg.Storage.Bucket)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("NOTIFY_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "MySQL")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("WS_REQUIRE_TOKEN", "false")
	t.Setenv("NOTIFY_JWT_EXPIRE", "90m")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_PUBLIC_URL", "https://files.example.com/")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	cfg := fromViper(v)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.WebSocket.RequireToken)
	assert.Equal(t, 90*time.Minute, cfg.JWT.ExpirationTime)
	assert.True(t, cfg.Storage.Enabled())
	assert.Equal(t, "https://files.example.com", cfg.Storage.PublicURL)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
	assert.Equal(t, []string{"a", "b"}, splitList("a,b"))
}
