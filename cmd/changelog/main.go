package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"coach-service/internal/adapters/kafka"
	"coach-service/internal/config"
)

// changelog prints the mutation change log as it is written, one line per
// record. Useful for auditing what was broadcast and to whom.
func main() {
	entityType := flag.String("type", "", "only show records of this entity type")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if !cfg.Kafka.Enabled() {
		log.Fatal("KAFKA_BROKERS and KAFKA_CHANGE_TOPIC must be set")
	}

	reader := kafka.NewTailReader(cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic, cfg.Kafka.TailGroup)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Tailing change log", "topic", cfg.Kafka.ChangeTopic, "group", cfg.Kafka.TailGroup)
	err = kafka.Tail(ctx, reader, func(r kafka.ChangeRecord) {
		if *entityType != "" && string(r.EntityType) != *entityType {
			return
		}
		slog.Info("Change",
			"kind", r.Kind,
			"entityType", r.EntityType,
			"entityID", r.EntityID,
			"targets", strings.Join(r.Targets, ","),
			"timestamp", r.Timestamp,
		)
	})
	if err != nil {
		slog.Error("Change log tail stopped", "error", err)
		os.Exit(1)
	}
}
