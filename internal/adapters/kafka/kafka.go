package kafka

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"coach-service/pkg/events"
)

// ChangeRecord is the value written to the change log topic for every
// broadcast mutation.
type ChangeRecord struct {
	Kind       events.Kind       `json:"kind"`
	EntityType events.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Payload    json.RawMessage   `json:"payload"`
	Targets    []string          `json:"targets"`
	Timestamp  int64             `json:"timestamp"`
}

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	// Keyed by entity ID, so one entity's events stay on one partition in order.
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.MaxMessageBytes = 1000000
	config.Version = sarama.V2_0_0_0
	config.ClientID = "coach-service"
	return config
}

// ChangeLog publishes change events to Kafka. Publish never blocks: when the
// producer's input is saturated the record is dropped and counted.
type ChangeLog struct {
	producer sarama.AsyncProducer
	topic    string
	now      func() time.Time

	dropped atomic.Int64
	failed  atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func InitChangeLog(brokers []string, topic string) (*ChangeLog, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, err
	}
	slog.Info("Kafka change log producer started", "brokers", brokers, "topic", topic)
	return NewChangeLog(producer, topic), nil
}

// NewChangeLog takes ownership of producer.
func NewChangeLog(producer sarama.AsyncProducer, topic string) *ChangeLog {
	l := &ChangeLog{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
	l.wg.Add(1)
	go l.drainErrors()
	return l
}

func (l *ChangeLog) Publish(event *events.ChangeEvent) {
	if event == nil {
		return
	}
	value, err := json.Marshal(ChangeRecord{
		Kind:       event.Kind,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Payload:    event.Payload,
		Targets:    event.TargetUserIDs,
		Timestamp:  l.now().UnixMilli(),
	})
	if err != nil {
		slog.Error("Failed to encode change record", "entityID", event.EntityID, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: l.topic,
		Key:   sarama.StringEncoder(event.EntityID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("entity_type"), Value: []byte(event.EntityType)},
			{Key: []byte("kind"), Value: []byte(event.Kind)},
		},
	}

	select {
	case l.producer.Input() <- msg:
	default:
		l.dropped.Add(1)
		slog.Warn("Change log saturated, dropping record", "entityType", event.EntityType, "entityID", event.EntityID)
	}
}

// Dropped returns the number of records discarded because the producer was
// saturated.
func (l *ChangeLog) Dropped() int64 {
	return l.dropped.Load()
}

// Failed returns the number of records the brokers rejected.
func (l *ChangeLog) Failed() int64 {
	return l.failed.Load()
}

func (l *ChangeLog) drainErrors() {
	defer l.wg.Done()
	for perr := range l.producer.Errors() {
		l.failed.Add(1)
		slog.Error("Failed to publish change record", "topic", perr.Msg.Topic, "error", perr.Err)
	}
}

// Close flushes buffered records and stops the producer.
func (l *ChangeLog) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.producer.Close()
		l.wg.Wait()
	})
	return err
}
