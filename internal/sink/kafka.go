package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// KafkaTarget emits activities to a Kafka topic for downstream consumers
// (billing, theft review, reporting). Messages are keyed by device so each
// device's activities stay ordered within a partition.
type KafkaTarget struct {
	writer *kafka.Writer
}

func NewKafkaTarget(brokers []string, topic string) *KafkaTarget {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaTarget{writer: writer}
}

func (t *KafkaTarget) Name() string { return "kafka" }

func (t *KafkaTarget) Deliver(ctx context.Context, a *domain.FuelActivity) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(a.DeviceID),
		Value: payload,
	})
}

func (t *KafkaTarget) Close() error {
	return t.writer.Close()
}
