package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// DefaultTopics routes outbox event types to broker topics.
var DefaultTopics = map[string]string{
	domain.EventEpisodeStageChanged:    "clinic.episodes",
	domain.EventEpisodeEventRecorded:   "clinic.episodes.log",
	domain.EventNotificationRequested:  "clinic.notifications",
	domain.EventIdempotencyConflictOps: "clinic.ops",
}

const DefaultDLQTopic = "clinic.dlq"

type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
	dlqTopic     string
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string, dlqTopic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topicByEvent == nil {
		topicByEvent = DefaultTopics
	}
	if dlqTopic == "" {
		dlqTopic = DefaultDLQTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topicByEvent: topicByEvent,
		dlqTopic:     dlqTopic,
	}, nil
}

// Publish keys every message by partition key so one episode's events stay
// ordered on a single partition.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: TopicFor(p.topicByEvent, eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) PublishDLQ(ctx context.Context, record contracts.DLQRecord) error {
	if record.DLQTopic == "" {
		record.DLQTopic = p.dlqTopic
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: record.DLQTopic,
		Key:   []byte(record.OriginalEvent.PartitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func TopicFor(topicByEvent map[string]string, eventType string) string {
	if mapped, ok := topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return eventType
}

var (
	_ ports.EventPublisher = (*KafkaPublisher)(nil)
	_ ports.DLQPublisher   = (*KafkaPublisher)(nil)
)
