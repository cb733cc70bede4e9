package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"authhub/internal/outbox"
)

// KafkaPublisher delivers outbox events to a Kafka topic. Records are keyed
// by aggregate ID so a consumer sees each aggregate's events in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	topics, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if topics.Has(topic) {
		return nil
	}
	if _, err := admin.CreateTopic(ctx, -1, -1, nil, topic); err != nil {
		return fmt.Errorf("create kafka topic %q: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event outbox.Event) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.AggregateID.String()),
		Value: event.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event-id", Value: []byte(event.EventID.String())},
			{Key: "event-type", Value: []byte(event.EventType)},
			{Key: "aggregate-type", Value: []byte(event.AggregateType)},
			{Key: "tenant-id", Value: []byte(event.TenantID.String())},
			{Key: "correlation-id", Value: []byte(event.CorrelationID.String())},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event %s: %w", event.EventID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
