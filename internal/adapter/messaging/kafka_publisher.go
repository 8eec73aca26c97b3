package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/stockflow/internal/core/domain"
)

const (
	TopicStockChanged          = "inventory.stock-changed"
	TopicShipmentStatusChanged = "shipping.shipment-status-changed"

	batchTimeout = 10 * time.Millisecond
	batchSize    = 100
	writeTimeout = time.Second
	maxAttempts  = 3
)

var topics = map[string]string{
	domain.EventStockChanged:          TopicStockChanged,
	domain.EventShipmentStatusChanged: TopicShipmentStatusChanged,
}

// MessageWriter is the part of the traced writer the publisher needs. It
// writes one message at a time so each carries its own trace context.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// KafkaPublisher writes committed events keyed by aggregate id, so every
// change to one product or shipment lands on the same partition in order.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher wraps a kafka-go writer with producer spans and injects
// the trace context into message headers.
func NewKafkaPublisher(brokers []string, tp trace.TracerProvider, clientID string) (*KafkaPublisher, error) {
	base := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		BatchSize:              batchSize,
		WriteTimeout:           writeTimeout,
		MaxAttempts:            maxAttempts,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	w, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			attribute.String("messaging.kafka.client_id", clientID),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("trace kafka writer: %w", err)
	}
	return NewKafkaPublisherWithWriter(w), nil
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := buildMessages(events)
	if err != nil {
		return err
	}
	for i, msg := range msgs {
		if err := p.writer.WriteMessage(ctx, msg); err != nil {
			return fmt.Errorf("write message %d of %d to %s: %w", i+1, len(msgs), msg.Topic, err)
		}
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func buildMessages(events []domain.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		topic, ok := topics[e.Type]
		if !ok {
			return nil, fmt.Errorf("no topic for event type %q", e.Type)
		}
		value, err := json.Marshal(envelope{
			ID:         e.ID,
			Type:       e.Type,
			OccurredAt: e.OccurredAt,
			Payload:    e.Payload,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(e.Key),
			Value: value,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-id", Value: []byte(e.ID)},
				{Key: "event-type", Value: []byte(e.Type)},
			},
		})
	}
	return msgs, nil
}
