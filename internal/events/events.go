// Package events defines the messages exchanged over kafka and a publisher
// for them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalogsync/internal/logger"
	"catalogsync/internal/reconcile"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Requests consumed by the worker.
const (
	TypeCatalogSyncRequested     = "catalog.sync.requested"
	TypePricesReconcileRequested = "prices.reconcile.requested"
	TypeRegistrySyncRequested    = "registry.sync.requested"
	TypeWebhooksDrainRequested   = "webhooks.drain.requested"
)

// Notifications published by finished runs.
const (
	TypeRunCompleted = "sync.run.completed"
	TypePriceAlert   = "price.alert"
)

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RequestData is the payload of a sync request event. For a webhook drain,
// Options.Limit caps the number of envelopes processed.
type RequestData struct {
	Options reconcile.Options `json:"options"`
}

// Decode parses the payload of e into v. An empty payload leaves v untouched.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one kafka topic.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *logger.Logger
	now    func() time.Time
}

func NewPublisher(brokers []string, topic string, logger *logger.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Publisher{writer: w, topic: topic, logger: logger, now: time.Now}
}

// Publish wraps data in an Event and writes it keyed by key.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      raw,
		Timestamp: p.now().UTC(),
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, p.topic, err)
	}
	p.logger.Debug("Published %s event %s to %s", eventType, ev.ID, p.topic)
	return nil
}

// Request asks the worker to run a sync of the given type.
func (p *Publisher) Request(ctx context.Context, eventType string, data RequestData) error {
	return p.Publish(ctx, eventType, eventType, data)
}

// Report publishes a finished run summary.
func (p *Publisher) Report(ctx context.Context, summary reconcile.Summary) error {
	return p.Publish(ctx, TypeRunCompleted, summary.RunID, summary)
}

// Alert publishes a price alert keyed by its variation.
func (p *Publisher) Alert(ctx context.Context, alert reconcile.PriceAlert) error {
	return p.Publish(ctx, TypePriceAlert, alert.VariationKey, alert)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
