package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/webhook"
	"catalogsync/internal/worker/processors"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Worker struct {
	config    *config.Config
	logger    *logger.Logger
	reader    messageReader
	processor *processors.EventProcessor
	queue     *webhook.Queue
	wg        sync.WaitGroup
}

// New builds a worker. Without kafka brokers it only runs the periodic
// webhook drain and purge.
func New(cfg *config.Config, logger *logger.Logger, processor *processors.EventProcessor, queue *webhook.Queue) *Worker {
	w := &Worker{
		config:    cfg,
		logger:    logger,
		processor: processor,
		queue:     queue,
	}

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		w.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        cfg.KafkaGroupID,
			Topic:          cfg.KafkaSyncTopic,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
		})
	}
	return w
}

// Start runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started, listening for events...")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.maintain(ctx)
	}()

	if w.reader != nil {
		w.consume(ctx)
	}
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for {
		message, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to read message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.handle(ctx, message)

		if err := w.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to commit message at offset %d: %v", message.Offset, err)
		}
	}
}

// handle processes one message. A malformed or failing event is logged and
// committed; sync runs are idempotent and the next request retries.
func (w *Worker) handle(ctx context.Context, message kafka.Message) {
	w.logger.Debug("Received message: %s", string(message.Value))

	var event events.Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		w.logger.Error("Failed to parse event: %v", err)
		return
	}

	if err := w.processor.Process(ctx, event); err != nil {
		w.logger.Error("Failed to process event %s (%s): %v", event.ID, event.Type, err)
		return
	}

	w.logger.Debug("Event %s processed successfully", event.ID)
}

// maintain drains the webhook queue every WEBHOOK_DRAIN_INTERVAL and purges
// old completed envelopes once a day.
func (w *Worker) maintain(ctx context.Context) {
	interval := w.config.WebhookDrainInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	drain := time.NewTicker(interval)
	defer drain.Stop()
	purge := time.NewTicker(24 * time.Hour)
	defer purge.Stop()

	w.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			if _, err := w.processor.Drain(ctx, w.config.WebhookDrainLimit); err != nil && ctx.Err() == nil {
				w.logger.Error("Scheduled webhook drain failed: %v", err)
			}
		case <-purge.C:
			w.purge(ctx)
		}
	}
}

func (w *Worker) purge(ctx context.Context) {
	if w.config.WebhookPurgeDays <= 0 {
		return
	}
	n, err := w.queue.PurgeCompletedOlderThan(ctx, w.config.WebhookPurgeDays)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to purge webhooks: %v", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("Purged %d completed webhooks older than %d days", n, w.config.WebhookPurgeDays)
	}
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	if w.reader != nil {
		w.reader.Close()
	}
}
