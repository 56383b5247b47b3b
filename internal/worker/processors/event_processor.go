// Package processors turns sync request events into sync runs.
package processors

import (
	"context"
	"errors"
	"fmt"

	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlock"
	"catalogsync/internal/webhook"
)

type Runner interface {
	SyncCatalog(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
	ReconcilePrices(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
	SyncRegistry(ctx context.Context) (reconcile.Summary, error)
}

type LockFunc func(ctx context.Context) (runlock.Lock, error)

type EventProcessor struct {
	runner     Runner
	queue      *webhook.Queue
	applier    webhook.Applier
	lock       LockFunc
	drainLimit int
	logger     *logger.Logger
}

func NewEventProcessor(runner Runner, queue *webhook.Queue, applier webhook.Applier, lock LockFunc, drainLimit int, logger *logger.Logger) *EventProcessor {
	return &EventProcessor{
		runner:     runner,
		queue:      queue,
		applier:    applier,
		lock:       lock,
		drainLimit: drainLimit,
		logger:     logger,
	}
}

// Process handles one event. Unknown event types are skipped. A run that is
// refused because another holds the lock is not an error.
func (ep *EventProcessor) Process(ctx context.Context, event events.Event) error {
	var data events.RequestData
	if err := event.Decode(&data); err != nil {
		return err
	}

	switch event.Type {
	case events.TypeCatalogSyncRequested:
		return ep.locked(ctx, event.Type, func(ctx context.Context) error {
			_, err := ep.runner.SyncCatalog(ctx, data.Options)
			return err
		})
	case events.TypePricesReconcileRequested:
		return ep.locked(ctx, event.Type, func(ctx context.Context) error {
			_, err := ep.runner.ReconcilePrices(ctx, data.Options)
			return err
		})
	case events.TypeRegistrySyncRequested:
		return ep.locked(ctx, event.Type, func(ctx context.Context) error {
			_, err := ep.runner.SyncRegistry(ctx)
			return err
		})
	case events.TypeWebhooksDrainRequested:
		limit := data.Options.Limit
		if limit <= 0 {
			limit = ep.drainLimit
		}
		_, err := ep.Drain(ctx, limit)
		return err
	default:
		ep.logger.Debug("Ignoring event %s of type %s", event.ID, event.Type)
		return nil
	}
}

// Drain applies up to limit pending webhook envelopes.
func (ep *EventProcessor) Drain(ctx context.Context, limit int) (webhook.ProcessStats, error) {
	stats, err := ep.queue.Process(ctx, limit, ep.applier)
	if err != nil {
		return stats, fmt.Errorf("webhook drain: %w", err)
	}
	if stats.Claimed > 0 {
		ep.logger.Infow("webhook drain", "claimed", stats.Claimed, "completed", stats.Completed, "failed", stats.Failed)
	}
	return stats, nil
}

func (ep *EventProcessor) locked(ctx context.Context, eventType string, fn func(context.Context) error) error {
	if ep.lock != nil {
		lock, err := ep.lock(ctx)
		if errors.Is(err, runlock.ErrLocked) {
			ep.logger.Warn("Skipping %s: %v", eventType, err)
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				ep.logger.Error("Failed to release run lock: %v", err)
			}
		}()
	}
	return fn(ctx)
}
