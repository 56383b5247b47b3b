package processors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlock"
	"catalogsync/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRunner struct {
	calls []string
	opts  reconcile.Options
	err   error
}

func (f *fakeRunner) SyncCatalog(_ context.Context, opts reconcile.Options) (reconcile.Summary, error) {
	f.calls = append(f.calls, reconcile.KindCatalog)
	f.opts = opts
	return reconcile.Summary{}, f.err
}

func (f *fakeRunner) ReconcilePrices(_ context.Context, opts reconcile.Options) (reconcile.Summary, error) {
	f.calls = append(f.calls, reconcile.KindPrices)
	f.opts = opts
	return reconcile.Summary{}, f.err
}

func (f *fakeRunner) SyncRegistry(context.Context) (reconcile.Summary, error) {
	f.calls = append(f.calls, reconcile.KindRegistry)
	return reconcile.Summary{}, f.err
}

type okApplier struct{ applied int }

func (a *okApplier) Apply(context.Context, *gorm.DB, *models.WebhookEnvelope) error {
	a.applied++
	return nil
}

func event(t *testing.T, eventType string, opts reconcile.Options) events.Event {
	t.Helper()
	raw, err := json.Marshal(events.RequestData{Options: opts})
	require.NoError(t, err)
	return events.Event{ID: "ev-1", Type: eventType, Data: raw}
}

func newProcessor(t *testing.T, runner *fakeRunner, lock LockFunc) (*EventProcessor, *webhook.Queue, *okApplier) {
	t.Helper()
	q := webhook.NewQueue(dbtest.New(t), time.Hour, logger.NewNop())
	applier := &okApplier{}
	return NewEventProcessor(runner, q, applier, lock, 10, logger.NewNop()), q, applier
}

func TestProcessDispatchesByType(t *testing.T) {
	runner := &fakeRunner{}
	ep, _, _ := newProcessor(t, runner, nil)
	ctx := context.Background()

	require.NoError(t, ep.Process(ctx, event(t, events.TypeCatalogSyncRequested, reconcile.Options{ForceFull: true})))
	assert.True(t, runner.opts.ForceFull)
	require.NoError(t, ep.Process(ctx, event(t, events.TypePricesReconcileRequested, reconcile.Options{CheckOnly: true})))
	assert.True(t, runner.opts.CheckOnly)
	require.NoError(t, ep.Process(ctx, event(t, events.TypeRegistrySyncRequested, reconcile.Options{})))
	require.NoError(t, ep.Process(ctx, events.Event{ID: "x", Type: events.TypeRunCompleted}))

	assert.Equal(t, []string{reconcile.KindCatalog, reconcile.KindPrices, reconcile.KindRegistry}, runner.calls)
}

func TestProcessDrainsWebhooks(t *testing.T) {
	ep, q, applier := newProcessor(t, &fakeRunner{}, nil)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3"} {
		_, err := q.Enqueue(ctx, webhook.Envelope{Source: "woocommerce", DeliveryID: id, Topic: "updated", Payload: []byte(`{}`)})
		require.NoError(t, err)
	}

	require.NoError(t, ep.Process(ctx, event(t, events.TypeWebhooksDrainRequested, reconcile.Options{Limit: 2})))
	assert.Equal(t, 2, applier.applied)

	require.NoError(t, ep.Process(ctx, events.Event{Type: events.TypeWebhooksDrainRequested}))
	assert.Equal(t, 3, applier.applied)
}

func TestProcessSkipsWhenLocked(t *testing.T) {
	runner := &fakeRunner{}
	ep, _, _ := newProcessor(t, runner, func(context.Context) (runlock.Lock, error) { return nil, runlock.ErrLocked })

	assert.NoError(t, ep.Process(context.Background(), event(t, events.TypeCatalogSyncRequested, reconcile.Options{})))
	assert.Empty(t, runner.calls)
}

func TestProcessReportsRunFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("feed down")}
	ep, _, _ := newProcessor(t, runner, nil)

	err := ep.Process(context.Background(), event(t, events.TypeCatalogSyncRequested, reconcile.Options{}))
	assert.ErrorContains(t, err, "feed down")
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	ep, _, _ := newProcessor(t, &fakeRunner{}, nil)
	err := ep.Process(context.Background(), events.Event{Type: events.TypeCatalogSyncRequested, Data: json.RawMessage(`[`)})
	assert.Error(t, err)
}
