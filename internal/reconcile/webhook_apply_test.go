package reconcile

import (
	"context"
	"testing"
	"time"

	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"
	"catalogsync/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApplyHarness(t *testing.T) (*store.Store, *webhook.Queue, *WebhookApplier) {
	t.Helper()
	db := dbtest.New(t)
	st := store.New(db)
	q := webhook.NewQueue(db, time.Hour, logger.NewNop())
	return st, q, NewWebhookApplier(st, "supplier", logger.NewNop())
}

func TestWebhookApplyDeletedMarksProductAndLogs(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertProduct(ctx, "supplier", shoe("A", 3, "40")))

	_, err := q.Enqueue(ctx, webhook.Envelope{
		Source: "woocommerce", DeliveryID: "d1", Topic: "product.deleted", ResourceID: 10,
		Payload: []byte(`{"id":10,"sku":"A"}`),
	})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	p, err := st.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusDeleted, p.Status)
	assert.Zero(t, p.Variations[0].StockQuantity)

	logs, err := st.SyncLogs(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogOriginWebhook, logs[0].Origin)
	assert.Equal(t, "deleted", logs[0].Action)
}

func TestWebhookApplyResolvesSKUFromMapping(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertProduct(ctx, "supplier", shoe("A", 0, "40")))

	m := batch.NewRemoteMap()
	m.Entities["A"] = 10
	m.Variations["A-40"] = 11
	require.NoError(t, st.SaveRemoteMap(ctx, m, map[string]string{"A-40": "A"}))

	_, err := q.Enqueue(ctx, webhook.Envelope{
		Topic: "updated", ResourceID: 11,
		Payload: []byte(`{"id":11,"parent_id":10,"stock_quantity":7}`),
	})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	p, err := st.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Variations[0].StockQuantity)
	assert.Equal(t, string(catalog.StockInStock), p.StockStatus)
}

func TestWebhookApplyUpdatedWritesPriceAndStock(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertProduct(ctx, "supplier", shoe("A", 2, "40", "41")))
	require.NoError(t, st.UpsertProduct(ctx, "supplier", shoe("B", 1, "OS")))

	envs := []webhook.Envelope{
		{Topic: "variation.updated", ResourceID: 11,
			Payload: []byte(`{"id":11,"parent_id":10,"sku":"A-40","regular_price":"149.90","stock_quantity":5}`)},
		{Topic: "variation.updated", ResourceID: 12,
			Payload: []byte(`{"id":12,"parent_id":10,"sku":"A-41","regular_price":"139.00"}`)},
		{Topic: "product.updated", ResourceID: 20,
			Payload: []byte(`{"id":20,"sku":"B","type":"simple","regular_price":"89.00","stock_quantity":0}`)},
		{Topic: "product.updated", ResourceID: 10,
			Payload: []byte(`{"id":10,"sku":"A","type":"variable","regular_price":"1.00","stock_quantity":99}`)},
	}
	for _, env := range envs {
		_, err := q.Enqueue(ctx, env)
		require.NoError(t, err)
	}

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Completed)

	a, err := st.GetProduct(ctx, "A")
	require.NoError(t, err)
	require.Len(t, a.Variations, 2)
	assert.True(t, decimal.RequireFromString("149.90").Equal(a.Variations[0].Price))
	assert.Equal(t, 5, a.Variations[0].StockQuantity)
	assert.True(t, decimal.RequireFromString("139").Equal(a.Variations[1].Price))
	assert.Equal(t, 2, a.Variations[1].StockQuantity, "stock absent from the event is left alone")

	b, err := st.GetProduct(ctx, "B")
	require.NoError(t, err)
	require.Len(t, b.Variations, 1)
	assert.True(t, decimal.RequireFromString("89").Equal(b.Variations[0].Price))
	assert.Zero(t, b.Variations[0].StockQuantity)
	assert.Equal(t, string(catalog.StockOutOfStock), b.StockStatus)

	logs, err := st.SyncLogs(ctx, "A-40", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "stock_price_updated", logs[0].Action)
}

func TestWebhookApplyBadPriceRollsBack(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertProduct(ctx, "supplier", shoe("A", 2, "40")))

	id, err := q.Enqueue(ctx, webhook.Envelope{
		Topic: "variation.updated", ResourceID: 11,
		Payload: []byte(`{"id":11,"parent_id":10,"sku":"A-40","regular_price":"cheap","stock_quantity":9}`),
	})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, models.WebhookStatusFailed, statusOf(t, q, id))

	p, err := st.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Variations[0].StockQuantity)
	assert.True(t, decimal.NewFromInt(111).Equal(p.Variations[0].Price))
}

func statusOf(t *testing.T, q *webhook.Queue, id string) models.WebhookStatus {
	t.Helper()
	env, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return env.Status
}

func TestWebhookApplyCreatedAddsUnknownProduct(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, webhook.Envelope{
		Topic: "product.created", ResourceID: 99,
		Payload: []byte(`{"id":99,"sku":"NEW","name":"Made remotely"}`),
	})
	require.NoError(t, err)
	_, err = q.Process(ctx, 10, applier)
	require.NoError(t, err)

	p, err := st.GetProduct(ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, "Made remotely", p.Name)
	assert.Equal(t, "supplier", p.Source)
}

func TestWebhookApplyMalformedPayloadFailsEnvelope(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, webhook.Envelope{Topic: "updated", ResourceID: 1, Payload: []byte(`{"id":"x"}`)})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	env, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, env.Status)

	logs, err := st.SyncLogs(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestWebhookApplyUnmappedResourceIsIgnored(t *testing.T) {
	st, q, applier := newApplyHarness(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, webhook.Envelope{Topic: "deleted", ResourceID: 404, Payload: []byte(`{"id":404}`)})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	logs, err := st.SyncLogs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "ignored", logs[0].Action)
}

func TestPriceSignalResolvesRegistration(t *testing.T) {
	st, q, _ := newApplyHarness(t)
	ctx := context.Background()
	require.NoError(t, st.AddRegistrations(ctx, []models.SkuRegistration{{SKU: "A", MarketProductID: "p-1"}}))
	applier := NewPriceSignalApplier(st, logger.NewNop())

	_, err := q.Enqueue(ctx, webhook.Envelope{
		Source: "market", DeliveryID: "m1", Topic: "price.updated",
		Payload: []byte(`{"product_id":"p-1","size":"42","price":"120"}`),
	})
	require.NoError(t, err)

	stats, err := q.Process(ctx, 10, applier)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	logs, err := st.SyncLogs(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogOriginPrices, logs[0].Origin)
	assert.Equal(t, "price_signal", logs[0].Action)
}
