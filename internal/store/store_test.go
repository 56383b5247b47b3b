package store

import (
	"context"
	"testing"

	"catalogsync/internal/apperr"
	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntity(sku string, qty int) catalog.Entity {
	return catalog.Entity{
		SKU:  sku,
		Name: "Runner " + sku,
		Variations: []catalog.Variation{
			{Key: sku + "-40", Size: "40", Price: decimal.RequireFromString("99.00"), StockQuantity: qty},
			{Key: sku + "-41", Size: "41", Price: decimal.RequireFromString("99.00"), StockQuantity: 0},
		},
	}
}

func TestBaselineRoundTrip(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	_, found, err := s.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.False(t, found)

	first := []catalog.Entity{sampleEntity("A", 1)}
	require.NoError(t, s.SaveBaseline(ctx, "supplier", "run-1", first))

	second := []catalog.Entity{sampleEntity("A", 2), sampleEntity("B", 3)}
	require.NoError(t, s.SaveBaseline(ctx, "supplier", "run-2", second))

	got, found, err := s.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, got, 2)
	assert.Equal(t, catalog.Signature(second[0]), catalog.Signature(got[0]))

	diff := catalog.Compare(got, got, false)
	assert.True(t, diff.Empty())
	assert.Equal(t, 2, diff.UnchangedCount)
}

func TestSaveDiff(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	diff := catalog.Compare([]catalog.Entity{sampleEntity("A", 1)}, []catalog.Entity{sampleEntity("B", 1)}, false)
	require.NoError(t, s.SaveDiff(ctx, "run-1", "supplier", diff))

	rows, err := s.DiffForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].SKU)
	assert.Equal(t, string(catalog.ActionNew), rows[0].Action)
	assert.Equal(t, string(catalog.ActionRemoved), rows[1].Action)
}

func TestRemoteMapLifecycle(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	m := batch.NewRemoteMap()
	m.Entities["A"] = 10
	m.Entities["DRY"] = -1
	m.Variations["A-40"] = 11
	require.NoError(t, s.SaveRemoteMap(ctx, m, map[string]string{"A-40": "A"}))

	loaded, err := s.LoadRemoteMap(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 10}, loaded.Entities)
	assert.Equal(t, map[string]int64{"A-40": 11}, loaded.Variations)

	require.NoError(t, s.InvalidateMappings(ctx, []string{"A"}))
	loaded, err = s.LoadRemoteMap(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, loaded.Entities)
	assert.Empty(t, loaded.Variations)

	all, err := s.LoadRemoteMap(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), all.Entities["A"])

	var count int64
	require.NoError(t, s.DB.Model(&models.RemoteMapping{}).Count(&count).Error)
	assert.Equal(t, int64(2), count, "invalidated, not deleted")

	// the key comes back with the same remote id
	require.NoError(t, s.SaveRemoteMap(ctx, batch.RemoteMap{Entities: map[string]int64{"A": 10}}, nil))
	tracked, err := s.TrackedEntities(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, int64(10), tracked[0].RemoteID)
	assert.True(t, tracked[0].Active)
}

func TestUpsertProductMirrorsEntity(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, "supplier", sampleEntity("A", 4)))
	p, err := s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusActive, p.Status)
	assert.Equal(t, string(catalog.StockInStock), p.StockStatus)
	require.Len(t, p.Variations, 2)
	assert.Equal(t, 4, p.Variations[0].StockQuantity)

	removed := sampleEntity("A", 4).MarkRemoved()
	require.NoError(t, s.UpsertProduct(ctx, "supplier", removed))
	p2, err := s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, models.ProductStatusRemoved, p2.Status)
	assert.Equal(t, string(catalog.StockOutOfStock), p2.StockStatus)
	for _, v := range p2.Variations {
		assert.Zero(t, v.StockQuantity)
	}

	_, err = s.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetProductStatusAndStock(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, "supplier", sampleEntity("A", 0)))

	require.NoError(t, s.SetVariationStock(ctx, "A-41", 3))
	p, err := s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, string(catalog.StockInStock), p.StockStatus)

	require.NoError(t, s.SetProductStatus(ctx, "A", models.ProductStatusDeleted))
	p, err = s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusDeleted, p.Status)
	assert.Zero(t, p.Variations[1].StockQuantity)

	require.NoError(t, s.SetVariationPrice(ctx, "A-40", decimal.NewFromInt(120)))
	p, err = s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(p.Variations[0].Price))

	assert.ErrorIs(t, s.SetProductStatus(ctx, "nope", models.ProductStatusActive), apperr.ErrNotFound)
	assert.ErrorIs(t, s.SetVariationStock(ctx, "nope-1", 1), apperr.ErrNotFound)
}

func TestListProducts(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()
	for _, sku := range []string{"C", "A", "B"} {
		require.NoError(t, s.UpsertProduct(ctx, "supplier", sampleEntity(sku, 1)))
	}
	require.NoError(t, s.SetProductStatus(ctx, "B", models.ProductStatusRemoved))

	all, total, err := s.ListProducts(ctx, ProductFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].SKU)

	active, total, err := s.ListProducts(ctx, ProductFilter{Status: models.ProductStatusActive})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"A", "C"}, []string{active[0].SKU, active[1].SKU})
}

func TestRegistrationsAndSubscription(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	sub, err := s.Subscription(ctx)
	require.NoError(t, err)
	assert.Nil(t, sub)

	require.NoError(t, s.SaveSubscription(ctx, &models.PriceSubscription{ExternalID: "sub-1", URL: "https://hooks/prices"}))
	sub, err = s.Subscription(ctx)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.ExternalID)

	require.NoError(t, s.AddRegistrations(ctx, []models.SkuRegistration{
		{SKU: "A", MarketProductID: "m-a", SubscriptionID: "sub-1"},
		{SKU: "B", MarketProductID: "m-b", SubscriptionID: "sub-1"},
	}))
	require.NoError(t, s.RemoveRegistrations(ctx, []string{"A"}))

	regs, err := s.Registrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "B", regs[0].SKU)
	assert.False(t, regs[0].RegisteredAt.IsZero())
}

func TestIssuesAndSyncLog(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	require.NoError(t, s.RecordIssues(ctx, []models.Issue{
		{RunID: "r", SKU: "A", Code: models.IssueCodeRemoteItem, Severity: models.IssueSeverityMedium, Explanation: "dup"},
		{RunID: "r", SKU: "B", Code: models.IssueCodeParentMissing, Severity: models.IssueSeverityHigh, Explanation: "no parent"},
	}))

	open := false
	issues, err := s.ListIssues(ctx, IssueFilter{Resolved: &open})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	resolved, err := s.ResolveIssue(ctx, issues[0].ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.NotNil(t, resolved.ResolvedAt)

	issues, err = s.ListIssues(ctx, IssueFilter{Resolved: &open})
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	_, err = s.ResolveIssue(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.AppendSyncLog(ctx, "r", models.SyncLogOriginCatalog, "A", "updated", map[string]int{"variations": 2}))
	logs, err := s.SyncLogs(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"variations":2}`, string(logs[0].Detail))
}

func TestInTxRollsBackTogether(t *testing.T) {
	s := New(dbtest.New(t))
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *Store) error {
		if err := tx.SaveBaseline(ctx, "supplier", "run-1", []catalog.Entity{sampleEntity("A", 1)}); err != nil {
			return err
		}
		return apperr.ErrNotFound
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, found, err := s.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.False(t, found)
}
