package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/pricing"
	"catalogsync/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	entities []catalog.Entity
	err      error
}

func (f *fakeFeed) Name() string { return "supplier" }

func (f *fakeFeed) Fetch(context.Context) ([]catalog.Entity, error) {
	out := make([]catalog.Entity, len(f.entities))
	for i, e := range f.entities {
		out[i] = e.Clone()
	}
	return out, f.err
}

// fakeCatalog is an in-memory remote catalog behind the batch port.
type fakeCatalog struct {
	mu           sync.Mutex
	next         int64
	entityReqs   []batch.BatchRequest
	variantReqs  []batch.BatchRequest
	reject       map[string]bool
	variationErr error
	remoteVars   map[int64][]catalog.Variation
	afterEntity  func()
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{next: 100, reject: map[string]bool{}, remoteVars: map[int64][]catalog.Variation{}}
}

func (f *fakeCatalog) answer(req batch.BatchRequest) batch.BatchResponse {
	var resp batch.BatchResponse
	for _, p := range req.Create {
		if f.reject[p.Key] {
			resp.Create = append(resp.Create, batch.BatchItemResult{Key: p.Key, Error: &batch.ItemError{Code: "rejected", Message: "nope"}})
			continue
		}
		f.next++
		resp.Create = append(resp.Create, batch.BatchItemResult{ID: f.next, Key: p.Key})
	}
	for _, p := range req.Update {
		resp.Update = append(resp.Update, batch.BatchItemResult{ID: p.RemoteID, Key: p.Key})
	}
	return resp
}

func (f *fakeCatalog) BatchEntities(_ context.Context, req batch.BatchRequest) (batch.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityReqs = append(f.entityReqs, req)
	if f.afterEntity != nil {
		f.afterEntity()
	}
	return f.answer(req), nil
}

func (f *fakeCatalog) BatchVariations(_ context.Context, _ int64, req batch.BatchRequest) (batch.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variantReqs = append(f.variantReqs, req)
	if f.variationErr != nil {
		return batch.BatchResponse{}, f.variationErr
	}
	return f.answer(req), nil
}

func (f *fakeCatalog) Variations(_ context.Context, parentID int64) ([]catalog.Variation, error) {
	return f.remoteVars[parentID], nil
}

func (f *fakeCatalog) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entityReqs) + len(f.variantReqs)
}

type fakePrices map[string]map[string]decimal.Decimal

func (p fakePrices) VariantPrices(_ context.Context, sku string) (map[string]decimal.Decimal, error) {
	prices, ok := p[sku]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return prices, nil
}

type recordingAlerter struct {
	alerts []PriceAlert
}

func (r *recordingAlerter) Alert(_ context.Context, a PriceAlert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type harness struct {
	svc     *Service
	store   *store.Store
	feed    *fakeFeed
	remote  *fakeCatalog
	alerter *recordingAlerter
}

func newHarness(t *testing.T, prices fakePrices) *harness {
	t.Helper()
	st := store.New(dbtest.New(t))
	remote := newFakeCatalog()
	feed := &fakeFeed{}
	alerter := &recordingAlerter{}

	tiers, err := pricing.ParseTiers("0:100:35,100:200:28,200::20")
	require.NoError(t, err)
	calc, err := pricing.NewCalculator(pricing.Config{
		Tiers:      tiers,
		FlatMargin: decimal.NewFromInt(25),
		Floor:      decimal.NewFromInt(59),
		Rounding:   pricing.RoundWhole,
	})
	require.NoError(t, err)

	orch := batch.New(remote, batch.Options{ChunkSize: 100, RetryDelay: time.Millisecond}, logger.NewNop())
	svc := NewService(Deps{
		Feed:           feed,
		Sink:           orch,
		Remote:         remote,
		Prices:         prices,
		Calculator:     calc,
		Alerter:        alerter,
		Store:          st,
		Logger:         logger.NewNop(),
		AlertThreshold: decimal.NewFromInt(15),
	})
	return &harness{svc: svc, store: st, feed: feed, remote: remote, alerter: alerter}
}

func shoe(sku string, qty int, sizes ...string) catalog.Entity {
	e := catalog.Entity{SKU: sku, Name: "Shoe " + sku}
	for _, s := range sizes {
		e.Variations = append(e.Variations, catalog.Variation{
			Key:           catalog.VariationKey(sku, s),
			Size:          s,
			Price:         decimal.NewFromInt(111),
			StockQuantity: qty,
		})
	}
	return e
}

func TestSyncCatalogFirstRunThenNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40", "41"), shoe("B", 0, "42")}

	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.New)
	assert.Equal(t, 2, sum.Batch.Created)
	assert.Equal(t, 3, sum.Batch.VariationsCreated)
	assert.Zero(t, sum.Errors)

	m, err := h.store.LoadRemoteMap(ctx, true)
	require.NoError(t, err)
	assert.Len(t, m.Entities, 2)
	assert.Len(t, m.Variations, 3)

	p, err := h.store.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, p.Variations, 2)

	calls := h.remote.calls()
	sum, err = h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, sum.New+sum.Updated+sum.Removed)
	assert.Equal(t, 2, sum.Unchanged)
	assert.Equal(t, calls, h.remote.calls(), "unchanged feed makes no remote calls")
}

func TestSyncCatalogUpdateUsesExistingMapping(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40")}
	_, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)

	h.feed.entities = []catalog.Entity{shoe("A", 5, "40")}
	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.Batch.Updated)
	assert.Equal(t, 1, sum.Batch.VariationsUpdated)
	assert.Zero(t, sum.Batch.Created)

	last := h.remote.variantReqs[len(h.remote.variantReqs)-1]
	require.Len(t, last.Update, 1)
	assert.Equal(t, 5, last.Update[0].StockQuantity)
}

func TestSyncCatalogRemovedEntityIsZeroedNotDeleted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40"), shoe("B", 3, "41", "42")}
	_, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)

	h.feed.entities = []catalog.Entity{shoe("A", 2, "40")}
	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)

	parent := h.remote.entityReqs[len(h.remote.entityReqs)-1]
	require.Len(t, parent.Update, 1)
	assert.Equal(t, "B", parent.Update[0].Key)
	assert.Equal(t, catalog.StockOutOfStock, parent.Update[0].StockStatus)

	vars := h.remote.variantReqs[len(h.remote.variantReqs)-1]
	require.Len(t, vars.Update, 2)
	for _, v := range vars.Update {
		assert.Equal(t, 0, v.StockQuantity)
		assert.Equal(t, catalog.StockOutOfStock, v.StockStatus)
	}

	p, err := h.store.GetProduct(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusRemoved, p.Status)

	active, err := h.store.LoadRemoteMap(ctx, true)
	require.NoError(t, err)
	assert.NotContains(t, active.Entities, "B")

	baseline, _, err := h.store.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, catalog.Keys(baseline))

	// B coming back reuses its remote entity instead of creating a new one
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40"), shoe("B", 1, "41", "42")}
	sum, err = h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.New)
	assert.Zero(t, sum.Batch.Created)
	assert.Equal(t, 1, sum.Batch.Updated)
}

func TestSyncCatalogDryRunAndCheckOnlyWriteNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40"), shoe("B", 1, "41")}

	sum, err := h.svc.SyncCatalog(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Batch.Created)
	assert.Equal(t, 2, sum.Batch.VariationsCreated)
	assert.Equal(t, 3, sum.Batch.Requests)

	sum, err = h.svc.SyncCatalog(ctx, Options{CheckOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.New)
	assert.Zero(t, sum.Batch.Requests)

	assert.Zero(t, h.remote.calls())
	_, found, err := h.store.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.False(t, found)
	m, err := h.store.LoadRemoteMap(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, m.Entities)
}

func TestSyncCatalogFeedFailureLeavesBaseline(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 2, "40")}
	_, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)

	h.feed.err = errors.New("supplier down")
	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.Error(t, err)
	assert.Equal(t, err.Error(), sum.Error)

	baseline, found, err := h.store.LoadBaseline(ctx, "supplier")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"A"}, catalog.Keys(baseline))
}

func TestSyncCatalogLimitDefersRest(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.feed.entities = []catalog.Entity{shoe("A", 1, "40"), shoe("B", 1, "40"), shoe("C", 1, "40")}

	sum, err := h.svc.SyncCatalog(ctx, Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Batch.Created)
	assert.Equal(t, 1, sum.Deferred)

	sum, err = h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.New)
	assert.Equal(t, 2, sum.Unchanged)
	assert.Equal(t, 1, sum.Batch.Created)
}

func TestSyncCatalogFailedItemIsRetriedNextRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.remote.reject["B"] = true
	h.feed.entities = []catalog.Entity{shoe("A", 1, "40"), shoe("B", 1, "40")}

	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Batch.Failed)
	assert.Equal(t, 1, sum.Batch.ParentMissing)
	assert.Equal(t, 2, sum.Errors)

	open := false
	issues, err := h.store.ListIssues(ctx, store.IssueFilter{Resolved: &open, SKU: "B"})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	_, err = h.store.GetProduct(ctx, "B")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	delete(h.remote.reject, "B")
	sum, err = h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.New)
	assert.Equal(t, 1, sum.Batch.Created)
	assert.Zero(t, sum.Errors)
}

func TestSyncCatalogRecordsValidationIssues(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	bad := shoe("X", 1, "40")
	bad.Variations[0].StockQuantity = -1
	h.feed.entities = []catalog.Entity{shoe("A", 1, "40"), bad, {Name: "no key"}}

	sum, err := h.svc.SyncCatalog(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Invalid)
	assert.Equal(t, 1, sum.New)

	issues, err := h.store.ListIssues(ctx, store.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	for _, i := range issues {
		assert.Equal(t, models.IssueCodeValidation, i.Code)
	}
}

func TestSyncCatalogCancelledPushKeepsCreatedMappings(t *testing.T) {
	h := newHarness(t, nil)
	h.feed.entities = []catalog.Entity{shoe("A", 1, "40")}

	ctx, cancel := context.WithCancel(context.Background())
	h.remote.afterEntity = cancel
	_, err := h.svc.SyncCatalog(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	m, err := h.store.LoadRemoteMap(bg, false)
	require.NoError(t, err)
	assert.Equal(t, int64(101), m.Entities["A"])

	_, found, err := h.store.LoadBaseline(bg, "supplier")
	require.NoError(t, err)
	assert.False(t, found, "baseline is only written by a completed push")

	h.remote.afterEntity = nil
	sum, err := h.svc.SyncCatalog(bg, Options{})
	require.NoError(t, err)
	assert.Zero(t, sum.Batch.Created, "the entity created before the cancel is updated, not re-created")
	assert.Equal(t, 1, sum.Batch.Updated)
	assert.Equal(t, 1, sum.Batch.VariationsCreated)
}
