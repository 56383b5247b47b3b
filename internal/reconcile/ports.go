// Package reconcile composes the diff, batching, pricing and registry pieces
// into the two sync entry modes: feed-to-catalog sync and price reconciliation.
// It also applies inbound webhook envelopes to the local mirror.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/pricing"
	"catalogsync/internal/registry"

	"github.com/shopspring/decimal"
)

// FeedSource produces the current entity set. A fetch error aborts the pass
// before anything is written.
type FeedSource interface {
	Name() string
	Fetch(ctx context.Context) ([]catalog.Entity, error)
}

// OutputSink applies entity changes to the remote catalog.
type OutputSink interface {
	Push(ctx context.Context, entities []catalog.Entity, existing batch.RemoteMap, opts batch.PushOptions) (batch.Result, error)
	UpdateVariations(ctx context.Context, parentKey string, parentID int64, variations []catalog.Variation, opts batch.PushOptions) (batch.Result, error)
}

// RemoteCatalog reads back what the remote catalog currently holds.
type RemoteCatalog interface {
	Variations(ctx context.Context, parentID int64) ([]catalog.Variation, error)
}

// PriceSource returns the market price of each size of an entity.
type PriceSource interface {
	VariantPrices(ctx context.Context, sku string) (map[string]decimal.Decimal, error)
}

// Alerter delivers a price alert. The engine decides that an alert is due;
// delivery is up to the implementation.
type Alerter interface {
	Alert(ctx context.Context, alert PriceAlert) error
}

// Reporter receives every finished run summary.
type Reporter interface {
	Report(ctx context.Context, summary Summary) error
}

// RegistrySyncer keeps the market-price watch list in line with the catalog.
type RegistrySyncer interface {
	Sync(ctx context.Context) (registry.Result, error)
}

// PriceAlert describes a price change that crossed the alert threshold.
type PriceAlert struct {
	RunID         string            `json:"run_id"`
	SKU           string            `json:"sku"`
	VariationKey  string            `json:"variation_key"`
	Size          string            `json:"size"`
	OldPrice      decimal.Decimal   `json:"old_price"`
	NewPrice      decimal.Decimal   `json:"new_price"`
	ChangePercent decimal.Decimal   `json:"change_percent"`
	Breakdown     pricing.Breakdown `json:"breakdown"`
	DetectedAt    time.Time         `json:"detected_at"`
}

func (a PriceAlert) Subject() string {
	return fmt.Sprintf("Price change %s%% on %s size %s", a.ChangePercent.StringFixed(1), a.SKU, a.Size)
}

func (a PriceAlert) Message() string {
	floor := "no"
	if a.Breakdown.FloorApplied {
		floor = "yes"
	}
	return fmt.Sprintf(
		"%s (%s) size %s: %s -> %s (%s%%)\nmarket price %s, tier %s, margin %s%%, floor applied: %s, rounding: %s",
		a.SKU, a.VariationKey, a.Size,
		a.OldPrice.StringFixed(2), a.NewPrice.StringFixed(2), a.ChangePercent.StringFixed(1),
		a.Breakdown.MarketPrice.StringFixed(2), a.Breakdown.Tier, a.Breakdown.MarginPercent.String(),
		floor, a.Breakdown.Rounding,
	)
}
