package reconcile

import (
	"context"
	"errors"
	"fmt"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/store"

	"github.com/shopspring/decimal"
)

// minPriceDelta is the smallest difference worth a write.
var minPriceDelta = decimal.RequireFromString("0.01")

// ReconcilePrices recomputes the selling price of every tracked entity's
// variations from the market price and writes the ones that moved.
func (s *Service) ReconcilePrices(ctx context.Context, opts Options) (Summary, error) {
	sum := s.begin(KindPrices, opts)
	if s.remote == nil || s.prices == nil || s.calc == nil || s.sink == nil {
		return s.finish(ctx, sum, errors.New("price reconciliation needs a remote catalog, a price source, a calculator and an output sink"))
	}
	log := s.logger.With("run_id", sum.RunID)

	err := s.reconcilePrices(ctx, opts, &sum, log)
	return s.finish(ctx, sum, err)
}

func (s *Service) reconcilePrices(ctx context.Context, opts Options, sum *Summary, log *logger.Logger) error {
	tracked, err := s.store.TrackedEntities(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracked entities: %w", err)
	}
	if opts.Limit > 0 && len(tracked) > opts.Limit {
		sum.Deferred = len(tracked) - opts.Limit
		tracked = tracked[:opts.Limit]
	}
	sum.Tracked = len(tracked)

	var issues []models.Issue
	for _, m := range tracked {
		if err := ctx.Err(); err != nil {
			return err
		}

		changes, err := s.priceChanges(ctx, m, sum, log)
		if err != nil {
			sum.Errors++
			log.Warn("Skipping prices for %s: %v", m.LocalKey, err)
			continue
		}
		if len(changes) == 0 {
			continue
		}
		sum.PriceChanges += len(changes)

		if opts.Verbose {
			for _, v := range changes {
				log.Info("  %s -> %s", v.Key, v.Price.StringFixed(2))
			}
		}
		if opts.CheckOnly {
			continue
		}

		res, err := s.sink.UpdateVariations(ctx, m.LocalKey, m.RemoteID, changes, batchOptions(opts))
		sum.Batch.Add(res.Stats)
		sum.Errors += res.Stats.Errors()
		sum.Updated += res.Stats.VariationsUpdated
		if err != nil {
			return fmt.Errorf("price update interrupted: %w", err)
		}
		if opts.DryRun {
			continue
		}

		issues = append(issues, batchIssues(sum.RunID, res.Failures)...)
		failed := make(map[string]struct{}, len(res.Failures))
		for _, f := range res.Failures {
			failed[f.Key] = struct{}{}
		}
		for _, v := range changes {
			if _, bad := failed[v.Key]; bad {
				continue
			}
			if err := s.mirrorPrice(ctx, sum.RunID, m.LocalKey, v); err != nil {
				sum.MirrorFailed++
				sum.Errors++
				log.Error("Failed to mirror price of %s: %v", v.Key, err)
			}
		}
	}

	if len(issues) > 0 {
		if err := s.store.RecordIssues(ctx, issues); err != nil {
			return err
		}
	}
	return nil
}

// priceChanges returns the remote variations of m whose computed price differs
// from the current one, with Price set to the new value. Alerts fire here,
// before any write is attempted.
func (s *Service) priceChanges(ctx context.Context, m models.RemoteMapping, sum *Summary, log *logger.Logger) ([]catalog.Variation, error) {
	remoteVars, err := s.remote.Variations(ctx, m.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("fetch remote variations: %w", err)
	}
	market, err := s.prices.VariantPrices(ctx, m.LocalKey)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Debug("No market listing for %s", m.LocalKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch market prices: %w", err)
	}

	var changes []catalog.Variation
	for _, rv := range remoteVars {
		marketPrice, ok := market[rv.Size]
		if !ok {
			sum.PriceUnmatched++
			continue
		}

		bd := s.calc.CalculateWithBreakdown(marketPrice)
		if !marketPrice.IsPositive() {
			log.Warn("Market price for %s size %s is %s, using %s", m.LocalKey, rv.Size, marketPrice.String(), bd.FinalPrice.String())
		}
		if bd.FinalPrice.Sub(rv.Price).Abs().LessThan(minPriceDelta) {
			continue
		}

		if pct, alert := s.crossesThreshold(rv.Price, bd.FinalPrice); alert {
			sum.Alerts++
			metrics.ObservePriceAlert()
			a := PriceAlert{
				RunID:         sum.RunID,
				SKU:           m.LocalKey,
				VariationKey:  rv.Key,
				Size:          rv.Size,
				OldPrice:      rv.Price,
				NewPrice:      bd.FinalPrice,
				ChangePercent: pct,
				Breakdown:     bd,
				DetectedAt:    s.now(),
			}
			s.sendAlert(ctx, sum.Options, a, log)
		}

		next := rv
		next.Price = bd.FinalPrice
		changes = append(changes, next)
	}
	return changes, nil
}

// crossesThreshold returns the absolute change in percent and whether it is
// above the alert threshold. Any move off a zero price alerts.
func (s *Service) crossesThreshold(oldPrice, newPrice decimal.Decimal) (decimal.Decimal, bool) {
	if !oldPrice.IsPositive() {
		return decimal.NewFromInt(100), newPrice.IsPositive()
	}
	pct := newPrice.Sub(oldPrice).Abs().Div(oldPrice).Mul(decimal.NewFromInt(100))
	if !s.threshold.IsPositive() {
		return pct, false
	}
	return pct, pct.GreaterThan(s.threshold)
}

// sendAlert always logs. Delivery is skipped when previewing and a delivery
// failure never blocks the price write.
func (s *Service) sendAlert(ctx context.Context, opts Options, a PriceAlert, log *logger.Logger) {
	log.Warnw("price alert", "sku", a.SKU, "size", a.Size,
		"old", a.OldPrice.StringFixed(2), "new", a.NewPrice.StringFixed(2),
		"change_percent", a.ChangePercent.StringFixed(1), "tier", a.Breakdown.Tier)
	if s.alerter == nil || !opts.writes() {
		return
	}
	if err := s.alerter.Alert(ctx, a); err != nil {
		log.Error("Failed to deliver price alert for %s: %v", a.VariationKey, err)
	}
}

func (s *Service) mirrorPrice(ctx context.Context, runID, sku string, v catalog.Variation) error {
	return s.store.InTx(ctx, func(tx *store.Store) error {
		err := tx.SetVariationPrice(ctx, v.Key, v.Price)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return tx.AppendSyncLog(ctx, runID, models.SyncLogOriginPrices, sku, "price_updated", map[string]string{
			"variation": v.Key,
			"price":     v.Price.StringFixed(2),
		})
	})
}
