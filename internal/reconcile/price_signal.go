package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"

	"gorm.io/gorm"
)

// priceSignal is the body of a market-price change notification.
type priceSignal struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Size      string          `json:"size"`
	Price     json.RawMessage `json:"price,omitempty"`
}

// PriceSignalApplier records market-price notifications in the sync log. The
// prices themselves are recomputed by the next reconciliation pass.
type PriceSignalApplier struct {
	store  *store.Store
	logger *logger.Logger
}

func NewPriceSignalApplier(st *store.Store, logger *logger.Logger) *PriceSignalApplier {
	return &PriceSignalApplier{store: st, logger: logger}
}

func (a *PriceSignalApplier) Apply(ctx context.Context, tx *gorm.DB, env *models.WebhookEnvelope) error {
	var sig priceSignal
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &sig); err != nil {
			return &apperr.ValidationError{Reason: fmt.Sprintf("price signal %s payload: %v", env.ID, err)}
		}
	}

	st := a.store.WithTx(tx)
	if sig.SKU == "" && sig.ProductID != "" {
		reg, err := st.RegistrationByMarketID(ctx, sig.ProductID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if reg != nil {
			sig.SKU = reg.SKU
		}
	}

	action := "price_signal"
	if sig.SKU == "" {
		a.logger.Info("Price signal %s: product %s is not registered, ignoring", env.ID, sig.ProductID)
		action = "ignored"
	}
	return st.AppendSyncLog(ctx, env.ID, models.SyncLogOriginPrices, sig.SKU, action, sig)
}
