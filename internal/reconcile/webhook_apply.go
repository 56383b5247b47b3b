package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// remoteResource is the part of a catalog webhook body the mirror cares about.
type remoteResource struct {
	ID            int64  `json:"id"`
	ParentID      int64  `json:"parent_id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	RegularPrice  string `json:"regular_price"`
	StockQuantity *int   `json:"stock_quantity"`
}

// price returns the regular price the event carries, nil when it carries none.
func (r remoteResource) price() (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.RegularPrice)
	if raw == "" {
		return nil, nil
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &apperr.ValidationError{Key: r.SKU, Reason: fmt.Sprintf("regular_price %q: %v", raw, err)}
	}
	return &p, nil
}

// WebhookApplier applies catalog change events to the local mirror. Every
// write, including the sync-log entry, goes through the envelope's transaction.
type WebhookApplier struct {
	store  *store.Store
	source string
	logger *logger.Logger
}

func NewWebhookApplier(st *store.Store, source string, logger *logger.Logger) *WebhookApplier {
	return &WebhookApplier{store: st, source: source, logger: logger}
}

func (a *WebhookApplier) Apply(ctx context.Context, tx *gorm.DB, env *models.WebhookEnvelope) error {
	var res remoteResource
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			return &apperr.ValidationError{Reason: fmt.Sprintf("webhook %s payload: %v", env.ID, err)}
		}
	}
	if res.ID == 0 {
		res.ID = env.ResourceID
	}

	st := a.store.WithTx(tx)
	isVariation := res.ParentID != 0

	if res.SKU == "" {
		kind := models.MappingEntityProduct
		if isVariation {
			kind = models.MappingEntityVariation
		}
		key, err := st.LocalKeyForRemote(ctx, kind, res.ID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		res.SKU = key
	}
	if res.SKU == "" {
		a.logger.Info("Webhook %s: resource %d is not mapped locally, ignoring", env.ID, res.ID)
		return st.AppendSyncLog(ctx, env.ID, models.SyncLogOriginWebhook, "", "ignored", env.Topic)
	}

	action, err := a.apply(ctx, st, env.Topic, res, isVariation)
	if errors.Is(err, apperr.ErrNotFound) {
		a.logger.Info("Webhook %s: %s has no local row, ignoring", env.ID, res.SKU)
		action, err = "ignored", nil
	}
	if err != nil {
		return err
	}

	return st.AppendSyncLog(ctx, env.ID, models.SyncLogOriginWebhook, res.SKU, action, map[string]interface{}{
		"topic":       env.Topic,
		"resource_id": res.ID,
		"source":      env.Source,
	})
}

func (a *WebhookApplier) apply(ctx context.Context, st *store.Store, topic models.WebhookTopic, res remoteResource, isVariation bool) (string, error) {
	switch topic {
	case models.WebhookTopicDeleted:
		if isVariation {
			return "variation_deleted", st.SetVariationStock(ctx, res.SKU, 0)
		}
		return "deleted", st.SetProductStatus(ctx, res.SKU, models.ProductStatusDeleted)

	case models.WebhookTopicRestored:
		if isVariation {
			return "variation_restored", nil
		}
		return "restored", st.SetProductStatus(ctx, res.SKU, models.ProductStatusActive)

	case models.WebhookTopicCreated, models.WebhookTopicUpdated:
		if isVariation {
			return a.applyFields(ctx, st, res.SKU, res)
		}

		product, err := st.GetProduct(ctx, res.SKU)
		if errors.Is(err, apperr.ErrNotFound) {
			// First sight of an entity created on the remote side.
			e := catalog.Entity{SKU: res.SKU, Name: res.Name}
			return "created", st.UpsertProduct(ctx, a.source, e)
		}
		if err != nil {
			return "", err
		}
		if res.Status == "trash" {
			return "deleted", st.SetProductStatus(ctx, res.SKU, models.ProductStatusDeleted)
		}
		if res.Name != "" {
			if err := st.DB.WithContext(ctx).Model(&models.Product{}).
				Where("sku = ?", res.SKU).
				Update("name", res.Name).Error; err != nil {
				return "", err
			}
		}
		// A non-variable product keeps its stock and price on its single
		// mirrored variation.
		if res.Type != "variable" && len(product.Variations) == 1 {
			action, err := a.applyFields(ctx, st, product.Variations[0].VariationKey, res)
			if err != nil || action != "variation_touched" {
				return action, err
			}
		}
		return "updated", nil
	}
	return "", &apperr.UnsupportedTopicError{Topic: string(topic)}
}

// applyFields writes the stock and price an event carries to one variation.
// The event wins over whatever the mirror held.
func (a *WebhookApplier) applyFields(ctx context.Context, st *store.Store, key string, res remoteResource) (string, error) {
	price, err := res.price()
	if err != nil {
		return "", err
	}
	if price != nil {
		if err := st.SetVariationPrice(ctx, key, *price); err != nil {
			return "", err
		}
	}
	if res.StockQuantity != nil {
		if err := st.SetVariationStock(ctx, key, *res.StockQuantity); err != nil {
			return "", err
		}
	}

	switch {
	case price != nil && res.StockQuantity != nil:
		return "stock_price_updated", nil
	case price != nil:
		return "price_updated", nil
	case res.StockQuantity != nil:
		return "stock_updated", nil
	}
	return "variation_touched", nil
}
