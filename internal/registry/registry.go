// Package registry keeps the set of catalog keys the market-price API watches
// in line with what the remote catalog publishes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"
)

// KeyLister lists the keys currently published in the remote catalog.
type KeyLister interface {
	PublishedKeys(ctx context.Context) ([]string, error)
}

// MarketAPI is the market-price side: key resolution and the webhook
// subscription that reports price moves.
type MarketAPI interface {
	ProductID(ctx context.Context, sku string) (string, error)
	Register(ctx context.Context, url string, productIDs, topics []string) (string, error)
	AddProducts(ctx context.Context, subscriptionID string, productIDs []string) error
	RemoveProducts(ctx context.Context, subscriptionID string, productIDs []string) error
}

type Result struct {
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Unchanged  int      `json:"unchanged"`
	Unresolved []string `json:"unresolved,omitempty"`
}

type Options struct {
	WebhookURL string
	Topics     []string
	// CallDelay is the minimum gap between two market-price calls.
	CallDelay time.Duration
}

type Registry struct {
	catalog KeyLister
	market  MarketAPI
	store   *store.Store
	opts    Options
	pace    *pacer
	logger  *logger.Logger
}

func New(catalog KeyLister, market MarketAPI, st *store.Store, opts Options, logger *logger.Logger) *Registry {
	if len(opts.Topics) == 0 {
		opts.Topics = []string{"price.updated"}
	}
	return &Registry{
		catalog: catalog,
		market:  market,
		store:   st,
		opts:    opts,
		pace:    newPacer(opts.CallDelay),
		logger:  logger,
	}
}

// Sync diffs the published keys against the stored registrations, resolves
// and subscribes new keys, and unsubscribes gone ones. Registrations are
// written only after the matching remote call succeeded.
func (r *Registry) Sync(ctx context.Context) (Result, error) {
	var res Result

	published, err := r.catalog.PublishedKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list published keys: %w", err)
	}
	regs, err := r.store.Registrations(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load registrations: %w", err)
	}

	current := make(map[string]struct{}, len(published))
	for _, k := range published {
		if k != "" {
			current[k] = struct{}{}
		}
	}
	registered := make(map[string]models.SkuRegistration, len(regs))
	for _, reg := range regs {
		registered[reg.SKU] = reg
	}

	var added []string
	for k := range current {
		if _, ok := registered[k]; ok {
			res.Unchanged++
			continue
		}
		added = append(added, k)
	}
	var gone []models.SkuRegistration
	for k, reg := range registered {
		if _, ok := current[k]; !ok {
			gone = append(gone, reg)
		}
	}
	sort.Strings(added)
	sort.Slice(gone, func(i, j int) bool { return gone[i].SKU < gone[j].SKU })

	sub, err := r.store.Subscription(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load subscription: %w", err)
	}

	if len(added) > 0 {
		resolved, unresolved, err := r.resolve(ctx, added)
		res.Unresolved = unresolved
		if err != nil {
			return res, err
		}
		if len(resolved) > 0 {
			sub, err = r.subscribe(ctx, sub, resolved)
			if err != nil {
				return res, err
			}
			for _, reg := range resolved {
				res.Added = append(res.Added, reg.SKU)
			}
		}
	}

	if len(gone) > 0 {
		if err := r.unsubscribe(ctx, sub, gone); err != nil {
			return res, err
		}
		for _, reg := range gone {
			res.Removed = append(res.Removed, reg.SKU)
		}
	}

	r.logger.Info("Registry sync: %d added, %d removed, %d unchanged, %d unresolved",
		len(res.Added), len(res.Removed), res.Unchanged, len(res.Unresolved))
	return res, nil
}

// resolve looks each key up on the market-price API, one paced call at a
// time. Keys that cannot be resolved are skipped.
func (r *Registry) resolve(ctx context.Context, keys []string) ([]models.SkuRegistration, []string, error) {
	var resolved []models.SkuRegistration
	var unresolved []string
	for _, key := range keys {
		if err := r.pace.wait(ctx); err != nil {
			return resolved, unresolved, err
		}
		id, err := r.market.ProductID(ctx, key)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			r.logger.Debug("Market price API does not list %s", key)
			unresolved = append(unresolved, key)
		case err != nil:
			r.logger.Warn("Could not resolve %s: %v", key, err)
			unresolved = append(unresolved, key)
		default:
			resolved = append(resolved, models.SkuRegistration{SKU: key, MarketProductID: id})
		}
	}
	return resolved, unresolved, nil
}

func (r *Registry) subscribe(ctx context.Context, sub *models.PriceSubscription, regs []models.SkuRegistration) (*models.PriceSubscription, error) {
	ids := productIDs(regs)
	if err := r.pace.wait(ctx); err != nil {
		return sub, err
	}

	if sub == nil {
		subID, err := r.market.Register(ctx, r.opts.WebhookURL, ids, r.opts.Topics)
		if err != nil {
			return nil, fmt.Errorf("failed to register price subscription: %w", err)
		}
		sub = &models.PriceSubscription{ExternalID: subID, URL: r.opts.WebhookURL, Topics: strings.Join(r.opts.Topics, ",")}
		if err := r.store.SaveSubscription(ctx, sub); err != nil {
			return nil, err
		}
		r.logger.Info("Created price subscription %s with %d products", subID, len(ids))
	} else if err := r.market.AddProducts(ctx, sub.ExternalID, ids); err != nil {
		return sub, fmt.Errorf("failed to add %d products to subscription %s: %w", len(ids), sub.ExternalID, err)
	}

	for i := range regs {
		regs[i].SubscriptionID = sub.ExternalID
	}
	return sub, r.store.AddRegistrations(ctx, regs)
}

func (r *Registry) unsubscribe(ctx context.Context, sub *models.PriceSubscription, regs []models.SkuRegistration) error {
	if sub != nil {
		if err := r.pace.wait(ctx); err != nil {
			return err
		}
		if err := r.market.RemoveProducts(ctx, sub.ExternalID, productIDs(regs)); err != nil {
			return fmt.Errorf("failed to remove %d products from subscription %s: %w", len(regs), sub.ExternalID, err)
		}
	}
	keys := make([]string, len(regs))
	for i, reg := range regs {
		keys[i] = reg.SKU
	}
	return r.store.RemoveRegistrations(ctx, keys)
}

func productIDs(regs []models.SkuRegistration) []string {
	ids := make([]string, len(regs))
	for i, reg := range regs {
		ids[i] = reg.MarketProductID
	}
	return ids
}
