// Package app wires the configured components together for the commands.
package app

import (
	"context"
	"fmt"

	"catalogsync/internal/alert"
	"catalogsync/internal/batch"
	"catalogsync/internal/config"
	"catalogsync/internal/connectors/supplier"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/pricing"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/registry"
	"catalogsync/internal/runlock"
	"catalogsync/internal/services/marketprice"
	"catalogsync/internal/services/woocommerce"
	"catalogsync/internal/store"
	"catalogsync/internal/webhook"
)

// Webhook sources accepted at /api/v1/webhooks/:source.
const (
	SourceCatalog = "woocommerce"
	SourceMarket  = "market"
)

// LockName is the single run lock shared by every sync mode.
const LockName = "sync"

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *database.Database
	Store    *store.Store
	Queue    *webhook.Queue
	Applier  *webhook.Router
	Service  *reconcile.Service
	Requests *events.Publisher // nil without kafka
	events   *events.Publisher
}

func Build(cfg *config.Config, logger *logger.Logger) (*App, error) {
	db, err := database.New(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	pricingCfg, err := cfg.Pricing()
	if err != nil {
		db.Close()
		return nil, err
	}
	calc, err := pricing.NewCalculator(pricingCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid pricing configuration: %w", err)
	}
	threshold, err := cfg.AlertThreshold()
	if err != nil {
		db.Close()
		return nil, err
	}

	st := store.New(db.DB)
	queue := webhook.NewQueue(db.DB, cfg.WebhookDedupWindow, logger)

	wc := woocommerce.NewClient(cfg.CatalogAPIURL, cfg.CatalogAPIKey, cfg.CatalogAPISecret, cfg.CatalogTimeout, logger)
	market := marketprice.NewClient(cfg.MarketAPIURL, cfg.MarketAPIKey, cfg.MarketName, cfg.MarketPriceType, cfg.CatalogTimeout, logger)
	feed := supplier.New(cfg.FeedSourceName, cfg.SupplierFeedURL, cfg.CatalogTimeout, logger)
	orchestrator := batch.New(wc, batch.Options{ChunkSize: cfg.CatalogBatchSize}, logger)
	reg := registry.New(wc, market, st, registry.Options{
		WebhookURL: cfg.PriceWebhookURL,
		CallDelay:  cfg.MarketCallDelay,
	}, logger)

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Store:  st,
		Queue:  queue,
	}

	alerters := []reconcile.Alerter{alert.NewLogAlerter(logger)}
	if cfg.AlertEmail != "" {
		alerters = append(alerters, alert.NewMailAlerter(cfg.SMTPAddr, cfg.SMTPFrom, cfg.AlertEmail))
	}

	var reporter reconcile.Reporter
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		a.events = events.NewPublisher(brokers, cfg.KafkaEventsTopic, logger)
		a.Requests = events.NewPublisher(brokers, cfg.KafkaSyncTopic, logger)
		alerters = append(alerters, a.events)
		reporter = a.events
	}

	a.Service = reconcile.NewService(reconcile.Deps{
		Feed:           feed,
		Sink:           orchestrator,
		Remote:         wc,
		Prices:         market,
		Calculator:     calc,
		Registry:       reg,
		Alerter:        alert.NewMulti(logger, alerters...),
		Reporter:       reporter,
		Store:          st,
		Logger:         logger,
		AlertThreshold: threshold,
	})

	a.Applier = webhook.NewRouter().
		Handle(SourceCatalog, reconcile.NewWebhookApplier(st, cfg.FeedSourceName, logger)).
		Handle(SourceMarket, reconcile.NewPriceSignalApplier(st, logger))

	return a, nil
}

// Lock takes the shared run lock.
func (a *App) Lock(ctx context.Context) (runlock.Lock, error) {
	return runlock.Acquire(ctx, a.Config.DatabaseURL, a.Config.LockFile, LockName)
}

func (a *App) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.Logger.Warn("Failed to close events publisher: %v", err)
		}
	}
	if a.Requests != nil {
		if err := a.Requests.Close(); err != nil {
			a.Logger.Warn("Failed to close requests publisher: %v", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("Failed to close database: %v", err)
	}
}
