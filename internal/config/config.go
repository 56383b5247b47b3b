package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/pricing"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Database
	DatabaseURL string

	// Kafka
	KafkaBrokers     string
	KafkaSyncTopic   string
	KafkaEventsTopic string
	KafkaGroupID     string

	// API Configuration
	APIPort string
	APIHost string

	// Remote catalog
	CatalogAPIURL    string
	CatalogAPIKey    string
	CatalogAPISecret string
	CatalogBatchSize int
	CatalogTimeout   time.Duration

	// Market-price API
	MarketAPIURL    string
	MarketAPIKey    string
	MarketName      string
	MarketPriceType string
	MarketCallDelay time.Duration
	PriceWebhookURL string

	// Supplier feed
	SupplierFeedURL string
	FeedSourceName  string

	// Inbound webhooks
	WebhookSecret        string
	WebhookDedupWindow   time.Duration
	WebhookDrainLimit    int
	WebhookDrainInterval time.Duration
	WebhookPurgeDays     int

	// Pricing
	MarginTiers         string
	MarginFlat          string
	PriceFloor          string
	PriceRounding       string
	PriceAlertThreshold string

	// Alerts
	AlertEmail string
	SMTPAddr   string
	SMTPFrom   string

	// Run lock for cmd/sync
	LockFile string

	// Environment
	Env      string
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file
	godotenv.Load()

	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite://catalogsync.db"),
		KafkaBrokers:         getEnv("KAFKA_BROKERS", ""),
		KafkaSyncTopic:       getEnv("KAFKA_SYNC_TOPIC", "catalog-sync-requests"),
		KafkaEventsTopic:     getEnv("KAFKA_EVENTS_TOPIC", "catalog-sync-events"),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "catalogsync-worker"),
		APIPort:              getEnv("API_PORT", "8080"),
		APIHost:              getEnv("API_HOST", "0.0.0.0"),
		CatalogAPIURL:        getEnv("CATALOG_API_URL", ""),
		CatalogAPIKey:        getEnv("CATALOG_API_KEY", ""),
		CatalogAPISecret:     getEnv("CATALOG_API_SECRET", ""),
		CatalogBatchSize:     getEnvAsInt("CATALOG_BATCH_SIZE", 100),
		CatalogTimeout:       getEnvAsDuration("CATALOG_TIMEOUT", 30*time.Second),
		MarketAPIURL:         getEnv("MARKET_API_URL", ""),
		MarketAPIKey:         getEnv("MARKET_API_KEY", ""),
		MarketName:           getEnv("MARKET_NAME", "eu"),
		MarketPriceType:      getEnv("MARKET_PRICE_TYPE", "lowest_ask"),
		MarketCallDelay:      getEnvAsDuration("MARKET_CALL_DELAY", 200*time.Millisecond),
		PriceWebhookURL:      getEnv("PRICE_WEBHOOK_URL", ""),
		SupplierFeedURL:      getEnv("SUPPLIER_FEED_URL", ""),
		FeedSourceName:       getEnv("FEED_SOURCE_NAME", "supplier"),
		WebhookSecret:        getEnv("WEBHOOK_SECRET", ""),
		WebhookDedupWindow:   getEnvAsDuration("WEBHOOK_DEDUP_WINDOW", 72*time.Hour),
		WebhookDrainLimit:    getEnvAsInt("WEBHOOK_DRAIN_LIMIT", 50),
		WebhookDrainInterval: getEnvAsDuration("WEBHOOK_DRAIN_INTERVAL", 30*time.Second),
		WebhookPurgeDays:     getEnvAsInt("WEBHOOK_PURGE_DAYS", 14),
		MarginTiers:          getEnv("MARGIN_TIERS", "0:100:35,100:200:28,200::20"),
		MarginFlat:           getEnv("MARGIN_FLAT", "25"),
		PriceFloor:           getEnv("PRICE_FLOOR", "0"),
		PriceRounding:        getEnv("PRICE_ROUNDING", "whole"),
		PriceAlertThreshold:  getEnv("PRICE_ALERT_THRESHOLD", "15"),
		AlertEmail:           getEnv("ALERT_EMAIL", ""),
		SMTPAddr:             getEnv("SMTP_ADDR", "localhost:25"),
		SMTPFrom:             getEnv("SMTP_FROM", "catalogsync@localhost"),
		LockFile:             getEnv("LOCK_FILE", os.TempDir()+"/catalogsync.lock"),
		Env:                  getEnv("ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if cfg.CatalogBatchSize <= 0 || cfg.CatalogBatchSize > 100 {
		cfg.CatalogBatchSize = 100
	}

	if _, err := cfg.AlertThreshold(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AlertThreshold parses PRICE_ALERT_THRESHOLD as a percentage.
func (c *Config) AlertThreshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.PriceAlertThreshold))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid PRICE_ALERT_THRESHOLD %q: %w", c.PriceAlertThreshold, err)
	}
	return d, nil
}

// Pricing builds the margin calculator configuration from the MARGIN_* and PRICE_* keys.
func (c *Config) Pricing() (pricing.Config, error) {
	tiers, err := pricing.ParseTiers(c.MarginTiers)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("invalid MARGIN_TIERS: %w", err)
	}
	flat, err := decimal.NewFromString(strings.TrimSpace(c.MarginFlat))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("invalid MARGIN_FLAT %q: %w", c.MarginFlat, err)
	}
	floor, err := decimal.NewFromString(strings.TrimSpace(c.PriceFloor))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("invalid PRICE_FLOOR %q: %w", c.PriceFloor, err)
	}
	return pricing.Config{
		Tiers:      tiers,
		FlatMargin: flat,
		Floor:      floor,
		Rounding:   pricing.Rounding(strings.ToLower(strings.TrimSpace(c.PriceRounding))),
	}, nil
}

func (c *Config) KafkaBrokerList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
