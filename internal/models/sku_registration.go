package models

import "time"

// SkuRegistration records one catalog key the market-price API has been told to watch.
type SkuRegistration struct {
	SKU             string    `json:"sku" gorm:"primaryKey;type:varchar(191)"`
	MarketProductID string    `json:"market_product_id" gorm:"index;not null"`
	SubscriptionID  string    `json:"subscription_id" gorm:"index"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// PriceSubscription is the market-price webhook subscription the registrations hang off.
type PriceSubscription struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ExternalID string    `json:"external_id" gorm:"uniqueIndex;not null"`
	URL        string    `json:"url"`
	Topics     string    `json:"topics"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
