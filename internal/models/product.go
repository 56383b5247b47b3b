package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the local relational mirror of one catalog entity.
type Product struct {
	ID          string             `json:"id" gorm:"type:varchar(36);primaryKey"`
	SKU         string             `json:"sku" gorm:"uniqueIndex;not null"`
	Name        string             `json:"name" gorm:"not null"`
	Source      string             `json:"source" gorm:"index"`
	Status      ProductStatus      `json:"status" gorm:"default:ACTIVE"`
	StockStatus string             `json:"stock_status" gorm:"default:outofstock"`
	Signature   string             `json:"signature"`
	Variations  []ProductVariation `json:"variations" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type ProductVariation struct {
	ID            string          `json:"id" gorm:"type:varchar(36);primaryKey"`
	ProductID     string          `json:"product_id" gorm:"index;not null"`
	VariationKey  string          `json:"variation_key" gorm:"uniqueIndex;not null"`
	Size          string          `json:"size"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(10,2)"`
	StockQuantity int             `json:"stock_quantity"`
	StockStatus   string          `json:"stock_status" gorm:"default:outofstock"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ProductStatus string

const (
	ProductStatusActive  ProductStatus = "ACTIVE"
	ProductStatusRemoved ProductStatus = "REMOVED"
	ProductStatusDeleted ProductStatus = "DELETED"
)

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (v *ProductVariation) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}
