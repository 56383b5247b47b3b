package store

import (
	"context"
	"errors"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductFilter struct {
	Status models.ProductStatus
	Source string
	Search string
	Limit  int
	Offset int
}

// UpsertProduct mirrors e into products and product_variations. A removed
// entity keeps its rows with status REMOVED and zero stock.
func (s *Store) UpsertProduct(ctx context.Context, source string, e catalog.Entity) error {
	status := models.ProductStatusActive
	if e.Action == catalog.ActionRemoved {
		status = models.ProductStatusRemoved
	}

	return s.InTx(ctx, func(tx *Store) error {
		product := models.Product{
			SKU:         e.SKU,
			Name:        e.Name,
			Source:      source,
			Status:      status,
			StockStatus: string(e.StockStatus()),
			Signature:   catalog.Signature(e),
		}
		err := tx.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "source", "status", "stock_status", "signature", "updated_at"}),
		}).Create(&product).Error
		if err != nil {
			return err
		}

		// On conflict the generated id is not the stored one.
		var stored models.Product
		if err := tx.DB.Select("id").First(&stored, "sku = ?", e.SKU).Error; err != nil {
			return err
		}

		for _, v := range e.Variations {
			row := models.ProductVariation{
				ProductID:     stored.ID,
				VariationKey:  v.Key,
				Size:          v.Size,
				Price:         v.Price,
				StockQuantity: v.StockQuantity,
				StockStatus:   string(v.StockStatus()),
			}
			err := tx.DB.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "variation_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"product_id", "size", "price", "stock_quantity", "stock_status", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SetProductStatus changes a product's status. Any status other than ACTIVE
// also zeroes the stock of its variations.
func (s *Store) SetProductStatus(ctx context.Context, sku string, status models.ProductStatus) error {
	return s.InTx(ctx, func(tx *Store) error {
		var product models.Product
		if err := tx.DB.Select("id").First(&product, "sku = ?", sku).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}

		updates := map[string]interface{}{"status": status}
		if status != models.ProductStatusActive {
			updates["stock_status"] = string(catalog.StockOutOfStock)
		}
		if err := tx.DB.Model(&models.Product{}).Where("id = ?", product.ID).Updates(updates).Error; err != nil {
			return err
		}
		if status == models.ProductStatusActive {
			return nil
		}
		return tx.DB.Model(&models.ProductVariation{}).
			Where("product_id = ?", product.ID).
			Updates(map[string]interface{}{
				"stock_quantity": 0,
				"stock_status":   string(catalog.StockOutOfStock),
			}).Error
	})
}

// SetVariationStock updates one variation and recomputes the parent's stock status.
func (s *Store) SetVariationStock(ctx context.Context, key string, quantity int) error {
	return s.InTx(ctx, func(tx *Store) error {
		var v models.ProductVariation
		if err := tx.DB.First(&v, "variation_key = ?", key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}
		status := catalog.StockOutOfStock
		if quantity > 0 {
			status = catalog.StockInStock
		}
		if err := tx.DB.Model(&v).Updates(map[string]interface{}{
			"stock_quantity": quantity,
			"stock_status":   string(status),
		}).Error; err != nil {
			return err
		}
		return tx.refreshStockStatus(v.ProductID)
	})
}

// SetVariationPrice updates the mirrored price of one variation.
func (s *Store) SetVariationPrice(ctx context.Context, key string, price decimal.Decimal) error {
	res := s.DB.WithContext(ctx).Model(&models.ProductVariation{}).
		Where("variation_key = ?", key).
		Update("price", price)
	if res.Error != nil {
		return apperr.Persistence("set variation price", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.DB.WithContext(ctx).
		Preload("Variations", func(db *gorm.DB) *gorm.DB { return db.Order("variation_key") }).
		First(&product, "sku = ?", sku).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.Source != "" {
			db = db.Where("source = ?", f.Source)
		}
		if f.Search != "" {
			like := "%" + f.Search + "%"
			db = db.Where("sku LIKE ? OR name LIKE ?", like, like)
		}
		return db
	}

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Product{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := s.DB.WithContext(ctx).Scopes(filter).Preload("Variations").Order("sku")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *Store) refreshStockStatus(productID string) error {
	var inStock int64
	if err := s.DB.Model(&models.ProductVariation{}).
		Where("product_id = ? AND stock_quantity > 0", productID).
		Count(&inStock).Error; err != nil {
		return err
	}
	status := catalog.StockOutOfStock
	if inStock > 0 {
		status = catalog.StockInStock
	}
	return s.DB.Model(&models.Product{}).Where("id = ?", productID).Update("stock_status", string(status)).Error
}
