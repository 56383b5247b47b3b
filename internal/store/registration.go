package store

import (
	"context"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/models"

	"gorm.io/gorm/clause"
)

// Registrations returns the keys the market-price API currently watches.
func (s *Store) Registrations(ctx context.Context) ([]models.SkuRegistration, error) {
	var regs []models.SkuRegistration
	err := s.DB.WithContext(ctx).Order("sku").Find(&regs).Error
	return regs, err
}

// RegistrationByMarketID finds the registration of a market-price product id.
func (s *Store) RegistrationByMarketID(ctx context.Context, productID string) (*models.SkuRegistration, error) {
	var regs []models.SkuRegistration
	if err := s.DB.WithContext(ctx).Where("market_product_id = ?", productID).Limit(1).Find(&regs).Error; err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, apperr.ErrNotFound
	}
	return &regs[0], nil
}

func (s *Store) AddRegistrations(ctx context.Context, regs []models.SkuRegistration) error {
	if len(regs) == 0 {
		return nil
	}
	now := time.Now()
	for i := range regs {
		if regs[i].RegisteredAt.IsZero() {
			regs[i].RegisteredAt = now
		}
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"market_product_id", "subscription_id", "registered_at"}),
	}).Create(&regs).Error
	return apperr.Persistence("add registrations", err)
}

func (s *Store) RemoveRegistrations(ctx context.Context, skus []string) error {
	if len(skus) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).Where("sku IN ?", skus).Delete(&models.SkuRegistration{}).Error
	return apperr.Persistence("remove registrations", err)
}

// Subscription returns the market-price subscription, or nil if none was created yet.
func (s *Store) Subscription(ctx context.Context) (*models.PriceSubscription, error) {
	var sub models.PriceSubscription
	err := s.DB.WithContext(ctx).Order("id").Limit(1).Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub *models.PriceSubscription) error {
	return apperr.Persistence("save subscription", s.DB.WithContext(ctx).Save(sub).Error)
}
