package store

import (
	"context"
	"encoding/json"
	"fmt"

	"catalogsync/internal/apperr"
	"catalogsync/internal/models"

	"gorm.io/datatypes"
)

// AppendSyncLog writes one audit row. Pass a transaction-bound Store to
// commit it together with the change it describes.
func (s *Store) AppendSyncLog(ctx context.Context, runID string, origin models.SyncLogOrigin, sku, action string, detail interface{}) error {
	entry := models.SyncLog{RunID: runID, Origin: origin, SKU: sku, Action: action}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to encode sync log detail: %w", err)
		}
		entry.Detail = datatypes.JSON(raw)
	}
	return apperr.Persistence("append sync log", s.DB.WithContext(ctx).Create(&entry).Error)
}

func (s *Store) SyncLogs(ctx context.Context, sku string, limit int) ([]models.SyncLog, error) {
	query := s.DB.WithContext(ctx).Order("created_at DESC")
	if sku != "" {
		query = query.Where("sku = ?", sku)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logs []models.SyncLog
	err := query.Find(&logs).Error
	return logs, err
}
