package store

import (
	"context"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/batch"
	"catalogsync/internal/models"

	"gorm.io/gorm/clause"
)

// LoadRemoteMap returns the stored mappings, optionally only the active ones.
func (s *Store) LoadRemoteMap(ctx context.Context, activeOnly bool) (batch.RemoteMap, error) {
	query := s.DB.WithContext(ctx)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var rows []models.RemoteMapping
	if err := query.Find(&rows).Error; err != nil {
		return batch.RemoteMap{}, err
	}

	m := batch.NewRemoteMap()
	for _, r := range rows {
		switch r.EntityType {
		case models.MappingEntityProduct:
			m.Entities[r.LocalKey] = r.RemoteID
		case models.MappingEntityVariation:
			m.Variations[r.LocalKey] = r.RemoteID
		}
	}
	return m, nil
}

// SaveRemoteMap upserts every entry of m as active. parents maps variation
// keys to their entity key. Negative ids come from dry runs and are ignored.
func (s *Store) SaveRemoteMap(ctx context.Context, m batch.RemoteMap, parents map[string]string) error {
	now := time.Now()
	rows := make([]models.RemoteMapping, 0, len(m.Entities)+len(m.Variations))
	for key, id := range m.Entities {
		if id <= 0 {
			continue
		}
		rows = append(rows, models.RemoteMapping{
			EntityType: models.MappingEntityProduct, LocalKey: key, RemoteID: id, Active: true, LastSyncedAt: &now,
		})
	}
	for key, id := range m.Variations {
		if id <= 0 {
			continue
		}
		rows = append(rows, models.RemoteMapping{
			EntityType: models.MappingEntityVariation, LocalKey: key, ParentKey: parents[key], RemoteID: id, Active: true, LastSyncedAt: &now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "local_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_id", "parent_key", "active", "last_synced_at", "updated_at"}),
	}).CreateInBatches(rows, 200).Error
	return apperr.Persistence("save remote mappings", err)
}

// InvalidateMappings deactivates the mappings of the given entities and of
// their variations. Rows are kept so the id can be reused if the key returns.
func (s *Store) InvalidateMappings(ctx context.Context, skus []string) error {
	if len(skus) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).Model(&models.RemoteMapping{}).
		Where("(entity_type = ? AND local_key IN ?) OR (entity_type = ? AND parent_key IN ?)",
			models.MappingEntityProduct, skus, models.MappingEntityVariation, skus).
		Update("active", false).Error
	return apperr.Persistence("invalidate remote mappings", err)
}

// TrackedEntities returns the active entity mappings, ordered by key.
func (s *Store) TrackedEntities(ctx context.Context) ([]models.RemoteMapping, error) {
	var rows []models.RemoteMapping
	err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND active = ?", models.MappingEntityProduct, true).
		Order("local_key").
		Find(&rows).Error
	return rows, err
}

// LocalKeyForRemote resolves a remote id back to the local key it was
// created for, active or not.
func (s *Store) LocalKeyForRemote(ctx context.Context, entityType models.MappingEntityType, remoteID int64) (string, error) {
	var row models.RemoteMapping
	err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND remote_id = ?", entityType, remoteID).
		Order("active DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return "", err
	}
	if row.ID == "" {
		return "", apperr.ErrNotFound
	}
	return row.LocalKey, nil
}
