package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadBaseline returns the last saved entity set for source. found is false
// when no baseline exists yet.
func (s *Store) LoadBaseline(ctx context.Context, source string) (entities []catalog.Entity, found bool, err error) {
	var snap models.Snapshot
	err = s.DB.WithContext(ctx).First(&snap, "source = ?", source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load baseline for %s: %w", source, err)
	}
	if len(snap.Entities) == 0 {
		return []catalog.Entity{}, true, nil
	}
	if err := json.Unmarshal(snap.Entities, &entities); err != nil {
		return nil, false, fmt.Errorf("failed to decode baseline for %s: %w", source, err)
	}
	return entities, true, nil
}

// SaveBaseline replaces the baseline for source.
func (s *Store) SaveBaseline(ctx context.Context, source, runID string, entities []catalog.Entity) error {
	if entities == nil {
		entities = []catalog.Entity{}
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	snap := models.Snapshot{
		Source:      source,
		Entities:    datatypes.JSON(raw),
		EntityCount: len(entities),
		RunID:       runID,
	}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"entities", "entity_count", "run_id", "updated_at"}),
	}).Create(&snap).Error
	return apperr.Persistence("save baseline", err)
}

// SaveDiff records the changed entities of one run.
func (s *Store) SaveDiff(ctx context.Context, runID, source string, diff catalog.Diff) error {
	rows := make([]models.SyncDiff, 0, len(diff.New)+len(diff.Updated)+len(diff.Removed))
	for _, e := range diff.Changed() {
		rows = append(rows, models.SyncDiff{
			RunID:     runID,
			Source:    source,
			SKU:       e.SKU,
			Action:    string(e.Action),
			Signature: catalog.Signature(e),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return apperr.Persistence("save diff", s.DB.WithContext(ctx).CreateInBatches(rows, 200).Error)
}

// DiffForRun returns the diff rows persisted by a run.
func (s *Store) DiffForRun(ctx context.Context, runID string) ([]models.SyncDiff, error) {
	var rows []models.SyncDiff
	err := s.DB.WithContext(ctx).Where("run_id = ?", runID).Order("sku").Find(&rows).Error
	return rows, err
}
