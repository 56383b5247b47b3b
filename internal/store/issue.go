package store

import (
	"context"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/models"
)

type IssueFilter struct {
	Resolved *bool
	SKU      string
	RunID    string
	Limit    int
}

func (s *Store) RecordIssues(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return apperr.Persistence("record issues", s.DB.WithContext(ctx).CreateInBatches(issues, 200).Error)
}

func (s *Store) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, error) {
	query := s.DB.WithContext(ctx).Order("created_at DESC")
	if f.Resolved != nil {
		query = query.Where("is_resolved = ?", *f.Resolved)
	}
	if f.SKU != "" {
		query = query.Where("sku = ?", f.SKU)
	}
	if f.RunID != "" {
		query = query.Where("run_id = ?", f.RunID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var issues []models.Issue
	err := query.Find(&issues).Error
	return issues, err
}

func (s *Store) ResolveIssue(ctx context.Context, id string) (*models.Issue, error) {
	now := time.Now()
	res := s.DB.WithContext(ctx).Model(&models.Issue{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_resolved": true, "resolved_at": now})
	if res.Error != nil {
		return nil, apperr.Persistence("resolve issue", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrNotFound
	}
	var issue models.Issue
	if err := s.DB.WithContext(ctx).First(&issue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}
