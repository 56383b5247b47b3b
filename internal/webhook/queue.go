// Package webhook is the durable inbound queue for catalog change events.
//
// Envelopes move pending -> processing -> completed|failed, and failed
// envelopes go back to pending only on an explicit retry.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Envelope is an inbound event before it is persisted.
type Envelope struct {
	Source     string
	DeliveryID string
	Topic      string
	ResourceID int64
	Payload    []byte
}

// Applier performs the local-store write an envelope triggers. It must use
// tx for every write so the write commits or rolls back with the envelope.
type Applier interface {
	Apply(ctx context.Context, tx *gorm.DB, env *models.WebhookEnvelope) error
}

type ProcessStats struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type Queue struct {
	db          *gorm.DB
	dedupWindow time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

// NewQueue returns a queue over db. A non-positive dedupWindow keeps delivery
// ids forever.
func NewQueue(db *gorm.DB, dedupWindow time.Duration, logger *logger.Logger) *Queue {
	return &Queue{
		db:          db,
		dedupWindow: dedupWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Enqueue stores env as pending and returns its id. A delivery id already
// seen inside the dedup window, or held by an envelope that has not completed,
// returns the existing id with apperr.ErrDuplicateWebhook and changes nothing.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) (string, error) {
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		return "", err
	}
	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		return "", &apperr.ValidationError{Reason: "webhook payload is not valid JSON"}
	}

	db := q.db.WithContext(ctx)
	var deliveryID *string
	if env.DeliveryID != "" {
		id := env.DeliveryID
		deliveryID = &id

		existing, err := q.findByDelivery(db, id)
		if err != nil {
			return "", err
		}
		if existing != nil {
			// Only a completed envelope past the window releases its delivery id.
			// Anything still open stays the single owner of the id.
			if existing.Status != models.WebhookStatusCompleted || q.withinWindow(existing.CreatedAt) {
				metrics.ObserveWebhook("duplicate")
				return existing.ID, apperr.ErrDuplicateWebhook
			}
			err := db.Model(&models.WebhookEnvelope{}).
				Where("id = ?", existing.ID).
				Update("delivery_id", nil).Error
			if err != nil {
				return "", apperr.Persistence("expire webhook delivery", err)
			}
		}
	}

	row := models.WebhookEnvelope{
		Source:     env.Source,
		DeliveryID: deliveryID,
		Topic:      topic,
		ResourceID: env.ResourceID,
		Payload:    datatypes.JSON(env.Payload),
		Status:     models.WebhookStatusPending,
	}
	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && deliveryID != nil {
			// Lost a race with a concurrent delivery of the same id.
			if existing, ferr := q.findByDelivery(db, *deliveryID); ferr == nil && existing != nil {
				metrics.ObserveWebhook("duplicate")
				return existing.ID, apperr.ErrDuplicateWebhook
			}
		}
		return "", apperr.Persistence("enqueue webhook", err)
	}

	metrics.ObserveWebhook("received")
	q.logger.Debug("Enqueued webhook %s (%s, resource %d)", row.ID, row.Topic, row.ResourceID)
	return row.ID, nil
}

// ClaimNext moves up to n pending envelopes, oldest first, to processing and
// returns them. Concurrent callers never receive the same envelope.
func (q *Queue) ClaimNext(ctx context.Context, n int) ([]models.WebhookEnvelope, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []models.WebhookEnvelope
	err := database.InTx(ctx, q.db, func(tx *gorm.DB) error {
		query := tx.Where("status = ?", models.WebhookStatusPending).
			Order("created_at ASC").
			Limit(n)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []models.WebhookEnvelope
		if err := query.Find(&candidates).Error; err != nil {
			return err
		}

		now := q.now()
		for _, env := range candidates {
			res := tx.Model(&models.WebhookEnvelope{}).
				Where("id = ? AND status = ?", env.ID, models.WebhookStatusPending).
				Updates(map[string]interface{}{
					"status":     models.WebhookStatusProcessing,
					"attempts":   gorm.Expr("attempts + 1"),
					"claimed_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			env.Status = models.WebhookStatusProcessing
			env.Attempts++
			env.ClaimedAt = &now
			claimed = append(claimed, env)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Persistence("claim webhooks", err)
	}
	return claimed, nil
}

// Complete marks a processing envelope completed.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.complete(q.db.WithContext(ctx), id)
}

func (q *Queue) complete(db *gorm.DB, id string) error {
	now := q.now()
	return q.transition(db, id, models.WebhookStatusProcessing, map[string]interface{}{
		"status":       models.WebhookStatusCompleted,
		"completed_at": now,
		"last_error":   "",
	})
}

// Fail marks a processing envelope failed with reason.
func (q *Queue) Fail(ctx context.Context, id, reason string) error {
	err := q.transition(q.db.WithContext(ctx), id, models.WebhookStatusProcessing, map[string]interface{}{
		"status":     models.WebhookStatusFailed,
		"last_error": reason,
	})
	if err == nil {
		metrics.ObserveWebhook("failed")
	}
	return err
}

// RetryFailed resets up to limit failed envelopes to pending and returns how
// many were reset. With nothing failed it changes nothing.
func (q *Queue) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	reset := 0
	err := database.InTx(ctx, q.db, func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.WebhookEnvelope{}).
			Where("status = ?", models.WebhookStatusFailed).
			Order("updated_at ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&models.WebhookEnvelope{}).
			Where("id IN ? AND status = ?", ids, models.WebhookStatusFailed).
			Updates(map[string]interface{}{
				"status":     models.WebhookStatusPending,
				"claimed_at": nil,
			})
		reset = int(res.RowsAffected)
		return res.Error
	})
	if err != nil {
		return 0, apperr.Persistence("retry failed webhooks", err)
	}
	if reset > 0 {
		q.logger.Info("Reset %d failed webhooks to pending", reset)
	}
	return reset, nil
}

// PurgeCompletedOlderThan deletes completed envelopes finished more than
// days ago. Pending, processing and failed envelopes are never purged.
func (q *Queue) PurgeCompletedOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("purge window must be at least one day, got %d", days)
	}
	cutoff := q.now().Add(-time.Duration(days) * 24 * time.Hour)
	res := q.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", models.WebhookStatusCompleted, cutoff).
		Delete(&models.WebhookEnvelope{})
	if res.Error != nil {
		return 0, apperr.Persistence("purge webhooks", res.Error)
	}
	return res.RowsAffected, nil
}

// Process claims up to limit envelopes and applies each one. The apply and
// the completed transition share one transaction; if either fails the
// envelope is marked failed and nothing the applier wrote survives.
func (q *Queue) Process(ctx context.Context, limit int, applier Applier) (ProcessStats, error) {
	var stats ProcessStats

	envs, err := q.ClaimNext(ctx, limit)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(envs)

	for i := range envs {
		env := &envs[i]
		err := database.InTx(ctx, q.db, func(tx *gorm.DB) error {
			if err := applier.Apply(ctx, tx, env); err != nil {
				return err
			}
			return q.complete(tx, env.ID)
		})
		if err == nil {
			stats.Completed++
			metrics.ObserveWebhook("completed")
			continue
		}

		stats.Failed++
		q.logger.Warn("Webhook %s (%s, resource %d) failed: %v", env.ID, env.Topic, env.ResourceID, err)
		if ferr := q.Fail(context.WithoutCancel(ctx), env.ID, err.Error()); ferr != nil {
			return stats, ferr
		}
	}
	return stats, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.WebhookEnvelope, error) {
	var env models.WebhookEnvelope
	err := q.db.WithContext(ctx).First(&env, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// List returns envelopes newest first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status models.WebhookStatus, limit int) ([]models.WebhookEnvelope, error) {
	query := q.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var envs []models.WebhookEnvelope
	if err := query.Find(&envs).Error; err != nil {
		return nil, err
	}
	return envs, nil
}

// Counts returns the number of envelopes per status.
func (q *Queue) Counts(ctx context.Context) (map[models.WebhookStatus]int64, error) {
	var rows []struct {
		Status models.WebhookStatus
		Count  int64
	}
	err := q.db.WithContext(ctx).Model(&models.WebhookEnvelope{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.WebhookStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (q *Queue) transition(db *gorm.DB, id string, from models.WebhookStatus, updates map[string]interface{}) error {
	res := db.Model(&models.WebhookEnvelope{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return apperr.Persistence("update webhook status", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.WebhookEnvelope
	err := db.Select("id", "status").First(&current, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return apperr.Persistence("read webhook status", err)
	}
	return fmt.Errorf("%w: %s is %s, not %s", apperr.ErrInvalidTransition, id, current.Status, from)
}

func (q *Queue) findByDelivery(db *gorm.DB, deliveryID string) (*models.WebhookEnvelope, error) {
	var env models.WebhookEnvelope
	err := db.Where("delivery_id = ?", deliveryID).Limit(1).Find(&env).Error
	if err != nil {
		return nil, apperr.Persistence("find webhook delivery", err)
	}
	if env.ID == "" {
		return nil, nil
	}
	return &env, nil
}

func (q *Queue) withinWindow(created time.Time) bool {
	if q.dedupWindow <= 0 {
		return true
	}
	return q.now().Sub(created) < q.dedupWindow
}
