package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

const maxStoredErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

func (r *Repository) FetchPending(limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.Where("status = ?", enums.OutboxStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(id uuid.UUID) error {
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPublished,
			"published_at": time.Now().UTC(),
		}).Error
}

// MarkFailed records the error and bumps the attempt counter. Rows that hit
// maxAttempts move to the failed status and stop being drained.
func (r *Repository) MarkFailed(id uuid.UUID, cause error, maxAttempts int) error {
	msg := truncateError(cause)
	err := r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error": msg,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return err
	}
	if maxAttempts <= 0 {
		return nil
	}
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ? AND attempts >= ?", id, maxAttempts).
		Update("status", enums.OutboxStatusFailed).Error
}

// DeletePublishedBefore prunes delivered rows older than the cutoff, plus
// failed rows that exhausted at least minAttemptCount deliveries. Pending rows
// are never touched.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("status = ? OR (status = ? AND attempts >= ?)",
			enums.OutboxStatusPublished, enums.OutboxStatusFailed, minAttemptCount).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

func truncateError(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	msg := cause.Error()
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}
