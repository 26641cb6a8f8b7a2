package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecomply/internal/model"
)

// AlertRepository is the durable store of compliance alerts
type AlertRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAlertRepository creates an alert store on top of db
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateIfAbsent inserts an alert unless one already exists for the
// (artifactID, alertType) pair. The unique index decides, so concurrent
// callers racing on the same pair create exactly one row between them.
func (r *AlertRepository) CreateIfAbsent(ctx context.Context, artifactID, alertType, message string) (bool, error) {
	alert := model.Alert{
		ID:         uuid.NewString(),
		ArtifactID: artifactID,
		AlertType:  alertType,
		Message:    message,
		CreatedAt:  r.now(),
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&alert)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create alert for %s: %w", artifactID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListUnacknowledged returns unacknowledged alerts, newest first
func (r *AlertRepository) ListUnacknowledged(ctx context.Context, limit int) ([]model.Alert, error) {
	query := r.db.WithContext(ctx).Where("acknowledged = ?", false).Order("created_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var alerts []model.Alert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// ListByArtifact returns every alert raised for an artifact
func (r *AlertRepository) ListByArtifact(ctx context.Context, artifactID string) ([]model.Alert, error) {
	var alerts []model.Alert
	if err := r.db.WithContext(ctx).Where("artifact_id = ?", artifactID).Order("created_at asc").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts for %s: %w", artifactID, err)
	}
	return alerts, nil
}

// Acknowledge marks an alert as read. Acknowledging twice is a no-op.
func (r *AlertRepository) Acknowledge(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Update("acknowledged", true)
	if result.Error != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var alert model.Alert
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("database error loading alert %s: %w", id, err)
	}
	return nil
}
