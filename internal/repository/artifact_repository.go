package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tradecomply/internal/model"
)

// ArtifactRepository is the durable store of artifacts
type ArtifactRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewArtifactRepository creates an artifact store on top of db
func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new pending artifact and returns its assigned ID
func (r *ArtifactRepository) Create(ctx context.Context, artifact *model.Artifact) (string, error) {
	if artifact.StorageRef == "" || artifact.ContentType == "" {
		return "", fmt.Errorf("storage ref and content type are required")
	}

	now := r.now()
	artifact.ID = uuid.NewString()
	artifact.Status = model.StatusPending
	artifact.Extraction = nil
	artifact.CreatedAt = now
	artifact.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(artifact).Error; err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	return artifact.ID, nil
}

// Get returns the artifact with the given ID
func (r *ArtifactRepository) Get(ctx context.Context, id string) (*model.Artifact, error) {
	var artifact model.Artifact
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&artifact)
	if result.Error == nil {
		return &artifact, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("database error loading artifact %s: %w", id, result.Error)
}

// UpdateStatus moves a pending artifact to a terminal status. Status and
// extraction are written by one conditional UPDATE, so readers never see a
// processed artifact without its extraction and a terminal row is never rewritten.
func (r *ArtifactRepository) UpdateStatus(ctx context.Context, id string, status model.Status, extraction *model.Extraction) error {
	if err := model.CheckTransition(model.StatusPending, status); err != nil {
		return err
	}
	if (status == model.StatusProcessed) != (extraction != nil) {
		return fmt.Errorf("%w: extraction must be present exactly when status is %s", model.ErrInvalidTransition, model.StatusProcessed)
	}

	result := r.db.WithContext(ctx).
		Model(&model.Artifact{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Select("status", "extraction", "updated_at").
		Updates(&model.Artifact{Status: status, Extraction: extraction, UpdatedAt: r.now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update artifact %s: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

// ListByStatus returns artifacts with the given status. A limit of zero or less returns all rows.
func (r *ArtifactRepository) ListByStatus(ctx context.Context, status model.Status, limit int, newestFirst bool) ([]model.Artifact, error) {
	order := "created_at asc, id asc"
	if newestFirst {
		order = "created_at desc, id desc"
	}

	query := r.db.WithContext(ctx).Where("status = ?", status).Order(order)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var artifacts []model.Artifact
	if err := query.Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s artifacts: %w", status, err)
	}
	return artifacts, nil
}

// List returns the newest artifacts regardless of status
func (r *ArtifactRepository) List(ctx context.Context, limit int) ([]model.Artifact, error) {
	query := r.db.WithContext(ctx).Order("created_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var artifacts []model.Artifact
	if err := query.Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

// CountByStatus returns the number of artifacts per status
func (r *ArtifactRepository) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	var rows []struct {
		Status model.Status
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Artifact{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count artifacts: %w", err)
	}

	counts := make(map[model.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
