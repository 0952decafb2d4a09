package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates the gorm-backed workflow repository.
func NewWorkflowRepository(db *gorm.DB) ports.WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) Create(ctx context.Context, record *domain.WorkflowRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil && isDuplicateKey(err) {
		return ports.ErrDuplicateID
	}
	return err
}

func (r *workflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRecord, error) {
	var record domain.WorkflowRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Update performs a compare-and-swap on the version column. A stale
// in-memory copy can never silently clobber a newer row.
func (r *workflowRepository) Update(ctx context.Context, record *domain.WorkflowRecord) error {
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("id = ? AND version = ?", record.ID, record.Version).
		Updates(map[string]interface{}{
			"state":         record.State,
			"step":          record.Step,
			"step_attempts": record.StepAttempts,
			"progress":      record.Progress,
			"error":         record.Error,
			"version":       record.Version + 1,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ports.ErrVersionConflict
	}

	record.Version++
	return nil
}

func (r *workflowRepository) ListByTypeAndState(ctx context.Context, t domain.WorkflowType, s domain.WorkflowState) ([]domain.WorkflowRecord, error) {
	var records []domain.WorkflowRecord
	err := r.db.WithContext(ctx).
		Where("type = ? AND state = ?", t, s).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *workflowRepository) ListActive(ctx context.Context) ([]domain.WorkflowRecord, error) {
	var records []domain.WorkflowRecord
	err := r.db.WithContext(ctx).
		Where("state IN ?", domain.ActiveStates()).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *workflowRepository) ListByStudio(ctx context.Context, studio string) ([]domain.WorkflowRecord, error) {
	var records []domain.WorkflowRecord
	err := r.db.WithContext(ctx).
		Where("studio = ?", strings.ToLower(studio)).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *workflowRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("state IN ?", domain.ActiveStates()).
		Count(&count).Error
	return count, err
}

func (r *workflowRepository) CountActiveByType(ctx context.Context, t domain.WorkflowType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("type = ? AND state IN ?", t, domain.ActiveStates()).
		Count(&count).Error
	return count, err
}

func (r *workflowRepository) CountActiveBySigner(ctx context.Context, signer string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.WorkflowRecord{}).
		Where("signer = ? AND state IN ?", strings.ToLower(signer), domain.ActiveStates()).
		Count(&count).Error
	return count, err
}

func (r *workflowRepository) ActiveCounts(ctx context.Context) (ports.ActiveCounts, error) {
	counts := ports.ActiveCounts{
		ByType:   make(map[domain.WorkflowType]int64),
		BySigner: make(map[string]int64),
	}

	var records []domain.WorkflowRecord
	err := r.db.WithContext(ctx).
		Select("type", "signer").
		Where("state IN ?", domain.ActiveStates()).
		Find(&records).Error
	if err != nil {
		return counts, err
	}

	for _, rec := range records {
		counts.Total++
		counts.ByType[rec.Type]++
		counts.BySigner[rec.Signer]++
	}
	return counts, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx surfaces unique violations as SQLSTATE 23505.
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}
