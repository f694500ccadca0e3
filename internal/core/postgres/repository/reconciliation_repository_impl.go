package repository

import (
	"context"

	"go-flowdesk/internal/domain"

	"gorm.io/gorm"
)

type reconciliationRepository struct {
	db *gorm.DB
}

func (r *reconciliationRepository) Record(ctx context.Context, rec *domain.AssignmentReconciliation) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *reconciliationRepository) ListForViewer(ctx context.Context, viewer string) ([]domain.AssignmentReconciliation, error) {
	var recs []domain.AssignmentReconciliation
	err := r.db.WithContext(ctx).
		Where("viewer = ?", viewer).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}
