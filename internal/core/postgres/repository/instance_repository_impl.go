package repository

import (
	"context"
	"time"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type instanceRepository struct {
	db *gorm.DB
}

func (r *instanceRepository) Create(ctx context.Context, instance *domain.Instance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

func (r *instanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	var instance domain.Instance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error
	if err != nil {
		return nil, notFound(err, domain.ErrInstanceNotFound)
	}
	return &instance, nil
}

func (r *instanceRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Instance, error) {
	out := make(map[uuid.UUID]*domain.Instance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var instances []domain.Instance
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&instances).Error; err != nil {
		return nil, err
	}
	for i := range instances {
		out[instances[i].ID] = &instances[i]
	}
	return out, nil
}

// GetActiveForWorkflow returns the most recently created active instance.
// Concurrent instances of one workflow are legal; callers that know the
// instance id must not use this.
func (r *instanceRepository) GetActiveForWorkflow(ctx context.Context, workflowID uuid.UUID) (*domain.Instance, error) {
	var instance domain.Instance
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND status = ?", workflowID, domain.InstanceActive).
		Order("created_at DESC").
		First(&instance).Error
	if err != nil {
		return nil, notFound(err, domain.ErrInstanceNotFound)
	}
	return &instance, nil
}

func (r *instanceRepository) CountOpenForWorkflow(ctx context.Context, workflowID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("workflow_id = ? AND status IN ?", workflowID, []domain.InstanceStatus{domain.InstanceActive, domain.InstancePaused}).
		Count(&n).Error
	return n, err
}

// CompareAndSwapPointer moves the current step pointer only if nobody else
// did since the caller read the row. Under concurrent advancement the second
// UPDATE blocks on the row lock, re-evaluates the WHERE clause against the
// committed row and matches nothing.
func (r *instanceRepository) CompareAndSwapPointer(ctx context.Context, id uuid.UUID, expectedVersion int, expectedStepID, nextStepID *uuid.UUID, status domain.InstanceStatus) error {
	now := time.Now()
	q := r.db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ? AND version = ? AND status = ?", id, expectedVersion, domain.InstanceActive)
	if expectedStepID == nil {
		q = q.Where("current_step_id IS NULL")
	} else {
		q = q.Where("current_step_id = ?", *expectedStepID)
	}

	updates := map[string]interface{}{
		"status":     status,
		"version":    expectedVersion + 1,
		"updated_at": now,
	}
	if nextStepID == nil {
		updates["current_step_id"] = gorm.Expr("NULL")
	} else {
		updates["current_step_id"] = *nextStepID
	}
	if status == domain.InstanceCompleted {
		updates["completed_at"] = now
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStepMismatch
	}
	return nil
}

func (r *instanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status domain.InstanceStatus) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    expectedVersion + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *instanceRepository) SetInconsistent(ctx context.Context, id uuid.UUID, inconsistent bool, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"inconsistent":         inconsistent,
			"inconsistency_reason": reason,
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}
