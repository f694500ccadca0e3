package repository

import (
	"context"
	"time"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type assignmentRepository struct {
	db *gorm.DB
}

const assignmentViewColumns = `step_assignments.*,
	workflow_steps.name AS step_name,
	workflow_steps.step_order AS step_order,
	workflows.id AS workflow_id,
	workflows.name AS workflow_name`

func (r *assignmentRepository) Insert(ctx context.Context, assignment *domain.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&assignment).Error
	if err != nil {
		return nil, notFound(err, domain.ErrAssignmentNotFound)
	}
	return &assignment, nil
}

// UpdateStatus excludes completed rows in the WHERE clause, so two racing
// completions of one assignment cannot both succeed.
func (r *assignmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AssignmentStatus, notes *string, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Assignment{}).
		Where("id = ? AND status != ?", id, domain.AssignmentCompleted).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *assignmentRepository) Reassign(ctx context.Context, id uuid.UUID, assignedTo, assignedBy string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Assignment{}).
		Where("id = ? AND status != ?", id, domain.AssignmentCompleted).
		Updates(map[string]interface{}{
			"assigned_to": assignedTo,
			"assigned_by": assignedBy,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *assignmentRepository) viewQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("step_assignments").
		Select(assignmentViewColumns).
		Joins("JOIN workflow_steps ON workflow_steps.id = step_assignments.step_id").
		Joins("JOIN workflows ON workflows.id = workflow_steps.workflow_id")
}

func (r *assignmentRepository) ListForUser(ctx context.Context, userID string) ([]domain.AssignmentView, error) {
	var views []domain.AssignmentView
	err := r.viewQuery(ctx).
		Where("step_assignments.assigned_to = ?", userID).
		Order("step_assignments.created_at DESC").
		Scan(&views).Error
	return views, err
}

func (r *assignmentRepository) ListForInstanceStep(ctx context.Context, instanceID, stepID uuid.UUID) ([]domain.Assignment, error) {
	var assignments []domain.Assignment
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND step_id = ?", instanceID, stepID).
		Order("created_at ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *assignmentRepository) ListUnassigned(ctx context.Context) ([]domain.AssignmentView, error) {
	var views []domain.AssignmentView
	err := r.viewQuery(ctx).
		Where("step_assignments.assigned_to = '' AND step_assignments.status IN ?",
			[]domain.AssignmentStatus{domain.AssignmentPending, domain.AssignmentInProgress}).
		Order("step_assignments.created_at DESC").
		Scan(&views).Error
	return views, err
}

func (r *assignmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Assignment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAssignmentNotFound
	}
	return nil
}
