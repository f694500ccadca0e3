package repository

import (
	"context"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type definitionRepository struct {
	db *gorm.DB
}

func (r *definitionRepository) SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error {
	return r.db.WithContext(ctx).Save(def).Error
}

func (r *definitionRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if err != nil {
		return nil, notFound(err, domain.ErrDefinitionNotFound)
	}
	return &def, nil
}

// SaveWorkflow replaces the workflow's step list in one transaction.
// Steps referenced by existing assignments keep their ids when re-saved with the same id.
func (r *definitionRepository) SaveWorkflow(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Steps").Save(wf).Error; err != nil {
			return err
		}

		keep := make([]uuid.UUID, 0, len(steps))
		for i := range steps {
			steps[i].WorkflowID = wf.ID
			keep = append(keep, steps[i].ID)
		}

		del := tx.Where("workflow_id = ?", wf.ID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&domain.Step{}).Error; err != nil {
			return err
		}

		if len(steps) > 0 {
			if err := tx.Save(&steps).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *definitionRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error
	if err != nil {
		return nil, notFound(err, domain.ErrWorkflowNotFound)
	}
	return &wf, nil
}

func (r *definitionRepository) GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error) {
	var step domain.Step
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&step).Error
	if err != nil {
		return nil, notFound(err, domain.ErrStepNotFound)
	}
	return &step, nil
}

func (r *definitionRepository) GetStepsOrdered(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	var steps []domain.Step
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("step_order ASC").
		Find(&steps).Error
	return steps, err
}

func (r *definitionRepository) GetFirstStep(ctx context.Context, workflowID uuid.UUID) (*domain.Step, error) {
	var step domain.Step
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("step_order ASC").
		First(&step).Error
	if err != nil {
		return nil, notFound(err, domain.ErrStepNotFound)
	}
	return &step, nil
}

func (r *definitionRepository) GetNextStep(ctx context.Context, workflowID uuid.UUID, currentOrder int) (*domain.Step, error) {
	var step domain.Step
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND step_order > ?", workflowID, currentOrder).
		Order("step_order ASC").
		First(&step).Error
	if err != nil {
		return nil, notFound(err, domain.ErrStepNotFound)
	}
	return &step, nil
}
