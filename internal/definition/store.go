// Package definition is the read side of workflow records and the validated
// write path used by authoring tools.
package definition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Store struct {
	store  ports.Store
	logger *slog.Logger
}

func NewStore(store ports.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{store: store, logger: logger.With("component", "definition")}
}

// With binds the Store to tx.
func (s *Store) With(tx ports.Store) *Store {
	c := *s
	c.store = tx
	return &c
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return s.store.Definitions().GetWorkflow(ctx, id)
}

func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error) {
	return s.store.Definitions().GetStep(ctx, id)
}

func (s *Store) GetStepsOrdered(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.Definitions().GetStepsOrdered(ctx, workflowID)
}

func (s *Store) GetFirstStep(ctx context.Context, workflowID uuid.UUID) (*domain.Step, error) {
	return s.store.Definitions().GetFirstStep(ctx, workflowID)
}

// GetNextStep returns nil with no error when currentOrder is the last step.
func (s *Store) GetNextStep(ctx context.Context, workflowID uuid.UUID, currentOrder int) (*domain.Step, error) {
	step, err := s.store.Definitions().GetNextStep(ctx, workflowID, currentOrder)
	if errors.Is(err, domain.ErrStepNotFound) {
		return nil, nil
	}
	return step, err
}

// SaveWorkflow validates the step list and persists the workflow record.
func (s *Store) SaveWorkflow(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error {
	if wf.Name == "" {
		return &domain.ValidationError{Field: "name", Message: "required"}
	}
	if err := domain.ValidateSteps(steps); err != nil {
		return err
	}
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	for i := range steps {
		if steps[i].ID == uuid.Nil {
			steps[i].ID = uuid.New()
		}
	}
	wf.UpdatedAt = time.Now()

	// Replacing steps under a running instance would strand its pointer.
	err := s.store.WithinTx(ctx, func(tx ports.Store) error {
		open, err := tx.Instances().CountOpenForWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("workflow %s has %d running instances: %w", wf.ID, open, domain.ErrInvalidTransition)
		}
		return tx.Definitions().SaveWorkflow(ctx, wf, steps)
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	s.logger.Info("workflow saved", "workflow_id", wf.ID, "steps", len(steps))
	return nil
}

// SaveDefinition validates the template steps the same way as a record.
func (s *Store) SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error {
	if def.Name == "" {
		return &domain.ValidationError{Field: "name", Message: "required"}
	}
	if err := domain.ValidateSteps(domain.StepsFromTemplates(uuid.Nil, def.Steps.Data())); err != nil {
		return err
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	def.UpdatedAt = time.Now()
	return s.store.Definitions().SaveDefinition(ctx, def)
}

func (s *Store) GetDefinition(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	return s.store.Definitions().GetDefinition(ctx, id)
}

// Instantiate creates a concrete workflow record from a template.
func (s *Store) Instantiate(ctx context.Context, definitionID uuid.UUID, name string) (*domain.Workflow, error) {
	def, err := s.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = def.Name
	}

	wf := domain.NewWorkflow(name, def.Description)
	wf.DefinitionID = &def.ID
	wf.Reusable = def.Reusable
	steps := domain.StepsFromTemplates(wf.ID, def.Steps.Data())

	if err := s.SaveWorkflow(ctx, wf, steps); err != nil {
		return nil, err
	}
	return wf, nil
}

// NewDefinition builds a template with its step list encoded as jsonb.
func NewDefinition(name, description string, reusable bool, steps []domain.StepTemplate) *domain.WorkflowDefinition {
	now := time.Now()
	return &domain.WorkflowDefinition{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Reusable:    reusable,
		Steps:       datatypes.NewJSONType(steps),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
