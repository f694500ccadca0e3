// Package tracker owns workflow instances and their current step pointer.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/ledger"
	"go-flowdesk/internal/metrics"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Tracker struct {
	store   ports.Store
	defs    *definition.Store
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(store ports.Store, defs *definition.Store, l *ledger.Ledger, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   store,
		defs:    defs,
		ledger:  l,
		metrics: m,
		logger:  logger.With("component", "tracker"),
	}
}

// With binds the Tracker and its collaborators to tx.
func (t *Tracker) With(tx ports.Store) *Tracker {
	c := *t
	c.store = tx
	c.defs = t.defs.With(tx)
	c.ledger = t.ledger.With(tx)
	return &c
}

// Start creates an active instance on the workflow's first step together
// with that step's assignment. Either both rows exist afterwards or neither.
func (t *Tracker) Start(ctx context.Context, workflowID uuid.UUID, startedBy string, startData map[string]any) (*domain.Instance, *domain.Assignment, error) {
	if _, err := t.defs.GetWorkflow(ctx, workflowID); err != nil {
		return nil, nil, err
	}

	first, err := t.defs.GetFirstStep(ctx, workflowID)
	if errors.Is(err, domain.ErrStepNotFound) {
		return nil, nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNoStepsDefined)
	}
	if err != nil {
		return nil, nil, err
	}

	missing, err := domain.MissingStartFields(first, startData)
	if err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		return nil, nil, &domain.ValidationError{
			Field:   "start_data",
			Message: "missing required fields: " + strings.Join(missing, ", "),
		}
	}

	var payload datatypes.JSON
	if startData != nil {
		raw, err := json.Marshal(startData)
		if err != nil {
			return nil, nil, &domain.ValidationError{Field: "start_data", Message: err.Error()}
		}
		payload = raw
	}

	instance := domain.NewInstance(workflowID, startedBy, first.ID, payload)
	var assignment *domain.Assignment

	err = t.store.WithinTx(ctx, func(tx ports.Store) error {
		if err := tx.Instances().Create(ctx, instance); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		a, err := t.ledger.With(tx).CreateAssignment(ctx, instance.ID, first.ID, first.AssigneeOrEmpty(), startedBy, nil)
		if err != nil {
			return err
		}
		assignment = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	t.metrics.InstanceStarted()
	if assignment.IsUnassigned() {
		t.metrics.UnassignedStep()
		t.logger.Warn("first step has no assignee", "instance_id", instance.ID, "step_id", first.ID)
	}
	t.logger.Info("instance started", "instance_id", instance.ID, "workflow_id", workflowID, "started_by", startedBy)
	return instance, assignment, nil
}

func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return t.store.Instances().GetByID(ctx, id)
}

// GetActiveInstance returns the newest active instance of a workflow, or nil.
// Several instances of one workflow may be active at once; anything holding
// an instance id should use Get instead.
func (t *Tracker) GetActiveInstance(ctx context.Context, workflowID uuid.UUID) (*domain.Instance, error) {
	instance, err := t.store.Instances().GetActiveForWorkflow(ctx, workflowID)
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return nil, nil
	}
	return instance, err
}

// AdvanceCurrentStep swaps the pointer of instance (as read by the caller)
// to next. A nil next requires a terminal status. ErrStepMismatch means
// someone else moved the instance first.
func (t *Tracker) AdvanceCurrentStep(ctx context.Context, instance *domain.Instance, next *uuid.UUID, status domain.InstanceStatus) error {
	if next == nil && status == domain.InstanceActive {
		return &domain.ValidationError{Field: "current_step_id", Message: "an active instance needs a current step"}
	}
	if next != nil {
		step, err := t.defs.GetStep(ctx, *next)
		if err != nil {
			return err
		}
		if step.WorkflowID != instance.WorkflowID {
			return &domain.ValidationError{
				Field:   "current_step_id",
				Message: fmt.Sprintf("step %s belongs to workflow %s, not %s", step.ID, step.WorkflowID, instance.WorkflowID),
			}
		}
	}
	return t.store.Instances().CompareAndSwapPointer(ctx, instance.ID, instance.Version, instance.CurrentStepID, next, status)
}

func (t *Tracker) Cancel(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return t.transition(ctx, id, domain.InstanceCancelled)
}

func (t *Tracker) Pause(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return t.transition(ctx, id, domain.InstancePaused)
}

func (t *Tracker) Resume(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return t.transition(ctx, id, domain.InstanceActive)
}

func (t *Tracker) transition(ctx context.Context, id uuid.UUID, next domain.InstanceStatus) (*domain.Instance, error) {
	instance, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !instance.CanTransitionTo(next) {
		return nil, fmt.Errorf("instance %s %s -> %s: %w", id, instance.Status, next, domain.ErrInvalidTransition)
	}
	if err := t.store.Instances().UpdateStatus(ctx, id, instance.Version, next); err != nil {
		return nil, err
	}
	t.logger.Info("instance status changed", "instance_id", id, "from", instance.Status, "to", next)
	return t.Get(ctx, id)
}

// SetInconsistent flags or clears the inconsistency marker.
func (t *Tracker) SetInconsistent(ctx context.Context, id uuid.UUID, inconsistent bool, reason string) error {
	return t.store.Instances().SetInconsistent(ctx, id, inconsistent, reason)
}
