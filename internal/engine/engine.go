// Package engine moves workflow instances from one step to the next.
//
// An advancement completes the live assignment of the current step, swaps the
// instance pointer to the next step (or completes the instance) and creates
// the next assignment, all inside one store transaction. The pointer swap is a
// compare-and-swap on the instance version, so of two racing completions of
// the same step exactly one wins and the other gets domain.ErrStepMismatch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/ledger"
	"go-flowdesk/internal/metrics"
	"go-flowdesk/internal/tracker"

	"github.com/google/uuid"
)

const systemActor = "system"

// Request identifies the step being completed. AssignmentID is optional;
// without it the oldest open assignment of the step is completed.
type Request struct {
	InstanceID   uuid.UUID
	StepID       uuid.UUID
	AssignmentID uuid.UUID
	Actor        string
	Notes        *string
}

type Result struct {
	Instance  *domain.Instance
	Completed *domain.Assignment
	NextStep  *domain.Step
	Next      *domain.Assignment
	// Finished is true when the completed step was the last one.
	Finished bool
	// Unassigned is true when the next step had no assignee and needs an
	// administrator to pick one.
	Unassigned bool
}

type Engine struct {
	store   ports.Store
	defs    *definition.Store
	tracker *tracker.Tracker
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(store ports.Store, defs *definition.Store, t *tracker.Tracker, l *ledger.Ledger, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		defs:    defs,
		tracker: t,
		ledger:  l,
		metrics: m,
		logger:  logger.With("component", "engine"),
	}
}

// Advance applies one completion. Benign outcomes (ErrStepMismatch,
// ErrNotActive) leave every row untouched.
func (e *Engine) Advance(ctx context.Context, req Request) (*Result, error) {
	log := e.logger.With("instance_id", req.InstanceID, "step_id", req.StepID)

	// Finish any half-applied earlier transition before judging this one.
	if _, err := e.Repair(ctx, req.InstanceID); err != nil {
		return nil, err
	}

	instance, err := e.tracker.Get(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if !instance.IsActive() {
		e.metrics.Advancement(metrics.OutcomeNotActive)
		log.Info("ignoring completion for inactive instance", "status", instance.Status)
		return nil, fmt.Errorf("instance %s is %s: %w", instance.ID, instance.Status, domain.ErrNotActive)
	}
	if !instance.IsCurrent(req.StepID) {
		e.metrics.Advancement(metrics.OutcomeMismatch)
		log.Info("ignoring stale completion", "current_step_id", instance.CurrentStepID)
		return nil, fmt.Errorf("instance %s: %w", instance.ID, domain.ErrStepMismatch)
	}

	var result *Result
	err = e.store.WithinTx(ctx, func(tx ports.Store) error {
		r, err := e.transition(ctx, tx, instance, req)
		result = r
		return err
	})
	if err != nil {
		repaired, ferr := e.handleFailure(ctx, req, err)
		if !repaired {
			return nil, ferr
		}
		// The repair finished the half-applied transition for us.
		if result, err = e.resultAfterRepair(ctx, req); err != nil {
			return nil, err
		}
	}

	if result.Instance, err = e.tracker.Get(ctx, instance.ID); err != nil {
		return nil, err
	}

	if result.Finished {
		e.metrics.Advancement(metrics.OutcomeCompleted)
		log.Info("instance completed", "actor", req.Actor)
	} else {
		e.metrics.Advancement(metrics.OutcomeAdvanced)
		log.Info("instance advanced", "next_step_id", result.NextStep.ID)
	}
	if result.Unassigned {
		e.metrics.UnassignedStep()
		log.Warn("next step has no assignee, needs administrator", "next_step_id", result.NextStep.ID, "assignment_id", result.Next.ID)
	}
	return result, nil
}

func (e *Engine) transition(ctx context.Context, tx ports.Store, instance *domain.Instance, req Request) (*Result, error) {
	current, err := tx.Instances().GetByID(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != instance.Version {
		return nil, fmt.Errorf("instance %s moved to version %d: %w", instance.ID, current.Version, domain.ErrStepMismatch)
	}

	step, err := e.defs.With(tx).GetStep(ctx, req.StepID)
	if err != nil {
		return nil, err
	}

	completed, err := e.completeLive(ctx, e.ledger.With(tx), instance.ID, step.ID, req)
	if err != nil {
		return nil, err
	}

	next, nextAssignment, err := e.advanceFrom(ctx, tx, instance, step, actorOrSystem(req.Actor))
	if err != nil {
		return nil, err
	}

	return &Result{
		Completed:  completed,
		NextStep:   next,
		Next:       nextAssignment,
		Finished:   next == nil,
		Unassigned: nextAssignment != nil && nextAssignment.IsUnassigned(),
	}, nil
}

// completeLive completes the requested (or oldest) open assignment of the
// step and marks any other open duplicates skipped.
func (e *Engine) completeLive(ctx context.Context, l *ledger.Ledger, instanceID, stepID uuid.UUID, req Request) (*domain.Assignment, error) {
	live, err := l.LiveForStep(ctx, instanceID, stepID)
	if err != nil {
		return nil, err
	}

	target := -1
	for i := range live {
		if req.AssignmentID == uuid.Nil || live[i].ID == req.AssignmentID {
			target = i
			break
		}
	}
	if target < 0 {
		if req.AssignmentID == uuid.Nil {
			return nil, fmt.Errorf("no open assignment for step %s of instance %s: %w", stepID, instanceID, domain.ErrAssignmentNotFound)
		}
		return nil, e.explainMissing(ctx, l, instanceID, stepID, req.AssignmentID)
	}

	id := live[target].ID
	if err := l.UpdateStatus(ctx, id, domain.AssignmentCompleted, req.Notes); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Completed by a concurrent winner between our read and write.
			return nil, fmt.Errorf("assignment %s: %w", id, domain.ErrStepMismatch)
		}
		return nil, err
	}

	for i := range live {
		if i == target {
			continue
		}
		if err := l.UpdateStatus(ctx, live[i].ID, domain.AssignmentSkipped, nil); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
	}

	return l.Get(ctx, id)
}

func (e *Engine) explainMissing(ctx context.Context, l *ledger.Ledger, instanceID, stepID, assignmentID uuid.UUID) error {
	a, err := l.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.InstanceID != instanceID || a.StepID != stepID {
		return &domain.ValidationError{
			Field:   "assignment_id",
			Message: fmt.Sprintf("assignment %s does not belong to step %s of instance %s", assignmentID, stepID, instanceID),
		}
	}
	if a.IsCompleted() {
		return fmt.Errorf("assignment %s already completed: %w", assignmentID, domain.ErrStepMismatch)
	}
	return fmt.Errorf("assignment %s is %s: %w", assignmentID, a.Status, domain.ErrInvalidTransition)
}

// advanceFrom swaps the pointer past step and, when a next step exists,
// creates its pending assignment.
func (e *Engine) advanceFrom(ctx context.Context, tx ports.Store, instance *domain.Instance, step *domain.Step, actor string) (*domain.Step, *domain.Assignment, error) {
	next, err := e.defs.With(tx).GetNextStep(ctx, instance.WorkflowID, step.Order)
	if err != nil {
		return nil, nil, err
	}

	t := e.tracker.With(tx)
	if next == nil {
		if err := t.AdvanceCurrentStep(ctx, instance, nil, domain.InstanceCompleted); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	nextID := next.ID
	if err := t.AdvanceCurrentStep(ctx, instance, &nextID, domain.InstanceActive); err != nil {
		return nil, nil, err
	}
	a, err := e.ledger.With(tx).CreateAssignment(ctx, instance.ID, next.ID, next.AssigneeOrEmpty(), actor, nil)
	if err != nil {
		return nil, nil, err
	}
	return next, a, nil
}

// handleFailure classifies a failed transition. Domain errors pass through;
// storage faults trigger a repair attempt so a half-applied transition on a
// non-atomic backend is either finished or flagged. It reports true when the
// repair completed the transition.
func (e *Engine) handleFailure(ctx context.Context, req Request, err error) (bool, error) {
	if domain.IsBenign(err) {
		e.metrics.Advancement(metrics.OutcomeMismatch)
		e.logger.Info("lost advancement race", "instance_id", req.InstanceID, "step_id", req.StepID)
		return false, err
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
		return false, err
	}

	e.metrics.Advancement(metrics.OutcomeFailed)
	e.logger.Error("advancement failed", "instance_id", req.InstanceID, "step_id", req.StepID, "error", err)

	report, rerr := e.Repair(ctx, req.InstanceID)
	if rerr != nil {
		e.metrics.Advancement(metrics.OutcomePartial)
		return false, rerr
	}
	if report.Repaired && report.Problem != tracker.ProblemNone {
		return true, nil
	}
	return false, &domain.AdvanceError{
		InstanceID: req.InstanceID,
		StepID:     req.StepID,
		Kind:       domain.ErrAdvancementFailed,
		Cause:      err,
	}
}

// resultAfterRepair rebuilds the Result of a transition the repair finished.
func (e *Engine) resultAfterRepair(ctx context.Context, req Request) (*Result, error) {
	instance, err := e.tracker.Get(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	result := &Result{Finished: instance.Status == domain.InstanceCompleted}

	if req.AssignmentID != uuid.Nil {
		if result.Completed, err = e.ledger.Get(ctx, req.AssignmentID); err != nil {
			return nil, err
		}
	}
	if instance.CurrentStepID == nil {
		return result, nil
	}

	if result.NextStep, err = e.defs.GetStep(ctx, *instance.CurrentStepID); err != nil {
		return nil, err
	}
	live, err := e.ledger.LiveForStep(ctx, instance.ID, *instance.CurrentStepID)
	if err != nil {
		return nil, err
	}
	if len(live) > 0 {
		result.Next = &live[0]
		result.Unassigned = result.Next.IsUnassigned()
	}
	return result, nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return systemActor
	}
	return actor
}
