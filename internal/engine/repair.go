package engine

import (
	"context"
	"errors"
	"fmt"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/tracker"

	"github.com/google/uuid"
)

const repairActor = "system:repair"

type RepairReport struct {
	InstanceID uuid.UUID
	Problem    tracker.Problem
	// Repaired is true when this call fixed the problem.
	Repaired bool
	// Cleared is true when a stale inconsistency flag was removed.
	Cleared bool
}

// Repair detects a half-applied transition on the instance and finishes it.
// When the fix itself fails the instance is flagged inconsistent and an
// error matching domain.ErrPartialAdvancement is returned. Safe to call
// repeatedly and concurrently.
func (e *Engine) Repair(ctx context.Context, instanceID uuid.UUID) (*RepairReport, error) {
	inspection, err := e.tracker.Inspect(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	instance := inspection.Instance
	report := &RepairReport{InstanceID: instanceID, Problem: inspection.Problem}

	if inspection.Problem == tracker.ProblemNone {
		if instance.Inconsistent {
			if err := e.tracker.SetInconsistent(ctx, instanceID, false, ""); err != nil {
				return nil, err
			}
			report.Cleared = true
		}
		return report, nil
	}

	log := e.logger.With("instance_id", instanceID, "problem", inspection.Problem)
	log.Warn("repairing half-applied advancement")

	var fixErr error
	switch inspection.Problem {
	case tracker.ProblemStalePointer:
		fixErr = e.store.WithinTx(ctx, func(tx ports.Store) error {
			_, _, err := e.advanceFrom(ctx, tx, instance, inspection.Step, repairActor)
			return err
		})
	case tracker.ProblemMissingAssignment:
		fixErr = e.store.WithinTx(ctx, func(tx ports.Store) error {
			// Bumping the version serializes concurrent repairs: only one
			// of them gets to write the assignment.
			if err := tx.Instances().UpdateStatus(ctx, instance.ID, instance.Version, domain.InstanceActive); err != nil {
				return err
			}
			_, err := e.ledger.With(tx).CreateAssignment(ctx, instance.ID, inspection.Step.ID, inspection.Step.AssigneeOrEmpty(), repairActor, nil)
			return err
		})
	default:
		fixErr = fmt.Errorf("current step pointer %v is not a step of workflow %s", instance.CurrentStepID, instance.WorkflowID)
	}

	if errors.Is(fixErr, domain.ErrStepMismatch) || errors.Is(fixErr, domain.ErrInvalidTransition) {
		// Someone else moved the instance while we looked; their write wins.
		log.Info("instance changed during repair, leaving it to the winner")
		return report, nil
	}
	if fixErr != nil {
		e.metrics.Repair(string(inspection.Problem), "failed")
		reason := fmt.Sprintf("%s: %v", inspection.Problem, fixErr)
		if err := e.tracker.SetInconsistent(ctx, instanceID, true, reason); err != nil {
			log.Error("failed to flag instance inconsistent", "error", err)
		}
		log.Error("repair failed, instance flagged inconsistent", "error", fixErr)

		var stepID uuid.UUID
		if instance.CurrentStepID != nil {
			stepID = *instance.CurrentStepID
		}
		return report, &domain.AdvanceError{
			InstanceID: instanceID,
			StepID:     stepID,
			Kind:       domain.ErrPartialAdvancement,
			Cause:      fixErr,
		}
	}

	if instance.Inconsistent {
		if err := e.tracker.SetInconsistent(ctx, instanceID, false, ""); err != nil {
			log.Error("failed to clear inconsistency flag", "error", err)
		}
	}
	e.metrics.Repair(string(inspection.Problem), "repaired")
	log.Info("instance repaired")
	report.Repaired = true
	return report, nil
}
