package tracker

import (
	"context"
	"errors"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

// Problem names a detectable half-applied state.
type Problem string

const (
	ProblemNone Problem = ""
	// The current step's assignment is completed but the pointer never moved.
	ProblemStalePointer Problem = "stale_pointer"
	// The pointer moved (or the instance started) but no assignment was written.
	ProblemMissingAssignment Problem = "missing_assignment"
	// The pointer is null on an active instance or names a foreign/unknown step.
	ProblemInvalidPointer Problem = "invalid_pointer"
)

type Inspection struct {
	Instance *domain.Instance
	Step     *domain.Step
	Problem  Problem
}

// Inspect checks an active instance against its assignments. Instances in
// any other status are reported as ProblemNone.
func (t *Tracker) Inspect(ctx context.Context, id uuid.UUID) (*Inspection, error) {
	instance, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &Inspection{Instance: instance}
	if !instance.IsActive() {
		return report, nil
	}
	if instance.CurrentStepID == nil {
		report.Problem = ProblemInvalidPointer
		return report, nil
	}

	step, err := t.defs.GetStep(ctx, *instance.CurrentStepID)
	if errors.Is(err, domain.ErrStepNotFound) {
		report.Problem = ProblemInvalidPointer
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	report.Step = step
	if step.WorkflowID != instance.WorkflowID {
		report.Problem = ProblemInvalidPointer
		return report, nil
	}

	all, err := t.store.Assignments().ListForInstanceStep(ctx, instance.ID, step.ID)
	if err != nil {
		return nil, err
	}

	var open, completed int
	for _, a := range all {
		switch {
		case a.IsOpen():
			open++
		case a.IsCompleted():
			completed++
		}
	}
	switch {
	case open > 0:
		report.Problem = ProblemNone
	case completed > 0:
		report.Problem = ProblemStalePointer
	default:
		report.Problem = ProblemMissingAssignment
	}
	return report, nil
}
