package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Standard errors shared by the orchestration packages.
var (
	ErrNotFound           = errors.New("not found")
	ErrWorkflowNotFound   = fmt.Errorf("workflow %w", ErrNotFound)
	ErrStepNotFound       = fmt.Errorf("step %w", ErrNotFound)
	ErrInstanceNotFound   = fmt.Errorf("instance %w", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("assignment %w", ErrNotFound)
	ErrDefinitionNotFound = fmt.Errorf("workflow definition %w", ErrNotFound)

	ErrNoStepsDefined    = errors.New("workflow has no steps defined")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotActive and ErrStepMismatch are benign: they come from duplicate
	// or stale completion signals and never change state.
	ErrNotActive    = errors.New("instance is not active")
	ErrStepMismatch = errors.New("completed step is not the instance's current step")

	// ErrAdvancementFailed wraps storage faults during a transition. The
	// transition did not apply and may be retried.
	ErrAdvancementFailed = errors.New("advancement failed")

	// ErrPartialAdvancement means a half-applied transition could not be
	// repaired; the instance has been flagged inconsistent.
	ErrPartialAdvancement = errors.New("partial advancement could not be repaired")
)

// ValidationError reports a rejected definition or request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsBenign reports whether err is a duplicate/stale completion artifact that
// should surface as a no-op rather than a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrStepMismatch) || errors.Is(err, ErrNotActive)
}

// AdvanceError carries instance context for advancement failures.
type AdvanceError struct {
	InstanceID uuid.UUID
	StepID     uuid.UUID
	// Kind is one of ErrAdvancementFailed or ErrPartialAdvancement.
	Kind  error
	Cause error
}

func (e *AdvanceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (instance %s, step %s): %v", e.Kind, e.InstanceID, e.StepID, e.Cause)
	}
	return fmt.Sprintf("%v (instance %s, step %s)", e.Kind, e.InstanceID, e.StepID)
}

// Is matches the error kind so callers can use errors.Is(err, ErrPartialAdvancement).
func (e *AdvanceError) Is(target error) bool {
	return target == e.Kind
}

func (e *AdvanceError) Unwrap() error {
	return e.Cause
}
