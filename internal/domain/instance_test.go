package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to InstanceStatus
		want     bool
	}{
		{InstanceActive, InstancePaused, true},
		{InstanceActive, InstanceCancelled, true},
		{InstanceActive, InstanceActive, false},
		{InstanceActive, InstanceCompleted, false},
		{InstancePaused, InstanceActive, true},
		{InstancePaused, InstanceCancelled, true},
		{InstancePaused, InstancePaused, false},
		{InstanceCompleted, InstanceActive, false},
		{InstanceCompleted, InstanceCancelled, false},
		{InstanceCancelled, InstanceActive, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			i := &Instance{Status: tt.from}
			assert.Equal(t, tt.want, i.CanTransitionTo(tt.to))
		})
	}
}

func TestInstanceIsCurrent(t *testing.T) {
	step := uuid.New()
	i := NewInstance(uuid.New(), "alice", step, nil)
	assert.True(t, i.IsCurrent(step))
	assert.False(t, i.IsCurrent(uuid.New()))

	i.CurrentStepID = nil
	assert.False(t, i.IsCurrent(step))
}

func TestAdvanceErrorMatchesKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("complete: %w", &AdvanceError{
		InstanceID: uuid.New(),
		Kind:       ErrPartialAdvancement,
		Cause:      cause,
	})

	assert.ErrorIs(t, err, ErrPartialAdvancement)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAdvancementFailed)

	var aerr *AdvanceError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Error(), "connection reset")
}

func TestNotFoundErrorsShareSentinel(t *testing.T) {
	for _, err := range []error{ErrWorkflowNotFound, ErrStepNotFound, ErrInstanceNotFound, ErrAssignmentNotFound, ErrDefinitionNotFound} {
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.True(t, IsBenign(fmt.Errorf("x: %w", ErrStepMismatch)))
	assert.True(t, IsBenign(ErrNotActive))
	assert.False(t, IsBenign(ErrInvalidTransition))
}

func TestParseJob(t *testing.T) {
	kind, arg, err := ParseJob(NewJob(JobReconcile, "alice"))
	require.NoError(t, err)
	assert.Equal(t, JobReconcile, kind)
	assert.Equal(t, "alice", arg)

	id := uuid.New()
	kind, arg, err = ParseJob(NewJob(JobRepair, id.String()))
	require.NoError(t, err)
	assert.Equal(t, JobRepair, kind)
	assert.Equal(t, id.String(), arg)

	for _, bad := range []string{"", "reconcile", "reconcile:", ":alice"} {
		_, _, err := ParseJob(bad)
		assert.Error(t, err, bad)
	}
}
