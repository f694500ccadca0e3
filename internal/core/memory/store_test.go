package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store) (*domain.Workflow, []domain.Step) {
	t.Helper()
	wf := domain.NewWorkflow("wf", "")
	steps := []domain.Step{
		domain.NewStep(wf.ID, 20, "second", domain.StepKindTask),
		domain.NewStep(wf.ID, 10, "first", domain.StepKindTask),
	}
	require.NoError(t, s.Definitions().SaveWorkflow(context.Background(), wf, steps))
	return wf, steps
}

func TestDefinitionsOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, _ := seed(t, s)

	first, err := s.Definitions().GetFirstStep(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Name)

	next, err := s.Definitions().GetNextStep(ctx, wf.ID, first.Order)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Name)

	_, err = s.Definitions().GetNextStep(ctx, wf.ID, next.Order)
	assert.ErrorIs(t, err, domain.ErrStepNotFound)

	_, err = s.Definitions().GetFirstStep(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrStepNotFound)
}

func TestSaveWorkflowReplacesSteps(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, _ := seed(t, s)

	replacement := []domain.Step{domain.NewStep(wf.ID, 1, "only", domain.StepKindTask)}
	require.NoError(t, s.Definitions().SaveWorkflow(ctx, wf, replacement))

	steps, err := s.Definitions().GetStepsOrdered(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "only", steps[0].Name)
}

func TestCompareAndSwapPointer(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, steps := seed(t, s)
	first, second := steps[1].ID, steps[0].ID

	instance := domain.NewInstance(wf.ID, "alice", first, nil)
	require.NoError(t, s.Instances().Create(ctx, instance))

	require.NoError(t, s.Instances().CompareAndSwapPointer(ctx, instance.ID, 1, &first, &second, domain.InstanceActive))

	// Same expectation again: version and pointer have moved.
	err := s.Instances().CompareAndSwapPointer(ctx, instance.ID, 1, &first, &second, domain.InstanceActive)
	assert.ErrorIs(t, err, domain.ErrStepMismatch)

	require.NoError(t, s.Instances().CompareAndSwapPointer(ctx, instance.ID, 2, &second, nil, domain.InstanceCompleted))

	got, err := s.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentStepID)
	assert.Equal(t, domain.InstanceCompleted, got.Status)
	assert.Equal(t, 3, got.Version)
	assert.NotNil(t, got.CompletedAt)

	// Completed instances never advance.
	err = s.Instances().CompareAndSwapPointer(ctx, instance.ID, 3, nil, &first, domain.InstanceActive)
	assert.ErrorIs(t, err, domain.ErrStepMismatch)
}

func TestCompletedAssignmentIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := domain.NewAssignment(uuid.New(), uuid.New(), "alice", "system")
	require.NoError(t, s.Assignments().Insert(ctx, a))

	now := time.Now()
	require.NoError(t, s.Assignments().UpdateStatus(ctx, a.ID, domain.AssignmentCompleted, nil, &now))

	err := s.Assignments().UpdateStatus(ctx, a.ID, domain.AssignmentPending, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	err = s.Assignments().Reassign(ctx, a.ID, "bob", "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Assignments().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentCompleted, got.Status)
	assert.Equal(t, "alice", got.AssignedTo)
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, steps := seed(t, s)
	instance := domain.NewInstance(wf.ID, "alice", steps[1].ID, nil)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx ports.Store) error {
		require.NoError(t, tx.Instances().Create(ctx, instance))
		// Visible inside the transaction.
		_, err := tx.Instances().GetByID(ctx, instance.ID)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Instances().GetByID(ctx, instance.ID)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := domain.NewAssignment(uuid.New(), uuid.New(), "alice", "system")

	require.NoError(t, s.WithinTx(ctx, func(tx ports.Store) error {
		return tx.WithinTx(ctx, func(inner ports.Store) error {
			return inner.Assignments().Insert(ctx, a)
		})
	}))

	_, err := s.Assignments().GetByID(ctx, a.ID)
	assert.NoError(t, err)
}

func TestWithoutTransactionsKeepsPartialWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithoutTransactions())
	a := domain.NewAssignment(uuid.New(), uuid.New(), "alice", "system")

	err := s.WithinTx(ctx, func(tx ports.Store) error {
		require.NoError(t, tx.Assignments().Insert(ctx, a))
		return errors.New("crash")
	})
	require.Error(t, err)

	_, err = s.Assignments().GetByID(ctx, a.ID)
	assert.NoError(t, err)
}

func TestListForUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, steps := seed(t, s)

	older := domain.NewAssignment(uuid.New(), steps[1].ID, "alice", "system")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := domain.NewAssignment(uuid.New(), steps[0].ID, "alice", "system")
	other := domain.NewAssignment(uuid.New(), steps[0].ID, "bob", "system")
	for _, a := range []*domain.Assignment{older, newer, other} {
		require.NoError(t, s.Assignments().Insert(ctx, a))
	}

	views, err := s.Assignments().ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, newer.ID, views[0].ID)
	assert.Equal(t, older.ID, views[1].ID)
	assert.Equal(t, "second", views[0].StepName)
	assert.Equal(t, wf.ID, views[0].WorkflowID)
	assert.Equal(t, "wf", views[0].WorkflowName)
}

func TestQueue(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, "reconcile:alice"))
	assert.Equal(t, 1, q.Len())

	job, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reconcile:alice", job)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Pop(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventBusDeliversCompletionRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewEventBus()

	requests, err := bus.SubscribeToCompletionRequests(ctx)
	require.NoError(t, err)

	id := uuid.New()
	go func() {
		_ = bus.RequestCompletion(ctx, domain.CompletionRequest{AssignmentID: id, Actor: "webhook"})
	}()

	select {
	case req := <-requests:
		assert.Equal(t, id, req.AssignmentID)
	case <-time.After(time.Second):
		t.Fatal("completion request not delivered")
	}

	require.NoError(t, bus.Publish(ctx, domain.Event{Type: domain.EventStepCompleted}))
	assert.Len(t, bus.EventsOfType(domain.EventStepCompleted), 1)
}

func TestEventBusRetention(t *testing.T) {
	ctx := context.Background()

	bounded := NewEventBus(WithRetention(3))
	var last uuid.UUID
	for i := 0; i < 10; i++ {
		last = uuid.New()
		require.NoError(t, bounded.Publish(ctx, domain.Event{Type: domain.EventStepAssigned, InstanceID: last}))
	}
	events := bounded.Events()
	require.Len(t, events, 3)
	assert.Equal(t, last, events[2].InstanceID, "newest kept last")

	none := NewEventBus(WithRetention(0))
	require.NoError(t, none.Publish(ctx, domain.Event{Type: domain.EventStepAssigned}))
	assert.Empty(t, none.Events())

	all := NewEventBus()
	for i := 0; i < 10; i++ {
		require.NoError(t, all.Publish(ctx, domain.Event{Type: domain.EventStepAssigned}))
	}
	assert.Len(t, all.Events(), 10)
}

func TestCountOpenForWorkflow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wf, steps := seed(t, s)

	statuses := []domain.InstanceStatus{domain.InstanceActive, domain.InstancePaused, domain.InstanceCompleted, domain.InstanceCancelled}
	for _, status := range statuses {
		i := domain.NewInstance(wf.ID, "admin", steps[0].ID, nil)
		i.Status = status
		require.NoError(t, s.Instances().Create(ctx, i))
	}

	n, err := s.Instances().CountOpenForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Instances().CountOpenForWorkflow(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, n)
}
