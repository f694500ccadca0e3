package service_test

import (
	"context"
	"testing"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/service"
	"go-flowdesk/internal/testsupport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndCompleteToTheEnd(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, steps := testsupport.SeedWorkflow(t, env.Definitions, "alice", "bob")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)

	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, steps[0].ID, mine[0].StepID)

	outcome, err := env.Service.CompleteStep(ctx, mine[0].ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAdvanced, outcome.Status)
	require.NotNil(t, outcome.Next)
	assert.Equal(t, "bob", outcome.Next.AssignedTo)
	assert.Equal(t, steps[1].ID, outcome.NextStep.ID)

	outcome, err = env.Service.CompleteStep(ctx, outcome.Next.ID, "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCompleted, outcome.Status)
	assert.Equal(t, domain.InstanceCompleted, outcome.Instance.Status)
	assert.Nil(t, outcome.Instance.CurrentStepID)

	instance, err := env.Service.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceCompleted, instance.Status)

	assert.Len(t, env.Bus.EventsOfType(domain.EventInstanceStarted), 1)
	assert.Len(t, env.Bus.EventsOfType(domain.EventStepCompleted), 2)
	assert.Len(t, env.Bus.EventsOfType(domain.EventStepAssigned), 2)
	completed := env.Bus.EventsOfType(domain.EventInstanceCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, instanceID, completed[0].InstanceID)
	assert.False(t, completed[0].OccurredAt.IsZero())
}

func TestCompleteTwiceIsANoop(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice", "bob")

	_, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = env.Service.CompleteStep(ctx, mine[0].ID, "alice", nil)
	require.NoError(t, err)

	outcome, err := env.Service.CompleteStep(ctx, mine[0].ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNoop, outcome.Status)
	assert.ErrorIs(t, outcome.Warning, domain.ErrStepMismatch)
	assert.Len(t, env.Bus.EventsOfType(domain.EventStepCompleted), 1)
}

func TestCompleteUnknownAssignment(t *testing.T) {
	env := testsupport.NewEnv(t)
	_, err := env.Service.CompleteStep(context.Background(), uuid.New(), "alice", nil)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
}

func TestCompleteOnCancelledInstanceIsANoop(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	pending, err := env.Ledger.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = env.Service.CancelInstance(ctx, instanceID)
	require.NoError(t, err)

	outcome, err := env.Service.CompleteStep(ctx, pending[0].ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNoop, outcome.Status)
	assert.ErrorIs(t, outcome.Warning, domain.ErrNotActive)
}

func TestCancelledWorkDisappearsFromSyncListing(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	pending, err := env.Ledger.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = env.Service.CancelInstance(ctx, instanceID)
	require.NoError(t, err)

	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = env.Ledger.Get(ctx, pending[0].ID)
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
	assert.Zero(t, env.Queue.Len())
}

func TestAsyncListingEnqueuesReconciliation(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t, testsupport.WithReconcileMode(service.ReconcileAsync))
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	_, err = env.Service.CancelInstance(ctx, instanceID)
	require.NoError(t, err)

	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, mine, "orphans are hidden even before the job runs")

	job, err := env.Queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reconcile:alice", job)

	// The row is still there until a worker runs the job.
	rows, err := env.Ledger.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUnassignedStepCanBeAssigned(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice", "")

	_, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	outcome, err := env.Service.CompleteStep(ctx, mine[0].ID, "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Next)
	assert.True(t, outcome.Next.IsUnassigned())
	assert.Len(t, env.Bus.EventsOfType(domain.EventStepUnassigned), 1)

	queue, err := env.Service.ListUnassigned(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, outcome.Next.ID, queue[0].ID)

	require.NoError(t, env.Service.AssignStep(ctx, outcome.Next.ID, "carol", "admin"))

	queue, err = env.Service.ListUnassigned(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	carol, err := env.Service.ListMyAssignments(ctx, "carol", 0)
	require.NoError(t, err)
	require.Len(t, carol, 1)
	assert.Equal(t, outcome.Next.ID, carol[0].ID)

	assigned := env.Bus.EventsOfType(domain.EventStepAssigned)
	require.NotEmpty(t, assigned)
	assert.Equal(t, "carol", assigned[len(assigned)-1].AssignedTo)
}

func TestGetInstanceRepairsHalfAppliedAdvance(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, steps := testsupport.SeedWorkflow(t, env.Definitions, "alice", "bob")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	first, err := env.Ledger.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Simulate a crash after the completion was written but before the
	// pointer moved.
	require.NoError(t, env.Ledger.UpdateStatus(ctx, first[0].ID, domain.AssignmentCompleted, nil))

	instance, err := env.Service.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	require.NotNil(t, instance.CurrentStepID)
	assert.Equal(t, steps[1].ID, *instance.CurrentStepID)
	assert.False(t, instance.Inconsistent)

	bob, err := env.Service.ListMyAssignments(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, bob, 1)
	assert.Len(t, env.Bus.EventsOfType(domain.EventInstanceRepaired), 1)
}

func TestGetActiveInstance(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	_, err := env.Service.GetActiveInstance(ctx, wf.ID)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	id, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	active, err := env.Service.GetActiveInstance(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, id, active.ID)
}

func TestPauseHidesWorkUntilResume(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	id, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)

	_, err = env.Service.PauseInstance(ctx, id)
	require.NoError(t, err)
	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = env.Service.ResumeInstance(ctx, id)
	require.NoError(t, err)
	mine, err = env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = env.Service.ResumeInstance(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestInstantiateDefinition(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)

	alice := "alice"
	def := definition.NewDefinition("expense", "", true, []domain.StepTemplate{
		{Order: 1, Name: "submit", Kind: domain.StepKindTask, Assignee: &alice},
	})
	require.NoError(t, env.Service.SaveDefinition(ctx, def))

	wf, err := env.Service.InstantiateDefinition(ctx, def.ID, "expense march")
	require.NoError(t, err)

	_, err = env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)
	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "submit", mine[0].StepName)
}

func TestPublishFailureDoesNotFailTheCall(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	svc := service.NewWorkflowService(service.Dependencies{
		Definitions: env.Definitions,
		Tracker:     env.Tracker,
		Ledger:      env.Ledger,
		Engine:      env.Engine,
		Filter:      env.Filter,
		Reconciler:  env.Reconciler,
		Bus:         brokenBus{},
		Logger:      testsupport.DiscardLogger(),
	})
	_, err := svc.StartWorkflow(ctx, wf.ID, "admin", nil)
	assert.NoError(t, err)
}

type brokenBus struct{ ports.EventBus }

func (brokenBus) Publish(context.Context, domain.Event) error {
	return assert.AnError
}

func TestResavingRunningWorkflowKeepsInstanceCompletable(t *testing.T) {
	ctx := context.Background()
	env := testsupport.NewEnv(t)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice", "bob")

	instanceID, err := env.Service.StartWorkflow(ctx, wf.ID, "admin", nil)
	require.NoError(t, err)

	fresh := []domain.Step{
		domain.NewStep(wf.ID, 1, "new first", domain.StepKindTask),
		domain.NewStep(wf.ID, 2, "new second", domain.StepKindTask),
	}
	err = env.Service.SaveWorkflow(ctx, wf, fresh)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	mine, err := env.Service.ListMyAssignments(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	outcome, err := env.Service.CompleteStep(ctx, mine[0].ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAdvanced, outcome.Status)

	instance, err := env.Service.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.False(t, instance.Inconsistent)
}
