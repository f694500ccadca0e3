package ports

import (
	"context"
	"time"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

// DefinitionRepository stores workflow templates, records and their steps.
type DefinitionRepository interface {
	SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)

	// Create or replace a workflow record together with its steps
	SaveWorkflow(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)

	GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error)
	GetStepsOrdered(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error)

	// Step with the smallest order. ErrStepNotFound when the workflow has none.
	GetFirstStep(ctx context.Context, workflowID uuid.UUID) (*domain.Step, error)

	// Step with the smallest order strictly greater than currentOrder.
	// ErrStepNotFound when currentOrder is the last one.
	GetNextStep(ctx context.Context, workflowID uuid.UUID, currentOrder int) (*domain.Step, error)
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Create(ctx context.Context, instance *domain.Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Instance, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Instance, error)

	// Newest active instance of a workflow, ErrInstanceNotFound if none
	GetActiveForWorkflow(ctx context.Context, workflowID uuid.UUID) (*domain.Instance, error)

	// Instances of the workflow that are active or paused
	CountOpenForWorkflow(ctx context.Context, workflowID uuid.UUID) (int64, error)

	// The advancement CAS:
	// "SET current_step_id=?, status=?, version=version+1 WHERE id=? AND version=? AND current_step_id=?"
	// Returns ErrStepMismatch when nothing matched.
	CompareAndSwapPointer(ctx context.Context, id uuid.UUID, expectedVersion int, expectedStepID, nextStepID *uuid.UUID, status domain.InstanceStatus) error

	// Version-checked status change for cancel/pause/resume.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status domain.InstanceStatus) error

	SetInconsistent(ctx context.Context, id uuid.UUID, inconsistent bool, reason string) error
}

// AssignmentRepository stores step assignments.
type AssignmentRepository interface {
	Insert(ctx context.Context, assignment *domain.Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)

	// Status update that never touches completed rows.
	// Returns ErrInvalidTransition when the row is already completed.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AssignmentStatus, notes *string, completedAt *time.Time) error

	Reassign(ctx context.Context, id uuid.UUID, assignedTo, assignedBy string) error

	// Joined with step and workflow, newest first
	ListForUser(ctx context.Context, userID string) ([]domain.AssignmentView, error)
	ListForInstanceStep(ctx context.Context, instanceID, stepID uuid.UUID) ([]domain.Assignment, error)
	ListUnassigned(ctx context.Context) ([]domain.AssignmentView, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

// ReconciliationRepository is the audit trail of reconciled orphans.
type ReconciliationRepository interface {
	Record(ctx context.Context, rec *domain.AssignmentReconciliation) error
	ListForViewer(ctx context.Context, viewer string) ([]domain.AssignmentReconciliation, error)
}

// Store groups the repositories behind one transactional boundary.
type Store interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Assignments() AssignmentRepository
	Reconciliations() ReconciliationRepository

	// Run fn atomically. Repositories obtained from tx take part in the
	// transaction; an error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// JobQueue carries background jobs ("reconcile:<user>", "repair:<instance>").
type JobQueue interface {
	// Push a job to the end of the list
	Push(ctx context.Context, job string) error

	// Wait (Block) until a job is available
	Pop(ctx context.Context) (string, error)
}

// EventBus represents the event bus operations
type EventBus interface {
	// Publish a committed state change
	Publish(ctx context.Context, event domain.Event) error

	// Publish an external request to complete an assignment
	RequestCompletion(ctx context.Context, req domain.CompletionRequest) error

	// Subscribe to completion requests (Used by Coordinator)
	SubscribeToCompletionRequests(ctx context.Context) (<-chan domain.CompletionRequest, error)
}
