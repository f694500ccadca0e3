package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/engine"
	"go-flowdesk/internal/ledger"
	"go-flowdesk/internal/tracker"
	"go-flowdesk/internal/visibility"

	"github.com/google/uuid"
)

type ReconcileMode string

const (
	ReconcileSync  ReconcileMode = "sync"
	ReconcileAsync ReconcileMode = "async"
)

const (
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeNoop      = "noop"
)

// Outcome of a completion. A noop carries the benign reason in Warning.
type Outcome struct {
	Status   string
	Warning  error
	Instance *domain.Instance
	Next     *domain.Assignment
	NextStep *domain.Step
}

type WorkflowService interface {
	StartWorkflow(ctx context.Context, workflowID uuid.UUID, startedBy string, startData map[string]any) (uuid.UUID, error)
	CompleteStep(ctx context.Context, assignmentID uuid.UUID, actor string, notes *string) (*Outcome, error)
	ListMyAssignments(ctx context.Context, userID string, limit int) ([]domain.AssignmentView, error)

	GetInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error)
	GetActiveInstance(ctx context.Context, workflowID uuid.UUID) (*domain.Instance, error)
	CancelInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error)
	PauseInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error)
	ResumeInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error)
	RepairInstance(ctx context.Context, id uuid.UUID) (*engine.RepairReport, error)

	SaveWorkflow(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error
	SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error
	InstantiateDefinition(ctx context.Context, definitionID uuid.UUID, name string) (*domain.Workflow, error)

	ListUnassigned(ctx context.Context) ([]domain.AssignmentView, error)
	AssignStep(ctx context.Context, assignmentID uuid.UUID, userID, by string) error
}

// Dependencies wires the service. Bus and Queue may be nil; events are then
// dropped and async reconciliation falls back to sync.
type Dependencies struct {
	Definitions *definition.Store
	Tracker     *tracker.Tracker
	Ledger      *ledger.Ledger
	Engine      *engine.Engine
	Filter      *visibility.Filter
	Reconciler  *visibility.Reconciler
	Bus         ports.EventBus
	Queue       ports.JobQueue
	Mode        ReconcileMode
	Logger      *slog.Logger
}

// The Implementation
type workflowService struct {
	defs       *definition.Store
	tracker    *tracker.Tracker
	ledger     *ledger.Ledger
	engine     *engine.Engine
	filter     *visibility.Filter
	reconciler *visibility.Reconciler
	bus        ports.EventBus
	queue      ports.JobQueue
	mode       ReconcileMode
	logger     *slog.Logger
}

// Constructor
func NewWorkflowService(deps Dependencies) WorkflowService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := deps.Mode
	if mode == "" {
		mode = ReconcileSync
	}
	return &workflowService{
		defs:       deps.Definitions,
		tracker:    deps.Tracker,
		ledger:     deps.Ledger,
		engine:     deps.Engine,
		filter:     deps.Filter,
		reconciler: deps.Reconciler,
		bus:        deps.Bus,
		queue:      deps.Queue,
		mode:       mode,
		logger:     logger.With("component", "service"),
	}
}

func (s *workflowService) StartWorkflow(ctx context.Context, workflowID uuid.UUID, startedBy string, startData map[string]any) (uuid.UUID, error) {
	instance, first, err := s.tracker.Start(ctx, workflowID, startedBy, startData)
	if err != nil {
		return uuid.Nil, err
	}

	s.publish(ctx, domain.Event{
		Type:       domain.EventInstanceStarted,
		InstanceID: instance.ID,
		WorkflowID: workflowID,
		StepID:     first.StepID,
		Actor:      startedBy,
	})
	s.publishAssignment(ctx, instance, first)
	return instance.ID, nil
}

// CompleteStep resolves the assignment to its instance and step and advances.
// Losing a race or completing against an inactive instance is not an error.
func (s *workflowService) CompleteStep(ctx context.Context, assignmentID uuid.UUID, actor string, notes *string) (*Outcome, error) {
	a, err := s.ledger.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Advance(ctx, engine.Request{
		InstanceID:   a.InstanceID,
		StepID:       a.StepID,
		AssignmentID: a.ID,
		Actor:        actor,
		Notes:        notes,
	})
	if domain.IsBenign(err) {
		s.logger.Info("completion was a noop", "assignment_id", assignmentID, "reason", err)
		return &Outcome{Status: OutcomeNoop, Warning: err}, nil
	}
	if err != nil {
		return nil, err
	}

	instance := result.Instance
	s.publish(ctx, domain.Event{
		Type:         domain.EventStepCompleted,
		InstanceID:   instance.ID,
		WorkflowID:   instance.WorkflowID,
		StepID:       a.StepID,
		AssignmentID: a.ID,
		AssignedTo:   a.AssignedTo,
		Actor:        actor,
	})

	if result.Finished {
		s.publish(ctx, domain.Event{
			Type:       domain.EventInstanceCompleted,
			InstanceID: instance.ID,
			WorkflowID: instance.WorkflowID,
			Actor:      actor,
		})
		return &Outcome{Status: OutcomeCompleted, Instance: instance}, nil
	}

	s.publishAssignment(ctx, instance, result.Next)
	return &Outcome{
		Status:   OutcomeAdvanced,
		Instance: instance,
		Next:     result.Next,
		NextStep: result.NextStep,
	}, nil
}

// ListMyAssignments returns the user's live work and history. In sync mode
// orphans are reconciled first; rows whose reconciliation failed stay visible.
func (s *workflowService) ListMyAssignments(ctx context.Context, userID string, limit int) ([]domain.AssignmentView, error) {
	opts := visibility.Options{Limit: limit}

	if s.mode == ReconcileAsync && s.queue != nil {
		if err := s.queue.Push(ctx, domain.NewJob(domain.JobReconcile, userID)); err != nil {
			s.logger.Warn("failed to enqueue reconciliation", "user_id", userID, "error", err)
		}
	} else if s.reconciler != nil {
		report, err := s.reconciler.Reconcile(ctx, userID)
		if err != nil {
			s.logger.Warn("reconciliation skipped", "user_id", userID, "error", err)
		}
		opts.Retain = report.Retain()
	}

	return s.filter.Project(ctx, userID, opts)
}

// GetInstance repairs a half-applied transition before returning the
// instance. A failed repair still returns the flagged instance.
func (s *workflowService) GetInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	report, err := s.engine.Repair(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrPartialAdvancement) {
		return nil, err
	}
	instance, gerr := s.tracker.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if report != nil && report.Repaired {
		s.publish(ctx, domain.Event{
			Type:       domain.EventInstanceRepaired,
			InstanceID: id,
			WorkflowID: instance.WorkflowID,
			Actor:      "system:repair",
		})
	}
	return instance, nil
}

func (s *workflowService) GetActiveInstance(ctx context.Context, workflowID uuid.UUID) (*domain.Instance, error) {
	instance, err := s.tracker.GetActiveInstance(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, domain.ErrInstanceNotFound
	}
	return instance, nil
}

func (s *workflowService) CancelInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return s.tracker.Cancel(ctx, id)
}

func (s *workflowService) PauseInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return s.tracker.Pause(ctx, id)
}

func (s *workflowService) ResumeInstance(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	return s.tracker.Resume(ctx, id)
}

func (s *workflowService) RepairInstance(ctx context.Context, id uuid.UUID) (*engine.RepairReport, error) {
	return s.engine.Repair(ctx, id)
}

func (s *workflowService) SaveWorkflow(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error {
	return s.defs.SaveWorkflow(ctx, wf, steps)
}

func (s *workflowService) SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error {
	return s.defs.SaveDefinition(ctx, def)
}

func (s *workflowService) InstantiateDefinition(ctx context.Context, definitionID uuid.UUID, name string) (*domain.Workflow, error) {
	return s.defs.Instantiate(ctx, definitionID, name)
}

func (s *workflowService) ListUnassigned(ctx context.Context) ([]domain.AssignmentView, error) {
	return s.ledger.ListUnassigned(ctx)
}

func (s *workflowService) AssignStep(ctx context.Context, assignmentID uuid.UUID, userID, by string) error {
	if err := s.ledger.Reassign(ctx, assignmentID, userID, by); err != nil {
		return err
	}
	a, err := s.ledger.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	instance, err := s.tracker.Get(ctx, a.InstanceID)
	if err != nil {
		return err
	}
	s.publishAssignment(ctx, instance, a)
	return nil
}

func (s *workflowService) publishAssignment(ctx context.Context, instance *domain.Instance, a *domain.Assignment) {
	if a == nil {
		return
	}
	eventType := domain.EventStepAssigned
	if a.IsUnassigned() {
		eventType = domain.EventStepUnassigned
	}
	s.publish(ctx, domain.Event{
		Type:         eventType,
		InstanceID:   instance.ID,
		WorkflowID:   instance.WorkflowID,
		StepID:       a.StepID,
		AssignmentID: a.ID,
		AssignedTo:   a.AssignedTo,
		Actor:        a.AssignedBy,
	})
}

// Events are published after commit; a failed publish is logged only.
func (s *workflowService) publish(ctx context.Context, event domain.Event) {
	if s.bus == nil {
		return
	}
	event.OccurredAt = time.Now()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "type", event.Type, "instance_id", event.InstanceID, "error", err)
	}
}
