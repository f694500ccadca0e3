// Package memory implements the storage ports in process. It backs local
// runs and unit tests; transactions are serialized by a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

type state struct {
	definitions     map[uuid.UUID]domain.WorkflowDefinition
	workflows       map[uuid.UUID]domain.Workflow
	steps           map[uuid.UUID]domain.Step
	instances       map[uuid.UUID]domain.Instance
	assignments     map[uuid.UUID]domain.Assignment
	reconciliations []domain.AssignmentReconciliation
}

func newState() *state {
	return &state{
		definitions: make(map[uuid.UUID]domain.WorkflowDefinition),
		workflows:   make(map[uuid.UUID]domain.Workflow),
		steps:       make(map[uuid.UUID]domain.Step),
		instances:   make(map[uuid.UUID]domain.Instance),
		assignments: make(map[uuid.UUID]domain.Assignment),
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each map is a full snapshot.
func (s *state) clone() *state {
	c := &state{
		definitions:     make(map[uuid.UUID]domain.WorkflowDefinition, len(s.definitions)),
		workflows:       make(map[uuid.UUID]domain.Workflow, len(s.workflows)),
		steps:           make(map[uuid.UUID]domain.Step, len(s.steps)),
		instances:       make(map[uuid.UUID]domain.Instance, len(s.instances)),
		assignments:     make(map[uuid.UUID]domain.Assignment, len(s.assignments)),
		reconciliations: append([]domain.AssignmentReconciliation(nil), s.reconciliations...),
	}
	for k, v := range s.definitions {
		c.definitions[k] = v
	}
	for k, v := range s.workflows {
		c.workflows[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = v
	}
	for k, v := range s.instances {
		c.instances[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	return c
}

type Option func(*Store)

// WithoutTransactions makes WithinTx run fn directly against live state with
// no rollback. It models a backend without multi-row atomicity and is used to
// exercise the engine's repair path.
func WithoutTransactions() Option {
	return func(s *Store) { s.atomic = false }
}

// Store is an in-process ports.Store.
type Store struct {
	mu     *sync.Mutex
	root   **state
	data   *state
	inTx   bool
	atomic bool
}

func NewStore(opts ...Option) *Store {
	st := newState()
	s := &Store{mu: &sync.Mutex{}, atomic: true}
	s.root = &st
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) current() *state {
	if s.inTx {
		return s.data
	}
	return *s.root
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Definitions() ports.DefinitionRepository         { return &definitions{s} }
func (s *Store) Instances() ports.InstanceRepository             { return &instances{s} }
func (s *Store) Assignments() ports.AssignmentRepository         { return &assignments{s} }
func (s *Store) Reconciliations() ports.ReconciliationRepository { return &reconciliations{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.inTx || !s.atomic {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.root).clone()
	tx := &Store{mu: s.mu, root: s.root, data: snapshot, inTx: true, atomic: true}
	if err := fn(tx); err != nil {
		return err
	}
	*s.root = snapshot
	return nil
}

type definitions struct{ s *Store }

func (r *definitions) SaveDefinition(_ context.Context, def *domain.WorkflowDefinition) error {
	defer r.s.lock()()
	r.s.current().definitions[def.ID] = *def
	return nil
}

func (r *definitions) GetDefinition(_ context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	defer r.s.lock()()
	def, ok := r.s.current().definitions[id]
	if !ok {
		return nil, domain.ErrDefinitionNotFound
	}
	return &def, nil
}

func (r *definitions) SaveWorkflow(_ context.Context, wf *domain.Workflow, steps []domain.Step) error {
	defer r.s.lock()()
	st := r.s.current()

	keep := make(map[uuid.UUID]struct{}, len(steps))
	for i := range steps {
		steps[i].WorkflowID = wf.ID
		keep[steps[i].ID] = struct{}{}
	}
	for id, step := range st.steps {
		if _, ok := keep[id]; step.WorkflowID == wf.ID && !ok {
			delete(st.steps, id)
		}
	}
	for _, step := range steps {
		st.steps[step.ID] = step
	}

	stored := *wf
	stored.Steps = nil
	st.workflows[wf.ID] = stored
	return nil
}

func (r *definitions) GetWorkflow(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	defer r.s.lock()()
	wf, ok := r.s.current().workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return &wf, nil
}

func (r *definitions) GetStep(_ context.Context, id uuid.UUID) (*domain.Step, error) {
	defer r.s.lock()()
	step, ok := r.s.current().steps[id]
	if !ok {
		return nil, domain.ErrStepNotFound
	}
	return &step, nil
}

func (r *definitions) orderedSteps(workflowID uuid.UUID) []domain.Step {
	var steps []domain.Step
	for _, step := range r.s.current().steps {
		if step.WorkflowID == workflowID {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

func (r *definitions) GetStepsOrdered(_ context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	defer r.s.lock()()
	return r.orderedSteps(workflowID), nil
}

func (r *definitions) GetFirstStep(_ context.Context, workflowID uuid.UUID) (*domain.Step, error) {
	defer r.s.lock()()
	steps := r.orderedSteps(workflowID)
	if len(steps) == 0 {
		return nil, domain.ErrStepNotFound
	}
	return &steps[0], nil
}

func (r *definitions) GetNextStep(_ context.Context, workflowID uuid.UUID, currentOrder int) (*domain.Step, error) {
	defer r.s.lock()()
	for _, step := range r.orderedSteps(workflowID) {
		if step.Order > currentOrder {
			return &step, nil
		}
	}
	return nil, domain.ErrStepNotFound
}

type instances struct{ s *Store }

func (r *instances) Create(_ context.Context, instance *domain.Instance) error {
	defer r.s.lock()()
	r.s.current().instances[instance.ID] = *instance
	return nil
}

func (r *instances) GetByID(_ context.Context, id uuid.UUID) (*domain.Instance, error) {
	defer r.s.lock()()
	instance, ok := r.s.current().instances[id]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	return &instance, nil
}

func (r *instances) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Instance, error) {
	defer r.s.lock()()
	out := make(map[uuid.UUID]*domain.Instance, len(ids))
	for _, id := range ids {
		if instance, ok := r.s.current().instances[id]; ok {
			out[id] = &instance
		}
	}
	return out, nil
}

func (r *instances) GetActiveForWorkflow(_ context.Context, workflowID uuid.UUID) (*domain.Instance, error) {
	defer r.s.lock()()
	var newest *domain.Instance
	for _, instance := range r.s.current().instances {
		if instance.WorkflowID != workflowID || instance.Status != domain.InstanceActive {
			continue
		}
		if newest == nil || instance.CreatedAt.After(newest.CreatedAt) {
			found := instance
			newest = &found
		}
	}
	if newest == nil {
		return nil, domain.ErrInstanceNotFound
	}
	return newest, nil
}

func (r *instances) CountOpenForWorkflow(_ context.Context, workflowID uuid.UUID) (int64, error) {
	defer r.s.lock()()
	var n int64
	for _, instance := range r.s.current().instances {
		if instance.WorkflowID == workflowID && !instance.IsFinished() {
			n++
		}
	}
	return n, nil
}

func samePointer(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *instances) CompareAndSwapPointer(_ context.Context, id uuid.UUID, expectedVersion int, expectedStepID, nextStepID *uuid.UUID, status domain.InstanceStatus) error {
	defer r.s.lock()()
	st := r.s.current()
	instance, ok := st.instances[id]
	if !ok || instance.Version != expectedVersion || instance.Status != domain.InstanceActive ||
		!samePointer(instance.CurrentStepID, expectedStepID) {
		return domain.ErrStepMismatch
	}

	now := time.Now()
	if nextStepID != nil {
		next := *nextStepID
		instance.CurrentStepID = &next
	} else {
		instance.CurrentStepID = nil
	}
	instance.Status = status
	instance.Version = expectedVersion + 1
	instance.UpdatedAt = now
	if status == domain.InstanceCompleted {
		instance.CompletedAt = &now
	}
	st.instances[id] = instance
	return nil
}

func (r *instances) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int, status domain.InstanceStatus) error {
	defer r.s.lock()()
	st := r.s.current()
	instance, ok := st.instances[id]
	if !ok || instance.Version != expectedVersion {
		return domain.ErrInvalidTransition
	}
	instance.Status = status
	instance.Version = expectedVersion + 1
	instance.UpdatedAt = time.Now()
	st.instances[id] = instance
	return nil
}

func (r *instances) SetInconsistent(_ context.Context, id uuid.UUID, inconsistent bool, reason string) error {
	defer r.s.lock()()
	st := r.s.current()
	instance, ok := st.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	instance.Inconsistent = inconsistent
	instance.InconsistencyReason = reason
	instance.UpdatedAt = time.Now()
	st.instances[id] = instance
	return nil
}

type assignments struct{ s *Store }

func (r *assignments) Insert(_ context.Context, assignment *domain.Assignment) error {
	defer r.s.lock()()
	r.s.current().assignments[assignment.ID] = *assignment
	return nil
}

func (r *assignments) GetByID(_ context.Context, id uuid.UUID) (*domain.Assignment, error) {
	defer r.s.lock()()
	assignment, ok := r.s.current().assignments[id]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return &assignment, nil
}

func (r *assignments) UpdateStatus(_ context.Context, id uuid.UUID, status domain.AssignmentStatus, notes *string, completedAt *time.Time) error {
	defer r.s.lock()()
	st := r.s.current()
	assignment, ok := st.assignments[id]
	if !ok {
		return domain.ErrAssignmentNotFound
	}
	if assignment.IsCompleted() {
		return domain.ErrInvalidTransition
	}
	assignment.Status = status
	if notes != nil {
		n := *notes
		assignment.Notes = &n
	}
	if completedAt != nil {
		at := *completedAt
		assignment.CompletedAt = &at
	}
	assignment.UpdatedAt = time.Now()
	st.assignments[id] = assignment
	return nil
}

func (r *assignments) Reassign(_ context.Context, id uuid.UUID, assignedTo, assignedBy string) error {
	defer r.s.lock()()
	st := r.s.current()
	assignment, ok := st.assignments[id]
	if !ok {
		return domain.ErrAssignmentNotFound
	}
	if assignment.IsCompleted() {
		return domain.ErrInvalidTransition
	}
	assignment.AssignedTo = assignedTo
	assignment.AssignedBy = assignedBy
	assignment.UpdatedAt = time.Now()
	st.assignments[id] = assignment
	return nil
}

func (r *assignments) view(a domain.Assignment) domain.AssignmentView {
	st := r.s.current()
	v := domain.AssignmentView{Assignment: a}
	if step, ok := st.steps[a.StepID]; ok {
		v.StepName = step.Name
		v.StepOrder = step.Order
		v.WorkflowID = step.WorkflowID
		if wf, ok := st.workflows[step.WorkflowID]; ok {
			v.WorkflowName = wf.Name
		}
	}
	return v
}

func (r *assignments) listViews(keep func(domain.Assignment) bool) []domain.AssignmentView {
	var views []domain.AssignmentView
	for _, a := range r.s.current().assignments {
		if keep(a) {
			views = append(views, r.view(a))
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID.String() < views[j].ID.String()
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

func (r *assignments) ListForUser(_ context.Context, userID string) ([]domain.AssignmentView, error) {
	defer r.s.lock()()
	return r.listViews(func(a domain.Assignment) bool { return a.AssignedTo == userID }), nil
}

func (r *assignments) ListForInstanceStep(_ context.Context, instanceID, stepID uuid.UUID) ([]domain.Assignment, error) {
	defer r.s.lock()()
	var out []domain.Assignment
	for _, a := range r.s.current().assignments {
		if a.InstanceID == instanceID && a.StepID == stepID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *assignments) ListUnassigned(_ context.Context) ([]domain.AssignmentView, error) {
	defer r.s.lock()()
	return r.listViews(func(a domain.Assignment) bool { return a.IsUnassigned() && a.IsOpen() }), nil
}

func (r *assignments) Delete(_ context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	st := r.s.current()
	if _, ok := st.assignments[id]; !ok {
		return domain.ErrAssignmentNotFound
	}
	delete(st.assignments, id)
	return nil
}

type reconciliations struct{ s *Store }

func (r *reconciliations) Record(_ context.Context, rec *domain.AssignmentReconciliation) error {
	defer r.s.lock()()
	st := r.s.current()
	st.reconciliations = append(st.reconciliations, *rec)
	return nil
}

func (r *reconciliations) ListForViewer(_ context.Context, viewer string) ([]domain.AssignmentReconciliation, error) {
	defer r.s.lock()()
	var out []domain.AssignmentReconciliation
	recs := r.s.current().reconciliations
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Viewer == viewer {
			out = append(out, recs[i])
		}
	}
	return out, nil
}
