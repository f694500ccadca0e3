package testsupport

import (
	"context"
	"errors"
	"sync"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

var ErrInjected = errors.New("injected storage fault")

// Faults counts down injected failures per operation. A count of n fails
// the next n calls; a negative count fails every call.
type Faults struct {
	mu      sync.Mutex
	inserts int
	cas     int
	deletes int
}

func (f *Faults) FailInserts(n int) { f.set(&f.inserts, n) }
func (f *Faults) FailCAS(n int)     { f.set(&f.cas, n) }
func (f *Faults) FailDeletes(n int) { f.set(&f.deletes, n) }

func (f *Faults) set(counter *int, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*counter = n
}

func (f *Faults) hit(counter *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case *counter < 0:
		return ErrInjected
	case *counter > 0:
		*counter--
		return ErrInjected
	}
	return nil
}

// FailingStore wraps a ports.Store and injects faults into selected writes.
type FailingStore struct {
	ports.Store
	Faults *Faults
}

func NewFailingStore(store ports.Store) *FailingStore {
	return &FailingStore{Store: store, Faults: &Faults{}}
}

func (s *FailingStore) Instances() ports.InstanceRepository {
	return &failingInstances{InstanceRepository: s.Store.Instances(), faults: s.Faults}
}

func (s *FailingStore) Assignments() ports.AssignmentRepository {
	return &failingAssignments{AssignmentRepository: s.Store.Assignments(), faults: s.Faults}
}

func (s *FailingStore) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx ports.Store) error {
		return fn(&FailingStore{Store: tx, Faults: s.Faults})
	})
}

type failingInstances struct {
	ports.InstanceRepository
	faults *Faults
}

func (r *failingInstances) CompareAndSwapPointer(ctx context.Context, id uuid.UUID, expectedVersion int, expectedStepID, nextStepID *uuid.UUID, status domain.InstanceStatus) error {
	if err := r.faults.hit(&r.faults.cas); err != nil {
		return err
	}
	return r.InstanceRepository.CompareAndSwapPointer(ctx, id, expectedVersion, expectedStepID, nextStepID, status)
}

type failingAssignments struct {
	ports.AssignmentRepository
	faults *Faults
}

func (r *failingAssignments) Insert(ctx context.Context, a *domain.Assignment) error {
	if err := r.faults.hit(&r.faults.inserts); err != nil {
		return err
	}
	return r.AssignmentRepository.Insert(ctx, a)
}

func (r *failingAssignments) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.faults.hit(&r.faults.deletes); err != nil {
		return err
	}
	return r.AssignmentRepository.Delete(ctx, id)
}
