// Package ledger records who owes work on which step.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

type Ledger struct {
	store  ports.Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store ports.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger.With("component", "ledger"), now: time.Now}
}

// With binds the Ledger to tx.
func (l *Ledger) With(tx ports.Store) *Ledger {
	c := *l
	c.store = tx
	return &c
}

// WithClock replaces the time source used for timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// CreateAssignment inserts a pending assignment. Notification is the caller's job.
func (l *Ledger) CreateAssignment(ctx context.Context, instanceID, stepID uuid.UUID, assignedTo, assignedBy string, notes *string) (*domain.Assignment, error) {
	a := domain.NewAssignment(instanceID, stepID, assignedTo, assignedBy)
	a.CreatedAt = l.now()
	a.UpdatedAt = a.CreatedAt
	a.Notes = notes

	if err := l.store.Assignments().Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment for step %s: %w", stepID, err)
	}
	return a, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return l.store.Assignments().GetByID(ctx, id)
}

// UpdateStatus moves an assignment to status. Completed assignments are
// frozen; completing stamps completed_at.
func (l *Ledger) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AssignmentStatus, notes *string) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	current, err := l.store.Assignments().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.IsCompleted() {
		return fmt.Errorf("assignment %s: %w", id, domain.ErrInvalidTransition)
	}

	var completedAt *time.Time
	if status == domain.AssignmentCompleted {
		now := l.now()
		completedAt = &now
	}
	return l.store.Assignments().UpdateStatus(ctx, id, status, notes, completedAt)
}

func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]domain.AssignmentView, error) {
	return l.store.Assignments().ListForUser(ctx, userID)
}

// LiveForStep returns the open assignments of one instance's step, oldest first.
func (l *Ledger) LiveForStep(ctx context.Context, instanceID, stepID uuid.UUID) ([]domain.Assignment, error) {
	all, err := l.store.Assignments().ListForInstanceStep(ctx, instanceID, stepID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, a := range all {
		if a.IsOpen() {
			live = append(live, a)
		}
	}
	return live, nil
}

func (l *Ledger) ListUnassigned(ctx context.Context) ([]domain.AssignmentView, error) {
	return l.store.Assignments().ListUnassigned(ctx)
}

// Reassign hands an open assignment to userID.
func (l *Ledger) Reassign(ctx context.Context, id uuid.UUID, userID, by string) error {
	if userID == "" {
		return &domain.ValidationError{Field: "assigned_to", Message: "required"}
	}
	if err := l.store.Assignments().Reassign(ctx, id, userID, by); err != nil {
		return err
	}
	l.logger.Info("assignment reassigned", "assignment_id", id, "assigned_to", userID, "by", by)
	return nil
}
