package visibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/metrics"

	"github.com/google/uuid"
)

type ReconcileReport struct {
	Viewer  string
	Deleted []uuid.UUID
	// Failed assignments stay in place and are retained in projections.
	Failed map[uuid.UUID]error
}

// Retain converts failures into projection options.
func (r *ReconcileReport) Retain() map[uuid.UUID]bool {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	out := make(map[uuid.UUID]bool, len(r.Failed))
	for id := range r.Failed {
		out[id] = true
	}
	return out
}

// Reconciler deletes orphan assignments. Each deletion is re-checked and
// audited inside its own transaction, so running it twice is harmless.
type Reconciler struct {
	store   ports.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewReconciler(store ports.Store, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, metrics: m, logger: logger.With("component", "reconciler")}
}

// Reconcile removes the viewer's orphan assignments. Per-row failures are
// logged and reported, never returned as an error.
func (r *Reconciler) Reconcile(ctx context.Context, viewer string) (*ReconcileReport, error) {
	feed, err := r.store.Assignments().ListForUser(ctx, viewer)
	if err != nil {
		return nil, err
	}
	instances, err := loadInstances(ctx, r.store, feed)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Viewer: viewer, Failed: map[uuid.UUID]error{}}
	for i := range feed {
		a := feed[i].Assignment
		if class, _ := Classify(&a, instances[a.InstanceID]); class != ClassOrphan {
			continue
		}

		deleted, err := r.reconcileOne(ctx, viewer, a.ID)
		if err != nil {
			r.metrics.OrphanReconciled("failed")
			r.logger.Error("failed to reconcile orphan assignment", "assignment_id", a.ID, "viewer", viewer, "error", err)
			report.Failed[a.ID] = err
			continue
		}
		if deleted {
			r.metrics.OrphanReconciled("deleted")
			report.Deleted = append(report.Deleted, a.ID)
		}
	}

	if len(report.Deleted) > 0 || len(report.Failed) > 0 {
		r.logger.Info("reconciliation finished", "viewer", viewer, "deleted", len(report.Deleted), "failed", len(report.Failed))
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, viewer string, id uuid.UUID) (bool, error) {
	deleted := false
	err := r.store.WithinTx(ctx, func(tx ports.Store) error {
		a, err := tx.Assignments().GetByID(ctx, id)
		if errors.Is(err, domain.ErrAssignmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		instance, err := tx.Instances().GetByID(ctx, a.InstanceID)
		if errors.Is(err, domain.ErrInstanceNotFound) {
			instance = nil
		} else if err != nil {
			return err
		}

		class, reason := Classify(a, instance)
		if class != ClassOrphan {
			return nil
		}

		rec := &domain.AssignmentReconciliation{
			ID:           uuid.New(),
			AssignmentID: a.ID,
			InstanceID:   a.InstanceID,
			StepID:       a.StepID,
			AssignedTo:   a.AssignedTo,
			Status:       a.Status,
			Reason:       reason,
			Viewer:       viewer,
			CreatedAt:    time.Now(),
		}
		if err := tx.Reconciliations().Record(ctx, rec); err != nil {
			return fmt.Errorf("failed to audit reconciliation: %w", err)
		}
		if err := tx.Assignments().Delete(ctx, a.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}
