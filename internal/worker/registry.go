package worker

import (
	"context"
	"fmt"

	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/engine"
	"go-flowdesk/internal/visibility"

	"github.com/google/uuid"
)

// JobHandler is the blueprint for any function that does background work
type JobHandler func(ctx context.Context, arg string) error

// JobRegistry holds all our executable jobs
type JobRegistry map[domain.JobKind]JobHandler

// InitRegistry wires up the maintenance jobs
func InitRegistry(reconciler *visibility.Reconciler, eng *engine.Engine) JobRegistry {
	registry := make(JobRegistry)

	registry[domain.JobReconcile] = func(ctx context.Context, viewer string) error {
		report, err := reconciler.Reconcile(ctx, viewer)
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d orphan assignments of %s not reconciled", len(report.Failed), viewer)
		}
		return nil
	}

	registry[domain.JobRepair] = func(ctx context.Context, arg string) error {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid instance id %q: %w", arg, err)
		}
		_, err = eng.Repair(ctx, id)
		return err
	}

	return registry
}
