// Package visibility decides which assignments a viewer sees and reconciles
// the ones nobody should see any more.
package visibility

import (
	"context"
	"log/slog"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
)

// Class is how an assignment relates to its instance right now.
type Class int

const (
	// Live: the instance is active and points at the assignment's step.
	ClassLive Class = iota
	// History: the assignment itself is completed.
	ClassHistory
	// Orphan: not completed and its instance no longer points at the step.
	ClassOrphan
	// Stale: closed without completion (skipped) and not live; kept, hidden.
	ClassStale
	// Suspended: the instance is paused. Hidden but kept for resume.
	ClassSuspended
)

// Reason values recorded for orphans.
const (
	ReasonInstanceMissing  = "instance_missing"
	ReasonInstanceInactive = "instance_inactive"
	ReasonStepNotCurrent   = "step_not_current"
)

// Classify places a in one Class given its instance (nil when missing).
// The second return value is the orphan reason.
func Classify(a *domain.Assignment, instance *domain.Instance) (Class, string) {
	if a.IsCompleted() {
		return ClassHistory, ""
	}
	switch {
	case instance == nil:
		return orphanOrStale(a, ReasonInstanceMissing)
	case instance.Status == domain.InstancePaused && instance.IsCurrent(a.StepID):
		return ClassSuspended, ""
	case !instance.IsActive():
		return orphanOrStale(a, ReasonInstanceInactive)
	case !instance.IsCurrent(a.StepID):
		return orphanOrStale(a, ReasonStepNotCurrent)
	}
	if a.IsOpen() {
		return ClassLive, ""
	}
	return ClassStale, ""
}

func orphanOrStale(a *domain.Assignment, reason string) (Class, string) {
	if a.IsOpen() {
		return ClassOrphan, reason
	}
	return ClassStale, ""
}

type Options struct {
	// Limit caps the result; zero means no cutoff.
	Limit int
	// Retain lists assignments whose reconciliation failed. They stay
	// visible so a storage fault never hides live work.
	Retain map[uuid.UUID]bool
}

type Filter struct {
	store  ports.Store
	logger *slog.Logger
}

func NewFilter(store ports.Store, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{store: store, logger: logger.With("component", "visibility")}
}

// Project returns the viewer's live work items and completed history,
// newest first. It never writes.
func (f *Filter) Project(ctx context.Context, viewer string, opts Options) ([]domain.AssignmentView, error) {
	feed, err := f.store.Assignments().ListForUser(ctx, viewer)
	if err != nil {
		return nil, err
	}
	instances, err := loadInstances(ctx, f.store, feed)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AssignmentView, 0, len(feed))
	for i := range feed {
		v := feed[i]
		class, _ := Classify(&v.Assignment, instances[v.InstanceID])
		if class == ClassLive || class == ClassHistory || opts.Retain[v.ID] {
			out = append(out, v)
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func loadInstances(ctx context.Context, store ports.Store, feed []domain.AssignmentView) (map[uuid.UUID]*domain.Instance, error) {
	seen := make(map[uuid.UUID]struct{}, len(feed))
	ids := make([]uuid.UUID, 0, len(feed))
	for _, v := range feed {
		if _, ok := seen[v.InstanceID]; !ok {
			seen[v.InstanceID] = struct{}{}
			ids = append(ids, v.InstanceID)
		}
	}
	return store.Instances().GetByIDs(ctx, ids)
}
