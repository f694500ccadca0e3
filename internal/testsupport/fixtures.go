// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"go-flowdesk/internal/app"
	"go-flowdesk/internal/core/memory"
	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/metrics"
	"go-flowdesk/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// Env is a fully wired core on an in-memory store.
type Env struct {
	*app.App
	Store    ports.Store
	Memory   *memory.Store
	Bus      *memory.EventBus
	Queue    *memory.Queue
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

type EnvOption func(*envConfig)

type envConfig struct {
	memOpts []memory.Option
	wrap    func(ports.Store) ports.Store
	mode    service.ReconcileMode
}

// WithMemoryOptions passes options to the in-memory store.
func WithMemoryOptions(opts ...memory.Option) EnvOption {
	return func(c *envConfig) { c.memOpts = append(c.memOpts, opts...) }
}

// WithStore wraps the in-memory store, e.g. in a FailingStore.
func WithStore(wrap func(ports.Store) ports.Store) EnvOption {
	return func(c *envConfig) { c.wrap = wrap }
}

func WithReconcileMode(mode service.ReconcileMode) EnvOption {
	return func(c *envConfig) { c.mode = mode }
}

func NewEnv(t testing.TB, opts ...EnvOption) *Env {
	t.Helper()
	cfg := envConfig{mode: service.ReconcileSync}
	for _, opt := range opts {
		opt(&cfg)
	}

	mem := memory.NewStore(cfg.memOpts...)
	var store ports.Store = mem
	if cfg.wrap != nil {
		store = cfg.wrap(mem)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := memory.NewEventBus()
	queue := memory.NewQueue(64)

	return &Env{
		App: app.New(app.Options{
			Store:   store,
			Bus:     bus,
			Queue:   queue,
			Mode:    cfg.mode,
			Metrics: m,
			Logger:  DiscardLogger(),
		}),
		Store:    store,
		Memory:   mem,
		Bus:      bus,
		Queue:    queue,
		Registry: reg,
		Metrics:  m,
	}
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedWorkflow saves a workflow with one task step per assignee, ordered
// 1..n. An empty assignee leaves that step unassigned.
func SeedWorkflow(t testing.TB, defs *definition.Store, assignees ...string) (*domain.Workflow, []domain.Step) {
	t.Helper()
	orders := make([]int, len(assignees))
	for i := range assignees {
		orders[i] = i + 1
	}
	return SeedWorkflowWithOrders(t, defs, orders, assignees)
}

// SeedWorkflowWithOrders is SeedWorkflow with explicit, possibly sparse, orders.
func SeedWorkflowWithOrders(t testing.TB, defs *definition.Store, orders []int, assignees []string) (*domain.Workflow, []domain.Step) {
	t.Helper()
	require.Len(t, assignees, len(orders))

	wf := domain.NewWorkflow("onboarding", "test workflow")
	steps := make([]domain.Step, len(orders))
	for i, order := range orders {
		steps[i] = domain.NewStep(wf.ID, order, "step", domain.StepKindTask)
		steps[i].Name = stepName(i)
		if assignees[i] != "" {
			who := assignees[i]
			steps[i].Assignee = &who
		}
	}
	require.NoError(t, defs.SaveWorkflow(context.Background(), wf, steps))
	return wf, steps
}

func stepName(i int) string {
	return string(rune('A'+i)) + "-step"
}
