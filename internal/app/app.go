// Package app assembles the workflow core from a store and its transports.
package app

import (
	"log/slog"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/engine"
	"go-flowdesk/internal/ledger"
	"go-flowdesk/internal/metrics"
	"go-flowdesk/internal/service"
	"go-flowdesk/internal/tracker"
	"go-flowdesk/internal/visibility"
	"go-flowdesk/internal/worker"
)

type Options struct {
	Store   ports.Store
	Bus     ports.EventBus
	Queue   ports.JobQueue
	Mode    service.ReconcileMode
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type App struct {
	Definitions *definition.Store
	Ledger      *ledger.Ledger
	Tracker     *tracker.Tracker
	Engine      *engine.Engine
	Filter      *visibility.Filter
	Reconciler  *visibility.Reconciler
	Service     service.WorkflowService
	Jobs        worker.JobRegistry
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defs := definition.NewStore(opts.Store, logger)
	l := ledger.New(opts.Store, logger)
	t := tracker.New(opts.Store, defs, l, opts.Metrics, logger)
	e := engine.New(opts.Store, defs, t, l, opts.Metrics, logger)
	filter := visibility.NewFilter(opts.Store, logger)
	reconciler := visibility.NewReconciler(opts.Store, opts.Metrics, logger)

	svc := service.NewWorkflowService(service.Dependencies{
		Definitions: defs,
		Tracker:     t,
		Ledger:      l,
		Engine:      e,
		Filter:      filter,
		Reconciler:  reconciler,
		Bus:         opts.Bus,
		Queue:       opts.Queue,
		Mode:        opts.Mode,
		Logger:      logger,
	})

	return &App{
		Definitions: defs,
		Ledger:      l,
		Tracker:     t,
		Engine:      e,
		Filter:      filter,
		Reconciler:  reconciler,
		Service:     svc,
		Jobs:        worker.InitRegistry(reconciler, e),
	}
}
