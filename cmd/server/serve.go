package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go-flowdesk/internal/api/handler"
	"go-flowdesk/internal/app"
	"go-flowdesk/internal/coordinator"
	"go-flowdesk/internal/metrics"
	"go-flowdesk/internal/service"
	"go-flowdesk/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the completion coordinator and the job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	core := app.New(app.Options{
		Store:   rt.store,
		Bus:     rt.bus,
		Queue:   rt.queue,
		Mode:    service.ReconcileMode(cfg.Reconcile.Mode),
		Metrics: m,
		Logger:  logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.NewWorkflowHandler(core.Service), registry, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	coord := coordinator.NewCoordinator(core.Service, rt.bus, logger)
	pool := worker.NewWorker(rt.queue, core.Jobs, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "address", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			return server.Close()
		}
		logger.Info("server stopped gracefully")
		return nil
	})
	g.Go(func() error {
		return coord.Start(gctx)
	})
	g.Go(func() error {
		return pool.StartPool(gctx, cfg.Worker.Concurrency)
	})

	return g.Wait()
}
