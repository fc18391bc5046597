package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/painmgmt-api/internal/app"
	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/handler/health"
	"github.com/jwalitptl/painmgmt-api/internal/handler/prometheus"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	workerID := generateWorkerID()
	lg := app.NewLogger(cfg.Log).WithFields(map[string]interface{}{"worker_id": workerID})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.ZL.Fatal().Err(err).Msg("Failed to initialise application")
	}
	defer a.Close()

	processor := worker.NewOutboxProcessor(
		a.Store.Outbox(),
		a.Broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			MaxRetries:    cfg.Outbox.MaxRetries,
		},
		lg,
		a.Metrics,
	)
	cleanup := worker.NewOutboxCleanupWorker(a.Store.Outbox(), cfg.Outbox.Retention, cfg.Outbox.CleanupEvery, lg)

	srv := setupHealthCheck(a, cfg.Server.MetricsPort, lg)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){a.Sweeper.Start, processor.Start, cleanup.Start} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	<-ctx.Done()
	lg.Info("Shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error(err, "Health check server forced to shutdown")
	}
	wg.Wait()
}

// setupHealthCheck serves liveness, readiness and metrics for the worker.
func setupHealthCheck(a *app.App, port int, lg *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(lg))
	root := engine.Group("")
	health.NewHandler(a.HealthChecks()).RegisterRoutes(root)
	prometheus.New(a.Registry).RegisterRoutes(root)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}
