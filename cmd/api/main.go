package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/painmgmt-api/internal/app"
	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/handler/dose"
	"github.com/jwalitptl/painmgmt-api/internal/handler/escalation"
	"github.com/jwalitptl/painmgmt-api/internal/handler/health"
	"github.com/jwalitptl/painmgmt-api/internal/handler/patient"
	"github.com/jwalitptl/painmgmt-api/internal/handler/prometheus"
	"github.com/jwalitptl/painmgmt-api/internal/handler/recommendation"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/router"
	"github.com/jwalitptl/painmgmt-api/pkg/auth"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.Log)

	tokens, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		logger.ZL.Fatal().Err(err).Msg("failed to initialise token service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.ZL.Fatal().Err(err).Msg("failed to initialise application")
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(
		middleware.NewAuthMiddleware(tokens),
		router.Handlers{
			Health:          health.NewHandler(a.HealthChecks()),
			Metrics:         prometheus.New(a.Registry),
			Patients:        patient.NewHandler(a.Clinical),
			Recommendations: recommendation.NewHandler(a.Lifecycle),
			Escalations:     escalation.NewHandler(a.Escalations),
			Doses:           dose.NewHandler(a.Ledger),
		},
		logger,
		a.Metrics,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ZL.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("server exited properly")
}
