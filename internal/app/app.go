// Package app assembles the services from configuration. The API, worker and
// operator binaries all build on it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/email"
	"github.com/jwalitptl/painmgmt-api/internal/handler/health"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/internal/repository/memory"
	"github.com/jwalitptl/painmgmt-api/internal/repository/postgres"
	"github.com/jwalitptl/painmgmt-api/internal/service/clinical"
	"github.com/jwalitptl/painmgmt-api/internal/service/emr"
	"github.com/jwalitptl/painmgmt-api/internal/service/matcher"
	"github.com/jwalitptl/painmgmt-api/internal/service/notification"
	"github.com/jwalitptl/painmgmt-api/internal/service/pain"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/internal/worker"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/messaging"
	"github.com/jwalitptl/painmgmt-api/pkg/messaging/redis"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
)

const metricsNamespace = "painmgmt"

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB     *sqlx.DB
	Store  repository.Store
	Broker messaging.Broker

	Catalog       *catalog.Catalog
	Notifications *notification.Service
	Lifecycle     *workflow.Lifecycle
	Escalations   *workflow.EscalationManager
	Ledger        *pain.Ledger
	Clinical      *clinical.Service
	Sweeper       *worker.Sweeper
}

// New connects the store and broker selected by cfg and builds every
// service. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Config: cfg, Logger: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(metricsNamespace, a.Registry)

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openBroker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var mailer email.Service
	if cfg.SMTP.Enabled {
		mailer = email.NewSMTPService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	a.Notifications = notification.NewService(a.Broker, a.Store.Outbox(), mailer, notification.Config{
		ThrottleWindow: cfg.Notifications.ThrottleWindow,
		Mailboxes:      Mailboxes(cfg.SMTP.RoleMailboxes),
	}, log, a.Metrics)

	a.Lifecycle = workflow.NewLifecycle(a.Store, nil, a.Notifications, Rules(cfg.Clinical), log, a.Metrics)
	a.Escalations = workflow.NewEscalationManager(a.Lifecycle)

	thresholds := pain.ThresholdsFromConfig(cfg.Clinical)
	a.Ledger = pain.NewLedger(a.Lifecycle, a.Store, thresholds.MinDoseInterval, log, a.Metrics)

	generator := matcher.New(cat, cfg.Catalog.DefaultRoute)
	watcher := emr.NewWatcher(a.Lifecycle, generator, emr.RulesFromConfig(cfg.Clinical), log)
	a.Clinical = clinical.NewService(a.Lifecycle, a.Store, generator, pain.NewDetector(thresholds), watcher, log, a.Metrics)

	a.Sweeper = worker.NewSweeper(a.Store, a.Clinical, a.Ledger, a.Escalations, a.Notifications, worker.SweepConfig{
		PainInterval:    cfg.Sweeps.PainInterval,
		PainMinVAS:      cfg.Sweeps.PainMinVAS,
		PainLookback:    cfg.Sweeps.PainLookback,
		OverdueInterval: cfg.Sweeps.OverdueInterval,
		OverdueMinVAS:   cfg.Sweeps.OverdueMinVAS,
		OverdueAfter:    cfg.Sweeps.OverdueAfter,
		SummaryInterval: cfg.Sweeps.SummaryInterval,
		PatientTimeout:  cfg.Sweeps.PatientTimeout,
	}, log, a.Metrics)

	log.Info("application assembled",
		"store", cfg.Database.Driver,
		"broker", a.brokerKind(),
		"catalog_rows", cat.Len(),
		"smtp", cfg.SMTP.Enabled)
	return a, nil
}

func (a *App) openStore() error {
	if a.Config.Database.Driver == "memory" {
		a.Store = memory.NewStore()
		a.Logger.Warn("using in-memory store; data is lost on restart")
		return nil
	}
	db, err := postgres.NewDB(a.Config.Database)
	if err != nil {
		return err
	}
	a.DB = db
	a.Store = postgres.NewStore(db)
	return nil
}

func (a *App) openBroker(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.URL == "" {
		a.Broker = messaging.NewLocalBroker()
		return nil
	}
	b, err := redis.NewRedisBroker(redis.Config{
		URL:             rc.URL,
		MaxRetries:      rc.MaxRetries,
		RetryBackoff:    rc.RetryBackoff,
		PoolSize:        rc.PoolSize,
		MinIdleConns:    rc.MinIdleConns,
		BreakerFailures: a.Config.Notifications.BreakerFailures,
		BreakerTimeout:  a.Config.Notifications.BreakerTimeout,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create Redis broker: %w", err)
	}
	a.Broker = b
	return nil
}

func (a *App) brokerKind() string {
	if _, ok := a.Broker.(*redis.RedisBroker); ok {
		return "redis"
	}
	return "local"
}

// HealthChecks lists the dependencies readiness depends on.
func (a *App) HealthChecks() map[string]health.Pinger {
	checks := map[string]health.Pinger{}
	if a.DB != nil {
		checks["database"] = health.PingFunc(a.DB.PingContext)
	}
	if rb, ok := a.Broker.(*redis.RedisBroker); ok {
		checks["redis"] = rb
	}
	return checks
}

func (a *App) Close() {
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Error(err, "failed to close broker")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error(err, "failed to close database")
		}
	}
}

// Rules turns the clinical configuration into escalation priority rules.
// Keywords are validated by config.Validate.
func Rules(c config.ClinicalConfig) workflow.PriorityRules {
	keywords := make(map[string]model.EscalationPriority, len(c.EscalationKeywords))
	for kw, p := range c.EscalationKeywords {
		keywords[strings.ToLower(kw)] = model.EscalationPriority(strings.ToUpper(p))
	}
	return workflow.PriorityRules{
		CriticalVAS: c.CriticalVasLevel,
		HighVAS:     c.HighVasLevel,
		Keywords:    keywords,
	}
}

// Mailboxes keys the configured role mailboxes by role, dropping unknown
// role tags. Tags are matched case-insensitively since viper lowercases keys.
func Mailboxes(in map[string]string) map[model.Role]string {
	out := make(map[model.Role]string, len(in))
	for tag, addr := range in {
		role, err := model.ParseRole(strings.ToUpper(tag))
		if err != nil || addr == "" {
			continue
		}
		out[role] = addr
	}
	return out
}

// NewLogger builds the process logger from the log section.
func NewLogger(c config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(c.Level),
		TimeFormat: time.RFC3339,
		JSON:       c.JSON,
	})
}
