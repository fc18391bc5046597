package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/messaging"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
	"github.com/jwalitptl/painmgmt-api/pkg/repository"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries is how many polls an entry survives before it is marked
	// failed for good.
	MaxRetries int
}

// OutboxProcessor republishes notifications that could not be delivered
// when they were raised.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process outbox")
			}
		}
	}
}

// ProcessBatch replays one batch of due entries.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
		defer timer.ObserveDuration()
	}

	entries, err := p.repo.GetPending(ctx, p.config.BatchSize, p.now())
	p.metrics.DBOperation("outbox_get_pending", err)
	if err != nil {
		return fmt.Errorf("failed to get pending entries: %w", err)
	}

	for _, entry := range entries {
		if err := p.processEntry(ctx, entry); err != nil {
			p.logger.Error(err, "Failed to process outbox entry",
				"entry_id", entry.ID.String(),
				"channel", entry.Channel)
			continue
		}
	}

	if p.metrics != nil {
		if n, err := p.repo.CountPending(ctx); err == nil {
			p.metrics.OutboxQueueSize.Set(float64(n))
		}
	}
	return nil
}

func (p *OutboxProcessor) processEntry(ctx context.Context, entry *model.OutboxEntry) error {
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, entry.Channel, entry.Payload)
	})

	if err != nil {
		errStr := err.Error()
		status := model.OutboxStatusRetry
		var retryAt *time.Time
		if entry.RetryCount+1 >= p.config.MaxRetries {
			status = model.OutboxStatusFailed
			if p.metrics != nil {
				p.metrics.OutboxEventsFailed.Inc()
			}
		} else {
			at := p.now().Add(backoff(p.config.RetryDelay, entry.RetryCount))
			retryAt = &at
			if p.metrics != nil {
				p.metrics.OutboxRetries.WithLabelValues(entry.Channel).Inc()
			}
		}
		if updateErr := p.repo.UpdateStatus(ctx, entry.ID, status, &errStr, retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update entry status", "entry_id", entry.ID.String())
		}
		return err
	}

	if p.metrics != nil {
		p.metrics.OutboxEventsProcessed.Inc()
	}
	if err := p.repo.UpdateStatus(ctx, entry.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		p.logger.Error(err, "Failed to update entry status", "entry_id", entry.ID.String())
		return err
	}

	return nil
}

// backoff doubles the base delay per previous failure, capped at an hour.
func backoff(base time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// Helper retry function
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
