// Package notification delivers workflow notifications to role and user
// channels. Delivery is best effort: failures are logged, counted and parked
// in the outbox, never returned to the caller.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/painmgmt-api/internal/email"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/messaging"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
)

const (
	transportPubSub = "pubsub"
	transportEmail  = "email"
)

type Config struct {
	// ThrottleWindow suppresses a repeated alert kind for one patient.
	ThrottleWindow time.Duration
	// Mailboxes receive CRITICAL notifications per target role.
	Mailboxes map[model.Role]string
}

type Service struct {
	broker    messaging.Broker
	outbox    repository.OutboxRepository
	emailSvc  email.Service
	throttle  *cache.Cache
	mailboxes map[model.Role]string
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService wires the sink. emailSvc may be nil when SMTP is disabled.
func NewService(broker messaging.Broker, outbox repository.OutboxRepository, emailSvc email.Service, cfg Config, log *logger.Logger, m *metrics.Metrics) *Service {
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		broker:    broker,
		outbox:    outbox,
		emailSvc:  emailSvc,
		throttle:  cache.New(window, 2*window),
		mailboxes: cfg.Mailboxes,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// Notify publishes n on its channel and mails CRITICAL notifications to the
// role mailbox.
func (s *Service) Notify(ctx context.Context, n *model.Notification) {
	if n == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"notification_id": n.ID.String(),
		"type":            string(n.Type),
		"channel":         n.Channel(),
	})

	s.publish(ctx, n, log)
	if n.Priority == model.PriorityCritical {
		s.mail(ctx, n, log)
	}
}

// NotifyOnce delivers n unless an alert of the same kind was sent for the
// patient inside the throttle window. It reports whether n was delivered.
func (s *Service) NotifyOnce(ctx context.Context, n *model.Notification, kind string) bool {
	key := fmt.Sprintf("%s:%s:%s", n.PatientID, n.Type, kind)
	if err := s.throttle.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		s.metrics.NotificationThrottled(string(n.Type))
		s.logger.Debug("notification throttled", "key", key)
		return false
	}
	s.Notify(ctx, n)
	return true
}

func (s *Service) publish(ctx context.Context, n *model.Notification, log *logger.Logger) {
	payload, err := messaging.Encode(string(n.Type), n)
	if err != nil {
		s.metrics.NotificationFailed(transportPubSub, string(n.Type))
		log.Error(err, "failed to encode notification")
		return
	}

	err = s.broker.Publish(ctx, n.Channel(), payload)
	if err == nil {
		s.metrics.NotificationSent(transportPubSub, string(n.Type))
		return
	}

	s.metrics.NotificationFailed(transportPubSub, string(n.Type))
	log.Error(err, "failed to publish notification, parking in outbox")

	msg := err.Error()
	entry := &model.OutboxEntry{
		Channel:      n.Channel(),
		Payload:      payload,
		Status:       model.OutboxStatusPending,
		ErrorMessage: &msg,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.outbox.Create(context.WithoutCancel(ctx), entry); err != nil {
		log.Error(err, "failed to park notification in outbox")
	}
}

func (s *Service) mail(ctx context.Context, n *model.Notification, log *logger.Logger) {
	if s.emailSvc == nil {
		return
	}
	to := s.mailboxes[n.TargetRole]
	if to == "" {
		return
	}

	subject := fmt.Sprintf("[%s] %s", n.Priority, n.Title)
	body := fmt.Sprintf("Patient: %s (%s)\n\n%s\n", n.PatientName, n.PatientID, n.Message)
	if n.RequiresAction {
		body += "\nAction required.\n"
	}
	if err := s.emailSvc.SendCustom(ctx, to, subject, body); err != nil {
		s.metrics.NotificationFailed(transportEmail, string(n.Type))
		log.Error(err, "failed to mail critical notification", "to", to)
		return
	}
	s.metrics.NotificationSent(transportEmail, string(n.Type))
}
