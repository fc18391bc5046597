// Package worker runs the scheduled clinical sweeps.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/internal/service/clinical"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
)

const (
	SweepPain    = "pain"
	SweepOverdue = "overdue"
	SweepSummary = "summary"
)

type (
	Reassessor interface {
		Reassess(ctx context.Context, patientID uuid.UUID) (*clinical.Reassessment, error)
	}

	DoseChecker interface {
		CanAdminister(ctx context.Context, patientID uuid.UUID, now time.Time) (bool, error)
	}

	Summarizer interface {
		Summary(ctx context.Context, now time.Time) (*model.EscalationSummary, error)
	}

	// AlertSender delivers at most one alert per patient and kind inside its
	// throttle window.
	AlertSender interface {
		NotifyOnce(ctx context.Context, n *model.Notification, kind string) bool
	}
)

type SweepConfig struct {
	PainInterval    time.Duration
	PainMinVAS      int
	PainLookback    time.Duration
	OverdueInterval time.Duration
	OverdueMinVAS   int
	OverdueAfter    time.Duration
	SummaryInterval time.Duration
	// PatientTimeout bounds the work done for one patient.
	PatientTimeout time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		PainInterval:    15 * time.Minute,
		PainMinVAS:      6,
		PainLookback:    2 * time.Hour,
		OverdueInterval: time.Hour,
		OverdueMinVAS:   5,
		OverdueAfter:    6 * time.Hour,
		SummaryInterval: 24 * time.Hour,
		PatientTimeout:  30 * time.Second,
	}
}

// SweepReport summarises one sweep run.
type SweepReport struct {
	Name     string        `json:"name"`
	Patients int           `json:"patients"`
	Alerts   int           `json:"alerts"`
	Failures int           `json:"failures"`
	Elapsed  time.Duration `json:"elapsed"`
}

type Sweeper struct {
	store       repository.Store
	clinical    Reassessor
	doses       DoseChecker
	escalations Summarizer
	alerts      AlertSender
	config      SweepConfig
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewSweeper(
	store repository.Store,
	clinical Reassessor,
	doses DoseChecker,
	escalations Summarizer,
	alerts AlertSender,
	config SweepConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Sweeper {
	def := DefaultSweepConfig()
	if config.PainInterval <= 0 {
		config.PainInterval = def.PainInterval
	}
	if config.PainMinVAS <= 0 {
		config.PainMinVAS = def.PainMinVAS
	}
	if config.PainLookback <= 0 {
		config.PainLookback = def.PainLookback
	}
	if config.OverdueInterval <= 0 {
		config.OverdueInterval = def.OverdueInterval
	}
	if config.OverdueMinVAS <= 0 {
		config.OverdueMinVAS = def.OverdueMinVAS
	}
	if config.OverdueAfter <= 0 {
		config.OverdueAfter = def.OverdueAfter
	}
	if config.SummaryInterval <= 0 {
		config.SummaryInterval = def.SummaryInterval
	}
	if config.PatientTimeout <= 0 {
		config.PatientTimeout = def.PatientTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		store:       store,
		clinical:    clinical,
		doses:       doses,
		escalations: escalations,
		alerts:      alerts,
		config:      config,
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
}

// WithClock overrides the time source, used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start runs the three sweeps on their own schedules until ctx is done. A
// sweep already running when ctx ends completes before Start returns.
func (s *Sweeper) Start(ctx context.Context) {
	pain := time.NewTicker(s.config.PainInterval)
	defer pain.Stop()
	overdue := time.NewTicker(s.config.OverdueInterval)
	defer overdue.Stop()
	summary := time.NewTicker(s.config.SummaryInterval)
	defer summary.Stop()

	s.logger.Info("Starting clinical sweeps",
		"pain_interval", s.config.PainInterval.String(),
		"overdue_interval", s.config.OverdueInterval.String(),
		"summary_interval", s.config.SummaryInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping clinical sweeps")
			return
		case <-pain.C:
			if _, err := s.PainSweep(ctx); err != nil {
				s.logger.Error(err, "pain sweep failed")
			}
		case <-overdue.C:
			if _, err := s.OverdueSweep(ctx); err != nil {
				s.logger.Error(err, "overdue sweep failed")
			}
		case <-summary.C:
			if _, err := s.DailySummary(ctx); err != nil {
				s.logger.Error(err, "escalation summary failed")
			}
		}
	}
}

// Run executes one sweep by name, for the operator CLI.
func (s *Sweeper) Run(ctx context.Context, name string) (*SweepReport, error) {
	switch name {
	case SweepPain:
		return s.PainSweep(ctx)
	case SweepOverdue:
		return s.OverdueSweep(ctx)
	case SweepSummary:
		started := s.now()
		sum, err := s.DailySummary(ctx)
		if err != nil {
			return nil, err
		}
		return &SweepReport{Name: SweepSummary, Patients: sum.Total, Elapsed: s.now().Sub(started)}, nil
	}
	return nil, fmt.Errorf("unknown sweep %q", name)
}

// PainSweep re-assesses every patient with a recent high VAS. HIGH and
// CRITICAL trends escalate a PENDING recommendation that has none yet; any
// required escalation pages the doctors once per throttle window.
func (s *Sweeper) PainSweep(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	ids, err := s.store.Pain().PatientsWithPainSince(ctx, s.config.PainMinVAS, now.Add(-s.config.PainLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to list patients in pain: %w", err)
	}

	report := s.forEach(ctx, SweepPain, ids, func(ctx context.Context, patientID uuid.UUID) (bool, error) {
		res, err := s.clinical.Reassess(ctx, patientID)
		if err != nil {
			return false, err
		}
		a := res.Assessment
		if !a.EscalationRequired {
			return false, nil
		}
		return s.alerts.NotifyOnce(ctx, &model.Notification{
			ID:             uuid.New(),
			Type:           model.NotificationPainAlert,
			Priority:       a.Priority,
			PatientID:      patientID,
			PatientName:    s.patientName(ctx, patientID),
			Title:          fmt.Sprintf("%s pain alert", a.Priority),
			Message:        a.Reason,
			TargetRole:     model.RoleDoctor,
			RequiresAction: true,
		}, SweepPain), nil
	})
	return report, nil
}

// OverdueSweep reminds nurses about patients whose last VAS is high and old
// and who may receive a dose now.
func (s *Sweeper) OverdueSweep(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	stale, err := s.store.Pain().StaleLatest(ctx, s.config.OverdueMinVAS, now.Add(-s.config.OverdueAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue patients: %w", err)
	}

	latest := make(map[uuid.UUID]*model.PainObservation, len(stale))
	ids := make([]uuid.UUID, 0, len(stale))
	for _, obs := range stale {
		latest[obs.PatientID] = obs
		ids = append(ids, obs.PatientID)
	}

	report := s.forEach(ctx, SweepOverdue, ids, func(ctx context.Context, patientID uuid.UUID) (bool, error) {
		ok, err := s.doses.CanAdminister(ctx, patientID, now)
		if err != nil || !ok {
			return false, err
		}
		obs := latest[patientID]
		return s.alerts.NotifyOnce(ctx, &model.Notification{
			ID:          uuid.New(),
			Type:        model.NotificationDoseOverdue,
			Priority:    model.PriorityMedium,
			PatientID:   patientID,
			PatientName: s.patientName(ctx, patientID),
			Title:       "Pain reassessment overdue",
			Message: fmt.Sprintf("Last VAS %d recorded %s ago; patient may receive a dose",
				obs.VAS, now.Sub(obs.RecordedAt).Truncate(time.Minute)),
			TargetRole:     model.RoleNurse,
			RequiresAction: true,
		}, SweepOverdue), nil
	})
	return report, nil
}

// DailySummary logs the open escalation report. The manager exports the
// per-priority gauges.
func (s *Sweeper) DailySummary(ctx context.Context) (*model.EscalationSummary, error) {
	started := s.now()
	sum, err := s.escalations.Summary(ctx, started.UTC())
	if err != nil {
		s.metrics.Sweep(SweepSummary, started, 1)
		return nil, fmt.Errorf("failed to build escalation summary: %w", err)
	}
	s.metrics.Sweep(SweepSummary, started, 0)

	fields := map[string]interface{}{"total": sum.Total}
	for p, n := range sum.ByPriority {
		fields["priority_"+string(p)] = n
	}
	for b, n := range sum.ByAge {
		fields["age_"+b] = n
	}
	if sum.Oldest != nil {
		fields["oldest"] = sum.Oldest.Format(time.RFC3339)
	}
	s.logger.WithFields(fields).Info("escalation summary")
	return sum, nil
}

// forEach runs fn for every patient. A failing or panicking patient is
// logged and counted. Once started the sweep is not cancellable and always
// reaches the end of ids; only the per-patient timeout bounds a step.
func (s *Sweeper) forEach(ctx context.Context, name string, ids []uuid.UUID, fn func(ctx context.Context, patientID uuid.UUID) (bool, error)) *SweepReport {
	started := s.now()
	report := &SweepReport{Name: name}

	for _, id := range ids {
		report.Patients++
		alerted, err := s.safely(ctx, id, fn)
		if err != nil {
			report.Failures++
			s.logger.Error(err, "sweep step failed", "sweep", name, "patient_id", id.String())
			continue
		}
		if alerted {
			report.Alerts++
		}
	}

	report.Elapsed = s.now().Sub(started)
	s.metrics.Sweep(name, started, report.Failures)
	s.logger.Info("sweep completed",
		"sweep", name,
		"patients", report.Patients,
		"alerts", report.Alerts,
		"failures", report.Failures)
	return report
}

func (s *Sweeper) safely(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context, patientID uuid.UUID) (bool, error)) (alerted bool, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PatientTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, patientID)
}

func (s *Sweeper) patientName(ctx context.Context, id uuid.UUID) string {
	p, err := s.store.Patients().Get(ctx, id)
	if err != nil {
		return ""
	}
	return p.FullName
}
