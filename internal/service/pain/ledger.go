package pain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
	"github.com/jwalitptl/painmgmt-api/pkg/validator"
)

// Ledger records dose administrations and enforces the minimum interval
// between two doses.
type Ledger struct {
	lifecycle *workflow.Lifecycle
	store     repository.Store
	interval  time.Duration
	validate  validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewLedger(lifecycle *workflow.Lifecycle, store repository.Store, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{
		lifecycle: lifecycle,
		store:     store,
		interval:  interval,
		validate:  validator.New(),
		logger:    log,
		metrics:   m,
	}
}

func (l *Ledger) Interval() time.Duration { return l.interval }

// RegisterDose appends dose to the ledger. A linked recommendation must be
// APPROVED or EXECUTED and is marked EXECUTED in the same transaction.
func (l *Ledger) RegisterDose(ctx context.Context, dose *model.DoseAdministration, actor model.Actor) (*model.DoseAdministration, error) {
	if actor.Role != model.RoleNurse {
		return nil, errors.Forbidden("role %s cannot register doses", actor.Role)
	}
	if dose == nil {
		return nil, errors.Validation("dose is required")
	}
	if err := l.validate.Validate(dose); err != nil {
		return nil, errors.Validation("invalid dose: %v", err)
	}

	var out *model.DoseAdministration
	err := l.lifecycle.Run(ctx, dose.PatientID, func(op *workflow.Op) error {
		if _, err := op.Patient(); err != nil {
			return err
		}
		d := dose.Clone()
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if d.AdministeredAt.IsZero() {
			d.AdministeredAt = op.Now()
		}
		d.AdministeredAt = d.AdministeredAt.UTC()
		if d.AdministeredAt.After(op.Now()) {
			return errors.Validation("administration time %s is in the future", d.AdministeredAt.Format(time.RFC3339))
		}

		last, err := op.Tx().Doses().Latest(op.Context(), d.PatientID)
		switch {
		case err == nil:
			if d.AdministeredAt.Before(last.NextDoseAllowedAt) {
				l.metrics.Dose("refused")
				return errors.InvalidState("next dose allowed at %s", last.NextDoseAllowedAt.Format(time.RFC3339))
			}
		case !errors.IsRecordNotFound(err):
			return errors.FromRepo("dose", err)
		}

		if d.RecommendationID != nil {
			if err := l.executeRecommendation(op, *d.RecommendationID, actor); err != nil {
				return err
			}
		}

		d.AdministeredBy = actor.ID
		d.NextDoseAllowedAt = d.AdministeredAt.Add(l.interval)
		d.CreatedAt = op.Now()
		if err := op.Tx().Doses().Append(op.Context(), d); err != nil {
			return errors.FromRepo("dose", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.Dose("registered")
	l.logger.Info("dose registered",
		"patient_id", out.PatientID.String(),
		"drug", out.DrugName,
		"next_dose_allowed_at", out.NextDoseAllowedAt)
	return out, nil
}

func (l *Ledger) executeRecommendation(op *workflow.Op, id uuid.UUID, actor model.Actor) error {
	rec, err := op.Tx().Recommendations().Get(op.Context(), id)
	if err != nil {
		return errors.FromRepo("recommendation", err)
	}
	if rec.PatientID != op.PatientID() {
		return errors.Validation("recommendation %s belongs to another patient", id)
	}
	switch rec.Status {
	case model.RecommendationStatusExecuted:
		return nil
	case model.RecommendationStatusApproved:
		_, err := op.MarkExecuted(id, actor)
		return err
	default:
		return errors.InvalidState("recommendation %s is %s, not approved", id, rec.Status)
	}
}

// CanAdminister reports whether a dose may be given at now. A patient with
// no recorded dose may always receive one.
func (l *Ledger) CanAdminister(ctx context.Context, patientID uuid.UUID, now time.Time) (bool, error) {
	st, err := l.Status(ctx, patientID, now)
	if err != nil {
		return false, err
	}
	return st.CanAdminister, nil
}

func (l *Ledger) Status(ctx context.Context, patientID uuid.UUID, now time.Time) (*model.DoseStatus, error) {
	st := &model.DoseStatus{PatientID: patientID, CanAdminister: true}
	last, err := l.store.Doses().Latest(ctx, patientID)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return st, nil
		}
		return nil, errors.FromRepo("dose", err)
	}
	next := last.NextDoseAllowedAt
	st.LastDose = last
	st.NextDoseAllowedAt = &next
	st.CanAdminister = !now.Before(next)
	if !st.CanAdminister {
		st.Remaining = next.Sub(now)
	}
	return st, nil
}

func (l *Ledger) History(ctx context.Context, patientID uuid.UUID) ([]*model.DoseAdministration, error) {
	doses, err := l.store.Doses().List(ctx, patientID)
	if err != nil {
		return nil, errors.FromRepo("doses", err)
	}
	return doses, nil
}
