// Package clinical is the intake side of the engine: pain observations and
// EMR snapshots enter here and drive recommendation generation.
package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/internal/service/emr"
	"github.com/jwalitptl/painmgmt-api/internal/service/matcher"
	"github.com/jwalitptl/painmgmt-api/internal/service/pain"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
	"github.com/jwalitptl/painmgmt-api/pkg/validator"
)

type Service struct {
	lifecycle *workflow.Lifecycle
	store     repository.Store
	generator emr.Generator
	detector  *pain.Detector
	watcher   *emr.Watcher
	validate  validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewService(
	lifecycle *workflow.Lifecycle,
	store repository.Store,
	generator emr.Generator,
	detector *pain.Detector,
	watcher *emr.Watcher,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		lifecycle: lifecycle,
		store:     store,
		generator: generator,
		detector:  detector,
		watcher:   watcher,
		validate:  validator.New(),
		logger:    log,
		metrics:   m,
	}
}

// PainResult is what recording one VAS reading caused.
type PainResult struct {
	Observation    *model.PainObservation `json:"observation"`
	Assessment     pain.Assessment        `json:"assessment"`
	Recommendation *model.Recommendation  `json:"recommendation,omitempty"`
	Escalation     *model.Escalation      `json:"escalation,omitempty"`
}

type SnapshotResult struct {
	Snapshot *model.ClinicalSnapshot `json:"snapshot"`
	Outcome  *emr.Outcome            `json:"outcome,omitempty"`
}

func clinician(actor model.Actor) error {
	switch actor.Role {
	case model.RoleNurse, model.RoleDoctor, model.RoleAnesthesiologist:
		return nil
	}
	return errors.Forbidden("role %s cannot record clinical data", actor.Role)
}

// RecordPain appends obs and assesses the trend. When escalation is required
// a fresh recommendation is generated from the new VAS; HIGH and CRITICAL
// ones go straight to the anesthesiologist.
func (s *Service) RecordPain(ctx context.Context, obs *model.PainObservation, actor model.Actor) (*PainResult, error) {
	if err := clinician(actor); err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, errors.Validation("pain observation is required")
	}
	if err := s.validate.Validate(obs); err != nil {
		return nil, errors.Validation("invalid pain observation: %v", err)
	}

	res := &PainResult{}
	err := s.lifecycle.Run(ctx, obs.PatientID, func(op *workflow.Op) error {
		patient, err := op.Patient()
		if err != nil {
			return err
		}
		o := obs.Clone()
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.RecordedAt.IsZero() {
			o.RecordedAt = op.Now()
		}
		o.RecordedAt = o.RecordedAt.UTC()
		o.AuthorID = actor.ID
		if err := op.Tx().Pain().Append(op.Context(), o); err != nil {
			return errors.FromRepo("pain observation", err)
		}
		res.Observation = o

		history, err := op.Tx().Pain().History(op.Context(), o.PatientID, time.Time{})
		if err != nil {
			return errors.FromRepo("pain history", err)
		}
		res.Assessment = s.detector.Assess(history, op.Now())
		if !res.Assessment.EscalationRequired {
			return nil
		}
		// A back-dated reading that is not the latest does not regenerate.
		if res.Assessment.ObservationID != o.ID {
			return nil
		}
		s.metrics.PainAlert(string(res.Assessment.Priority))

		if held, esc, err := s.openEscalation(op, o, res.Assessment); err != nil {
			return err
		} else if held != nil {
			res.Recommendation, res.Escalation = held, esc
			return nil
		}

		rec, err := s.regenerate(op, patient, o)
		if err != nil {
			return err
		}
		res.Recommendation = rec

		if res.Assessment.Priority.AtLeast(model.PriorityHigh) {
			rec, esc, err := op.AutoEscalate(rec.ID, model.EscalationSourcePainAlert, res.Assessment.Priority, res.Assessment.Reason)
			if err != nil {
				return err
			}
			res.Recommendation, res.Escalation = rec, esc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// openEscalation returns the live current recommendation and its open
// escalation when the new reading falls in the same pain bucket. Such a
// reading does not regenerate; it can only raise the escalation priority.
func (s *Service) openEscalation(op *workflow.Op, obs *model.PainObservation, a pain.Assessment) (*model.Recommendation, *model.Escalation, error) {
	cur, err := op.Tx().Recommendations().Current(op.Context(), obs.PatientID)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.FromRepo("recommendation", err)
	}
	if !cur.IsActive() || cur.PainBucket != catalog.Bucket(obs.VAS) {
		return nil, nil, nil
	}
	esc, err := op.Tx().Escalations().GetByRecommendation(op.Context(), cur.ID)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.FromRepo("escalation", err)
	}
	if !esc.Status.IsOpen() {
		return nil, nil, nil
	}

	esc, raised, err := op.RaiseEscalation(esc.ID, a.Priority, a.Reason)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("pain alert folded into open escalation",
		"patient_id", obs.PatientID.String(),
		"escalation_id", esc.ID.String(),
		"raised", raised)
	return cur, esc, nil
}

func (s *Service) regenerate(op *workflow.Op, patient *model.Patient, obs *model.PainObservation) (*model.Recommendation, error) {
	snap, err := op.Tx().Snapshots().Latest(op.Context(), patient.ID)
	if err != nil {
		if !errors.IsRecordNotFound(err) {
			return nil, errors.FromRepo("clinical snapshot", err)
		}
		snap = nil
	}
	route := ""
	if cur, err := op.Tx().Recommendations().Current(op.Context(), patient.ID); err == nil {
		route = cur.Route
	}

	rec := s.generator.Generate(matcher.Input{Patient: patient, Snapshot: snap, Pain: obs, Route: route})
	return op.Create(rec, model.SystemActor())
}

// RecordSnapshot appends snap and hands the previous and new reading to the
// EMR watcher. A back-dated snapshot is stored without side effects.
func (s *Service) RecordSnapshot(ctx context.Context, snap *model.ClinicalSnapshot, actor model.Actor) (*SnapshotResult, error) {
	if err := clinician(actor); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.Validation("clinical snapshot is required")
	}
	if err := s.validate.Validate(snap); err != nil {
		return nil, errors.Validation("invalid clinical snapshot: %v", err)
	}

	res := &SnapshotResult{}
	err := s.lifecycle.Run(ctx, snap.PatientID, func(op *workflow.Op) error {
		if _, err := op.Patient(); err != nil {
			return err
		}
		old, err := op.Tx().Snapshots().Latest(op.Context(), snap.PatientID)
		if err != nil {
			if !errors.IsRecordNotFound(err) {
				return errors.FromRepo("clinical snapshot", err)
			}
			old = nil
		}

		next := snap.Clone()
		if next.ID == uuid.Nil {
			next.ID = uuid.New()
		}
		if next.RecordedAt.IsZero() {
			next.RecordedAt = op.Now()
		}
		next.RecordedAt = next.RecordedAt.UTC()
		next.AuthorID = actor.ID
		if err := op.Tx().Snapshots().Append(op.Context(), next); err != nil {
			return errors.FromRepo("clinical snapshot", err)
		}
		res.Snapshot = next

		if old != nil && next.RecordedAt.Before(old.RecordedAt) {
			s.logger.Info("back-dated clinical snapshot stored", "patient_id", next.PatientID.String())
			return nil
		}
		res.Outcome, err = s.watcher.Apply(op, old, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GenerateInitial creates a recommendation from the latest VAS and snapshot.
// It refuses while the patient still has an active recommendation.
func (s *Service) GenerateInitial(ctx context.Context, patientID uuid.UUID, startLine int, route string, actor model.Actor) (*model.Recommendation, error) {
	if actor.Role != model.RoleDoctor && actor.Role != model.RoleSystem {
		return nil, errors.Forbidden("role %s cannot generate recommendations", actor.Role)
	}
	if startLine < 0 {
		return nil, errors.Validation("start line must not be negative")
	}

	var out *model.Recommendation
	err := s.lifecycle.Run(ctx, patientID, func(op *workflow.Op) error {
		patient, err := op.Patient()
		if err != nil {
			return err
		}
		if cur, err := op.Tx().Recommendations().Current(op.Context(), patientID); err == nil && cur.IsActive() {
			return errors.InvalidState("patient already has an active recommendation %s", cur.ID)
		} else if err != nil && !errors.IsRecordNotFound(err) {
			return errors.FromRepo("recommendation", err)
		}

		obs, err := op.Tx().Pain().Latest(op.Context(), patientID)
		if err != nil {
			if errors.IsRecordNotFound(err) {
				return errors.Validation("no pain observation recorded for patient %s", patientID)
			}
			return errors.FromRepo("pain observation", err)
		}
		snap, err := op.Tx().Snapshots().Latest(op.Context(), patientID)
		if err != nil {
			if !errors.IsRecordNotFound(err) {
				return errors.FromRepo("clinical snapshot", err)
			}
			snap = nil
		}

		rec := s.generator.Generate(matcher.Input{
			Patient:   patient,
			Snapshot:  snap,
			Pain:      obs,
			StartLine: startLine,
			Route:     route,
		})
		out, err = op.Create(rec, actor)
		return err
	})
	return out, err
}

// Reassessment is the outcome of a scheduled re-check of one patient.
type Reassessment struct {
	Assessment pain.Assessment   `json:"assessment"`
	Escalation *model.Escalation `json:"escalation,omitempty"`
}

// Reassess re-runs the trend check. A HIGH or CRITICAL result escalates a
// PENDING current recommendation that has no escalation yet; existing
// escalations are left untouched.
func (s *Service) Reassess(ctx context.Context, patientID uuid.UUID) (*Reassessment, error) {
	res := &Reassessment{}
	err := s.lifecycle.Run(ctx, patientID, func(op *workflow.Op) error {
		a, err := s.detector.AssessPatient(op.Context(), op.Tx().Pain(), patientID, op.Now())
		if err != nil {
			return err
		}
		res.Assessment = a
		if !a.EscalationRequired || !a.Priority.AtLeast(model.PriorityHigh) {
			return nil
		}

		cur, err := op.Tx().Recommendations().Current(op.Context(), patientID)
		if err != nil {
			if errors.IsRecordNotFound(err) {
				return nil
			}
			return errors.FromRepo("recommendation", err)
		}
		if cur.Status != model.RecommendationStatusPending || cur.SupersededBy != nil {
			return nil
		}
		if _, err := op.Tx().Escalations().GetByRecommendation(op.Context(), cur.ID); err == nil {
			return nil
		} else if !errors.IsRecordNotFound(err) {
			return errors.FromRepo("escalation", err)
		}

		_, esc, err := op.AutoEscalate(cur.ID, model.EscalationSourcePainAlert, a.Priority, a.Reason)
		if err != nil {
			return err
		}
		res.Escalation = esc
		s.metrics.PainAlert(string(a.Priority))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) PainHistory(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*model.PainObservation, error) {
	history, err := s.store.Pain().History(ctx, patientID, since)
	if err != nil {
		return nil, errors.FromRepo("pain history", err)
	}
	return history, nil
}

func (s *Service) Trend(ctx context.Context, patientID uuid.UUID, now time.Time) (pain.Trend, error) {
	return s.detector.PatientTrend(ctx, s.store.Pain(), patientID, now)
}

func (s *Service) Snapshots(ctx context.Context, patientID uuid.UUID) ([]*model.ClinicalSnapshot, error) {
	snaps, err := s.store.Snapshots().List(ctx, patientID)
	if err != nil {
		return nil, errors.FromRepo("clinical snapshots", err)
	}
	return snaps, nil
}

// AdmitRequest registers a patient with the demographics the matcher reads.
type AdmitRequest struct {
	MRN           string   `json:"mrn" validate:"required,max=64"`
	FullName      string   `json:"full_name" validate:"required,max=200"`
	AgeYears      int      `json:"age_years" validate:"gte=0,lte=130"`
	Sensitivities []string `json:"sensitivities" validate:"omitempty,dive,required"`
	Diagnoses     []string `json:"diagnoses" validate:"omitempty,dive,required"`
}

func (s *Service) Admit(ctx context.Context, req AdmitRequest, actor model.Actor) (*model.Patient, error) {
	if err := clinician(actor); err != nil {
		return nil, err
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, errors.Validation("invalid patient: %v", err)
	}

	p := &model.Patient{
		ID:            uuid.New(),
		MRN:           req.MRN,
		FullName:      req.FullName,
		AgeYears:      req.AgeYears,
		Sensitivities: req.Sensitivities,
		Diagnoses:     req.Diagnoses,
	}
	if err := s.store.Patients().Create(ctx, p); err != nil {
		return nil, errors.FromRepo("patient", err)
	}
	s.logger.WithContext(ctx).Info("patient admitted", "patient_id", p.ID.String(), "actor", actor.String())
	return p, nil
}

func (s *Service) Patient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	p, err := s.store.Patients().Get(ctx, id)
	if err != nil {
		return nil, errors.FromRepo("patient", err)
	}
	return p, nil
}

func (s *Service) Patients(ctx context.Context) ([]*model.Patient, error) {
	list, err := s.store.Patients().List(ctx)
	if err != nil {
		return nil, errors.FromRepo("patients", err)
	}
	return list, nil
}
