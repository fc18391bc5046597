package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// Repositories return errors.ErrRecordNotFound when a lookup misses and
// errors.ErrStaleVersion when an optimistic update lost a race.
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		List(ctx context.Context) ([]*model.Patient, error)
		// Lock holds the patient until the surrounding transaction ends.
		Lock(ctx context.Context, id uuid.UUID) error
	}

	// SnapshotRepository is the append-only EMR history of a patient.
	SnapshotRepository interface {
		Append(ctx context.Context, snapshot *model.ClinicalSnapshot) error
		Latest(ctx context.Context, patientID uuid.UUID) (*model.ClinicalSnapshot, error)
		List(ctx context.Context, patientID uuid.UUID) ([]*model.ClinicalSnapshot, error)
	}

	PainRepository interface {
		Append(ctx context.Context, obs *model.PainObservation) error
		Latest(ctx context.Context, patientID uuid.UUID) (*model.PainObservation, error)
		// History is ordered oldest first. A zero since returns everything.
		History(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*model.PainObservation, error)
		// PatientsWithPainSince lists patients with any VAS >= minVAS recorded after since.
		PatientsWithPainSince(ctx context.Context, minVAS int, since time.Time) ([]uuid.UUID, error)
		// StaleLatest returns each patient's latest observation when it is
		// >= minVAS and was recorded before the cutoff.
		StaleLatest(ctx context.Context, minVAS int, before time.Time) ([]*model.PainObservation, error)
	}

	RecommendationRepository interface {
		// Create assigns the next sequence number in the patient's history.
		Create(ctx context.Context, rec *model.Recommendation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Recommendation, error)
		// Update succeeds only when rec.Version matches the stored version,
		// and increments it.
		Update(ctx context.Context, rec *model.Recommendation) error
		// History is ordered by sequence.
		History(ctx context.Context, patientID uuid.UUID) ([]*model.Recommendation, error)
		ListByStatus(ctx context.Context, patientID uuid.UUID, statuses ...model.RecommendationStatus) ([]*model.Recommendation, error)
		Current(ctx context.Context, patientID uuid.UUID) (*model.Recommendation, error)
		SetCurrent(ctx context.Context, patientID, recommendationID uuid.UUID) error
	}

	EscalationRepository interface {
		Create(ctx context.Context, esc *model.Escalation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Escalation, error)
		GetByRecommendation(ctx context.Context, recommendationID uuid.UUID) (*model.Escalation, error)
		Update(ctx context.Context, esc *model.Escalation) error
		List(ctx context.Context, filter model.EscalationFilter) ([]*model.Escalation, error)
	}

	// DoseRepository is the append-only administration ledger.
	DoseRepository interface {
		Append(ctx context.Context, dose *model.DoseAdministration) error
		Latest(ctx context.Context, patientID uuid.UUID) (*model.DoseAdministration, error)
		List(ctx context.Context, patientID uuid.UUID) ([]*model.DoseAdministration, error)
	}

	// OutboxRepository parks notifications whose delivery failed.
	OutboxRepository interface {
		Create(ctx context.Context, entry *model.OutboxEntry) error
		GetPending(ctx context.Context, limit int, now time.Time) ([]*model.OutboxEntry, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
		CountPending(ctx context.Context) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Store groups the repositories. InTx runs fn against a Store whose
	// writes commit together or not at all; nested calls join the outer
	// transaction.
	Store interface {
		Patients() PatientRepository
		Snapshots() SnapshotRepository
		Pain() PainRepository
		Recommendations() RecommendationRepository
		Escalations() EscalationRepository
		Doses() DoseRepository
		Outbox() OutboxRepository
		InTx(ctx context.Context, fn func(tx Store) error) error
	}
)
