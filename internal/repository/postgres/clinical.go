package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

const snapshotColumns = `id, patient_id, height_cm, weight_kg, gfr, renal_stage, child_pugh,
	platelets, wbc, saturation, sodium, recorded_at, author_id`

type snapshotRepository struct {
	q sqlx.ExtContext
}

func (r *snapshotRepository) Append(ctx context.Context, s *model.ClinicalSnapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
		INSERT INTO clinical_snapshots (` + snapshotColumns + `)
		VALUES (:id, :patient_id, :height_cm, :weight_kg, :gfr, :renal_stage, :child_pugh,
			:platelets, :wbc, :saturation, :sodium, :recorded_at, :author_id)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, s); err != nil {
		return fmt.Errorf("failed to append clinical snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) Latest(ctx context.Context, patientID uuid.UUID) (*model.ClinicalSnapshot, error) {
	var s model.ClinicalSnapshot
	query := `SELECT ` + snapshotColumns + ` FROM clinical_snapshots
		WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT 1`
	if err := sqlx.GetContext(ctx, r.q, &s, query, patientID); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *snapshotRepository) List(ctx context.Context, patientID uuid.UUID) ([]*model.ClinicalSnapshot, error) {
	var out []*model.ClinicalSnapshot
	query := `SELECT ` + snapshotColumns + ` FROM clinical_snapshots
		WHERE patient_id = $1 ORDER BY recorded_at`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list clinical snapshots: %w", err)
	}
	return out, nil
}

const painColumns = `id, patient_id, vas, site, recorded_at, author_id`

type painRepository struct {
	q sqlx.ExtContext
}

func (r *painRepository) Append(ctx context.Context, o *model.PainObservation) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	query := `
		INSERT INTO pain_observations (` + painColumns + `)
		VALUES (:id, :patient_id, :vas, :site, :recorded_at, :author_id)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, o); err != nil {
		return fmt.Errorf("failed to append pain observation: %w", err)
	}
	return nil
}

func (r *painRepository) Latest(ctx context.Context, patientID uuid.UUID) (*model.PainObservation, error) {
	var o model.PainObservation
	query := `SELECT ` + painColumns + ` FROM pain_observations
		WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT 1`
	if err := sqlx.GetContext(ctx, r.q, &o, query, patientID); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *painRepository) History(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*model.PainObservation, error) {
	var out []*model.PainObservation
	query := `SELECT ` + painColumns + ` FROM pain_observations
		WHERE patient_id = $1 AND recorded_at >= $2 ORDER BY recorded_at`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, patientID, since); err != nil {
		return nil, fmt.Errorf("failed to load pain history: %w", err)
	}
	return out, nil
}

func (r *painRepository) PatientsWithPainSince(ctx context.Context, minVAS int, since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT DISTINCT patient_id FROM pain_observations
		WHERE vas >= $1 AND recorded_at >= $2 ORDER BY patient_id`
	if err := sqlx.SelectContext(ctx, r.q, &ids, query, minVAS, since); err != nil {
		return nil, fmt.Errorf("failed to list patients in pain: %w", err)
	}
	return ids, nil
}

func (r *painRepository) StaleLatest(ctx context.Context, minVAS int, before time.Time) ([]*model.PainObservation, error) {
	var out []*model.PainObservation
	query := `
		SELECT ` + painColumns + ` FROM (
			SELECT DISTINCT ON (patient_id) ` + painColumns + `
			FROM pain_observations
			ORDER BY patient_id, recorded_at DESC
		) latest
		WHERE vas >= $1 AND recorded_at < $2
		ORDER BY recorded_at
	`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, minVAS, before); err != nil {
		return nil, fmt.Errorf("failed to list stale pain observations: %w", err)
	}
	return out, nil
}
