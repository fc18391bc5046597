package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

const patientColumns = `id, mrn, full_name, age_years, sensitivities, diagnoses, created_at, updated_at`

type patientRepository struct {
	q sqlx.ExtContext
}

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES (:id, :mrn, :full_name, :age_years, :sensitivities, :diagnoses, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, p); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &p, query, id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepository) List(ctx context.Context) ([]*model.Patient, error) {
	var patients []*model.Patient
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, r.q, &patients, query); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// Lock takes a row lock on the patient. Inside a transaction it serialises
// patient-scoped writes across every process sharing the database.
func (r *patientRepository) Lock(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	query := `SELECT id FROM patients WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.q, &locked, query, id); err != nil {
		return notFound(err)
	}
	return nil
}
