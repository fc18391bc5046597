package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

const doseColumns = `id, patient_id, drug_name, amount, unit, route, administered_by, administered_at,
	vas_before, vas_after, recommendation_id, next_dose_allowed_at, created_at`

type doseRepository struct {
	q sqlx.ExtContext
}

func (r *doseRepository) Append(ctx context.Context, d *model.DoseAdministration) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO dose_administrations (` + doseColumns + `)
		VALUES (:id, :patient_id, :drug_name, :amount, :unit, :route, :administered_by, :administered_at,
			:vas_before, :vas_after, :recommendation_id, :next_dose_allowed_at, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, d); err != nil {
		return fmt.Errorf("failed to record dose administration: %w", err)
	}
	return nil
}

func (r *doseRepository) Latest(ctx context.Context, patientID uuid.UUID) (*model.DoseAdministration, error) {
	var d model.DoseAdministration
	query := `SELECT ` + doseColumns + ` FROM dose_administrations
		WHERE patient_id = $1 ORDER BY administered_at DESC LIMIT 1`
	if err := sqlx.GetContext(ctx, r.q, &d, query, patientID); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *doseRepository) List(ctx context.Context, patientID uuid.UUID) ([]*model.DoseAdministration, error) {
	var out []*model.DoseAdministration
	query := `SELECT ` + doseColumns + ` FROM dose_administrations
		WHERE patient_id = $1 ORDER BY administered_at`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list dose administrations: %w", err)
	}
	return out, nil
}
