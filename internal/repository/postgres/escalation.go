package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

const escalationColumns = `id, recommendation_id, patient_id, priority, status, source, reason, description,
	escalated_by, escalated_at, acknowledged_by, acknowledged_at, resolved_by, resolution,
	decision, resolved_at, updated_at, version`

type escalationRepository struct {
	q sqlx.ExtContext
}

func (r *escalationRepository) Create(ctx context.Context, esc *model.Escalation) error {
	if esc.ID == uuid.Nil {
		esc.ID = uuid.New()
	}
	esc.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO escalations (
			id, recommendation_id, patient_id, priority, status, source, reason, description,
			escalated_by, escalated_at, updated_at, version
		) VALUES (
			:id, :recommendation_id, :patient_id, :priority, :status, :source, :reason, :description,
			:escalated_by, :escalated_at, :updated_at, 1
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, esc); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrStaleVersion
		}
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	esc.Version = 1
	return nil
}

func (r *escalationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Escalation, error) {
	var esc model.Escalation
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &esc, query, id); err != nil {
		return nil, notFound(err)
	}
	return &esc, nil
}

func (r *escalationRepository) GetByRecommendation(ctx context.Context, recommendationID uuid.UUID) (*model.Escalation, error) {
	var esc model.Escalation
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE recommendation_id = $1`
	if err := sqlx.GetContext(ctx, r.q, &esc, query, recommendationID); err != nil {
		return nil, notFound(err)
	}
	return &esc, nil
}

func (r *escalationRepository) Update(ctx context.Context, esc *model.Escalation) error {
	esc.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE escalations SET
			priority = :priority,
			status = :status,
			description = :description,
			acknowledged_by = :acknowledged_by,
			acknowledged_at = :acknowledged_at,
			resolved_by = :resolved_by,
			resolution = :resolution,
			decision = :decision,
			resolved_at = :resolved_at,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := sqlx.NamedExecContext(ctx, r.q, query, esc)
	if err != nil {
		return fmt.Errorf("failed to update escalation: %w", err)
	}
	if err := checkVersioned(ctx, r.q, "escalations", esc.ID, res); err != nil {
		return err
	}
	esc.Version++
	return nil
}

func (r *escalationRepository) List(ctx context.Context, filter model.EscalationFilter) ([]*model.Escalation, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []model.EscalationStatus{model.EscalationStatusPending, model.EscalationStatusInProgress}
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	conditions = append(conditions, "status = ANY("+arg(pq.Array(names))+")")

	if filter.Priority != "" {
		conditions = append(conditions, "priority = "+arg(filter.Priority))
	}
	if filter.PatientID != nil {
		conditions = append(conditions, "patient_id = "+arg(*filter.PatientID))
	}

	query := `SELECT ` + escalationColumns + ` FROM escalations
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY escalated_at`
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	var out []*model.Escalation
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	return out, nil
}
