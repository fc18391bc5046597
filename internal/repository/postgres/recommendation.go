package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

const recommendationColumns = `id, patient_id, sequence, line, pain_bucket, route, status, drugs,
	contraindications, comments, generation_failed, rejection_reason,
	doctor_id, doctor_action_at, doctor_comment,
	anesthesiologist_id, anesthesiologist_action_at, anesthesiologist_comment,
	final_approver_id, approved_at, executed_at, review_reason,
	pain_observation_id, snapshot_id, supersedes, superseded_by,
	version, created_at, updated_at`

type recommendationRepository struct {
	q sqlx.ExtContext
}

func (r *recommendationRepository) Create(ctx context.Context, rec *model.Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO recommendations (
			id, patient_id, sequence, line, pain_bucket, route, status, drugs,
			contraindications, comments, generation_failed, rejection_reason,
			pain_observation_id, snapshot_id, supersedes, version, created_at, updated_at
		) VALUES (
			:id, :patient_id,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM recommendations WHERE patient_id = :patient_id),
			:line, :pain_bucket, :route, :status, :drugs,
			:contraindications, :comments, :generation_failed, :rejection_reason,
			:pain_observation_id, :snapshot_id, :supersedes, 1, :created_at, :updated_at
		)
		RETURNING sequence
	`
	rows, err := sqlx.NamedQueryContext(ctx, r.q, query, rec)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrStaleVersion
		}
		return fmt.Errorf("failed to create recommendation: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&rec.Sequence); err != nil {
			return fmt.Errorf("failed to read recommendation sequence: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrStaleVersion
		}
		return err
	}
	rec.Version = 1
	return nil
}

func (r *recommendationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recommendation, error) {
	var rec model.Recommendation
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &rec, query, id); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *recommendationRepository) Update(ctx context.Context, rec *model.Recommendation) error {
	rec.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE recommendations SET
			status = :status,
			drugs = :drugs,
			contraindications = :contraindications,
			comments = :comments,
			rejection_reason = :rejection_reason,
			doctor_id = :doctor_id,
			doctor_action_at = :doctor_action_at,
			doctor_comment = :doctor_comment,
			anesthesiologist_id = :anesthesiologist_id,
			anesthesiologist_action_at = :anesthesiologist_action_at,
			anesthesiologist_comment = :anesthesiologist_comment,
			final_approver_id = :final_approver_id,
			approved_at = :approved_at,
			executed_at = :executed_at,
			review_reason = :review_reason,
			superseded_by = :superseded_by,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := sqlx.NamedExecContext(ctx, r.q, query, rec)
	if err != nil {
		return fmt.Errorf("failed to update recommendation: %w", err)
	}
	if err := checkVersioned(ctx, r.q, "recommendations", rec.ID, res); err != nil {
		return err
	}
	rec.Version++
	return nil
}

func (r *recommendationRepository) History(ctx context.Context, patientID uuid.UUID) ([]*model.Recommendation, error) {
	var recs []*model.Recommendation
	query := `SELECT ` + recommendationColumns + ` FROM recommendations
		WHERE patient_id = $1 ORDER BY sequence`
	if err := sqlx.SelectContext(ctx, r.q, &recs, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to load recommendation history: %w", err)
	}
	return recs, nil
}

func (r *recommendationRepository) ListByStatus(ctx context.Context, patientID uuid.UUID, statuses ...model.RecommendationStatus) ([]*model.Recommendation, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var recs []*model.Recommendation
	query := `SELECT ` + recommendationColumns + ` FROM recommendations
		WHERE patient_id = $1 AND status = ANY($2) ORDER BY sequence`
	if err := sqlx.SelectContext(ctx, r.q, &recs, query, patientID, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to list recommendations by status: %w", err)
	}
	return recs, nil
}

func (r *recommendationRepository) Current(ctx context.Context, patientID uuid.UUID) (*model.Recommendation, error) {
	var rec model.Recommendation
	query := `SELECT ` + recommendationColumns + ` FROM recommendations
		WHERE id = (SELECT current_recommendation_id FROM patients WHERE id = $1)`
	if err := sqlx.GetContext(ctx, r.q, &rec, query, patientID); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *recommendationRepository) SetCurrent(ctx context.Context, patientID, recommendationID uuid.UUID) error {
	query := `
		UPDATE patients SET current_recommendation_id = $2, updated_at = NOW()
		WHERE id = $1
		AND EXISTS (SELECT 1 FROM recommendations WHERE id = $2 AND patient_id = $1)
	`
	res, err := r.q.ExecContext(ctx, query, patientID, recommendationID)
	if err != nil {
		return fmt.Errorf("failed to set current recommendation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrRecordNotFound
	}
	return nil
}
