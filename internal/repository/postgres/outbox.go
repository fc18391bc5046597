package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

const outboxColumns = `id, channel, payload, status, error_message, retry_count, retry_at,
	created_at, processed_at, updated_at`

type outboxRepository struct {
	q sqlx.ExtContext
}

func (r *outboxRepository) Create(ctx context.Context, entry *model.OutboxEntry) error {
	if entry == nil {
		return fmt.Errorf("outbox entry cannot be nil")
	}
	if entry.Payload == nil {
		return fmt.Errorf("outbox payload cannot be nil")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = model.OutboxStatusPending
	}

	query := `
		INSERT INTO notification_outbox (id, channel, payload, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`
	_, err := r.q.ExecContext(ctx, query,
		entry.ID,
		entry.Channel,
		[]byte(entry.Payload),
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox entry: %w", err)
	}
	return nil
}

func (r *outboxRepository) GetPending(ctx context.Context, limit int, now time.Time) ([]*model.OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM notification_outbox
		WHERE status IN ('pending', 'retry')
		AND (retry_at IS NULL OR retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	var entries []*model.OutboxEntry
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to load pending outbox entries: %w", err)
	}
	return entries, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	query := `
		UPDATE notification_outbox
		SET status = $1,
			error_message = $2,
			retry_at = $3,
			retry_count = CASE WHEN $1 IN ('retry', 'failed') THEN retry_count + 1 ELSE retry_count END,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	res, err := r.q.ExecContext(ctx, query, string(status), errMsg, retryAt, id)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
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

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM notification_outbox WHERE status IN ('pending', 'retry')`
	if err := sqlx.GetContext(ctx, r.q, &n, query); err != nil {
		return 0, fmt.Errorf("failed to count pending outbox entries: %w", err)
	}
	return n, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM notification_outbox
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.q.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed outbox entries: %w", err)
	}

	return result.RowsAffected()
}
