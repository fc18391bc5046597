package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// OutboxRepository is the slice of the outbox store pkg/worker needs.
type OutboxRepository interface {
	GetPending(ctx context.Context, limit int, now time.Time) ([]*model.OutboxEntry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
	CountPending(ctx context.Context) (int, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
