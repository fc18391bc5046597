package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

const uniqueViolation = "23505"

// Store implements repository.Store on top of sqlx. Repositories obtained
// from a transactional Store run on the same *sqlx.Tx.
type Store struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// GetDB returns the database instance
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// InTx executes fn within a transaction
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Patients() repository.PatientRepository               { return &patientRepository{q: s.q} }
func (s *Store) Snapshots() repository.SnapshotRepository             { return &snapshotRepository{q: s.q} }
func (s *Store) Pain() repository.PainRepository                      { return &painRepository{q: s.q} }
func (s *Store) Recommendations() repository.RecommendationRepository { return &recommendationRepository{q: s.q} }
func (s *Store) Escalations() repository.EscalationRepository         { return &escalationRepository{q: s.q} }
func (s *Store) Doses() repository.DoseRepository                     { return &doseRepository{q: s.q} }
func (s *Store) Outbox() repository.OutboxRepository                  { return &outboxRepository{q: s.q} }

// notFound maps sql.ErrNoRows to the repository sentinel.
func notFound(err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.ErrRecordNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// checkVersioned resolves a zero-row optimistic update into not-found or
// stale-version.
func checkVersioned(ctx context.Context, q sqlx.QueryerContext, table string, id interface{}, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id); err != nil {
		return err
	}
	if !exists {
		return errors.ErrRecordNotFound
	}
	return errors.ErrStaleVersion
}
