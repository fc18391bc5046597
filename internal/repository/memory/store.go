// Package memory is a transactional in-memory Store. It backs the service
// tests and single-node demo deployments.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
)

type state struct {
	patients        map[uuid.UUID]*model.Patient
	snapshots       map[uuid.UUID][]*model.ClinicalSnapshot
	pain            map[uuid.UUID][]*model.PainObservation
	recommendations map[uuid.UUID]*model.Recommendation
	history         map[uuid.UUID][]uuid.UUID
	current         map[uuid.UUID]uuid.UUID
	escalations     map[uuid.UUID]*model.Escalation
	doses           map[uuid.UUID][]*model.DoseAdministration
	outbox          map[uuid.UUID]*model.OutboxEntry
}

func newState() *state {
	return &state{
		patients:        map[uuid.UUID]*model.Patient{},
		snapshots:       map[uuid.UUID][]*model.ClinicalSnapshot{},
		pain:            map[uuid.UUID][]*model.PainObservation{},
		recommendations: map[uuid.UUID]*model.Recommendation{},
		history:         map[uuid.UUID][]uuid.UUID{},
		current:         map[uuid.UUID]uuid.UUID{},
		escalations:     map[uuid.UUID]*model.Escalation{},
		doses:           map[uuid.UUID][]*model.DoseAdministration{},
		outbox:          map[uuid.UUID]*model.OutboxEntry{},
	}
}

// clone copies the maps and slices. Stored records are replaced, never
// mutated, so sharing the pointers between copies is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = append([]*model.ClinicalSnapshot(nil), v...)
	}
	for k, v := range s.pain {
		c.pain[k] = append([]*model.PainObservation(nil), v...)
	}
	for k, v := range s.recommendations {
		c.recommendations[k] = v
	}
	for k, v := range s.history {
		c.history[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.current {
		c.current[k] = v
	}
	for k, v := range s.escalations {
		c.escalations[k] = v
	}
	for k, v := range s.doses {
		c.doses[k] = append([]*model.DoseAdministration(nil), v...)
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

// Store implements repository.Store. Outside a transaction every call is
// atomic on its own; InTx works on a copy that replaces the live state only
// when fn succeeds.
type Store struct {
	mu    *sync.Mutex
	root  *Store
	state *state
	inTx  bool
}

func NewStore() *Store {
	s := &Store{mu: &sync.Mutex{}, state: newState()}
	s.root = s
	return s
}

func (s *Store) do(fn func(st *state) error) error {
	if s.inTx {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.root.state)
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, root: s.root, state: s.root.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.root.state = tx.state
	return nil
}

func (s *Store) Patients() repository.PatientRepository               { return patientRepo{s} }
func (s *Store) Snapshots() repository.SnapshotRepository             { return snapshotRepo{s} }
func (s *Store) Pain() repository.PainRepository                      { return painRepo{s} }
func (s *Store) Recommendations() repository.RecommendationRepository { return recommendationRepo{s} }
func (s *Store) Escalations() repository.EscalationRepository         { return escalationRepo{s} }
func (s *Store) Doses() repository.DoseRepository                     { return doseRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository                  { return outboxRepo{s} }
