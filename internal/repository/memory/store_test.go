package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	patientID := uuid.New()

	boom := stderrors.New("boom")
	err := s.InTx(ctx, func(tx repository.Store) error {
		rec := &model.Recommendation{PatientID: patientID, Status: model.RecommendationStatusPending}
		require.NoError(t, tx.Recommendations().Create(ctx, rec))
		require.NoError(t, tx.Recommendations().SetCurrent(ctx, patientID, rec.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	history, err := s.Recommendations().History(ctx, patientID)
	require.NoError(t, err)
	assert.Empty(t, history)
	_, err = s.Recommendations().Current(ctx, patientID)
	assert.ErrorIs(t, err, errors.ErrRecordNotFound)
}

func TestInTx_CommitsAndNests(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	patientID := uuid.New()

	err := s.InTx(ctx, func(tx repository.Store) error {
		return tx.InTx(ctx, func(inner repository.Store) error {
			return inner.Pain().Append(ctx, &model.PainObservation{PatientID: patientID, VAS: 7, RecordedAt: time.Now()})
		})
	})
	require.NoError(t, err)

	latest, err := s.Pain().Latest(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, 7, latest.VAS)
}

func TestRecommendationUpdate_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rec := &model.Recommendation{PatientID: uuid.New(), Status: model.RecommendationStatusPending}
	require.NoError(t, s.Recommendations().Create(ctx, rec))
	assert.Equal(t, 1, rec.Sequence)

	first, _ := s.Recommendations().Get(ctx, rec.ID)
	second, _ := s.Recommendations().Get(ctx, rec.ID)

	first.Status = model.RecommendationStatusApproved
	require.NoError(t, s.Recommendations().Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Status = model.RecommendationStatusEscalated
	assert.ErrorIs(t, s.Recommendations().Update(ctx, second), errors.ErrStaleVersion)

	stored, _ := s.Recommendations().Get(ctx, rec.ID)
	assert.Equal(t, model.RecommendationStatusApproved, stored.Status)
}

func TestRecommendation_ReturnedCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rec := &model.Recommendation{PatientID: uuid.New(), Drugs: model.DrugSlots{{Name: "Paracetamol"}}}
	require.NoError(t, s.Recommendations().Create(ctx, rec))

	got, _ := s.Recommendations().Get(ctx, rec.ID)
	got.Drugs[0].Name = "changed"

	again, _ := s.Recommendations().Get(ctx, rec.ID)
	assert.Equal(t, "Paracetamol", again.Drugs[0].Name)
}

func TestEscalation_OnePerRecommendation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	recID := uuid.New()

	require.NoError(t, s.Escalations().Create(ctx, &model.Escalation{RecommendationID: recID, Status: model.EscalationStatusPending}))
	err := s.Escalations().Create(ctx, &model.Escalation{RecommendationID: recID, Status: model.EscalationStatusPending})
	assert.ErrorIs(t, err, errors.ErrStaleVersion)
}

func TestPain_StaleLatest(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()
	stale, fresh, low := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, s.Pain().Append(ctx, &model.PainObservation{PatientID: stale, VAS: 6, RecordedAt: now.Add(-8 * time.Hour)}))
	require.NoError(t, s.Pain().Append(ctx, &model.PainObservation{PatientID: fresh, VAS: 6, RecordedAt: now.Add(-8 * time.Hour)}))
	require.NoError(t, s.Pain().Append(ctx, &model.PainObservation{PatientID: fresh, VAS: 6, RecordedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Pain().Append(ctx, &model.PainObservation{PatientID: low, VAS: 3, RecordedAt: now.Add(-8 * time.Hour)}))

	got, err := s.Pain().StaleLatest(ctx, 5, now.Add(-6*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale, got[0].PatientID)

	ids, err := s.Pain().PatientsWithPainSince(ctx, 6, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fresh}, ids)
}

func TestOutbox_RetryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	entry := &model.OutboxEntry{Channel: "notifications:role:DOCTOR", Payload: []byte(`{}`)}
	require.NoError(t, s.Outbox().Create(ctx, entry))

	later := time.Now().Add(time.Minute)
	msg := "redis down"
	require.NoError(t, s.Outbox().UpdateStatus(ctx, entry.ID, model.OutboxStatusRetry, &msg, &later))

	pending, err := s.Outbox().GetPending(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = s.Outbox().GetPending(ctx, 10, later.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, s.Outbox().UpdateStatus(ctx, entry.ID, model.OutboxStatusProcessed, nil, nil))
	n, err := s.Outbox().DeleteProcessedBefore(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
