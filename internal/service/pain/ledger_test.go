package pain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository/memory"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

var (
	nurse  = model.Actor{ID: uuid.New(), Name: "N. Seacole", Role: model.RoleNurse}
	doctor = model.Actor{ID: uuid.New(), Name: "Dr. Snow", Role: model.RoleDoctor}
)

type ledgerFixture struct {
	store     *memory.Store
	lifecycle *workflow.Lifecycle
	ledger    *Ledger
	patient   *model.Patient
	clock     time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{store: memory.NewStore(), clock: t0}
	f.lifecycle = workflow.NewLifecycle(f.store, nil, nil, workflow.PriorityRules{CriticalVAS: 8, HighVAS: 6}, logger.Nop(), nil).
		WithClock(func() time.Time { return f.clock })
	f.ledger = NewLedger(f.lifecycle, f.store, 4*time.Hour, logger.Nop(), nil)
	f.patient = &model.Patient{ID: uuid.New(), MRN: "MRN-1", FullName: "John Doe", AgeYears: 50}
	require.NoError(t, f.store.Patients().Create(context.Background(), f.patient))
	return f
}

func (f *ledgerFixture) dose(at time.Time) *model.DoseAdministration {
	return &model.DoseAdministration{
		PatientID:      f.patient.ID,
		DrugName:       "Paracetamol",
		Amount:         1,
		Unit:           "g",
		Route:          "PO",
		AdministeredAt: at,
	}
}

func (f *ledgerFixture) approved(t *testing.T) *model.Recommendation {
	t.Helper()
	ctx := context.Background()
	rec, err := f.lifecycle.Create(ctx, &model.Recommendation{
		PatientID: f.patient.ID,
		Line:      1,
		Route:     "PO",
		Drugs:     model.DrugSlots{{Name: "Paracetamol", Dose: "1 g", Route: "PO", Role: model.DrugRoleMain}},
	}, model.SystemActor())
	require.NoError(t, err)
	rec, err = f.lifecycle.DoctorApprove(ctx, rec.ID, doctor, "")
	require.NoError(t, err)
	return rec
}

func TestCanAdminister_NoPriorDose(t *testing.T) {
	f := newLedgerFixture(t)
	ok, err := f.ledger.CanAdminister(context.Background(), f.patient.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDoseInterval(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	d, err := f.ledger.RegisterDose(ctx, f.dose(t0), nurse)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(4*time.Hour), d.NextDoseAllowedAt)
	assert.Equal(t, nurse.ID, d.AdministeredBy)

	ok, err := f.ledger.CanAdminister(ctx, f.patient.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "blocked right after registration")

	ok, err = f.ledger.CanAdminister(ctx, f.patient.ID, t0.Add(3*time.Hour+59*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.ledger.CanAdminister(ctx, f.patient.ID, t0.Add(4*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := f.ledger.Status(ctx, f.patient.ID, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, st.CanAdminister)
	assert.Equal(t, time.Hour, st.Remaining)
	require.NotNil(t, st.LastDose)
	assert.Equal(t, d.ID, st.LastDose.ID)
}

func TestRegisterDose_RefusedInsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	_, err := f.ledger.RegisterDose(ctx, f.dose(t0), nurse)
	require.NoError(t, err)

	f.clock = t0.Add(3 * time.Hour)
	_, err = f.ledger.RegisterDose(ctx, f.dose(time.Time{}), nurse)
	assert.True(t, errors.IsInvalidState(err))

	f.clock = t0.Add(4 * time.Hour)
	_, err = f.ledger.RegisterDose(ctx, f.dose(time.Time{}), nurse)
	assert.NoError(t, err)

	history, err := f.ledger.History(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRegisterDose_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RegisterDose(ctx, f.dose(t0), nurse)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				assert.True(t, errors.IsInvalidState(err))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRegisterDose_Validation(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	_, err := f.ledger.RegisterDose(ctx, f.dose(t0), doctor)
	assert.True(t, errors.IsForbidden(err))

	bad := f.dose(t0)
	bad.Amount = 0
	_, err = f.ledger.RegisterDose(ctx, bad, nurse)
	assert.True(t, errors.IsBadRequest(err))

	_, err = f.ledger.RegisterDose(ctx, f.dose(t0.Add(time.Hour)), nurse)
	assert.True(t, errors.IsBadRequest(err), "future administration time")

	unknown := f.dose(t0)
	unknown.PatientID = uuid.New()
	_, err = f.ledger.RegisterDose(ctx, unknown, nurse)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegisterDose_ExecutesLinkedRecommendation(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	rec := f.approved(t)

	d := f.dose(t0)
	d.RecommendationID = &rec.ID
	_, err := f.ledger.RegisterDose(ctx, d, nurse)
	require.NoError(t, err)

	got, err := f.lifecycle.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationStatusExecuted, got.Status)

	// Later doses against an executed recommendation are accepted.
	f.clock = t0.Add(5 * time.Hour)
	next := f.dose(time.Time{})
	next.RecommendationID = &rec.ID
	_, err = f.ledger.RegisterDose(ctx, next, nurse)
	assert.NoError(t, err)
}

func TestRegisterDose_RejectsUnapprovedRecommendation(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	rec, err := f.lifecycle.Create(ctx, &model.Recommendation{
		PatientID: f.patient.ID,
		Line:      1,
		Drugs:     model.DrugSlots{{Name: "Ibuprofen", Dose: "400 mg", Role: model.DrugRoleMain}},
	}, model.SystemActor())
	require.NoError(t, err)

	d := f.dose(t0)
	d.RecommendationID = &rec.ID
	_, err = f.ledger.RegisterDose(ctx, d, nurse)
	assert.True(t, errors.IsInvalidState(err))

	history, err := f.ledger.History(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
