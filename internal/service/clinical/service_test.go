package clinical

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository/memory"
	"github.com/jwalitptl/painmgmt-api/internal/service/emr"
	"github.com/jwalitptl/painmgmt-api/internal/service/matcher"
	"github.com/jwalitptl/painmgmt-api/internal/service/pain"
	"github.com/jwalitptl/painmgmt-api/internal/service/workflow"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

var (
	t0     = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	nurse  = model.Actor{ID: uuid.New(), Name: "N. Seacole", Role: model.RoleNurse}
	doctor = model.Actor{ID: uuid.New(), Name: "Dr. Snow", Role: model.RoleDoctor}
)

type fixture struct {
	store     *memory.Store
	lifecycle *workflow.Lifecycle
	svc       *Service
	patient   *model.Patient
	clock     time.Time
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	var rows []catalog.Row
	for _, b := range []int{catalog.BucketMild, catalog.BucketModerate, catalog.BucketSevere} {
		rows = append(rows, catalog.Row{
			Key: catalog.Key{Bucket: b, Line: 1, Route: "PO"},
			Main: catalog.DrugRule{
				Name: "Ibuprofen", ActiveMoiety: "ibuprofen", Dose: "600 mg",
				Thresholds: catalog.Thresholds{GFRBelow: 30},
			},
			Alternate: &catalog.DrugRule{Name: "Paracetamol", ActiveMoiety: "paracetamol", Dose: "1 g"},
		})
	}
	c, err := catalog.New(rows)
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), clock: t0}
	clock := func() time.Time { return f.clock }

	f.lifecycle = workflow.NewLifecycle(f.store, nil, nil, workflow.PriorityRules{CriticalVAS: 8, HighVAS: 6}, logger.Nop(), nil).
		WithClock(clock)
	gen := matcher.New(testCatalog(t), "PO").WithClock(clock)
	watcher := emr.NewWatcher(f.lifecycle, gen, emr.DefaultRules(), logger.Nop())
	f.svc = NewService(f.lifecycle, f.store, gen, pain.NewDetector(pain.DefaultThresholds()), watcher, logger.Nop(), nil)

	f.patient = &model.Patient{ID: uuid.New(), MRN: "MRN-42", FullName: "Mary Major", AgeYears: 64}
	require.NoError(t, f.store.Patients().Create(context.Background(), f.patient))
	return f
}

func (f *fixture) record(t *testing.T, vas int) *PainResult {
	t.Helper()
	f.clock = f.clock.Add(time.Hour)
	res, err := f.svc.RecordPain(context.Background(), &model.PainObservation{PatientID: f.patient.ID, VAS: vas}, nurse)
	require.NoError(t, err)
	return res
}

func (f *fixture) snapshot(gfr float64) *model.ClinicalSnapshot {
	return &model.ClinicalSnapshot{
		PatientID: f.patient.ID,
		GFR:       gfr, Platelets: 250, WBC: 7, Saturation: 97, Sodium: 140,
	}
}

func TestRecordPain_StableReadingDoesNotRegenerate(t *testing.T) {
	f := newFixture(t)
	f.record(t, 4)
	res := f.record(t, 5)

	assert.False(t, res.Assessment.EscalationRequired)
	assert.Nil(t, res.Recommendation)
	assert.Equal(t, nurse.ID, res.Observation.AuthorID)

	_, err := f.lifecycle.Current(context.Background(), f.patient.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestRecordPain_IncreaseRegeneratesPending(t *testing.T) {
	f := newFixture(t)
	f.record(t, 3)
	res := f.record(t, 5)

	require.True(t, res.Assessment.EscalationRequired)
	assert.Equal(t, model.PriorityMedium, res.Assessment.Priority)
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, model.RecommendationStatusPending, res.Recommendation.Status)
	require.NotNil(t, res.Recommendation.PainObservationID)
	assert.Equal(t, res.Observation.ID, *res.Recommendation.PainObservationID)
	assert.Equal(t, catalog.BucketModerate, res.Recommendation.PainBucket)
	assert.Nil(t, res.Escalation)
}

func TestRecordPain_CriticalAutoEscalates(t *testing.T) {
	f := newFixture(t)
	f.record(t, 5)
	res := f.record(t, 9)

	assert.Equal(t, model.PriorityCritical, res.Assessment.Priority)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, model.EscalationSourcePainAlert, res.Escalation.Source)
	assert.Equal(t, model.PriorityCritical, res.Escalation.Priority)
	assert.Contains(t, res.Escalation.Reason, "VAS increased by 4 points")
	assert.Equal(t, model.RecommendationStatusEscalated, res.Recommendation.Status)
}

func TestRecordPain_NewAlertSupersedesOpenEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 4)
	first := f.record(t, 6)
	require.NotNil(t, first.Escalation)
	second := f.record(t, 9)
	require.NotNil(t, second.Escalation)

	prev, err := f.lifecycle.Get(ctx, first.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, prev.SupersededBy)
	assert.Equal(t, second.Recommendation.ID, *prev.SupersededBy)

	esc, err := f.store.Escalations().Get(ctx, first.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationStatusCancelled, esc.Status)
}

func TestRecordPain_SustainedCriticalKeepsAcknowledgedEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 5)
	first := f.record(t, 9)
	require.NotNil(t, first.Escalation)

	esc, err := f.store.Escalations().Get(ctx, first.Escalation.ID)
	require.NoError(t, err)
	esc.Status = model.EscalationStatusInProgress
	require.NoError(t, f.store.Escalations().Update(ctx, esc))

	again := f.record(t, 9)
	require.True(t, again.Assessment.EscalationRequired)
	assert.Zero(t, again.Assessment.Delta)
	require.NotNil(t, again.Escalation)
	assert.Equal(t, first.Escalation.ID, again.Escalation.ID)
	assert.Equal(t, first.Recommendation.ID, again.Recommendation.ID)

	got, err := f.store.Escalations().Get(ctx, first.Escalation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationStatusInProgress, got.Status)
	assert.Equal(t, first.Escalation.EscalatedAt, got.EscalatedAt)
	assert.Equal(t, model.PriorityCritical, got.Priority)

	history, err := f.lifecycle.History(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	open, err := f.store.Escalations().List(ctx, model.EscalationFilter{PatientID: &f.patient.ID})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRecordPain_SameBucketRaisesPriority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 5)
	first := f.record(t, 7)
	require.NotNil(t, first.Escalation)
	require.Equal(t, model.PriorityHigh, first.Escalation.Priority)

	raised := f.record(t, 8)
	require.NotNil(t, raised.Escalation)
	assert.Equal(t, first.Escalation.ID, raised.Escalation.ID)
	assert.Equal(t, model.PriorityCritical, raised.Escalation.Priority)
	assert.Equal(t, first.Escalation.EscalatedAt, raised.Escalation.EscalatedAt)
	assert.Contains(t, raised.Escalation.Reason, "critical level 8")

	cur, err := f.lifecycle.Current(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Recommendation.ID, cur.ID)
	assert.Equal(t, model.RecommendationStatusEscalated, cur.Status)
}

func TestRecordPain_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.RecordPain(ctx, &model.PainObservation{PatientID: f.patient.ID, VAS: 11}, nurse)
	assert.True(t, errors.IsBadRequest(err))

	_, err = f.svc.RecordPain(ctx, &model.PainObservation{PatientID: f.patient.ID, VAS: 3}, model.SystemActor())
	assert.True(t, errors.IsForbidden(err))

	_, err = f.svc.RecordPain(ctx, &model.PainObservation{PatientID: uuid.New(), VAS: 3}, nurse)
	assert.True(t, errors.IsNotFound(err))

	history, err := f.svc.PainHistory(ctx, f.patient.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGenerateInitial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	assert.True(t, errors.IsBadRequest(err), "no pain observation yet")

	f.record(t, 2)
	_, err = f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", nurse)
	assert.True(t, errors.IsForbidden(err))

	rec, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "po", doctor)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationStatusPending, rec.Status)
	assert.Equal(t, "PO", rec.Route)
	assert.Equal(t, catalog.BucketMild, rec.PainBucket)

	_, err = f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	assert.True(t, errors.IsInvalidState(err))

	_, _, err = f.lifecycle.DoctorReject(ctx, rec.ID, doctor, "patient refuses oral route")
	require.NoError(t, err)
	_, err = f.lifecycle.AnesthesiologistReject(ctx, rec.ID, model.Actor{ID: uuid.New(), Role: model.RoleAnesthesiologist}, "agree")
	require.NoError(t, err)

	again, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)
}

func TestRecordSnapshot_CriticalChangeRegenerates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 5)

	first, err := f.svc.RecordSnapshot(ctx, f.snapshot(65), nurse)
	require.NoError(t, err)
	require.NotNil(t, first.Outcome)
	assert.False(t, first.Outcome.Critical())

	rec, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen", rec.Drugs[0].Name)
	rec, err = f.lifecycle.DoctorApprove(ctx, rec.ID, doctor, "")
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	res, err := f.svc.RecordSnapshot(ctx, f.snapshot(22), nurse)
	require.NoError(t, err)
	require.True(t, res.Outcome.Critical())
	assert.Equal(t, []uuid.UUID{rec.ID}, res.Outcome.ReviewRequired)
	require.NotNil(t, res.Outcome.Replacement)
	assert.Equal(t, "Paracetamol", res.Outcome.Replacement.Drugs[0].Name)

	snaps, err := f.svc.Snapshots(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestRecordSnapshot_BackDatedHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 5)
	_, err := f.svc.RecordSnapshot(ctx, f.snapshot(65), nurse)
	require.NoError(t, err)

	old := f.snapshot(20)
	old.RecordedAt = f.clock.Add(-24 * time.Hour)
	res, err := f.svc.RecordSnapshot(ctx, old, doctor)
	require.NoError(t, err)
	assert.Nil(t, res.Outcome)

	_, err = f.lifecycle.Current(ctx, f.patient.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestRecordSnapshot_Validation(t *testing.T) {
	f := newFixture(t)
	bad := f.snapshot(65)
	bad.Saturation = 140
	_, err := f.svc.RecordSnapshot(context.Background(), bad, nurse)
	assert.True(t, errors.IsBadRequest(err))
}

func TestReassess_EscalatesPendingOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Pain().Append(ctx, &model.PainObservation{PatientID: f.patient.ID, VAS: 5, RecordedAt: t0.Add(-2 * time.Hour)}))
	require.NoError(t, f.store.Pain().Append(ctx, &model.PainObservation{PatientID: f.patient.ID, VAS: 8, RecordedAt: t0.Add(-time.Hour)}))
	rec, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	require.NoError(t, err)

	res, err := f.svc.Reassess(ctx, f.patient.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, rec.ID, res.Escalation.RecommendationID)
	assert.Equal(t, model.PriorityCritical, res.Escalation.Priority)

	again, err := f.svc.Reassess(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.True(t, again.Assessment.EscalationRequired)
	assert.Nil(t, again.Escalation)
}

func TestReassess_LeavesApprovedAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Pain().Append(ctx, &model.PainObservation{PatientID: f.patient.ID, VAS: 9, RecordedAt: t0}))
	rec, err := f.svc.GenerateInitial(ctx, f.patient.ID, 1, "", doctor)
	require.NoError(t, err)
	_, err = f.lifecycle.DoctorApprove(ctx, rec.ID, doctor, "")
	require.NoError(t, err)

	res, err := f.svc.Reassess(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Escalation)

	got, err := f.lifecycle.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationStatusApproved, got.Status)
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.svc.Admit(ctx, AdmitRequest{MRN: "MRN-9", FullName: "Ola Nordmann", AgeYears: 33, Sensitivities: []string{"penicillin"}}, doctor)
	require.NoError(t, err)

	got, err := f.svc.Patient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ola Nordmann", got.FullName)
	assert.Equal(t, []string{"penicillin"}, []string(got.Sensitivities))

	_, err = f.svc.Admit(ctx, AdmitRequest{FullName: "No MRN"}, doctor)
	assert.True(t, errors.IsBadRequest(err))

	list, err := f.svc.Patients(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
