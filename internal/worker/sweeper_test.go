package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository/memory"
	"github.com/jwalitptl/painmgmt-api/internal/service/clinical"
	"github.com/jwalitptl/painmgmt-api/internal/service/pain"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockReassessor struct{ mock.Mock }

func (m *mockReassessor) Reassess(ctx context.Context, patientID uuid.UUID) (*clinical.Reassessment, error) {
	args := m.Called(ctx, patientID)
	res, _ := args.Get(0).(*clinical.Reassessment)
	return res, args.Error(1)
}

type mockDoses struct{ mock.Mock }

func (m *mockDoses) CanAdminister(ctx context.Context, patientID uuid.UUID, at time.Time) (bool, error) {
	args := m.Called(ctx, patientID, at)
	return args.Bool(0), args.Error(1)
}

type mockSummarizer struct{ mock.Mock }

func (m *mockSummarizer) Summary(ctx context.Context, at time.Time) (*model.EscalationSummary, error) {
	args := m.Called(ctx, at)
	sum, _ := args.Get(0).(*model.EscalationSummary)
	return sum, args.Error(1)
}

type mockAlerts struct{ mock.Mock }

func (m *mockAlerts) NotifyOnce(ctx context.Context, n *model.Notification, kind string) bool {
	args := m.Called(ctx, n, kind)
	return args.Bool(0)
}

type sweepFixture struct {
	store    *memory.Store
	reassess *mockReassessor
	doses    *mockDoses
	summary  *mockSummarizer
	alerts   *mockAlerts
	sweeper  *Sweeper
}

func newSweepFixture() *sweepFixture {
	f := &sweepFixture{
		store:    memory.NewStore(),
		reassess: &mockReassessor{},
		doses:    &mockDoses{},
		summary:  &mockSummarizer{},
		alerts:   &mockAlerts{},
	}
	f.sweeper = NewSweeper(f.store, f.reassess, f.doses, f.summary, f.alerts, DefaultSweepConfig(), logger.Nop(), nil).
		WithClock(func() time.Time { return now })
	return f
}

func (f *sweepFixture) patient(t *testing.T, vas int, at time.Time) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	p := &model.Patient{ID: uuid.New(), MRN: "MRN-" + uuid.NewString()[:6], FullName: "Pat Doe", AgeYears: 40}
	require.NoError(t, f.store.Patients().Create(ctx, p))
	require.NoError(t, f.store.Pain().Append(ctx, &model.PainObservation{PatientID: p.ID, VAS: vas, RecordedAt: at}))
	return p.ID
}

func TestPainSweep_AlertsDoctorsForRequiredEscalation(t *testing.T) {
	f := newSweepFixture()
	hot := f.patient(t, 8, now.Add(-30*time.Minute))
	calm := f.patient(t, 6, now.Add(-time.Hour))
	f.patient(t, 3, now.Add(-time.Hour))
	f.patient(t, 9, now.Add(-5*time.Hour))

	f.reassess.On("Reassess", mock.Anything, hot).Return(&clinical.Reassessment{Assessment: pain.Assessment{
		EscalationRequired: true, Priority: model.PriorityCritical, Reason: "VAS 8, at or above critical level 8",
	}}, nil).Once()
	f.reassess.On("Reassess", mock.Anything, calm).Return(&clinical.Reassessment{}, nil).Once()
	f.alerts.On("NotifyOnce", mock.Anything, mock.MatchedBy(func(n *model.Notification) bool {
		return n.PatientID == hot && n.TargetRole == model.RoleDoctor &&
			n.Type == model.NotificationPainAlert && n.Priority == model.PriorityCritical &&
			n.PatientName == "Pat Doe"
	}), SweepPain).Return(true).Once()

	report, err := f.sweeper.PainSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Patients)
	assert.Equal(t, 1, report.Alerts)
	assert.Zero(t, report.Failures)
	f.reassess.AssertExpectations(t)
	f.alerts.AssertExpectations(t)
}

func TestPainSweep_IsolatesFailingPatients(t *testing.T) {
	f := newSweepFixture()
	broken := f.patient(t, 7, now.Add(-10*time.Minute))
	panics := f.patient(t, 7, now.Add(-20*time.Minute))
	fine := f.patient(t, 7, now.Add(-30*time.Minute))

	f.reassess.On("Reassess", mock.Anything, broken).Return(nil, errors.New("db timeout"))
	f.reassess.On("Reassess", mock.Anything, panics).Run(func(mock.Arguments) { panic("boom") })
	f.reassess.On("Reassess", mock.Anything, fine).Return(&clinical.Reassessment{Assessment: pain.Assessment{
		EscalationRequired: true, Priority: model.PriorityHigh, Reason: "VAS 7",
	}}, nil)
	f.alerts.On("NotifyOnce", mock.Anything, mock.Anything, SweepPain).Return(false)

	report, err := f.sweeper.PainSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Patients)
	assert.Equal(t, 2, report.Failures)
	assert.Zero(t, report.Alerts, "throttled alert is not counted")
	f.reassess.AssertNumberOfCalls(t, "Reassess", 3)
}

func TestPainSweep_CompletesAfterCancel(t *testing.T) {
	f := newSweepFixture()
	ids := []uuid.UUID{
		f.patient(t, 7, now.Add(-10*time.Minute)),
		f.patient(t, 7, now.Add(-20*time.Minute)),
		f.patient(t, 7, now.Add(-30*time.Minute)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stepErrs []error
	for _, id := range ids {
		f.reassess.On("Reassess", mock.Anything, id).Run(func(args mock.Arguments) {
			cancel()
			stepErrs = append(stepErrs, args.Get(0).(context.Context).Err())
		}).Return(&clinical.Reassessment{}, nil).Once()
	}

	report, err := f.sweeper.PainSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Patients)
	assert.Zero(t, report.Failures)
	f.reassess.AssertNumberOfCalls(t, "Reassess", 3)
	for _, err := range stepErrs {
		assert.NoError(t, err, "patient steps are not cancelled with the sweep")
	}
}

func TestOverdueSweep(t *testing.T) {
	f := newSweepFixture()
	due := f.patient(t, 6, now.Add(-7*time.Hour))
	blocked := f.patient(t, 5, now.Add(-8*time.Hour))
	f.patient(t, 6, now.Add(-2*time.Hour))
	f.patient(t, 4, now.Add(-9*time.Hour))

	f.doses.On("CanAdminister", mock.Anything, due, now).Return(true, nil)
	f.doses.On("CanAdminister", mock.Anything, blocked, now).Return(false, nil)
	f.alerts.On("NotifyOnce", mock.Anything, mock.MatchedBy(func(n *model.Notification) bool {
		return n.PatientID == due && n.TargetRole == model.RoleNurse && n.Type == model.NotificationDoseOverdue &&
			n.Message == "Last VAS 6 recorded 7h0m0s ago; patient may receive a dose"
	}), SweepOverdue).Return(true).Once()

	report, err := f.sweeper.OverdueSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Patients)
	assert.Equal(t, 1, report.Alerts)
	f.alerts.AssertExpectations(t)
	f.doses.AssertExpectations(t)
}

func TestDailySummary(t *testing.T) {
	f := newSweepFixture()
	oldest := now.Add(-26 * time.Hour)
	want := &model.EscalationSummary{
		GeneratedAt: now,
		Total:       2,
		ByPriority:  map[model.EscalationPriority]int{model.PriorityHigh: 1, model.PriorityCritical: 1},
		ByAge:       map[string]int{model.AgeOverDay: 1, model.AgeUnderHour: 1},
		Oldest:      &oldest,
	}
	f.summary.On("Summary", mock.Anything, now).Return(want, nil).Once()

	got, err := f.sweeper.DailySummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	f.summary.On("Summary", mock.Anything, now).Return(nil, errors.New("unavailable"))
	_, err = f.sweeper.DailySummary(context.Background())
	assert.Error(t, err)
}

func TestRun_UnknownSweep(t *testing.T) {
	_, err := newSweepFixture().sweeper.Run(context.Background(), "nightly")
	assert.EqualError(t, err, `unknown sweep "nightly"`)
}
