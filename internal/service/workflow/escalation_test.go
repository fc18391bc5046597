package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

func (f *fixture) escalated(t *testing.T) (*model.Recommendation, *model.Escalation) {
	t.Helper()
	rec, esc, err := f.lc.DoctorReject(context.Background(), f.pending(t).ID, doctor, "ineffective")
	require.NoError(t, err)
	return rec, esc
}

func TestResolve_Approve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec, esc := f.escalated(t)

	gotEsc, gotRec, err := f.esc.Resolve(ctx, esc.ID, ResolveRequest{
		Decision:   model.DecisionApprove,
		Resolution: "continue paracetamol, reassess in 2h",
	}, anest)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, gotRec.ID)
	assert.Equal(t, model.RecommendationStatusApproved, gotRec.Status)
	assert.Equal(t, anest.ID, *gotRec.FinalApproverID)
	assert.Equal(t, testNow, *gotRec.ApprovedAt)

	assert.Equal(t, model.EscalationStatusResolved, gotEsc.Status)
	assert.Equal(t, model.DecisionApprove, gotEsc.Decision)
	assert.Equal(t, "continue paracetamol, reassess in 2h", gotEsc.Resolution)
	assert.Equal(t, anest.ID, *gotEsc.ResolvedBy)

	nurses := f.notes.byRole(model.RoleNurse)
	require.Len(t, nurses, 1)
	assert.Equal(t, model.NotificationApproved, nurses[0].Type)

	_, _, err = f.esc.Resolve(ctx, esc.ID, ResolveRequest{Decision: model.DecisionReject, Resolution: "again"}, anest)
	assert.True(t, errors.IsInvalidState(err))
}

func TestResolve_Reject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, esc := f.escalated(t)

	gotEsc, gotRec, err := f.esc.Resolve(ctx, esc.ID, ResolveRequest{
		Decision:   model.DecisionReject,
		Resolution: "renal function too poor for NSAID line",
	}, anest)
	require.NoError(t, err)

	assert.Equal(t, model.RecommendationStatusRejected, gotRec.Status)
	assert.Equal(t, model.EscalationStatusResolved, gotEsc.Status)
	assert.Equal(t, model.DecisionReject, gotEsc.Decision)

	var rejected int
	for _, n := range f.notes.byRole(model.RoleDoctor) {
		if n.Type == model.NotificationRejected {
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestResolve_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, esc := f.escalated(t)

	tests := []struct {
		name  string
		req   ResolveRequest
		actor model.Actor
		check func(error) bool
	}{
		{
			name:  "missing resolution",
			req:   ResolveRequest{Decision: model.DecisionApprove, Resolution: "  "},
			actor: anest,
			check: errors.IsBadRequest,
		},
		{
			name:  "unknown decision",
			req:   ResolveRequest{Decision: "MAYBE", Resolution: "x"},
			actor: anest,
			check: errors.IsBadRequest,
		},
		{
			name:  "doctor cannot resolve",
			req:   ResolveRequest{Decision: model.DecisionApprove, Resolution: "x"},
			actor: doctor,
			check: errors.IsForbidden,
		},
		{
			name:  "anonymous actor",
			req:   ResolveRequest{Decision: model.DecisionApprove, Resolution: "x"},
			actor: model.Actor{Role: model.RoleAnesthesiologist},
			check: errors.IsBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.esc.Resolve(ctx, esc.ID, tt.req, tt.actor)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	stored, err := f.esc.Get(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationStatusPending, stored.Status)
}

func TestAcknowledge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, esc := f.escalated(t)

	_, err := f.esc.Acknowledge(ctx, esc.ID, doctor)
	assert.True(t, errors.IsForbidden(err))

	got, err := f.esc.Acknowledge(ctx, esc.ID, anest)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationStatusInProgress, got.Status)
	assert.Equal(t, anest.ID, *got.AcknowledgedBy)

	_, err = f.esc.Acknowledge(ctx, esc.ID, anest)
	assert.True(t, errors.IsInvalidState(err))

	// IN_PROGRESS escalations are still resolvable.
	_, _, err = f.esc.Resolve(ctx, esc.ID, ResolveRequest{Decision: model.DecisionApprove, Resolution: "ok"}, anest)
	assert.NoError(t, err)
}

func seedEscalation(t *testing.T, f *fixture, priority model.EscalationPriority, at time.Time) *model.Escalation {
	t.Helper()
	esc := &model.Escalation{
		ID:               uuid.New(),
		RecommendationID: uuid.New(),
		PatientID:        f.patient.ID,
		Priority:         priority,
		Status:           model.EscalationStatusPending,
		Source:           model.EscalationSourcePainAlert,
		Reason:           "seeded",
		EscalatedAt:      at,
	}
	require.NoError(t, f.store.Escalations().Create(context.Background(), esc))
	return esc
}

func TestWorklist_Ordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lowOld := seedEscalation(t, f, model.PriorityLow, testNow.Add(-5*time.Hour))
	highNew := seedEscalation(t, f, model.PriorityHigh, testNow.Add(-10*time.Minute))
	critical := seedEscalation(t, f, model.PriorityCritical, testNow.Add(-time.Minute))
	highOld := seedEscalation(t, f, model.PriorityHigh, testNow.Add(-2*time.Hour))

	list, err := f.esc.Worklist(ctx, model.EscalationFilter{})
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uuid.UUID{critical.ID, highOld.ID, highNew.ID, lowOld.ID}, ids)

	top, err := f.esc.Worklist(ctx, model.EscalationFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, critical.ID, top[0].ID)
	assert.Equal(t, highOld.ID, top[1].ID)

	highs, err := f.esc.Worklist(ctx, model.EscalationFilter{Priority: model.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, highs, 2)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seedEscalation(t, f, model.PriorityCritical, testNow.Add(-30*time.Minute))
	seedEscalation(t, f, model.PriorityHigh, testNow.Add(-2*time.Hour))
	seedEscalation(t, f, model.PriorityHigh, testNow.Add(-6*time.Hour))
	oldest := seedEscalation(t, f, model.PriorityLow, testNow.Add(-30*time.Hour))

	closed := seedEscalation(t, f, model.PriorityCritical, testNow.Add(-time.Minute))
	closed.Status = model.EscalationStatusResolved
	require.NoError(t, f.store.Escalations().Update(ctx, closed))

	s, err := f.esc.Summary(ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.ByPriority[model.PriorityCritical])
	assert.Equal(t, 2, s.ByPriority[model.PriorityHigh])
	assert.Equal(t, 0, s.ByPriority[model.PriorityMedium])
	assert.Equal(t, 1, s.ByPriority[model.PriorityLow])
	assert.Equal(t, map[string]int{
		model.AgeUnderHour: 1,
		model.AgeOneToFour: 1,
		model.AgeFourToDay: 1,
		model.AgeOverDay:   1,
	}, s.ByAge)
	require.NotNil(t, s.Oldest)
	assert.Equal(t, oldest.EscalatedAt, *s.Oldest)
}

func TestAgeBucketBoundaries(t *testing.T) {
	assert.Equal(t, model.AgeUnderHour, ageBucket(59*time.Minute))
	assert.Equal(t, model.AgeOneToFour, ageBucket(time.Hour))
	assert.Equal(t, model.AgeFourToDay, ageBucket(4*time.Hour))
	assert.Equal(t, model.AgeOverDay, ageBucket(24*time.Hour))
}
