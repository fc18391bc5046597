package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p *model.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return r.s.do(func(st *state) error {
		st.patients[p.ID] = p.Clone()
		return nil
	})
}

func (r patientRepo) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	var out *model.Patient
	err := r.s.do(func(st *state) error {
		p, ok := st.patients[id]
		if !ok {
			return errors.ErrRecordNotFound
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

// Lock only checks the patient exists; the store lock already serialises
// writers.
func (r patientRepo) Lock(_ context.Context, id uuid.UUID) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.patients[id]; !ok {
			return errors.ErrRecordNotFound
		}
		return nil
	})
}

func (r patientRepo) List(_ context.Context) ([]*model.Patient, error) {
	var out []*model.Patient
	err := r.s.do(func(st *state) error {
		for _, p := range st.patients {
			out = append(out, p.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type snapshotRepo struct{ s *Store }

func (r snapshotRepo) Append(_ context.Context, snap *model.ClinicalSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	return r.s.do(func(st *state) error {
		list := append(st.snapshots[snap.PatientID], snap.Clone())
		sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
		st.snapshots[snap.PatientID] = list
		return nil
	})
}

func (r snapshotRepo) Latest(_ context.Context, patientID uuid.UUID) (*model.ClinicalSnapshot, error) {
	var out *model.ClinicalSnapshot
	err := r.s.do(func(st *state) error {
		list := st.snapshots[patientID]
		if len(list) == 0 {
			return errors.ErrRecordNotFound
		}
		out = list[len(list)-1].Clone()
		return nil
	})
	return out, err
}

func (r snapshotRepo) List(_ context.Context, patientID uuid.UUID) ([]*model.ClinicalSnapshot, error) {
	var out []*model.ClinicalSnapshot
	err := r.s.do(func(st *state) error {
		for _, s := range st.snapshots[patientID] {
			out = append(out, s.Clone())
		}
		return nil
	})
	return out, err
}

type painRepo struct{ s *Store }

func (r painRepo) Append(_ context.Context, obs *model.PainObservation) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	return r.s.do(func(st *state) error {
		list := append(st.pain[obs.PatientID], obs.Clone())
		sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
		st.pain[obs.PatientID] = list
		return nil
	})
}

func (r painRepo) Latest(_ context.Context, patientID uuid.UUID) (*model.PainObservation, error) {
	var out *model.PainObservation
	err := r.s.do(func(st *state) error {
		list := st.pain[patientID]
		if len(list) == 0 {
			return errors.ErrRecordNotFound
		}
		out = list[len(list)-1].Clone()
		return nil
	})
	return out, err
}

func (r painRepo) History(_ context.Context, patientID uuid.UUID, since time.Time) ([]*model.PainObservation, error) {
	var out []*model.PainObservation
	err := r.s.do(func(st *state) error {
		for _, o := range st.pain[patientID] {
			if since.IsZero() || !o.RecordedAt.Before(since) {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (r painRepo) PatientsWithPainSince(_ context.Context, minVAS int, since time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.do(func(st *state) error {
		for patientID, list := range st.pain {
			for _, o := range list {
				if o.VAS >= minVAS && !o.RecordedAt.Before(since) {
					out = append(out, patientID)
					break
				}
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, err
}

func (r painRepo) StaleLatest(_ context.Context, minVAS int, before time.Time) ([]*model.PainObservation, error) {
	var out []*model.PainObservation
	err := r.s.do(func(st *state) error {
		for _, list := range st.pain {
			if len(list) == 0 {
				continue
			}
			latest := list[len(list)-1]
			if latest.VAS >= minVAS && latest.RecordedAt.Before(before) {
				out = append(out, latest.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, err
}

type recommendationRepo struct{ s *Store }

func (r recommendationRepo) Create(_ context.Context, rec *model.Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.s.do(func(st *state) error {
		if _, exists := st.recommendations[rec.ID]; exists {
			return errors.ErrStaleVersion
		}
		rec.Sequence = len(st.history[rec.PatientID]) + 1
		rec.Version = 1
		st.recommendations[rec.ID] = rec.Clone()
		st.history[rec.PatientID] = append(st.history[rec.PatientID], rec.ID)
		return nil
	})
}

func (r recommendationRepo) Get(_ context.Context, id uuid.UUID) (*model.Recommendation, error) {
	var out *model.Recommendation
	err := r.s.do(func(st *state) error {
		rec, ok := st.recommendations[id]
		if !ok {
			return errors.ErrRecordNotFound
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r recommendationRepo) Update(_ context.Context, rec *model.Recommendation) error {
	return r.s.do(func(st *state) error {
		stored, ok := st.recommendations[rec.ID]
		if !ok {
			return errors.ErrRecordNotFound
		}
		if stored.Version != rec.Version {
			return errors.ErrStaleVersion
		}
		rec.Version++
		st.recommendations[rec.ID] = rec.Clone()
		return nil
	})
}

func (r recommendationRepo) History(_ context.Context, patientID uuid.UUID) ([]*model.Recommendation, error) {
	var out []*model.Recommendation
	err := r.s.do(func(st *state) error {
		for _, id := range st.history[patientID] {
			out = append(out, st.recommendations[id].Clone())
		}
		return nil
	})
	return out, err
}

func (r recommendationRepo) ListByStatus(ctx context.Context, patientID uuid.UUID, statuses ...model.RecommendationStatus) ([]*model.Recommendation, error) {
	all, err := r.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var out []*model.Recommendation
	for _, rec := range all {
		for _, s := range statuses {
			if rec.Status == s {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (r recommendationRepo) Current(_ context.Context, patientID uuid.UUID) (*model.Recommendation, error) {
	var out *model.Recommendation
	err := r.s.do(func(st *state) error {
		id, ok := st.current[patientID]
		if !ok {
			return errors.ErrRecordNotFound
		}
		out = st.recommendations[id].Clone()
		return nil
	})
	return out, err
}

func (r recommendationRepo) SetCurrent(_ context.Context, patientID, recommendationID uuid.UUID) error {
	return r.s.do(func(st *state) error {
		rec, ok := st.recommendations[recommendationID]
		if !ok || rec.PatientID != patientID {
			return errors.ErrRecordNotFound
		}
		st.current[patientID] = recommendationID
		return nil
	})
}

type escalationRepo struct{ s *Store }

func (r escalationRepo) Create(_ context.Context, esc *model.Escalation) error {
	if esc.ID == uuid.Nil {
		esc.ID = uuid.New()
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.escalations {
			if existing.RecommendationID == esc.RecommendationID {
				return errors.ErrStaleVersion
			}
		}
		esc.Version = 1
		st.escalations[esc.ID] = esc.Clone()
		return nil
	})
}

func (r escalationRepo) Get(_ context.Context, id uuid.UUID) (*model.Escalation, error) {
	var out *model.Escalation
	err := r.s.do(func(st *state) error {
		esc, ok := st.escalations[id]
		if !ok {
			return errors.ErrRecordNotFound
		}
		out = esc.Clone()
		return nil
	})
	return out, err
}

func (r escalationRepo) GetByRecommendation(_ context.Context, recommendationID uuid.UUID) (*model.Escalation, error) {
	var out *model.Escalation
	err := r.s.do(func(st *state) error {
		for _, esc := range st.escalations {
			if esc.RecommendationID == recommendationID {
				out = esc.Clone()
				return nil
			}
		}
		return errors.ErrRecordNotFound
	})
	return out, err
}

func (r escalationRepo) Update(_ context.Context, esc *model.Escalation) error {
	return r.s.do(func(st *state) error {
		stored, ok := st.escalations[esc.ID]
		if !ok {
			return errors.ErrRecordNotFound
		}
		if stored.Version != esc.Version {
			return errors.ErrStaleVersion
		}
		esc.Version++
		st.escalations[esc.ID] = esc.Clone()
		return nil
	})
}

func (r escalationRepo) List(_ context.Context, filter model.EscalationFilter) ([]*model.Escalation, error) {
	var out []*model.Escalation
	err := r.s.do(func(st *state) error {
		for _, esc := range st.escalations {
			if matchesFilter(esc, filter) {
				out = append(out, esc.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EscalatedAt.Before(out[j].EscalatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func matchesFilter(esc *model.Escalation, f model.EscalationFilter) bool {
	if len(f.Statuses) == 0 {
		if !esc.Status.IsOpen() {
			return false
		}
	} else {
		found := false
		for _, s := range f.Statuses {
			if esc.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Priority != "" && esc.Priority != f.Priority {
		return false
	}
	if f.PatientID != nil && esc.PatientID != *f.PatientID {
		return false
	}
	return true
}

type doseRepo struct{ s *Store }

func (r doseRepo) Append(_ context.Context, dose *model.DoseAdministration) error {
	if dose.ID == uuid.Nil {
		dose.ID = uuid.New()
	}
	return r.s.do(func(st *state) error {
		list := append(st.doses[dose.PatientID], dose.Clone())
		sort.SliceStable(list, func(i, j int) bool { return list[i].AdministeredAt.Before(list[j].AdministeredAt) })
		st.doses[dose.PatientID] = list
		return nil
	})
}

func (r doseRepo) Latest(_ context.Context, patientID uuid.UUID) (*model.DoseAdministration, error) {
	var out *model.DoseAdministration
	err := r.s.do(func(st *state) error {
		list := st.doses[patientID]
		if len(list) == 0 {
			return errors.ErrRecordNotFound
		}
		out = list[len(list)-1].Clone()
		return nil
	})
	return out, err
}

func (r doseRepo) List(_ context.Context, patientID uuid.UUID) ([]*model.DoseAdministration, error) {
	var out []*model.DoseAdministration
	err := r.s.do(func(st *state) error {
		for _, d := range st.doses[patientID] {
			out = append(out, d.Clone())
		}
		return nil
	})
	return out, err
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Create(_ context.Context, entry *model.OutboxEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = model.OutboxStatusPending
	}
	return r.s.do(func(st *state) error {
		st.outbox[entry.ID] = entry.Clone()
		return nil
	})
}

func (r outboxRepo) GetPending(_ context.Context, limit int, now time.Time) ([]*model.OutboxEntry, error) {
	var out []*model.OutboxEntry
	err := r.s.do(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
				continue
			}
			if e.RetryAt != nil && e.RetryAt.After(now) {
				continue
			}
			out = append(out, e.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r outboxRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	return r.s.do(func(st *state) error {
		stored, ok := st.outbox[id]
		if !ok {
			return errors.ErrRecordNotFound
		}
		e := stored.Clone()
		now := time.Now().UTC()
		if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
			e.RetryCount++
		}
		e.Status = status
		e.ErrorMessage = errMsg
		e.RetryAt = retryAt
		e.UpdatedAt = now
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		}
		st.outbox[id] = e
		return nil
	})
}

func (r outboxRepo) CountPending(_ context.Context) (int, error) {
	n := 0
	err := r.s.do(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status == model.OutboxStatusPending || e.Status == model.OutboxStatusRetry {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for id, e := range st.outbox {
			if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
				delete(st.outbox, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
