package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

// ResolveRequest is the anesthesiologist's final decision on an escalation.
type ResolveRequest struct {
	Decision   model.EscalationDecision   `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Resolution string                     `json:"resolution" validate:"required"`
	Comment    string                     `json:"comment"`
	DrugEdits  []model.DrugRecommendation `json:"drug_edits" validate:"omitempty,dive"`
}

// EscalationManager owns escalations. Transitions of the linked
// recommendation go through the Lifecycle.
type EscalationManager struct {
	lifecycle *Lifecycle
}

func NewEscalationManager(lifecycle *Lifecycle) *EscalationManager {
	return &EscalationManager{lifecycle: lifecycle}
}

func (m *EscalationManager) Get(ctx context.Context, id uuid.UUID) (*model.Escalation, error) {
	esc, err := m.lifecycle.store.Escalations().Get(ctx, id)
	if err != nil {
		return nil, errors.FromRepo("escalation", err)
	}
	return esc, nil
}

func (m *EscalationManager) ForRecommendation(ctx context.Context, recommendationID uuid.UUID) (*model.Escalation, error) {
	esc, err := m.lifecycle.store.Escalations().GetByRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, errors.FromRepo("escalation", err)
	}
	return esc, nil
}

// Acknowledge marks a PENDING escalation as being worked on.
func (m *EscalationManager) Acknowledge(ctx context.Context, id uuid.UUID, actor model.Actor) (*model.Escalation, error) {
	if actor.Role != model.RoleAnesthesiologist {
		return nil, errors.Forbidden("role %s cannot acknowledge escalations", actor.Role)
	}
	esc, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *model.Escalation
	err = m.lifecycle.Run(ctx, esc.PatientID, func(op *Op) error {
		esc, err := op.tx.Escalations().Get(op.ctx, id)
		if err != nil {
			return errors.FromRepo("escalation", err)
		}
		if esc.Status != model.EscalationStatusPending {
			return errors.InvalidState("cannot acknowledge an escalation in status %s", esc.Status)
		}
		actorID, at := actor.ID, op.now
		esc.Status = model.EscalationStatusInProgress
		esc.AcknowledgedBy = &actorID
		esc.AcknowledgedAt = &at
		if err := op.tx.Escalations().Update(op.ctx, esc); err != nil {
			return errors.FromRepo("escalation", err)
		}
		out = esc
		return nil
	})
	return out, err
}

// Resolve applies the final decision to the linked recommendation and
// closes the escalation in one transaction.
func (m *EscalationManager) Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest, actor model.Actor) (*model.Escalation, *model.Recommendation, error) {
	if actor.ID == uuid.Nil {
		return nil, nil, errors.Validation("an acting anesthesiologist is required")
	}
	if actor.Role != model.RoleAnesthesiologist {
		return nil, nil, errors.Forbidden("role %s cannot resolve escalations", actor.Role)
	}
	req.Resolution = strings.TrimSpace(req.Resolution)
	if req.Decision != model.DecisionApprove && req.Decision != model.DecisionReject {
		return nil, nil, errors.Validation("decision must be APPROVE or REJECT")
	}
	if req.Resolution == "" {
		return nil, nil, errors.Validation("a resolution narrative is required")
	}

	esc, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var rec *model.Recommendation
	err = m.lifecycle.Run(ctx, esc.PatientID, func(op *Op) error {
		current, err := op.tx.Escalations().Get(op.ctx, id)
		if err != nil {
			return errors.FromRepo("escalation", err)
		}
		if !current.Status.IsOpen() {
			return errors.InvalidState("cannot resolve an escalation in status %s", current.Status)
		}

		switch req.Decision {
		case model.DecisionApprove:
			comment := req.Comment
			if comment == "" && len(req.DrugEdits) == 0 {
				comment = req.Resolution
			}
			rec, err = op.AnesthesiologistApprove(current.RecommendationID, actor, comment, req.DrugEdits)
		default:
			rec, err = op.AnesthesiologistReject(current.RecommendationID, actor, req.Resolution)
		}
		if err != nil {
			return err
		}

		// The lifecycle closed the escalation with its own text; keep the
		// narrative the anesthesiologist gave here.
		esc, err = op.tx.Escalations().Get(op.ctx, id)
		if err != nil {
			return errors.FromRepo("escalation", err)
		}
		if esc.Resolution != req.Resolution {
			esc.Resolution = req.Resolution
			if err := op.tx.Escalations().Update(op.ctx, esc); err != nil {
				return errors.FromRepo("escalation", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return esc, rec, nil
}

// Worklist returns escalations most urgent first, oldest first within a
// priority. An empty status filter means open escalations.
func (m *EscalationManager) Worklist(ctx context.Context, filter model.EscalationFilter) ([]*model.Escalation, error) {
	limit := filter.Limit
	filter.Limit = 0
	list, err := m.lifecycle.store.Escalations().List(ctx, filter)
	if err != nil {
		return nil, errors.FromRepo("escalations", err)
	}
	SortWorklist(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func SortWorklist(list []*model.Escalation) {
	sort.SliceStable(list, func(i, j int) bool {
		pi, pj := list[i].Priority.Rank(), list[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return list[i].EscalatedAt.Before(list[j].EscalatedAt)
	})
}

// Summary counts open escalations by priority and age.
func (m *EscalationManager) Summary(ctx context.Context, now time.Time) (*model.EscalationSummary, error) {
	open, err := m.lifecycle.store.Escalations().List(ctx, model.EscalationFilter{})
	if err != nil {
		return nil, errors.FromRepo("escalations", err)
	}

	s := &model.EscalationSummary{
		GeneratedAt: now,
		ByPriority:  make(map[model.EscalationPriority]int, len(model.Priorities)),
		ByAge:       make(map[string]int, len(model.AgeBuckets)),
	}
	for _, p := range model.Priorities {
		s.ByPriority[p] = 0
	}
	for _, b := range model.AgeBuckets {
		s.ByAge[b] = 0
	}

	for _, esc := range open {
		s.Total++
		s.ByPriority[esc.Priority]++
		s.ByAge[ageBucket(now.Sub(esc.EscalatedAt))]++
		if s.Oldest == nil || esc.EscalatedAt.Before(*s.Oldest) {
			at := esc.EscalatedAt
			s.Oldest = &at
		}
	}

	byPriority := make(map[string]int, len(s.ByPriority))
	for p, n := range s.ByPriority {
		byPriority[string(p)] = n
	}
	m.lifecycle.metrics.SetOpenEscalations(byPriority)
	return s, nil
}

func ageBucket(age time.Duration) string {
	switch {
	case age < time.Hour:
		return model.AgeUnderHour
	case age < 4*time.Hour:
		return model.AgeOneToFour
	case age < 24*time.Hour:
		return model.AgeFourToDay
	default:
		return model.AgeOverDay
	}
}
