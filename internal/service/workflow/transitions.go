package workflow

import (
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

// Action is a workflow operation on a recommendation.
type Action string

const (
	ActionDoctorApprove           Action = "DOCTOR_APPROVE"
	ActionDoctorReject            Action = "DOCTOR_REJECT"
	ActionAutoEscalate            Action = "AUTO_ESCALATE"
	ActionAnesthesiologistApprove Action = "ANESTHESIOLOGIST_APPROVE"
	ActionAnesthesiologistReject  Action = "ANESTHESIOLOGIST_REJECT"
	ActionMarkExecuted            Action = "MARK_EXECUTED"
	ActionRequireReview           Action = "REQUIRE_REVIEW"
)

// Actions lists every action, used to enumerate the transition table.
var Actions = []Action{
	ActionDoctorApprove,
	ActionDoctorReject,
	ActionAutoEscalate,
	ActionAnesthesiologistApprove,
	ActionAnesthesiologistReject,
	ActionMarkExecuted,
	ActionRequireReview,
}

type transition struct {
	from  model.RecommendationStatus
	to    model.RecommendationStatus
	roles []model.Role
}

// Any (status, action) pair missing here fails with InvalidState.
var transitions = map[Action]transition{
	ActionDoctorApprove: {
		from:  model.RecommendationStatusPending,
		to:    model.RecommendationStatusApproved,
		roles: []model.Role{model.RoleDoctor},
	},
	ActionDoctorReject: {
		from:  model.RecommendationStatusPending,
		to:    model.RecommendationStatusEscalated,
		roles: []model.Role{model.RoleDoctor},
	},
	ActionAutoEscalate: {
		from:  model.RecommendationStatusPending,
		to:    model.RecommendationStatusEscalated,
		roles: []model.Role{model.RoleSystem},
	},
	ActionAnesthesiologistApprove: {
		from:  model.RecommendationStatusEscalated,
		to:    model.RecommendationStatusApproved,
		roles: []model.Role{model.RoleAnesthesiologist},
	},
	ActionAnesthesiologistReject: {
		from:  model.RecommendationStatusEscalated,
		to:    model.RecommendationStatusRejected,
		roles: []model.Role{model.RoleAnesthesiologist},
	},
	ActionMarkExecuted: {
		from:  model.RecommendationStatusApproved,
		to:    model.RecommendationStatusExecuted,
		roles: []model.Role{model.RoleNurse, model.RoleSystem},
	},
	ActionRequireReview: {
		from:  model.RecommendationStatusApproved,
		to:    model.RecommendationStatusRequiresReview,
		roles: []model.Role{model.RoleSystem},
	},
}

// Target reports the status action leads to from the given status.
func Target(action Action, from model.RecommendationStatus) (model.RecommendationStatus, bool) {
	t, ok := transitions[action]
	if !ok || t.from != from {
		return "", false
	}
	return t.to, true
}

// Permits reports whether role may perform action.
func Permits(action Action, role model.Role) bool {
	t, ok := transitions[action]
	if !ok {
		return false
	}
	for _, r := range t.roles {
		if r == role {
			return true
		}
	}
	return false
}

func authorize(action Action, actor model.Actor) error {
	if !Permits(action, actor.Role) {
		return errors.Forbidden("role %s cannot perform %s", actor.Role, action)
	}
	return nil
}

// checkTransition returns the target status or an InvalidState error.
// Superseded recommendations accept no transition.
func checkTransition(action Action, rec *model.Recommendation) (model.RecommendationStatus, error) {
	if rec.SupersededBy != nil {
		return "", errors.InvalidState("recommendation %s was superseded by %s", rec.ID, rec.SupersededBy)
	}
	to, ok := Target(action, rec.Status)
	if !ok {
		return "", errors.InvalidState("cannot %s a recommendation in status %s", action, rec.Status)
	}
	return to, nil
}
