package workflow

import (
	"strings"

	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// PriorityRules derive an escalation priority from a rejection reason and
// the patient's latest VAS. The most urgent matching rule wins, so the
// result does not depend on keyword order.
type PriorityRules struct {
	CriticalVAS int
	HighVAS     int
	// Keywords maps a lower-case phrase to the priority it implies.
	Keywords map[string]model.EscalationPriority
}

func (r PriorityRules) Priority(reason string, latestVAS int) model.EscalationPriority {
	out := model.PriorityMedium

	text := strings.ToLower(reason)
	for kw, p := range r.Keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			out = model.MaxPriority(out, p)
		}
	}

	switch {
	case r.CriticalVAS > 0 && latestVAS >= r.CriticalVAS:
		out = model.MaxPriority(out, model.PriorityCritical)
	case r.HighVAS > 0 && latestVAS >= r.HighVAS:
		out = model.MaxPriority(out, model.PriorityHigh)
	}
	return out
}
