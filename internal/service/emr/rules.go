// Package emr reacts to changes between two clinical snapshots of a patient.
package emr

import (
	"fmt"
	"strings"

	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// Rules are the cutoffs of a critical change. A zero reading means the value
// was not measured and skips the rules that read it.
type Rules struct {
	GFRRenalFailure      float64
	GFRDropDelta         float64
	PLTBleedingRisk      float64
	WBCImmunosuppression float64
	SATHypoxia           float64
	SodiumLow            float64
	SodiumHigh           float64
}

func DefaultRules() Rules {
	return Rules{
		GFRRenalFailure:      30,
		GFRDropDelta:         25,
		PLTBleedingRisk:      50,
		WBCImmunosuppression: 2,
		SATHypoxia:           90,
		SodiumLow:            130,
		SodiumHigh:           150,
	}
}

func RulesFromConfig(c config.ClinicalConfig) Rules {
	return Rules{
		GFRRenalFailure:      c.GFRRenalFailure,
		GFRDropDelta:         c.GFRDropDelta,
		PLTBleedingRisk:      c.PLTBleedingRisk,
		WBCImmunosuppression: c.WBCImmunosuppression,
		SATHypoxia:           c.SATHypoxia,
		SodiumLow:            c.SodiumLow,
		SodiumHigh:           c.SodiumHigh,
	}
}

// Change is one field that differs between two snapshots.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s → %s", c.Field, c.Old, c.New)
}

// Finding is a critical rule that fired.
type Finding struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

const (
	RuleRenalFailure     = "GFR_RENAL_FAILURE"
	RuleGFRDrop          = "GFR_DROP"
	RuleBleedingRisk     = "PLT_BLEEDING_RISK"
	RuleImmunosuppressed = "WBC_IMMUNOSUPPRESSION"
	RuleHypoxia          = "SAT_HYPOXIA"
	RuleSodium           = "SODIUM_OUT_OF_BAND"
)

// Diff lists the fields that differ. A nil old snapshot reports every
// recorded field of next.
func Diff(old, next *model.ClinicalSnapshot) []Change {
	if next == nil {
		return nil
	}
	if old == nil {
		old = &model.ClinicalSnapshot{}
	}

	var out []Change
	num := func(field string, a, b float64) {
		if a != b {
			out = append(out, Change{Field: field, Old: orDash(formatValue(a)), New: orDash(formatValue(b))})
		}
	}
	str := func(field, a, b string) {
		if a != b {
			out = append(out, Change{Field: field, Old: orDash(a), New: orDash(b)})
		}
	}

	num("height_cm", old.HeightCm, next.HeightCm)
	num("weight_kg", old.WeightKg, next.WeightKg)
	num("gfr", old.GFR, next.GFR)
	str("renal_stage", old.RenalStage, next.RenalStage)
	str("child_pugh", old.ChildPugh, next.ChildPugh)
	num("platelets", old.Platelets, next.Platelets)
	num("wbc", old.WBC, next.WBC)
	num("saturation", old.Saturation, next.Saturation)
	num("sodium", old.Sodium, next.Sodium)
	return out
}

// Critical evaluates the critical-change rules. Cutoff rules fire when a
// value crosses into the unsafe range; a reading that stays out of range
// across snapshots is not a new change.
func (r Rules) Critical(old, next *model.ClinicalSnapshot) []Finding {
	if next == nil {
		return nil
	}
	var prev model.ClinicalSnapshot
	if old != nil {
		prev = *old
	}

	var out []Finding
	if crossedBelow(prev.GFR, next.GFR, r.GFRRenalFailure) {
		out = append(out, Finding{
			Rule:    RuleRenalFailure,
			Message: fmt.Sprintf("GFR %s → %s, below renal failure cutoff %s", orDash(formatValue(prev.GFR)), formatValue(next.GFR), formatValue(r.GFRRenalFailure)),
		})
	}
	if prev.GFR > 0 && next.GFR > 0 && prev.GFR-next.GFR > r.GFRDropDelta {
		out = append(out, Finding{
			Rule:    RuleGFRDrop,
			Message: fmt.Sprintf("GFR dropped by %s (%s → %s)", formatValue(prev.GFR-next.GFR), formatValue(prev.GFR), formatValue(next.GFR)),
		})
	}
	if crossedBelow(prev.Platelets, next.Platelets, r.PLTBleedingRisk) {
		out = append(out, Finding{
			Rule:    RuleBleedingRisk,
			Message: fmt.Sprintf("platelets %s → %s, below bleeding risk cutoff %s", orDash(formatValue(prev.Platelets)), formatValue(next.Platelets), formatValue(r.PLTBleedingRisk)),
		})
	}
	if crossedBelow(prev.WBC, next.WBC, r.WBCImmunosuppression) {
		out = append(out, Finding{
			Rule:    RuleImmunosuppressed,
			Message: fmt.Sprintf("WBC %s → %s, below immunosuppression cutoff %s", orDash(formatValue(prev.WBC)), formatValue(next.WBC), formatValue(r.WBCImmunosuppression)),
		})
	}
	if crossedBelow(prev.Saturation, next.Saturation, r.SATHypoxia) {
		out = append(out, Finding{
			Rule:    RuleHypoxia,
			Message: fmt.Sprintf("SpO2 %s → %s, below hypoxia cutoff %s", orDash(formatValue(prev.Saturation)), formatValue(next.Saturation), formatValue(r.SATHypoxia)),
		})
	}
	if r.sodiumBand(next.Sodium) != 0 && r.sodiumBand(next.Sodium) != r.sodiumBand(prev.Sodium) {
		out = append(out, Finding{
			Rule:    RuleSodium,
			Message: fmt.Sprintf("sodium %s → %s, outside %s-%s", orDash(formatValue(prev.Sodium)), formatValue(next.Sodium), formatValue(r.SodiumLow), formatValue(r.SodiumHigh)),
		})
	}
	return out
}

// crossedBelow reports a measured value moving under cutoff from a safe or
// unmeasured reading.
func crossedBelow(prev, next, cutoff float64) bool {
	return next > 0 && next < cutoff && (prev == 0 || prev >= cutoff)
}

// sodiumBand is -1 below the safe band, 1 above it and 0 inside it or when
// unmeasured.
func (r Rules) sodiumBand(v float64) int {
	switch {
	case v <= 0:
		return 0
	case v < r.SodiumLow:
		return -1
	case v > r.SodiumHigh:
		return 1
	}
	return 0
}

// Summary joins the findings into a review reason.
func Summary(findings []Finding) string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

func formatValue(v float64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
