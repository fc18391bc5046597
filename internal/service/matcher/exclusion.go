package matcher

import (
	"fmt"
	"strings"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// minMatchLen guards substring matching against one or two letter noise.
const minMatchLen = 3

// exclusions lists every predicate the drug fails for this patient.
func exclusions(d catalog.DrugRule, rowContra []string, in Input) []string {
	var why []string
	if in.Snapshot != nil {
		why = append(why, thresholdExclusions(d.Thresholds, in.Snapshot)...)
	}
	if in.Patient != nil {
		terms := append([]string{d.Name, d.ActiveMoiety}, d.Avoid...)
		for _, s := range in.Patient.Sensitivities {
			if matchAny(s, terms) {
				why = append(why, fmt.Sprintf("recorded sensitivity %q", s))
			}
		}
		contra := append(append([]string(nil), rowContra...), d.Contraindications...)
		for _, dx := range in.Patient.Diagnoses {
			if matchAny(dx, contra) {
				why = append(why, fmt.Sprintf("contraindicated by %q", dx))
			}
		}
	}
	return why
}

func thresholdExclusions(t catalog.Thresholds, s *model.ClinicalSnapshot) []string {
	var why []string
	below := func(name string, value, cutoff float64) {
		if cutoff > 0 && value > 0 && value < cutoff {
			why = append(why, fmt.Sprintf("%s %.1f below %.1f", name, value, cutoff))
		}
	}
	below("GFR", s.GFR, t.GFRBelow)
	below("PLT", s.Platelets, t.PLTBelow)
	below("WBC", s.WBC, t.WBCBelow)
	below("SAT", s.Saturation, t.SATBelow)
	below("sodium", s.Sodium, t.SodiumBelow)
	if t.SodiumAbove > 0 && s.Sodium > t.SodiumAbove {
		why = append(why, fmt.Sprintf("sodium %.1f above %.1f", s.Sodium, t.SodiumAbove))
	}
	return why
}

// matchAny compares case-insensitively; either side containing the other
// counts, so "NSAIDs" matches the avoid term "nsaid".
func matchAny(value string, terms []string) bool {
	v := normalize(value)
	if v == "" {
		return false
	}
	for _, term := range terms {
		t := normalize(term)
		if t == "" {
			continue
		}
		if v == t {
			return true
		}
		if len(v) >= minMatchLen && len(t) >= minMatchLen &&
			(strings.Contains(v, t) || strings.Contains(t, v)) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
