// Package matcher turns a patient's clinical state into a drug recommendation
// drawn from the protocol catalog.
package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/model"
)

// Input is everything Generate needs. Snapshot may be nil when no EMR reading
// exists yet; threshold checks are then skipped.
type Input struct {
	Patient   *model.Patient
	Snapshot  *model.ClinicalSnapshot
	Pain      *model.PainObservation
	StartLine int
	Route     string
}

type Matcher struct {
	catalog      *catalog.Catalog
	defaultRoute string
	now          func() time.Time
}

func New(c *catalog.Catalog, defaultRoute string) *Matcher {
	if defaultRoute == "" {
		defaultRoute = catalog.DefaultRoute
	}
	return &Matcher{catalog: c, defaultRoute: defaultRoute, now: time.Now}
}

// WithClock overrides the time source, used by tests.
func (m *Matcher) WithClock(now func() time.Time) *Matcher {
	m.now = now
	return m
}

// Generate always returns a single PENDING recommendation. When no line of
// the catalog yields a usable drug it is flagged GenerationFailed with the
// reasons in RejectionReason and no drug slots.
func (m *Matcher) Generate(in Input) *model.Recommendation {
	now := m.now().UTC()
	route := in.Route
	if route == "" {
		route = m.defaultRoute
	}

	rec := &model.Recommendation{
		Base:   model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Route:  strings.ToUpper(route),
		Status: model.RecommendationStatusPending,
	}
	if in.Patient != nil {
		rec.PatientID = in.Patient.ID
	}
	if in.Snapshot != nil {
		id := in.Snapshot.ID
		rec.SnapshotID = &id
	}

	if in.Pain == nil {
		return failed(rec, []string{"no pain observation recorded"})
	}
	painID := in.Pain.ID
	rec.PainObservationID = &painID
	rec.PainBucket = catalog.Bucket(in.Pain.VAS)

	line := in.StartLine
	if line < 1 {
		line = 1
	}

	var reasons []string
	for ; ; line++ {
		rec.Line = line
		row, ok := m.catalog.Lookup(rec.PainBucket, line, rec.Route)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("no protocol for pain bucket %d, line %d, route %s",
				rec.PainBucket, line, rec.Route))
			return failed(rec, reasons)
		}

		drugs, contraindications, excluded := m.evaluateRow(row, in)
		reasons = append(reasons, excluded...)
		if len(drugs) > 0 {
			rec.Drugs = drugs
			rec.Contraindications = contraindications
			rec.RejectionReason = strings.Join(reasons, "; ")
			return rec
		}

		if line >= m.catalog.MaxLine() {
			reasons = append(reasons, fmt.Sprintf("no viable drug up to line %d", line))
			return failed(rec, reasons)
		}
	}
}

func failed(rec *model.Recommendation, reasons []string) *model.Recommendation {
	rec.GenerationFailed = true
	rec.Drugs = nil
	rec.Contraindications = nil
	rec.RejectionReason = strings.Join(reasons, "; ")
	return rec
}

// evaluateRow returns the surviving drug slots, their contraindications and
// the exclusion reasons for the slots that were dropped.
func (m *Matcher) evaluateRow(row catalog.Row, in Input) (model.DrugSlots, []string, []string) {
	var (
		drugs   model.DrugSlots
		contra  []string
		reasons []string
	)

	slots := []struct {
		rule *catalog.DrugRule
		role model.DrugRole
	}{
		{&row.Main, model.DrugRoleMain},
		{row.Alternate, model.DrugRoleAlternate},
	}
	for _, slot := range slots {
		if slot.rule.IsZero() {
			continue
		}
		if why := exclusions(*slot.rule, row.Contraindications, in); len(why) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s (%s, line %d) excluded: %s",
				slot.rule.Name, strings.ToLower(string(slot.role)), row.Key.Line, strings.Join(why, ", ")))
			continue
		}
		drugs = append(drugs, toDrug(*slot.rule, slot.role, row.Key.Route))
		contra = appendUnique(contra, row.Contraindications...)
		contra = appendUnique(contra, slot.rule.Contraindications...)
	}
	return drugs, contra, reasons
}

func toDrug(d catalog.DrugRule, role model.DrugRole, rowRoute string) model.DrugRecommendation {
	route := d.Route
	if route == "" {
		route = rowRoute
	}
	return model.DrugRecommendation{
		Name:                d.Name,
		ActiveMoiety:        d.ActiveMoiety,
		Dose:                d.Dose,
		Interval:            d.Interval,
		Route:               route,
		AgeAdjustment:       d.AgeAdjustment,
		WeightAdjustment:    d.WeightAdjustment,
		ChildPughAdjustment: d.ChildPughAdjustment,
		Role:                role,
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if strings.EqualFold(existing, item) {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}
