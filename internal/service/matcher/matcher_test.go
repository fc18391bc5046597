package matcher

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
	"github.com/jwalitptl/painmgmt-api/internal/model"
)

var fixedNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Row{
		{
			Key: catalog.Key{Bucket: catalog.BucketModerate, Line: 1, Route: "PO"},
			Main: catalog.DrugRule{
				Name: "Ibuprofen", ActiveMoiety: "ibuprofen", Dose: "600 mg", Interval: "every 8 h",
				AgeAdjustment:       ">65 y: 400 mg every 8 h",
				ChildPughAdjustment: "Child-Pugh C: avoid",
				Thresholds:          catalog.Thresholds{GFRBelow: 30, PLTBelow: 100},
				Avoid:               []string{"nsaid"},
				Contraindications:   []string{"peptic ulcer"},
			},
			Alternate: &catalog.DrugRule{
				Name: "Paracetamol", ActiveMoiety: "paracetamol", Dose: "1 g", Interval: "every 6 h",
				WeightAdjustment: "<50 kg: 15 mg/kg per dose",
				Avoid:            []string{"acetaminophen"},
			},
		},
		{
			Key:  catalog.Key{Bucket: catalog.BucketModerate, Line: 2, Route: "PO"},
			Main: catalog.DrugRule{Name: "Tramadol", ActiveMoiety: "tramadol", Dose: "50 mg", Thresholds: catalog.Thresholds{SATBelow: 92}},
		},
		{
			Key:               catalog.Key{Bucket: catalog.BucketSevere, Line: 1, Route: "PO"},
			Main:              catalog.DrugRule{Name: "Morphine", ActiveMoiety: "morphine", Dose: "10 mg", Avoid: []string{"opioid"}},
			Alternate:         &catalog.DrugRule{Name: "Oxycodone", ActiveMoiety: "oxycodone", Dose: "10 mg", Avoid: []string{"opioid"}},
			Contraindications: []string{"respiratory depression"},
		},
		{
			Key:  catalog.Key{Bucket: catalog.BucketSevere, Line: 2, Route: "PO"},
			Main: catalog.DrugRule{Name: "Hydromorphone", ActiveMoiety: "hydromorphone", Dose: "2 mg", Avoid: []string{"opioid"}},
		},
		{
			Key:  catalog.Key{Bucket: catalog.BucketMild, Line: 3, Route: "PO"},
			Main: catalog.DrugRule{Name: "Metamizole", Dose: "500 mg"},
		},
	})
	require.NoError(t, err)
	return c
}

func newMatcher(t *testing.T) *Matcher {
	return New(testCatalog(t), "PO").WithClock(func() time.Time { return fixedNow })
}

func patient(sensitivities, diagnoses []string) *model.Patient {
	return &model.Patient{ID: uuid.New(), FullName: "Test Patient", Sensitivities: sensitivities, Diagnoses: diagnoses}
}

func pain(vas int) *model.PainObservation {
	return &model.PainObservation{ID: uuid.New(), VAS: vas, RecordedAt: fixedNow}
}

func healthySnapshot() *model.ClinicalSnapshot {
	return &model.ClinicalSnapshot{ID: uuid.New(), GFR: 90, Platelets: 250, WBC: 7, Saturation: 98, Sodium: 140}
}

func TestGenerate_BothSlotsSurvive(t *testing.T) {
	m := newMatcher(t)
	p := patient(nil, nil)
	obs := pain(5)

	rec := m.Generate(Input{Patient: p, Snapshot: healthySnapshot(), Pain: obs})

	assert.False(t, rec.GenerationFailed)
	assert.Equal(t, model.RecommendationStatusPending, rec.Status)
	assert.Equal(t, p.ID, rec.PatientID)
	assert.Equal(t, 1, rec.Line)
	assert.Equal(t, catalog.BucketModerate, rec.PainBucket)
	require.Len(t, rec.Drugs, 2)

	main, ok := rec.Drug(model.DrugRoleMain)
	require.True(t, ok)
	assert.Equal(t, "Ibuprofen", main.Name)
	assert.Equal(t, ">65 y: 400 mg every 8 h", main.AgeAdjustment)
	assert.Equal(t, "Child-Pugh C: avoid", main.ChildPughAdjustment)
	assert.Equal(t, "PO", main.Route)

	alt, ok := rec.Drug(model.DrugRoleAlternate)
	require.True(t, ok)
	assert.Equal(t, "<50 kg: 15 mg/kg per dose", alt.WeightAdjustment)

	assert.Equal(t, []string{"peptic ulcer"}, []string(rec.Contraindications))
	assert.Empty(t, rec.RejectionReason)
	require.NotNil(t, rec.PainObservationID)
	assert.Equal(t, obs.ID, *rec.PainObservationID)
	assert.Equal(t, fixedNow, rec.CreatedAt)
}

func TestGenerate_MainExcludedByThresholdPromotesAlternate(t *testing.T) {
	m := newMatcher(t)
	snap := healthySnapshot()
	snap.GFR = 22

	rec := m.Generate(Input{Patient: patient(nil, nil), Snapshot: snap, Pain: pain(6)})

	require.False(t, rec.GenerationFailed)
	require.Len(t, rec.Drugs, 1)
	assert.Equal(t, "Paracetamol", rec.Drugs[0].Name)
	assert.Equal(t, model.DrugRoleAlternate, rec.Drugs[0].Role)
	assert.Contains(t, rec.RejectionReason, "Ibuprofen")
	assert.Contains(t, rec.RejectionReason, "GFR 22.0 below 30.0")
}

func TestGenerate_NilSnapshotSkipsThresholds(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient(nil, nil), Pain: pain(6)})

	require.Len(t, rec.Drugs, 2)
	assert.Nil(t, rec.SnapshotID)
}

func TestGenerate_SensitivityMatchesAvoidListCaseInsensitive(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient([]string{"NSAIDs"}, nil), Snapshot: healthySnapshot(), Pain: pain(4)})

	require.Len(t, rec.Drugs, 1)
	assert.Equal(t, "Paracetamol", rec.Drugs[0].Name)
	assert.Contains(t, rec.RejectionReason, `recorded sensitivity "NSAIDs"`)
}

func TestGenerate_BothExcludedMovesToNextLine(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{
		Patient:  patient([]string{"ibuprofen", "Acetaminophen"}, nil),
		Snapshot: healthySnapshot(),
		Pain:     pain(6),
	})

	require.False(t, rec.GenerationFailed)
	assert.Equal(t, 2, rec.Line)
	require.Len(t, rec.Drugs, 1)
	assert.Equal(t, "Tramadol", rec.Drugs[0].Name)
	assert.Equal(t, model.DrugRoleMain, rec.Drugs[0].Role)
	assert.Contains(t, rec.RejectionReason, "Ibuprofen")
	assert.Contains(t, rec.RejectionReason, "Paracetamol")
}

func TestGenerate_RowContraindicationExcludesBothDrugs(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{
		Patient:  patient(nil, []string{"Respiratory depression"}),
		Snapshot: healthySnapshot(),
		Pain:     pain(9),
	})

	require.False(t, rec.GenerationFailed)
	assert.Equal(t, 2, rec.Line)
	assert.Equal(t, "Hydromorphone", rec.Drugs[0].Name)
}

func TestGenerate_ExhaustedLinesFail(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient([]string{"opioid"}, nil), Snapshot: healthySnapshot(), Pain: pain(9)})

	assert.True(t, rec.GenerationFailed)
	assert.Empty(t, rec.Drugs)
	assert.Equal(t, model.RecommendationStatusPending, rec.Status)
	assert.NotEmpty(t, rec.RejectionReason)
}

func TestGenerate_CatalogMiss(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient(nil, nil), Snapshot: healthySnapshot(), Pain: pain(10), StartLine: 3})

	assert.True(t, rec.GenerationFailed)
	assert.Empty(t, rec.Drugs)
	assert.Empty(t, rec.Contraindications)
	assert.Contains(t, rec.RejectionReason, "no protocol for pain bucket 10, line 3, route PO")
}

func TestGenerate_MissingPainObservationFails(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient(nil, nil)})

	assert.True(t, rec.GenerationFailed)
	assert.NotEmpty(t, rec.RejectionReason)
}

func TestGenerate_NeverReturnsExcludedDrug(t *testing.T) {
	m := newMatcher(t)
	terms := []string{"ibuprofen", "NSAID", "paracetamol", "acetaminophen", "tramadol", "opioid", "morphine", "oxycodone", "hydromorphone"}

	for _, vas := range []int{2, 5, 9} {
		for i := range terms {
			for j := i; j < len(terms); j++ {
				sens := []string{terms[i], terms[j]}
				rec := m.Generate(Input{Patient: patient(sens, nil), Pain: pain(vas)})
				for _, d := range rec.Drugs {
					for _, s := range sens {
						name := strings.ToLower(d.Name + " " + d.ActiveMoiety)
						assert.NotContains(t, name, strings.ToLower(s), "vas %d sensitivities %v", vas, sens)
					}
				}
			}
		}
	}
}

func TestGenerate_StartLineBeyondCatalogIsBounded(t *testing.T) {
	m := newMatcher(t)

	rec := m.Generate(Input{Patient: patient(nil, nil), Pain: pain(1), StartLine: 1})

	// mild bucket has only a third line, so lines 1 and 2 miss
	assert.True(t, rec.GenerationFailed)
	assert.Equal(t, 1, rec.Line)
}
