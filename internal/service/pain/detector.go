// Package pain watches VAS trends and enforces the dose interval.
package pain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/config"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/internal/repository"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
)

type Thresholds struct {
	MinVasIncrease   int
	CriticalVasLevel int
	HighVasLevel     int
	TrendWindow      time.Duration
	MinDoseInterval  time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinVasIncrease:   2,
		CriticalVasLevel: 8,
		HighVasLevel:     6,
		TrendWindow:      24 * time.Hour,
		MinDoseInterval:  4 * time.Hour,
	}
}

func ThresholdsFromConfig(c config.ClinicalConfig) Thresholds {
	return Thresholds{
		MinVasIncrease:   c.MinVasIncrease,
		CriticalVasLevel: c.CriticalVasLevel,
		HighVasLevel:     c.HighVasLevel,
		TrendWindow:      c.TrendWindow(),
		MinDoseInterval:  c.MinDoseInterval(),
	}
}

// Assessment is the escalation decision for the latest VAS reading.
type Assessment struct {
	PatientID          uuid.UUID                `json:"patient_id"`
	ObservationID      uuid.UUID                `json:"observation_id,omitempty"`
	CurrentVAS         int                      `json:"current_vas"`
	PreviousVAS        *int                     `json:"previous_vas,omitempty"`
	Delta              int                      `json:"delta"`
	EscalationRequired bool                     `json:"escalation_required"`
	Priority           model.EscalationPriority `json:"priority"`
	Reason             string                   `json:"reason"`
	AssessedAt         time.Time                `json:"assessed_at"`
}

type Direction string

const (
	DirectionIncreasing Direction = "INCREASING"
	DirectionDecreasing Direction = "DECREASING"
	DirectionStable     Direction = "STABLE"
)

// Trend summarises the observations recorded inside the trend window.
type Trend struct {
	PatientID uuid.UUID     `json:"patient_id"`
	Direction Direction     `json:"direction"`
	Count     int           `json:"count"`
	Mean      float64       `json:"mean"`
	Min       int           `json:"min"`
	Max       int           `json:"max"`
	Window    time.Duration `json:"window"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
}

type Detector struct {
	t Thresholds
}

func NewDetector(t Thresholds) *Detector {
	return &Detector{t: t}
}

func (d *Detector) Thresholds() Thresholds { return d.t }

// Assess compares the two most recent observations in history.
func (d *Detector) Assess(history []*model.PainObservation, now time.Time) Assessment {
	a := Assessment{AssessedAt: now, Priority: model.PriorityLow}
	obs := ordered(history)
	if len(obs) == 0 {
		a.Reason = "no pain observations recorded"
		return a
	}

	cur := obs[len(obs)-1]
	a.PatientID = cur.PatientID
	a.ObservationID = cur.ID
	a.CurrentVAS = cur.VAS
	if len(obs) > 1 {
		prev := obs[len(obs)-2].VAS
		a.PreviousVAS = &prev
		a.Delta = cur.VAS - prev
	}

	increased := a.PreviousVAS != nil && a.Delta >= d.t.MinVasIncrease
	critical := cur.VAS >= d.t.CriticalVasLevel
	a.EscalationRequired = increased || critical

	switch {
	case critical:
		a.Priority = model.PriorityCritical
	case cur.VAS >= d.t.HighVasLevel:
		a.Priority = model.PriorityHigh
	case increased:
		a.Priority = model.PriorityMedium
	}

	switch {
	case a.PreviousVAS != nil && a.Delta > 0:
		a.Reason = fmt.Sprintf("VAS increased by %d points (%d → %d)", a.Delta, *a.PreviousVAS, cur.VAS)
	case a.PreviousVAS != nil && a.Delta < 0:
		a.Reason = fmt.Sprintf("VAS decreased by %d points (%d → %d)", -a.Delta, *a.PreviousVAS, cur.VAS)
	default:
		a.Reason = fmt.Sprintf("VAS %d", cur.VAS)
	}
	if critical {
		a.Reason += fmt.Sprintf(", at or above critical level %d", d.t.CriticalVasLevel)
	}
	return a
}

// Trend reports the direction of the last change and the statistics of the
// observations recorded in the window ending at now.
func (d *Detector) Trend(history []*model.PainObservation, now time.Time) Trend {
	tr := Trend{Direction: DirectionStable, Window: d.t.TrendWindow, From: now.Add(-d.t.TrendWindow), To: now}
	obs := ordered(history)
	if len(obs) == 0 {
		return tr
	}
	tr.PatientID = obs[0].PatientID

	if n := len(obs); n > 1 {
		switch delta := obs[n-1].VAS - obs[n-2].VAS; {
		case delta > 0:
			tr.Direction = DirectionIncreasing
		case delta < 0:
			tr.Direction = DirectionDecreasing
		}
	}

	sum := 0
	for _, o := range obs {
		if o.RecordedAt.Before(tr.From) || o.RecordedAt.After(now) {
			continue
		}
		if tr.Count == 0 || o.VAS < tr.Min {
			tr.Min = o.VAS
		}
		if tr.Count == 0 || o.VAS > tr.Max {
			tr.Max = o.VAS
		}
		sum += o.VAS
		tr.Count++
	}
	if tr.Count > 0 {
		tr.Mean = float64(sum) / float64(tr.Count)
	}
	return tr
}

func ordered(history []*model.PainObservation) []*model.PainObservation {
	out := make([]*model.PainObservation, 0, len(history))
	for _, o := range history {
		if o != nil {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out
}

// AssessPatient loads the patient's VAS history from pain and assesses it.
func (d *Detector) AssessPatient(ctx context.Context, pain repository.PainRepository, patientID uuid.UUID, now time.Time) (Assessment, error) {
	history, err := pain.History(ctx, patientID, time.Time{})
	if err != nil {
		return Assessment{}, errors.FromRepo("pain history", err)
	}
	a := d.Assess(history, now)
	a.PatientID = patientID
	return a, nil
}

func (d *Detector) PatientTrend(ctx context.Context, pain repository.PainRepository, patientID uuid.UUID, now time.Time) (Trend, error) {
	history, err := pain.History(ctx, patientID, time.Time{})
	if err != nil {
		return Trend{}, errors.FromRepo("pain history", err)
	}
	tr := d.Trend(history, now)
	tr.PatientID = patientID
	return tr, nil
}
