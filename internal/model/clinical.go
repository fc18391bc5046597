package model

import (
	"time"

	"github.com/google/uuid"
)

// ClinicalSnapshot is one append-only EMR reading. A zero numeric field means
// the value was not measured.
type ClinicalSnapshot struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id" validate:"required"`
	HeightCm   float64   `db:"height_cm" json:"height_cm" validate:"gte=0,lte=300"`
	WeightKg   float64   `db:"weight_kg" json:"weight_kg" validate:"gte=0,lte=500"`
	GFR        float64   `db:"gfr" json:"gfr" validate:"gte=0"`
	RenalStage string    `db:"renal_stage" json:"renal_stage"`
	ChildPugh  string    `db:"child_pugh" json:"child_pugh" validate:"omitempty,oneof=A B C"`
	Platelets  float64   `db:"platelets" json:"platelets" validate:"gte=0"`
	WBC        float64   `db:"wbc" json:"wbc" validate:"gte=0"`
	Saturation float64   `db:"saturation" json:"saturation" validate:"gte=0,lte=100"`
	Sodium     float64   `db:"sodium" json:"sodium" validate:"gte=0"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	AuthorID   uuid.UUID `db:"author_id" json:"author_id"`
}

func (s *ClinicalSnapshot) Clone() *ClinicalSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// PainObservation is a VAS score recorded by a nurse.
type PainObservation struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id" validate:"required"`
	VAS        int       `db:"vas" json:"vas" validate:"gte=0,lte=10"`
	Site       string    `db:"site" json:"site" validate:"max=200"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	AuthorID   uuid.UUID `db:"author_id" json:"author_id"`
}

func (o *PainObservation) Clone() *PainObservation {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
