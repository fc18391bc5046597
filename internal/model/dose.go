package model

import (
	"time"

	"github.com/google/uuid"
)

// DoseAdministration is an append-only ledger entry. NextDoseAllowedAt is
// computed when the dose is registered.
type DoseAdministration struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id" validate:"required"`
	DrugName          string     `db:"drug_name" json:"drug_name" validate:"required"`
	Amount            float64    `db:"amount" json:"amount" validate:"gt=0"`
	Unit              string     `db:"unit" json:"unit" validate:"required"`
	Route             string     `db:"route" json:"route" validate:"required"`
	AdministeredBy    uuid.UUID  `db:"administered_by" json:"administered_by"`
	AdministeredAt    time.Time  `db:"administered_at" json:"administered_at"`
	VASBefore         *int       `db:"vas_before" json:"vas_before,omitempty" validate:"omitempty,gte=0,lte=10"`
	VASAfter          *int       `db:"vas_after" json:"vas_after,omitempty" validate:"omitempty,gte=0,lte=10"`
	RecommendationID  *uuid.UUID `db:"recommendation_id" json:"recommendation_id,omitempty"`
	NextDoseAllowedAt time.Time  `db:"next_dose_allowed_at" json:"next_dose_allowed_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

func (d *DoseAdministration) Clone() *DoseAdministration {
	if d == nil {
		return nil
	}
	c := *d
	if d.VASBefore != nil {
		v := *d.VASBefore
		c.VASBefore = &v
	}
	if d.VASAfter != nil {
		v := *d.VASAfter
		c.VASAfter = &v
	}
	c.RecommendationID = cloneUUID(d.RecommendationID)
	return &c
}

// DoseStatus is the dashboard view of a patient's dosing window.
type DoseStatus struct {
	PatientID         uuid.UUID           `json:"patient_id"`
	LastDose          *DoseAdministration `json:"last_dose,omitempty"`
	NextDoseAllowedAt *time.Time          `json:"next_dose_allowed_at,omitempty"`
	CanAdminister     bool                `json:"can_administer"`
	Remaining         time.Duration       `json:"remaining"`
}
