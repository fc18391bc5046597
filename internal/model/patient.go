package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Patient is the read-only view of a patient the workflow needs.
type Patient struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	MRN           string         `db:"mrn" json:"mrn"`
	FullName      string         `db:"full_name" json:"full_name"`
	AgeYears      int            `db:"age_years" json:"age_years"`
	Sensitivities pq.StringArray `db:"sensitivities" json:"sensitivities"`
	Diagnoses     pq.StringArray `db:"diagnoses" json:"diagnoses"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.Sensitivities = append(pq.StringArray(nil), p.Sensitivities...)
	c.Diagnoses = append(pq.StringArray(nil), p.Diagnoses...)
	return &c
}
