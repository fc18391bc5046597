package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type RecommendationStatus string

const (
	RecommendationStatusPending        RecommendationStatus = "PENDING"
	RecommendationStatusApproved       RecommendationStatus = "APPROVED"
	RecommendationStatusRejected       RecommendationStatus = "REJECTED"
	RecommendationStatusEscalated      RecommendationStatus = "ESCALATED"
	RecommendationStatusExecuted       RecommendationStatus = "EXECUTED"
	RecommendationStatusRequiresReview RecommendationStatus = "REQUIRES_REVIEW"
)

// AllRecommendationStatuses lists every state in lifecycle order.
var AllRecommendationStatuses = []RecommendationStatus{
	RecommendationStatusPending,
	RecommendationStatusApproved,
	RecommendationStatusRejected,
	RecommendationStatusEscalated,
	RecommendationStatusExecuted,
	RecommendationStatusRequiresReview,
}

// IsTerminal reports whether no further transition is possible.
func (s RecommendationStatus) IsTerminal() bool {
	return s == RecommendationStatusRejected || s == RecommendationStatusExecuted
}

// IsOpen reports whether the status still awaits a clinician decision.
func (s RecommendationStatus) IsOpen() bool {
	switch s {
	case RecommendationStatusPending, RecommendationStatusEscalated, RecommendationStatusRequiresReview:
		return true
	}
	return false
}

type DrugRole string

const (
	DrugRoleMain      DrugRole = "MAIN"
	DrugRoleAlternate DrugRole = "ALTERNATE"
)

// DrugRecommendation is one drug slot of a recommendation. Adjustment texts
// are advisory and shown verbatim to the approving clinician.
type DrugRecommendation struct {
	Name                string   `json:"name" validate:"required"`
	ActiveMoiety        string   `json:"active_moiety"`
	Dose                string   `json:"dose" validate:"required"`
	Interval            string   `json:"interval"`
	Route               string   `json:"route"`
	AgeAdjustment       string   `json:"age_adjustment,omitempty"`
	WeightAdjustment    string   `json:"weight_adjustment,omitempty"`
	ChildPughAdjustment string   `json:"child_pugh_adjustment,omitempty"`
	Role                DrugRole `json:"role" validate:"oneof=MAIN ALTERNATE"`
}

type DrugSlots []DrugRecommendation

func (d DrugSlots) Value() (driver.Value, error) {
	if d == nil {
		d = DrugSlots{}
	}
	return jsonValue(d)
}
func (d *DrugSlots) Scan(src interface{}) error { return jsonScan(src, d) }

type Comment struct {
	ActorID   uuid.UUID `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

type Comments []Comment

func (c Comments) Value() (driver.Value, error) {
	if c == nil {
		c = Comments{}
	}
	return jsonValue(c)
}
func (c *Comments) Scan(src interface{}) error { return jsonScan(src, c) }

// Recommendation is one entry in a patient's append-only regimen history.
type Recommendation struct {
	Base
	PatientID         uuid.UUID            `db:"patient_id" json:"patient_id"`
	Sequence          int                  `db:"sequence" json:"sequence"`
	Line              int                  `db:"line" json:"line"`
	PainBucket        int                  `db:"pain_bucket" json:"pain_bucket"`
	Route             string               `db:"route" json:"route"`
	Status            RecommendationStatus `db:"status" json:"status"`
	Drugs             DrugSlots            `db:"drugs" json:"drugs"`
	Contraindications pq.StringArray       `db:"contraindications" json:"contraindications"`
	Comments          Comments             `db:"comments" json:"comments"`
	GenerationFailed  bool                 `db:"generation_failed" json:"generation_failed"`
	RejectionReason   string               `db:"rejection_reason" json:"rejection_reason,omitempty"`

	DoctorID       *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorActionAt *time.Time `db:"doctor_action_at" json:"doctor_action_at,omitempty"`
	DoctorComment  string     `db:"doctor_comment" json:"doctor_comment,omitempty"`

	AnesthesiologistID       *uuid.UUID `db:"anesthesiologist_id" json:"anesthesiologist_id,omitempty"`
	AnesthesiologistActionAt *time.Time `db:"anesthesiologist_action_at" json:"anesthesiologist_action_at,omitempty"`
	AnesthesiologistComment  string     `db:"anesthesiologist_comment" json:"anesthesiologist_comment,omitempty"`

	FinalApproverID *uuid.UUID `db:"final_approver_id" json:"final_approver_id,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ExecutedAt      *time.Time `db:"executed_at" json:"executed_at,omitempty"`
	ReviewReason    string     `db:"review_reason" json:"review_reason,omitempty"`

	PainObservationID *uuid.UUID `db:"pain_observation_id" json:"pain_observation_id,omitempty"`
	SnapshotID        *uuid.UUID `db:"snapshot_id" json:"snapshot_id,omitempty"`
	Supersedes        *uuid.UUID `db:"supersedes" json:"supersedes,omitempty"`
	SupersededBy      *uuid.UUID `db:"superseded_by" json:"superseded_by,omitempty"`

	Version int `db:"version" json:"version"`
}

// IsActive reports whether the recommendation counts towards the one open
// recommendation a patient may have.
func (r *Recommendation) IsActive() bool {
	return r.Status.IsOpen() && r.SupersededBy == nil
}

func (r *Recommendation) AddComment(actor Actor, text string, at time.Time) {
	r.Comments = append(r.Comments, Comment{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Role:      actor.Role,
		Text:      text,
		At:        at,
	})
}

// Drug returns the slot with the given role, if present.
func (r *Recommendation) Drug(role DrugRole) (DrugRecommendation, bool) {
	for _, d := range r.Drugs {
		if d.Role == role {
			return d, true
		}
	}
	return DrugRecommendation{}, false
}

func (r *Recommendation) Clone() *Recommendation {
	if r == nil {
		return nil
	}
	c := *r
	c.Drugs = append(DrugSlots(nil), r.Drugs...)
	c.Contraindications = append(pq.StringArray(nil), r.Contraindications...)
	c.Comments = append(Comments(nil), r.Comments...)
	c.DoctorID = cloneUUID(r.DoctorID)
	c.DoctorActionAt = cloneTime(r.DoctorActionAt)
	c.AnesthesiologistID = cloneUUID(r.AnesthesiologistID)
	c.AnesthesiologistActionAt = cloneTime(r.AnesthesiologistActionAt)
	c.FinalApproverID = cloneUUID(r.FinalApproverID)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.ExecutedAt = cloneTime(r.ExecutedAt)
	c.PainObservationID = cloneUUID(r.PainObservationID)
	c.SnapshotID = cloneUUID(r.SnapshotID)
	c.Supersedes = cloneUUID(r.Supersedes)
	c.SupersededBy = cloneUUID(r.SupersededBy)
	return &c
}
