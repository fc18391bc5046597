package model

import (
	"time"

	"github.com/google/uuid"
)

type EscalationPriority string

const (
	PriorityLow      EscalationPriority = "LOW"
	PriorityMedium   EscalationPriority = "MEDIUM"
	PriorityHigh     EscalationPriority = "HIGH"
	PriorityCritical EscalationPriority = "CRITICAL"
)

// Priorities in worklist order.
var Priorities = []EscalationPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank orders priorities; higher is more urgent. Unknown values rank 0.
func (p EscalationPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p EscalationPriority) AtLeast(other EscalationPriority) bool {
	return p.Rank() >= other.Rank()
}

// MaxPriority returns the most urgent of the given priorities.
func MaxPriority(ps ...EscalationPriority) EscalationPriority {
	var out EscalationPriority
	for _, p := range ps {
		if p.Rank() > out.Rank() {
			out = p
		}
	}
	return out
}

type EscalationStatus string

const (
	EscalationStatusPending    EscalationStatus = "PENDING"
	EscalationStatusInProgress EscalationStatus = "IN_PROGRESS"
	EscalationStatusResolved   EscalationStatus = "RESOLVED"
	EscalationStatusCancelled  EscalationStatus = "CANCELLED"
)

func (s EscalationStatus) IsOpen() bool {
	return s == EscalationStatusPending || s == EscalationStatusInProgress
}

type EscalationSource string

const (
	EscalationSourceDoctorRejection EscalationSource = "DOCTOR_REJECTION"
	EscalationSourcePainAlert       EscalationSource = "PAIN_ALERT"
	EscalationSourceEMRAlert        EscalationSource = "EMR_ALERT"
)

type EscalationDecision string

const (
	DecisionApprove EscalationDecision = "APPROVE"
	DecisionReject  EscalationDecision = "REJECT"
)

// Escalation hands a recommendation over to the anesthesiologist level.
type Escalation struct {
	ID               uuid.UUID          `db:"id" json:"id"`
	RecommendationID uuid.UUID          `db:"recommendation_id" json:"recommendation_id"`
	PatientID        uuid.UUID          `db:"patient_id" json:"patient_id"`
	Priority         EscalationPriority `db:"priority" json:"priority"`
	Status           EscalationStatus   `db:"status" json:"status"`
	Source           EscalationSource   `db:"source" json:"source"`
	Reason           string             `db:"reason" json:"reason"`
	Description      string             `db:"description" json:"description,omitempty"`
	EscalatedBy      uuid.UUID          `db:"escalated_by" json:"escalated_by"`
	EscalatedAt      time.Time          `db:"escalated_at" json:"escalated_at"`
	AcknowledgedBy   *uuid.UUID         `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time         `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedBy       *uuid.UUID         `db:"resolved_by" json:"resolved_by,omitempty"`
	Resolution       string             `db:"resolution" json:"resolution,omitempty"`
	Decision         EscalationDecision `db:"decision" json:"decision,omitempty"`
	ResolvedAt       *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
	Version          int                `db:"version" json:"version"`
}

func (e *Escalation) Clone() *Escalation {
	if e == nil {
		return nil
	}
	c := *e
	c.AcknowledgedBy = cloneUUID(e.AcknowledgedBy)
	c.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	c.ResolvedBy = cloneUUID(e.ResolvedBy)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	return &c
}

// EscalationFilter narrows a worklist query. Empty Statuses means open ones.
type EscalationFilter struct {
	Statuses  []EscalationStatus
	Priority  EscalationPriority
	PatientID *uuid.UUID
	Limit     int
}

// Age buckets used by the escalation summary.
const (
	AgeUnderHour = "<1h"
	AgeOneToFour = "1-4h"
	AgeFourToDay = "4-24h"
	AgeOverDay   = ">24h"
)

// AgeBuckets in ascending order.
var AgeBuckets = []string{AgeUnderHour, AgeOneToFour, AgeFourToDay, AgeOverDay}

// EscalationSummary is the daily operational report of open escalations.
type EscalationSummary struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Total       int                        `json:"total"`
	ByPriority  map[EscalationPriority]int `json:"by_priority"`
	ByAge       map[string]int             `json:"by_age"`
	Oldest      *time.Time                 `json:"oldest,omitempty"`
}
