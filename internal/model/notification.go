package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationNewRecommendation NotificationType = "NEW_RECOMMENDATION"
	NotificationEscalation        NotificationType = "ESCALATION"
	NotificationApproved          NotificationType = "RECOMMENDATION_APPROVED"
	NotificationRejected          NotificationType = "RECOMMENDATION_REJECTED"
	NotificationPainAlert         NotificationType = "PAIN_ALERT"
	NotificationReviewRequired    NotificationType = "REVIEW_REQUIRED"
	NotificationDoseOverdue       NotificationType = "DOSE_OVERDUE"
	NotificationEscalationSummary NotificationType = "ESCALATION_SUMMARY"
)

// Notification is the structured message handed to the delivery sink.
type Notification struct {
	ID             uuid.UUID          `json:"id"`
	Type           NotificationType   `json:"type"`
	Priority       EscalationPriority `json:"priority"`
	PatientID      uuid.UUID          `json:"patient_id"`
	PatientName    string             `json:"patient_name"`
	Title          string             `json:"title"`
	Message        string             `json:"message"`
	TargetRole     Role               `json:"target_role,omitempty"`
	TargetUserID   *uuid.UUID         `json:"target_user_id,omitempty"`
	RequiresAction bool               `json:"requires_action"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Channel is the pub/sub channel the notification is delivered on.
func (n *Notification) Channel() string {
	if n.TargetUserID != nil {
		return fmt.Sprintf("notifications:user:%s", n.TargetUserID)
	}
	return fmt.Sprintf("notifications:role:%s", n.TargetRole)
}
