package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the lifecycle, ledger and escrow services.
const (
	NotifyNewApplication    = "new_application"
	NotifyApplicantAccepted = "applicant_accepted"
	NotifyApplicantRejected = "applicant_rejected"
	NotifyOfferReceived     = "offer_received"
	NotifyOfferAccepted     = "offer_accepted"
	NotifyOfferRejected     = "offer_rejected"
	NotifyTaskCancelled     = "task_cancelled"
	NotifyTaskCompleted     = "task_completed"
	NotifyPaymentReceived   = "payment_received"
	NotifyTaskReported      = "task_reported"
)

type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	RelatedID *uuid.UUID `json:"related_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}
