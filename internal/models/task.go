package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enum. Transitions between these are owned by the lifecycle
// package; nothing else may write Status directly.
const (
	TaskStatusDraft           = "draft"
	TaskStatusOpen            = "open"
	TaskStatusPending         = "pending"
	TaskStatusAccepted        = "accepted"
	TaskStatusActive          = "active"
	TaskStatusCompletedWorker = "completed_worker"
	TaskStatusCompleted       = "completed"
	TaskStatusRejected        = "rejected"
	TaskStatusCancelled       = "cancelled"
	TaskStatusDisputed        = "disputed"
)

// Assignment track. Immutable after creation: TaskPatch carries no
// search_method field, so there is no write path for it post-insert.
const (
	SearchMethodPublication = "publication"
	SearchMethodFindWorker  = "find_worker"
)

const (
	PricingFixed   = "fixed"
	PricingHourly  = "hourly"
	PricingDaily   = "daily"
	PricingWeekly  = "weekly"
	PricingMonthly = "monthly"
)

// PricingTypes lists every valid pricing type.
var PricingTypes = []string{
	PricingFixed,
	PricingHourly,
	PricingDaily,
	PricingWeekly,
	PricingMonthly,
}

// ValidPricingType reports whether p is a member of the pricing enumeration.
func ValidPricingType(p string) bool {
	for _, v := range PricingTypes {
		if v == p {
			return true
		}
	}
	return false
}

// Payment sub-record status.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusHeld     = "held"
	PaymentStatusReleased = "released"
	PaymentStatusRefunded = "refunded"
	PaymentStatusFailed   = "failed"
)

const (
	ApplicantStatusPending  = "pending"
	ApplicantStatusAccepted = "accepted"
	ApplicantStatusRejected = "rejected"
)

// Task categories (closed enumeration).
const (
	CategoryKebersihan = "kebersihan"
	CategoryTeknisi    = "teknisi"
	CategoryRenovasi   = "renovasi"
	CategoryAngkut     = "angkut"
	CategoryTaman      = "taman"
	CategoryMasak      = "masak"
	CategoryJahit      = "jahit"
	CategoryLainnya    = "lainnya"
)

// Categories lists every valid task category.
var Categories = []string{
	CategoryKebersihan,
	CategoryTeknisi,
	CategoryRenovasi,
	CategoryAngkut,
	CategoryTaman,
	CategoryMasak,
	CategoryJahit,
	CategoryLainnya,
}

// ValidCategory reports whether c is a member of the category enumeration.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Fee parameters. All amounts are in the smallest currency unit.
const (
	ServiceFeePercent = 5
	AdminFeeFlat      = 1000
	MinimumTaskBudget = 10000
)

// Payment is the escrow sub-record embedded in a task.
type Payment struct {
	Amount      int64      `json:"amount"`
	ServiceFee  int64      `json:"service_fee"`
	AdminFee    int64      `json:"admin_fee"`
	TotalAmount int64      `json:"total_amount"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// NewPayment computes the fee breakdown for a budget.
func NewPayment(budget int64) Payment {
	serviceFee := budget * ServiceFeePercent / 100
	return Payment{
		Amount:      budget,
		ServiceFee:  serviceFee,
		AdminFee:    AdminFeeFlat,
		TotalAmount: budget + serviceFee + AdminFeeFlat,
		Status:      PaymentStatusPending,
	}
}

type Task struct {
	ID          uuid.UUID `json:"id"`
	PosterID    uuid.UUID `json:"poster_id"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Budget      int64     `json:"budget"`
	PricingType string    `json:"pricing_type"`

	SearchMethod string     `json:"search_method"`
	Status       string     `json:"status"`
	AssignedTo   *uuid.UUID `json:"assigned_to,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`

	Payment Payment `json:"payment"`

	WorkerCompletedAt   *time.Time `json:"worker_completed_at,omitempty"`
	EmployerCompletedAt *time.Time `json:"employer_completed_at,omitempty"`
	EmployerApprovedAt  *time.Time `json:"employer_approved_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CompletedBy         *uuid.UUID `json:"completed_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Applicant is one entry in a task's applicant/offer ledger.
type Applicant struct {
	TaskID    uuid.UUID `json:"task_id"`
	WorkerID  uuid.UUID `json:"worker_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}
