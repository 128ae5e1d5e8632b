package models

import (
	"math"
	"time"
)

// SubscriptionState is the lifecycle state of a school subscription.
type SubscriptionState string

const (
	SubscriptionTrial     SubscriptionState = "TRIAL"
	SubscriptionActive    SubscriptionState = "ACTIVE"
	SubscriptionExpired   SubscriptionState = "EXPIRED"
	SubscriptionCancelled SubscriptionState = "CANCELLED"
)

// SubscriptionPlan is a billing period.
type SubscriptionPlan string

const (
	PlanMonthly    SubscriptionPlan = "MONTHLY"
	PlanQuarterly  SubscriptionPlan = "QUARTERLY"
	PlanSemiannual SubscriptionPlan = "SEMIANNUAL"
	PlanAnnual     SubscriptionPlan = "ANNUAL"
)

// PlanDays resolves how many days a paid plan adds. Only the monthly and annual
// periods have a dedicated length; every other plan falls back to 30 days.
func PlanDays(plan SubscriptionPlan) int {
	switch plan {
	case PlanMonthly:
		return 30
	case PlanAnnual:
		return 365
	default:
		return 30
	}
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(DateOnly(to).Sub(DateOnly(from)).Hours() / 24))
}

// Subscription is a school's paid access entitlement. Dates are calendar days.
type Subscription struct {
	ID             string            `db:"id" json:"id"`
	SchoolName     string            `db:"school_name" json:"school_name"`
	Plan           SubscriptionPlan  `db:"plan" json:"plan"`
	State          SubscriptionState `db:"state" json:"state"`
	StartDate      time.Time         `db:"start_date" json:"start_date"`
	ExpirationDate time.Time         `db:"expiration_date" json:"expiration_date"`
	AmountPaid     float64           `db:"amount_paid" json:"amount_paid"`
	Notes          string            `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// FunctionallyActive is true for ACTIVE or TRIAL subscriptions whose expiration
// date has not passed. A date-expired ACTIVE row counts as expired.
func (s *Subscription) FunctionallyActive(today time.Time) bool {
	if s == nil {
		return false
	}
	if s.State != SubscriptionActive && s.State != SubscriptionTrial {
		return false
	}
	return !DateOnly(s.ExpirationDate).Before(DateOnly(today))
}

// DaysRemaining returns max(0, expiration - today) in days.
func (s *Subscription) DaysRemaining(today time.Time) int {
	if d := daysBetween(today, s.ExpirationDate); d > 0 {
		return d
	}
	return 0
}

// PercentUsed returns the elapsed share of the subscription period in [0, 100].
func (s *Subscription) PercentUsed(today time.Time) int {
	span := daysBetween(s.StartDate, s.ExpirationDate)
	if span <= 0 {
		return 0
	}
	used := math.Round(100 * float64(daysBetween(s.StartDate, today)) / float64(span))
	return int(math.Max(0, math.Min(100, used)))
}

// ApplyPayment extends or restarts the subscription for an approved payment.
// An active subscription grows from its current expiration; otherwise the
// period restarts today.
func (s *Subscription) ApplyPayment(plan SubscriptionPlan, amount float64, today time.Time) {
	days := PlanDays(plan)
	if s.FunctionallyActive(today) {
		s.ExpirationDate = DateOnly(s.ExpirationDate).AddDate(0, 0, days)
	} else {
		s.StartDate = DateOnly(today)
		s.ExpirationDate = DateOnly(today).AddDate(0, 0, days)
	}
	s.State = SubscriptionActive
	s.Plan = plan
	s.AmountPaid = amount
}

// SubscriptionStatus is the read model returned to clients.
type SubscriptionStatus struct {
	Subscription
	FunctionallyActive bool `json:"functionally_active"`
	DaysRemaining      int  `json:"days_remaining"`
	PercentUsed        int  `json:"percent_used"`
}

// StatusAt computes the derived properties for the given day.
func (s *Subscription) StatusAt(today time.Time) SubscriptionStatus {
	return SubscriptionStatus{
		Subscription:       *s,
		FunctionallyActive: s.FunctionallyActive(today),
		DaysRemaining:      s.DaysRemaining(today),
		PercentUsed:        s.PercentUsed(today),
	}
}

// PaymentStatus tracks a payment decision.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentRejected PaymentStatus = "REJECTED"
)

// SubscriptionPayment is a payer-submitted renewal awaiting an admin decision.
type SubscriptionPayment struct {
	ID             string           `db:"id" json:"id"`
	SubscriptionID string           `db:"subscription_id" json:"subscription_id"`
	Plan           SubscriptionPlan `db:"plan" json:"plan"`
	Amount         float64          `db:"amount" json:"amount"`
	PaymentDate    time.Time        `db:"payment_date" json:"payment_date"`
	Reference      string           `db:"reference" json:"reference"`
	ProofPath      string           `db:"proof_path" json:"-"`
	Status         PaymentStatus    `db:"status" json:"status"`
	Notes          string           `db:"notes" json:"notes,omitempty"`
	SubmittedBy    *string          `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt    time.Time        `db:"submitted_at" json:"submitted_at"`
	DecidedBy      *string          `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt      *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	ReceiptPath    *string          `db:"receipt_path" json:"-"`
}

// PaymentFilter captures list parameters for payments.
type PaymentFilter struct {
	SubscriptionID string
	Status         PaymentStatus
	Page           int
	PageSize       int
}

// PaymentDecision is the outcome of approving or rejecting a payment.
type PaymentDecision struct {
	Payment      SubscriptionPayment `json:"payment"`
	Subscription SubscriptionStatus  `json:"subscription"`
}
