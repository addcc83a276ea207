/*
dto.go - Request/response data structures

PURPOSE:
  Wire-level types for the REST API. Domain types never cross the HTTP
  boundary directly; handlers map between the two so internal refactors
  do not break clients.

VALIDATION:
  Request DTOs carry go-playground/validator tags; handlers run the
  shared validator before touching domain logic.
*/
package api

import "github.com/atlas/tuition-engine/tuition"

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// ROSTER
// =============================================================================

type StudentDTO struct {
	ID       string  `json:"id"`
	FullName string  `json:"fullName"`
	FamilyID *string `json:"familyId,omitempty"`
	IsActive bool    `json:"isActive"`
}

type TeacherDTO struct {
	ID            string `json:"id"`
	FullName      string `json:"fullName"`
	HourlyRateVND int64  `json:"hourlyRateVnd"`
	IsActive      bool   `json:"isActive"`
}

type EnrollmentDTO struct {
	ID              string `json:"id"`
	StudentID       string `json:"studentId"`
	ClassID         string `json:"classId"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate,omitempty"`
	RateOverrideVND *int64 `json:"rateOverrideVnd,omitempty"`
}

// =============================================================================
// PAYMENTS & LEDGER
// =============================================================================

type RecordPaymentRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	AmountVND  int64  `json:"amount_vnd" validate:"required,gt=0"`
	Method     string `json:"method" validate:"omitempty,oneof=cash bank_transfer card"`
	OccurredAt string `json:"occurred_at" validate:"required"` // YYYY-MM-DD
	PayerName  string `json:"payer_name"`
	Memo       string `json:"memo"`
}

type PaymentDTO struct {
	ID         string `json:"id"`
	StudentID  string `json:"studentId"`
	AmountVND  int64  `json:"amountVnd"`
	Method     string `json:"method"`
	OccurredAt string `json:"occurredAt"`
	PayerName  string `json:"payerName,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

type LedgerEntryDTO struct {
	ID         string `json:"id"`
	Debit      int64  `json:"debit"`
	Credit     int64  `json:"credit"`
	Month      string `json:"month"`
	OccurredAt string `json:"occurredAt"`
	Memo       string `json:"memo,omitempty"`
	Balance    int64  `json:"balance"` // running fold up to this entry
}

type BalanceDTO struct {
	StudentID   string `json:"studentId"`
	Outstanding int64  `json:"outstanding"` // positive = owes
}

// =============================================================================
// INVOICES
// =============================================================================

type GenerateInvoicesRequest struct {
	Month     string `json:"month" validate:"required"`
	StudentID string `json:"student_id"` // empty = all active students
}

type InvoiceDTO struct {
	StudentID      string `json:"studentId"`
	Month          string `json:"month"`
	BaseAmount     int64  `json:"baseAmount"`
	DiscountAmount int64  `json:"discountAmount"`
	TotalAmount    int64  `json:"totalAmount"`
	PaidAmount     int64  `json:"paidAmount"`
	Status         string `json:"status"`
	Revision       int    `json:"revision"`
	GeneratedAt    string `json:"generatedAt"`
}

// =============================================================================
// DISCOUNTS, PAYROLL, POINTS, SCHEDULE
// =============================================================================

type ComputeSiblingRequest struct {
	Month string `json:"month" validate:"required"`
}

type CalculatePayrollRequest struct {
	Month     string `json:"month" validate:"required"`
	TeacherID string `json:"teacher_id"` // empty = all active teachers
}

type ResetPointsRequest struct {
	Month     string `json:"month" validate:"required"`
	ClassID   string `json:"class_id"`
	StudentID string `json:"student_id"`
}

type UpdateEnrollmentRateRequest struct {
	RateVND   *int64 `json:"rate_vnd" validate:"omitempty,gte=0"` // null clears the override
	Reason    string `json:"reason" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	Month     string `json:"month" validate:"required"`
}

// UpdateEnrollmentRateResponse returns the committed override together
// with the freshly recalculated tuition projection for (student, month).
type UpdateEnrollmentRateResponse struct {
	Success      bool          `json:"success"`
	Enrollment   EnrollmentDTO `json:"enrollment"`
	Recalculated bool          `json:"recalculated"`
	Tuition      *TuitionDTO   `json:"tuition,omitempty"`
}

type GenerateScheduleRequest struct {
	ClassID string `json:"class_id" validate:"required"`
	Month   string `json:"month" validate:"required"`
}

// =============================================================================
// AUDIT & SCENARIOS
// =============================================================================

type AuditEntryDTO struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Entity      string `json:"entity"`
	EntityID    string `json:"entityId"`
	ActorUserID string `json:"actorUserId"`
	Diff        string `json:"diff,omitempty"`
	OccurredAt  string `json:"occurredAt"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ID string `json:"id" validate:"required"`
}

// TuitionDTO aliases the calculator projection; it is already shaped for
// the wire.
type TuitionDTO = tuition.TuitionResult
