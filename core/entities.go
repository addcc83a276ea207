/*
entities.go - The relational entity model

PURPOSE:
  Explicit tagged records for every entity the billing core reads or
  writes. Ownership (who may mutate) is noted per type; everything except
  the ledger, invoices, payments, payroll summaries, sibling state, and
  the audit log is read-mostly from the engine's point of view.

LIFECYCLE NOTES:
  - Invoice rows are created/overwritten by a full recalculation for
    (student, month); never patched field-by-field except for explicit,
    audited status overrides.
  - LedgerEntry rows are append-only; balance is always a fold over
    entries, never a mutable counter.
  - Payment rows are immutable once created; corrections are new
    payments or ledger adjustments.
*/
package core

import "time"

// =============================================================================
// ROSTER - Students, families, classes, teachers
// =============================================================================

// Student is the billing subject. Owned by admin.
type Student struct {
	ID           StudentID
	FullName     string
	FamilyID     *FamilyID
	IsActive     bool
	LinkedUserID string
	CreatedAt    time.Time
}

// Family groups students for sibling-discount purposes.
// SiblingDiscountPct, when set, overrides the default 5% policy percent.
type Family struct {
	ID                 FamilyID
	Name               string
	PrimaryUserID      string
	IsActive           bool
	SiblingDiscountPct *int64
}

// Class carries the default per-session price and the weekly schedule
// template used to generate sessions.
type Class struct {
	ID               ClassID
	Name             string
	DefaultTeacherID TeacherID
	SessionRateVND   Amount
	ScheduleTemplate string // JSON weekly slots, see package schedule
}

type Teacher struct {
	ID            TeacherID
	FullName      string
	HourlyRateVND Amount
	IsActive      bool
}

// Enrollment defines the billable window of a student in a class.
// EndDate == nil means active. At most one active enrollment per
// (student, class).
type Enrollment struct {
	ID              EnrollmentID
	StudentID       StudentID
	ClassID         ClassID
	StartDate       time.Time
	EndDate         *time.Time
	RateOverrideVND *Amount
}

// CoversDate reports whether the session date falls inside the enrollment
// window. A session before StartDate is excluded even if scheduled; a
// session after a mid-month EndDate is excluded.
func (e Enrollment) CoversDate(date time.Time) bool {
	d := DateOnly(date)
	if d.Before(DateOnly(e.StartDate)) {
		return false
	}
	if e.EndDate != nil && d.After(DateOnly(*e.EndDate)) {
		return false
	}
	return true
}

// =============================================================================
// SESSIONS & ATTENDANCE
// =============================================================================

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionHeld      SessionStatus = "held"
	SessionCanceled  SessionStatus = "canceled"
	SessionHoliday   SessionStatus = "holiday" // terminal, set externally
)

// Session is one class meeting. Start/End times use "15:04".
// A session in the future always displays as Scheduled regardless of the
// stored status; that is a display rule, not a stored invariant.
type Session struct {
	ID              SessionID
	ClassID         ClassID
	Date            time.Time
	StartTime       string
	EndTime         string
	TeacherID       TeacherID
	Status          SessionStatus
	RateOverrideVND *Amount
}

// DurationMinutes returns the session length in minutes. A session with
// end <= start is a data error and contributes 0, never a negative value.
func (s Session) DurationMinutes() int {
	start, err1 := time.Parse("15:04", s.StartTime)
	end, err2 := time.Parse("15:04", s.EndTime)
	if err1 != nil || err2 != nil {
		return 0
	}
	mins := int(end.Sub(start).Minutes())
	if mins <= 0 {
		return 0
	}
	return mins
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceExcused AttendanceStatus = "excused" // marked absence, still billed
)

// Attendance is one row per (session, student), created by teacher/admin
// action or by the end-of-day auto-marker defaulting to Present.
type Attendance struct {
	SessionID SessionID
	StudentID StudentID
	Status    AttendanceStatus
	MarkedAt  time.Time
	MarkedBy  string
}

// =============================================================================
// DISCOUNTS
// =============================================================================

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

type DiscountDefinition struct {
	ID   string
	Name string
	Type DiscountType
	// Percent value (0..100) or absolute VND, depending on Type.
	Value int64
}

type DiscountScope string

const (
	ScopeStudent DiscountScope = "student"
	ScopeFamily  DiscountScope = "family"
)

// DiscountAssignment binds a definition to a student or a family.
type DiscountAssignment struct {
	ID           string
	DefinitionID string
	Scope        DiscountScope
	StudentID    *StudentID
	FamilyID     *FamilyID
	AssignedAt   time.Time
}

type SiblingStatus string

const (
	SiblingPending  SiblingStatus = "pending"
	SiblingAssigned SiblingStatus = "assigned"
)

// SiblingDiscountState is the persisted outcome of the family-wide sibling
// policy for one month. Recomputed idempotently; recomputation overwrites
// the row for the month and never double-applies.
type SiblingDiscountState struct {
	FamilyID        FamilyID
	Month           Month
	Status          SiblingStatus
	WinnerStudentID *StudentID
	WinnerClassID   *ClassID
	Percent         int64
	ComputedAt      time.Time
}

// =============================================================================
// PAYMENTS & INVOICES
// =============================================================================

// Payment is immutable once created, to preserve the audit trail.
// There is no deduplication key: recording the same amount twice creates
// two payments and two ledger credits.
type Payment struct {
	ID         string
	StudentID  StudentID
	Amount     Amount
	Method     string
	OccurredAt time.Time
	PayerName  string
	Memo       string
	CreatedBy  string
	CreatedAt  time.Time
}

type InvoiceStatus string

// Invoice lifecycle. Generation never produces a draft: the snapshot and
// its ledger posting are written in one transaction, so a generated
// invoice starts at issued. Draft exists for operator-prepared invoices
// imported from outside the generate path.
const (
	InvoiceDraft       InvoiceStatus = "draft"
	InvoiceIssued      InvoiceStatus = "issued"
	InvoicePartial     InvoiceStatus = "partial"
	InvoicePaid        InvoiceStatus = "paid"
	InvoiceNeedsReview InvoiceStatus = "needs_review"
)

// Invoice is the persisted snapshot of a tuition calculation, unique per
// (student_id, month). Both the admin finance view and the student-facing
// view consume this row verbatim.
//
// PostedAmount tracks how much has been posted to the ledger for this
// invoice so far; regeneration posts only the delta. Revision increments
// on every overwrite and keys the posting's idempotency.
type Invoice struct {
	StudentID          StudentID
	Month              Month
	BaseAmount         Amount
	DiscountAmount     Amount
	TotalAmount        Amount
	PaidAmount         Amount
	Status             InvoiceStatus
	ConfirmationStatus string
	PostedAmount       Amount
	Revision           int
	GeneratedAt        time.Time
}

// =============================================================================
// PAYROLL
// =============================================================================

// PayrollSummary is upserted per (teacher, month); recomputation resets
// the amounts, it never accumulates.
type PayrollSummary struct {
	TeacherID     TeacherID
	Month         Month
	TotalMinutes  int
	TotalAmount   Amount
	SessionsCount int
	DataErrors    int // sessions with non-positive duration, billed as 0
	ComputedAt    time.Time
}

// =============================================================================
// GAMIFICATION POINTS
// =============================================================================

// PointsEntry is one points award on the monthly leaderboard.
type PointsEntry struct {
	ID        string
	StudentID StudentID
	ClassID   ClassID
	Month     Month
	Points    int
	Reason    string
	AwardedAt time.Time
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditEntry is append-only. Every mutating administrative operation
// (status override, rate override, bulk cancel, recalculation, reset)
// appends one row inside the same store transaction as the mutation;
// if the audit write fails, the whole operation fails.
type AuditEntry struct {
	ID          string
	Action      string
	Entity      string
	EntityID    string
	ActorUserID string
	Diff        string // JSON before/after
	OccurredAt  time.Time
}
