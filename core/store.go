/*
store.go - Persistence contracts between the engines and the database

PURPOSE:
  Defines the interfaces the calculation engines read through and the
  mutation paths admin operations write through. Two implementations:
  store/sqlite (production) and core/store (in-memory, tests/dev).

TRANSACTIONAL CONTRACT:
  Mutations that must be all-or-nothing are single interface calls, so an
  implementation can wrap them in one database transaction:
    - CreatePayment: account lazy-create + payment + ledger credit + audit
    - SaveInvoice:   invoice upsert + ledger delta posting + audit
    - ArchivePoints: archive copy + delete + audit
    - UpdateEnrollmentRate: rate update + audit
  A failed audit write fails the whole call.

CONCURRENCY:
  Invoice, sibling-state, and payroll rows are keyed snapshots; Save*
  methods are atomic upserts on the unique key, never read-modify-write.
  Ledger and audit rows are append-only inserts, so racing writers can
  only interleave whole rows, never corrupt one.

SEE ALSO:
  - ledger.go: LedgerStore (part of the combined Store)
  - store/memory.go: in-memory implementation
  - store/sqlite: production implementation
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// ROSTER - Read-mostly entity access
// =============================================================================

// RosterStore reads students, families, classes, teachers, enrollments,
// sessions, and attendance. Lookups return (nil, nil) when absent.
type RosterStore interface {
	Student(ctx context.Context, id StudentID) (*Student, error)
	ListStudents(ctx context.Context, activeOnly bool) ([]Student, error)
	StudentsByFamily(ctx context.Context, id FamilyID) ([]Student, error)

	Family(ctx context.Context, id FamilyID) (*Family, error)
	ListFamilies(ctx context.Context, activeOnly bool) ([]Family, error)

	Class(ctx context.Context, id ClassID) (*Class, error)
	Teacher(ctx context.Context, id TeacherID) (*Teacher, error)
	ListTeachers(ctx context.Context, activeOnly bool) ([]Teacher, error)

	Enrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	EnrollmentsByStudent(ctx context.Context, id StudentID) ([]Enrollment, error)

	// SessionsByClass returns sessions with date in [from, to), ordered by
	// date then start time.
	SessionsByClass(ctx context.Context, id ClassID, from, to time.Time) ([]Session, error)
	SessionsByTeacher(ctx context.Context, id TeacherID, from, to time.Time) ([]Session, error)

	Attendance(ctx context.Context, sessionID SessionID, studentID StudentID) (*Attendance, error)

	// EnrolledStudents returns the students whose enrollment covers the
	// class on the given date (used by the attendance auto-marker).
	EnrolledStudents(ctx context.Context, id ClassID, on time.Time) ([]StudentID, error)

	// PendingPastSessions returns Scheduled sessions dated before the
	// cutoff that have not been resolved yet.
	PendingPastSessions(ctx context.Context, before time.Time) ([]Session, error)

	// ResolveSession transitions a Scheduled session to the given status
	// and inserts the attendance rows for students that have none yet,
	// atomically. A session no longer Scheduled is left untouched.
	ResolveSession(ctx context.Context, id SessionID, status SessionStatus, marks []Attendance) error

	// UpdateEnrollmentRate sets the enrollment-level rate override and
	// appends the audit row in one transaction. Returns the updated row.
	UpdateEnrollmentRate(ctx context.Context, id EnrollmentID, rate *Amount, audit AuditEntry) (*Enrollment, error)
}

// =============================================================================
// DISCOUNTS
// =============================================================================

type DiscountStore interface {
	// AssignmentsForStudent returns assignments scoped to the student plus
	// those scoped to the family (when familyID is non-nil), in assignment
	// order.
	AssignmentsForStudent(ctx context.Context, id StudentID, familyID *FamilyID) ([]DiscountAssignment, error)
	Definition(ctx context.Context, id string) (*DiscountDefinition, error)

	SiblingState(ctx context.Context, id FamilyID, m Month) (*SiblingDiscountState, error)
	// SaveSiblingState upserts the (family, month) row atomically.
	SaveSiblingState(ctx context.Context, state SiblingDiscountState) error
}

// =============================================================================
// PAYMENTS & INVOICES
// =============================================================================

type PaymentStore interface {
	PaymentsByStudent(ctx context.Context, id StudentID) ([]Payment, error)

	// CreatePayment lazily creates the student's tuition ledger account,
	// inserts the payment, the ledger credit (the store fills the entry's
	// AccountID), and the audit row - all in one transaction. If account
	// creation fails, no Payment row is written.
	CreatePayment(ctx context.Context, p Payment, entry LedgerEntry, audit AuditEntry) error
}

type InvoiceStore interface {
	Invoice(ctx context.Context, id StudentID, m Month) (*Invoice, error)
	InvoicesByStudent(ctx context.Context, id StudentID) ([]Invoice, error)

	// SaveInvoice atomically upserts the (student, month) snapshot, posts
	// the optional ledger delta (the store fills the entry's AccountID,
	// creating the account lazily), and appends the audit row. The upsert
	// is keyed, never read-modify-write, so concurrent recalculations
	// cannot interleave partial writes.
	SaveInvoice(ctx context.Context, inv Invoice, entry *LedgerEntry, audit AuditEntry) error
}

// =============================================================================
// PAYROLL & POINTS
// =============================================================================

type PayrollStore interface {
	// UpsertPayrollSummary overwrites the (teacher, month) row; amounts
	// are reset, never accumulated.
	UpsertPayrollSummary(ctx context.Context, s PayrollSummary) error
	PayrollSummaries(ctx context.Context, m Month) ([]PayrollSummary, error)
}

type PointsStore interface {
	PointsEntries(ctx context.Context, m Month, classID *ClassID, studentID *StudentID) ([]PointsEntry, error)

	// ArchivePoints copies the matching live entries to the archive,
	// deletes them, and appends the audit row in one transaction.
	// Returns the number of archived rows (0 on an idempotent re-run).
	ArchivePoints(ctx context.Context, m Month, classID *ClassID, studentID *StudentID, audit AuditEntry) (int, error)
}

// =============================================================================
// AUDIT & SCHEDULE
// =============================================================================

type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditTrail(ctx context.Context, entity, entityID string) ([]AuditEntry, error)
}

type ScheduleStore interface {
	// UpsertSessions inserts sessions that do not exist yet, keyed by
	// (class_id, date, start_time). Existing sessions are skipped so a
	// staff status change is never overwritten by regeneration.
	UpsertSessions(ctx context.Context, sessions []Session) (created, skipped int, err error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface a server wires up.
type Store interface {
	RosterStore
	DiscountStore
	LedgerStore
	PaymentStore
	InvoiceStore
	PayrollStore
	PointsStore
	AuditStore
	ScheduleStore
}
