/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full core.Store surface using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger and audit tables are append-only:
  - No UPDATE statements on ledger_entries or audit_log
  - No DELETE statements on ledger_entries or audit_log
  - Corrections via adjusting entries only

KEY TABLES:
  ledger_entries:    Immutable postings; balance is a fold, never a counter
  ledger_accounts:   One per (student, code), created lazily
  invoices:          Calculation snapshots, unique per (student, month)
  sibling_states:    Policy outcomes, unique per (family, month)
  payroll_summaries: Upserted per (teacher, month)
  points_entries:    Live leaderboard; points_archive holds reset months
  audit_log:         One row per administrative mutation

TRANSACTIONS:
  The compound operations (CreatePayment, SaveInvoice, ArchivePoints,
  UpdateEnrollmentRate, ResolveSession) each run in one BEGIN/COMMIT so
  a failed audit write rolls back the mutation it describes.

INDEXES:
  - idx_entries_student: balance fold (hot path)
  - idx_entries_idempotency: duplicate posting rejection
  - idx_sessions_class_date: month aggregation
  - idx_sessions_unique: (class_id, date, start_time) generation key

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/ledger.go: Higher-level ledger using LedgerStore
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/atlas/tuition-engine/core"
)

// Store implements core.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ core.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Roster
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		family_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		linked_user_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_students_family ON students(family_id)
		WHERE family_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS families (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		primary_user_id TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		sibling_discount_pct INTEGER
	);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_teacher_id TEXT NOT NULL DEFAULT '',
		session_rate_vnd INTEGER NOT NULL,
		schedule_template TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS teachers (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		hourly_rate_vnd INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		rate_override_vnd INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_enrollments_student ON enrollments(student_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_class ON enrollments(class_id);

	-- Sessions & attendance
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		teacher_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		rate_override_vnd INTEGER
	);
	-- Generation key: regeneration must never duplicate a meeting.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_unique
		ON sessions(class_id, date, start_time);
	CREATE INDEX IF NOT EXISTS idx_sessions_class_date ON sessions(class_id, date);
	CREATE INDEX IF NOT EXISTS idx_sessions_teacher_date ON sessions(teacher_id, date);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_date ON sessions(status, date);

	CREATE TABLE IF NOT EXISTS attendance (
		session_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		marked_at TEXT NOT NULL,
		marked_by TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, student_id)
	);

	-- Discounts
	CREATE TABLE IF NOT EXISTS discount_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS discount_assignments (
		id TEXT PRIMARY KEY,
		definition_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		student_id TEXT,
		family_id TEXT,
		assigned_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_student ON discount_assignments(student_id)
		WHERE student_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_assignments_family ON discount_assignments(family_id)
		WHERE family_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS sibling_states (
		family_id TEXT NOT NULL,
		month TEXT NOT NULL,
		status TEXT NOT NULL,
		winner_student_id TEXT,
		winner_class_id TEXT,
		percent INTEGER NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (family_id, month)
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_accounts (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		code TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (student_id, code)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		debit INTEGER NOT NULL DEFAULT 0,
		credit INTEGER NOT NULL DEFAULT 0,
		month TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE
	);
	CREATE INDEX IF NOT EXISTS idx_entries_student ON ledger_entries(student_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_entries_idempotency ON ledger_entries(idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- Payments (immutable)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		amount_vnd INTEGER NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		payer_name TEXT NOT NULL DEFAULT '',
		memo TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_student ON payments(student_id, occurred_at);

	-- Invoices (snapshots)
	CREATE TABLE IF NOT EXISTS invoices (
		student_id TEXT NOT NULL,
		month TEXT NOT NULL,
		base_amount INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		paid_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		confirmation_status TEXT NOT NULL DEFAULT '',
		posted_amount INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		generated_at TEXT NOT NULL,
		PRIMARY KEY (student_id, month)
	);

	-- Payroll (snapshots)
	CREATE TABLE IF NOT EXISTS payroll_summaries (
		teacher_id TEXT NOT NULL,
		month TEXT NOT NULL,
		total_minutes INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		sessions_count INTEGER NOT NULL,
		data_errors INTEGER NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (teacher_id, month)
	);

	-- Points
	CREATE TABLE IF NOT EXISTS points_entries (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		month TEXT NOT NULL,
		points INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		awarded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_month ON points_entries(month);

	CREATE TABLE IF NOT EXISTS points_archive (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		month TEXT NOT NULL,
		points INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		awarded_at TEXT NOT NULL,
		archived_at TEXT NOT NULL
	);

	-- Audit (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor_user_id TEXT NOT NULL,
		diff TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the single-statement
// helpers run standalone or inside a compound transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const dateLayout = "2006-01-02"

// =============================================================================
// ROSTER STORE
// =============================================================================

func (s *Store) Student(ctx context.Context, id core.StudentID) (*core.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, full_name, family_id, is_active, linked_user_id, created_at FROM students WHERE id = ?", id)
	return scanStudent(row)
}

func (s *Store) ListStudents(ctx context.Context, activeOnly bool) ([]core.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, full_name, family_id, is_active, linked_user_id, created_at FROM students"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []core.Student
	for rows.Next() {
		st, err := scanStudentRows(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *Store) StudentsByFamily(ctx context.Context, id core.FamilyID) ([]core.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, full_name, family_id, is_active, linked_user_id, created_at FROM students WHERE family_id = ? ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []core.Student
	for rows.Next() {
		st, err := scanStudentRows(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *Store) Family(ctx context.Context, id core.FamilyID) (*core.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f core.Family
	var pct sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, primary_user_id, is_active, sibling_discount_pct FROM families WHERE id = ?", id,
	).Scan(&f.ID, &f.Name, &f.PrimaryUserID, &f.IsActive, &pct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pct.Valid {
		f.SiblingDiscountPct = &pct.Int64
	}
	return &f, nil
}

func (s *Store) ListFamilies(ctx context.Context, activeOnly bool) ([]core.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, name, primary_user_id, is_active, sibling_discount_pct FROM families"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var families []core.Family
	for rows.Next() {
		var f core.Family
		var pct sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &f.PrimaryUserID, &f.IsActive, &pct); err != nil {
			return nil, err
		}
		if pct.Valid {
			f.SiblingDiscountPct = &pct.Int64
		}
		families = append(families, f)
	}
	return families, rows.Err()
}

func (s *Store) Class(ctx context.Context, id core.ClassID) (*core.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c core.Class
	var rate int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, default_teacher_id, session_rate_vnd, schedule_template FROM classes WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.DefaultTeacherID, &rate, &c.ScheduleTemplate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.SessionRateVND = core.VND(rate)
	return &c, nil
}

func (s *Store) Teacher(ctx context.Context, id core.TeacherID) (*core.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t core.Teacher
	var rate int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, full_name, hourly_rate_vnd, is_active FROM teachers WHERE id = ?", id,
	).Scan(&t.ID, &t.FullName, &rate, &t.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.HourlyRateVND = core.VND(rate)
	return &t, nil
}

func (s *Store) ListTeachers(ctx context.Context, activeOnly bool) ([]core.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, full_name, hourly_rate_vnd, is_active FROM teachers"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teachers []core.Teacher
	for rows.Next() {
		var t core.Teacher
		var rate int64
		if err := rows.Scan(&t.ID, &t.FullName, &rate, &t.IsActive); err != nil {
			return nil, err
		}
		t.HourlyRateVND = core.VND(rate)
		teachers = append(teachers, t)
	}
	return teachers, rows.Err()
}

func (s *Store) Enrollment(ctx context.Context, id core.EnrollmentID) (*core.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, student_id, class_id, start_date, end_date, rate_override_vnd FROM enrollments WHERE id = ?", id)
	return scanEnrollment(row)
}

func (s *Store) EnrollmentsByStudent(ctx context.Context, id core.StudentID) ([]core.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, student_id, class_id, start_date, end_date, rate_override_vnd FROM enrollments WHERE student_id = ? ORDER BY start_date, id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []core.Enrollment
	for rows.Next() {
		e, err := scanEnrollmentRows(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func (s *Store) SessionsByClass(ctx context.Context, id core.ClassID, from, to time.Time) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySessions(ctx,
		"SELECT id, class_id, date, start_time, end_time, teacher_id, status, rate_override_vnd FROM sessions WHERE class_id = ? AND date >= ? AND date < ? ORDER BY date, start_time, id",
		id, from.Format(dateLayout), to.Format(dateLayout))
}

func (s *Store) SessionsByTeacher(ctx context.Context, id core.TeacherID, from, to time.Time) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySessions(ctx,
		"SELECT id, class_id, date, start_time, end_time, teacher_id, status, rate_override_vnd FROM sessions WHERE teacher_id = ? AND date >= ? AND date < ? ORDER BY date, start_time, id",
		id, from.Format(dateLayout), to.Format(dateLayout))
}

func (s *Store) Attendance(ctx context.Context, sessionID core.SessionID, studentID core.StudentID) (*core.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a core.Attendance
	var markedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, student_id, status, marked_at, marked_by FROM attendance WHERE session_id = ? AND student_id = ?",
		sessionID, studentID,
	).Scan(&a.SessionID, &a.StudentID, &a.Status, &markedAt, &a.MarkedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.MarkedAt, _ = time.Parse(time.RFC3339, markedAt)
	return &a, nil
}

func (s *Store) EnrolledStudents(ctx context.Context, id core.ClassID, on time.Time) ([]core.StudentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT student_id FROM enrollments
		 WHERE class_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY student_id`,
		id, on.Format(dateLayout), on.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []core.StudentID
	for rows.Next() {
		var sid core.StudentID
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		ids = append(ids, sid)
	}
	return ids, rows.Err()
}

func (s *Store) PendingPastSessions(ctx context.Context, before time.Time) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySessions(ctx,
		"SELECT id, class_id, date, start_time, end_time, teacher_id, status, rate_override_vnd FROM sessions WHERE status = ? AND date < ? ORDER BY date, start_time, id",
		core.SessionScheduled, before.Format(dateLayout))
}

func (s *Store) ResolveSession(ctx context.Context, id core.SessionID, status core.SessionStatus, marks []core.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Only a still-Scheduled session transitions; a staff decision
	// (Held, Canceled, Holiday) is never overwritten by the auto-marker.
	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET status = ? WHERE id = ? AND status = ?",
		status, id, core.SessionScheduled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, m := range marks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attendance (session_id, student_id, status, marked_at, marked_by)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (session_id, student_id) DO NOTHING`,
			m.SessionID, m.StudentID, m.Status, m.MarkedAt.UTC().Format(time.RFC3339), m.MarkedBy)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateEnrollmentRate(ctx context.Context, id core.EnrollmentID, rate *core.Amount, audit core.AuditEntry) (*core.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE enrollments SET rate_override_vnd = ? WHERE id = ?", nullAmount(rate), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrEnrollmentNotFound
	}

	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return nil, err
	}

	enrollment, err := scanEnrollment(tx.QueryRowContext(ctx,
		"SELECT id, student_id, class_id, start_date, end_date, rate_override_vnd FROM enrollments WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// =============================================================================
// DISCOUNT STORE
// =============================================================================

func (s *Store) AssignmentsForStudent(ctx context.Context, id core.StudentID, familyID *core.FamilyID) ([]core.DiscountAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, definition_id, scope, student_id, family_id, assigned_at
		FROM discount_assignments WHERE (scope = 'student' AND student_id = ?)`
	args := []any{id}
	if familyID != nil {
		query += " OR (scope = 'family' AND family_id = ?)"
		args = append(args, *familyID)
	}
	query += " ORDER BY assigned_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []core.DiscountAssignment
	for rows.Next() {
		var a core.DiscountAssignment
		var studentID, famID sql.NullString
		var assignedAt string
		if err := rows.Scan(&a.ID, &a.DefinitionID, &a.Scope, &studentID, &famID, &assignedAt); err != nil {
			return nil, err
		}
		if studentID.Valid {
			sid := core.StudentID(studentID.String)
			a.StudentID = &sid
		}
		if famID.Valid {
			fid := core.FamilyID(famID.String)
			a.FamilyID = &fid
		}
		a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *Store) Definition(ctx context.Context, id string) (*core.DiscountDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d core.DiscountDefinition
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, type, value FROM discount_definitions WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.Type, &d.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SiblingState(ctx context.Context, id core.FamilyID, m core.Month) (*core.SiblingDiscountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state core.SiblingDiscountState
	var month, computedAt string
	var winnerStudent, winnerClass sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT family_id, month, status, winner_student_id, winner_class_id, percent, computed_at
		 FROM sibling_states WHERE family_id = ? AND month = ?`, id, m.String(),
	).Scan(&state.FamilyID, &month, &state.Status, &winnerStudent, &winnerClass, &state.Percent, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.Month, _ = core.ParseMonth(month)
	if winnerStudent.Valid {
		sid := core.StudentID(winnerStudent.String)
		state.WinnerStudentID = &sid
	}
	if winnerClass.Valid {
		cid := core.ClassID(winnerClass.String)
		state.WinnerClassID = &cid
	}
	state.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)
	return &state, nil
}

func (s *Store) SaveSiblingState(ctx context.Context, state core.SiblingDiscountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var winnerStudent, winnerClass sql.NullString
	if state.WinnerStudentID != nil {
		winnerStudent = sql.NullString{String: string(*state.WinnerStudentID), Valid: true}
	}
	if state.WinnerClassID != nil {
		winnerClass = sql.NullString{String: string(*state.WinnerClassID), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sibling_states (family_id, month, status, winner_student_id, winner_class_id, percent, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (family_id, month) DO UPDATE SET
			status = excluded.status,
			winner_student_id = excluded.winner_student_id,
			winner_class_id = excluded.winner_class_id,
			percent = excluded.percent,
			computed_at = excluded.computed_at`,
		state.FamilyID, state.Month.String(), state.Status, winnerStudent, winnerClass,
		state.Percent, state.ComputedAt.UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// LEDGER STORE (append-only)
// =============================================================================

func (s *Store) EnsureAccount(ctx context.Context, studentID core.StudentID, code string) (core.LedgerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ensureAccountTx(ctx, s.db, studentID, code)
}

func ensureAccountTx(ctx context.Context, db dbtx, studentID core.StudentID, code string) (core.LedgerAccount, error) {
	var acct core.LedgerAccount
	var createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT id, student_id, code, created_at FROM ledger_accounts WHERE student_id = ? AND code = ?",
		studentID, code,
	).Scan(&acct.ID, &acct.StudentID, &acct.Code, &createdAt)
	if err == nil {
		acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		return acct, nil
	}
	if err != sql.ErrNoRows {
		return acct, fmt.Errorf("%w: %v", core.ErrAccountCreation, err)
	}

	acct = core.LedgerAccount{
		ID:        core.AccountID(uuid.NewString()),
		StudentID: studentID,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO ledger_accounts (id, student_id, code, created_at) VALUES (?, ?, ?, ?)",
		acct.ID, acct.StudentID, acct.Code, acct.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return acct, fmt.Errorf("%w: %v", core.ErrAccountCreation, err)
	}
	return acct, nil
}

func (s *Store) AppendEntry(ctx context.Context, entry core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendEntryTx(ctx, s.db, entry)
}

func appendEntryTx(ctx context.Context, db dbtx, entry core.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tx_id, account_id, student_id, debit, credit, month, occurred_at, memo, created_by, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TxID, entry.AccountID, entry.StudentID,
		entry.Debit.Int64(), entry.Credit.Int64(), entry.Month.String(),
		entry.OccurredAt.UTC().Format(time.RFC3339), entry.Memo, entry.CreatedBy,
		nullString(entry.IdempotencyKey))
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) EntriesByStudent(ctx context.Context, studentID core.StudentID, code string) ([]core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.tx_id, e.account_id, e.student_id, e.debit, e.credit, e.month,
		       e.occurred_at, e.memo, e.created_by, e.idempotency_key
		FROM ledger_entries e
		JOIN ledger_accounts a ON e.account_id = a.id
		WHERE e.student_id = ? AND a.code = ?
		ORDER BY e.occurred_at, e.rowid`,
		studentID, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.LedgerEntry
	for rows.Next() {
		var e core.LedgerEntry
		var debit, credit int64
		var month, occurredAt string
		var idemKey sql.NullString
		if err := rows.Scan(&e.ID, &e.TxID, &e.AccountID, &e.StudentID, &debit, &credit,
			&month, &occurredAt, &e.Memo, &e.CreatedBy, &idemKey); err != nil {
			return nil, err
		}
		e.Debit, e.Credit = core.VND(debit), core.VND(credit)
		e.Month, _ = core.ParseMonth(month)
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		e.IdempotencyKey = idemKey.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) PaymentsByStudent(ctx context.Context, id core.StudentID) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, amount_vnd, method, occurred_at, payer_name, memo, created_by, created_at
		FROM payments WHERE student_id = ? ORDER BY occurred_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []core.Payment
	for rows.Next() {
		var p core.Payment
		var amount int64
		var occurredAt, createdAt string
		if err := rows.Scan(&p.ID, &p.StudentID, &amount, &p.Method, &occurredAt,
			&p.PayerName, &p.Memo, &p.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		p.Amount = core.VND(amount)
		p.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CreatePayment writes account + payment + credit + audit in one
// transaction. If any step fails, nothing is persisted.
func (s *Store) CreatePayment(ctx context.Context, p core.Payment, entry core.LedgerEntry, audit core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	acct, err := ensureAccountTx(ctx, tx, p.StudentID, core.AccountCodeTuition)
	if err != nil {
		return err
	}
	entry.AccountID = acct.ID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, student_id, amount_vnd, method, occurred_at, payer_name, memo, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StudentID, p.Amount.Int64(), p.Method,
		p.OccurredAt.UTC().Format(time.RFC3339), p.PayerName, p.Memo, p.CreatedBy,
		p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := appendEntryTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (s *Store) Invoice(ctx context.Context, id core.StudentID, m core.Month) (*core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT student_id, month, base_amount, discount_amount, total_amount, paid_amount,
		       status, confirmation_status, posted_amount, revision, generated_at
		FROM invoices WHERE student_id = ? AND month = ?`, id, m.String())
	inv, err := scanInvoiceRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) InvoicesByStudent(ctx context.Context, id core.StudentID) ([]core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, month, base_amount, discount_amount, total_amount, paid_amount,
		       status, confirmation_status, posted_amount, revision, generated_at
		FROM invoices WHERE student_id = ? ORDER BY month`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []core.Invoice
	for rows.Next() {
		inv, err := scanInvoiceRows(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// SaveInvoice upserts the snapshot, posts the optional delta, and appends
// the audit row in one transaction.
func (s *Store) SaveInvoice(ctx context.Context, inv core.Invoice, entry *core.LedgerEntry, audit core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices
		(student_id, month, base_amount, discount_amount, total_amount, paid_amount,
		 status, confirmation_status, posted_amount, revision, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, month) DO UPDATE SET
			base_amount = excluded.base_amount,
			discount_amount = excluded.discount_amount,
			total_amount = excluded.total_amount,
			paid_amount = excluded.paid_amount,
			status = excluded.status,
			confirmation_status = excluded.confirmation_status,
			posted_amount = excluded.posted_amount,
			revision = excluded.revision,
			generated_at = excluded.generated_at`,
		inv.StudentID, inv.Month.String(), inv.BaseAmount.Int64(), inv.DiscountAmount.Int64(),
		inv.TotalAmount.Int64(), inv.PaidAmount.Int64(), inv.Status, inv.ConfirmationStatus,
		inv.PostedAmount.Int64(), inv.Revision, inv.GeneratedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert invoice: %w", err)
	}

	if entry != nil {
		acct, err := ensureAccountTx(ctx, tx, inv.StudentID, core.AccountCodeTuition)
		if err != nil {
			return err
		}
		entry.AccountID = acct.ID
		if err := appendEntryTx(ctx, tx, *entry); err != nil {
			return err
		}
	}

	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// PAYROLL STORE
// =============================================================================

func (s *Store) UpsertPayrollSummary(ctx context.Context, summary core.PayrollSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_summaries
		(teacher_id, month, total_minutes, total_amount, sessions_count, data_errors, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (teacher_id, month) DO UPDATE SET
			total_minutes = excluded.total_minutes,
			total_amount = excluded.total_amount,
			sessions_count = excluded.sessions_count,
			data_errors = excluded.data_errors,
			computed_at = excluded.computed_at`,
		summary.TeacherID, summary.Month.String(), summary.TotalMinutes, summary.TotalAmount.Int64(),
		summary.SessionsCount, summary.DataErrors, summary.ComputedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) PayrollSummaries(ctx context.Context, m core.Month) ([]core.PayrollSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT teacher_id, month, total_minutes, total_amount, sessions_count, data_errors, computed_at
		FROM payroll_summaries WHERE month = ? ORDER BY teacher_id`, m.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []core.PayrollSummary
	for rows.Next() {
		var ps core.PayrollSummary
		var month, computedAt string
		var amount int64
		if err := rows.Scan(&ps.TeacherID, &month, &ps.TotalMinutes, &amount,
			&ps.SessionsCount, &ps.DataErrors, &computedAt); err != nil {
			return nil, err
		}
		ps.Month, _ = core.ParseMonth(month)
		ps.TotalAmount = core.VND(amount)
		ps.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

// =============================================================================
// POINTS STORE
// =============================================================================

func (s *Store) PointsEntries(ctx context.Context, m core.Month, classID *core.ClassID, studentID *core.StudentID) ([]core.PointsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, student_id, class_id, month, points, reason, awarded_at FROM points_entries WHERE month = ?"
	args := []any{m.String()}
	if classID != nil {
		query += " AND class_id = ?"
		args = append(args, *classID)
	}
	if studentID != nil {
		query += " AND student_id = ?"
		args = append(args, *studentID)
	}
	query += " ORDER BY awarded_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.PointsEntry
	for rows.Next() {
		var e core.PointsEntry
		var month, awardedAt string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.ClassID, &month, &e.Points, &e.Reason, &awardedAt); err != nil {
			return nil, err
		}
		e.Month, _ = core.ParseMonth(month)
		e.AwardedAt, _ = time.Parse(time.RFC3339, awardedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ArchivePoints copies the matching rows to the archive, deletes them,
// and appends the audit row in one transaction.
func (s *Store) ArchivePoints(ctx context.Context, m core.Month, classID *core.ClassID, studentID *core.StudentID, audit core.AuditEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	where := "month = ?"
	args := []any{m.String()}
	if classID != nil {
		where += " AND class_id = ?"
		args = append(args, *classID)
	}
	if studentID != nil {
		where += " AND student_id = ?"
		args = append(args, *studentID)
	}

	archiveArgs := append([]any{time.Now().UTC().Format(time.RFC3339)}, args...)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO points_archive (id, student_id, class_id, month, points, reason, awarded_at, archived_at)
		SELECT id, student_id, class_id, month, points, reason, awarded_at, ?
		FROM points_entries WHERE `+where, archiveArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to archive points: %w", err)
	}
	archived, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM points_entries WHERE "+where, args...); err != nil {
		return 0, fmt.Errorf("failed to clear points: %w", err)
	}

	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(archived), nil
}

// =============================================================================
// AUDIT STORE (append-only)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendAuditTx(ctx, s.db, entry)
}

func appendAuditTx(ctx context.Context, db dbtx, entry core.AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, entity, entity_id, actor_user_id, diff, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Entity, entry.EntityID, entry.ActorUserID,
		entry.Diff, entry.OccurredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrAuditWrite, err)
	}
	return nil
}

func (s *Store) AuditTrail(ctx context.Context, entity, entityID string) ([]core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, entity, entity_id, actor_user_id, diff, occurred_at
		FROM audit_log WHERE entity = ? AND entity_id = ? ORDER BY rowid`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		var occurredAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &e.EntityID, &e.ActorUserID, &e.Diff, &occurredAt); err != nil {
			return nil, err
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

// UpsertSessions inserts sessions keyed by (class_id, date, start_time);
// existing sessions are skipped so staff edits survive regeneration.
func (s *Store) UpsertSessions(ctx context.Context, sessions []core.Session) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created, skipped := 0, 0
	for _, sess := range sessions {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, class_id, date, start_time, end_time, teacher_id, status, rate_override_vnd)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (class_id, date, start_time) DO NOTHING`,
			sess.ID, sess.ClassID, sess.Date.Format(dateLayout), sess.StartTime, sess.EndTime,
			sess.TeacherID, sess.Status, nullAmount(sess.RateOverrideVND))
		if err != nil {
			return 0, 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		} else {
			skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, skipped, nil
}

// =============================================================================
// SEEDING - Save helpers for demo scenarios and tests
// =============================================================================

func (s *Store) SaveStudent(ctx context.Context, st core.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var famID sql.NullString
	if st.FamilyID != nil {
		famID = sql.NullString{String: string(*st.FamilyID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, full_name, family_id, is_active, linked_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			family_id = excluded.family_id,
			is_active = excluded.is_active,
			linked_user_id = excluded.linked_user_id`,
		st.ID, st.FullName, famID, st.IsActive, st.LinkedUserID,
		st.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) SaveFamily(ctx context.Context, f core.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pct sql.NullInt64
	if f.SiblingDiscountPct != nil {
		pct = sql.NullInt64{Int64: *f.SiblingDiscountPct, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO families (id, name, primary_user_id, is_active, sibling_discount_pct)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			primary_user_id = excluded.primary_user_id,
			is_active = excluded.is_active,
			sibling_discount_pct = excluded.sibling_discount_pct`,
		f.ID, f.Name, f.PrimaryUserID, f.IsActive, pct)
	return err
}

func (s *Store) SaveClass(ctx context.Context, c core.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, default_teacher_id, session_rate_vnd, schedule_template)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			default_teacher_id = excluded.default_teacher_id,
			session_rate_vnd = excluded.session_rate_vnd,
			schedule_template = excluded.schedule_template`,
		c.ID, c.Name, c.DefaultTeacherID, c.SessionRateVND.Int64(), c.ScheduleTemplate)
	return err
}

func (s *Store) SaveTeacher(ctx context.Context, t core.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teachers (id, full_name, hourly_rate_vnd, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			hourly_rate_vnd = excluded.hourly_rate_vnd,
			is_active = excluded.is_active`,
		t.ID, t.FullName, t.HourlyRateVND.Int64(), t.IsActive)
	return err
}

func (s *Store) SaveEnrollment(ctx context.Context, e core.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endDate sql.NullString
	if e.EndDate != nil {
		endDate = sql.NullString{String: e.EndDate.Format(dateLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, class_id, start_date, end_date, rate_override_vnd)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			student_id = excluded.student_id,
			class_id = excluded.class_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			rate_override_vnd = excluded.rate_override_vnd`,
		e.ID, e.StudentID, e.ClassID, e.StartDate.Format(dateLayout), endDate,
		nullAmount(e.RateOverrideVND))
	return err
}

func (s *Store) SaveSession(ctx context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, date, start_time, end_time, teacher_id, status, rate_override_vnd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (class_id, date, start_time) DO UPDATE SET
			end_time = excluded.end_time,
			teacher_id = excluded.teacher_id,
			status = excluded.status,
			rate_override_vnd = excluded.rate_override_vnd`,
		sess.ID, sess.ClassID, sess.Date.Format(dateLayout), sess.StartTime, sess.EndTime,
		sess.TeacherID, sess.Status, nullAmount(sess.RateOverrideVND))
	return err
}

func (s *Store) SaveAttendance(ctx context.Context, a core.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (session_id, student_id, status, marked_at, marked_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = excluded.status,
			marked_at = excluded.marked_at,
			marked_by = excluded.marked_by`,
		a.SessionID, a.StudentID, a.Status, a.MarkedAt.UTC().Format(time.RFC3339), a.MarkedBy)
	return err
}

func (s *Store) SaveDefinition(ctx context.Context, d core.DiscountDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discount_definitions (id, name, type, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			value = excluded.value`,
		d.ID, d.Name, d.Type, d.Value)
	return err
}

func (s *Store) SaveAssignment(ctx context.Context, a core.DiscountAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var studentID, famID sql.NullString
	if a.StudentID != nil {
		studentID = sql.NullString{String: string(*a.StudentID), Valid: true}
	}
	if a.FamilyID != nil {
		famID = sql.NullString{String: string(*a.FamilyID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discount_assignments (id, definition_id, scope, student_id, family_id, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			definition_id = excluded.definition_id,
			scope = excluded.scope,
			student_id = excluded.student_id,
			family_id = excluded.family_id,
			assigned_at = excluded.assigned_at`,
		a.ID, a.DefinitionID, a.Scope, studentID, famID,
		a.AssignedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) SavePointsEntry(ctx context.Context, e core.PointsEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO points_entries (id, student_id, class_id, month, points, reason, awarded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.StudentID, e.ClassID, e.Month.String(), e.Points, e.Reason,
		e.AwardedAt.UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row *sql.Row) (*core.Student, error) {
	st, err := scanStudentRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanStudentRows(r rowScanner) (core.Student, error) {
	var st core.Student
	var famID sql.NullString
	var createdAt string
	if err := r.Scan(&st.ID, &st.FullName, &famID, &st.IsActive, &st.LinkedUserID, &createdAt); err != nil {
		return st, err
	}
	if famID.Valid {
		fid := core.FamilyID(famID.String)
		st.FamilyID = &fid
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return st, nil
}

func scanEnrollment(row *sql.Row) (*core.Enrollment, error) {
	e, err := scanEnrollmentRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEnrollmentRows(r rowScanner) (core.Enrollment, error) {
	var e core.Enrollment
	var startDate string
	var endDate sql.NullString
	var rate sql.NullInt64
	if err := r.Scan(&e.ID, &e.StudentID, &e.ClassID, &startDate, &endDate, &rate); err != nil {
		return e, err
	}
	e.StartDate, _ = time.Parse(dateLayout, startDate)
	if endDate.Valid {
		d, _ := time.Parse(dateLayout, endDate.String)
		e.EndDate = &d
	}
	if rate.Valid {
		a := core.VND(rate.Int64)
		e.RateOverrideVND = &a
	}
	return e, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]core.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		var sess core.Session
		var date string
		var rate sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.ClassID, &date, &sess.StartTime, &sess.EndTime,
			&sess.TeacherID, &sess.Status, &rate); err != nil {
			return nil, err
		}
		sess.Date, _ = time.Parse(dateLayout, date)
		if rate.Valid {
			a := core.VND(rate.Int64)
			sess.RateOverrideVND = &a
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanInvoiceRows(r rowScanner) (core.Invoice, error) {
	var inv core.Invoice
	var month, generatedAt string
	var base, discount, total, paid, posted int64
	if err := r.Scan(&inv.StudentID, &month, &base, &discount, &total, &paid,
		&inv.Status, &inv.ConfirmationStatus, &posted, &inv.Revision, &generatedAt); err != nil {
		return inv, err
	}
	inv.Month, _ = core.ParseMonth(month)
	inv.BaseAmount = core.VND(base)
	inv.DiscountAmount = core.VND(discount)
	inv.TotalAmount = core.VND(total)
	inv.PaidAmount = core.VND(paid)
	inv.PostedAmount = core.VND(posted)
	inv.GeneratedAt, _ = time.Parse(time.RFC3339, generatedAt)
	return inv, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullAmount(a *core.Amount) sql.NullInt64 {
	if a == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: a.Int64(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
