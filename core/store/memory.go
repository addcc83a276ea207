// Package store provides the in-memory core.Store implementation used by
// tests, demo scenarios, and local development. It mirrors the transactional
// contract of the SQLite store under a single mutex: a compound mutation
// either applies every row or none.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type attKey struct {
	Session core.SessionID
	Student core.StudentID
}

type acctKey struct {
	Student core.StudentID
	Code    string
}

type sibKey struct {
	Family core.FamilyID
	Month  string
}

type invKey struct {
	Student core.StudentID
	Month   string
}

type payrollKey struct {
	Teacher core.TeacherID
	Month   string
}

type schedKey struct {
	Class core.ClassID
	Date  string
	Start string
}

type Memory struct {
	mu sync.RWMutex

	students    map[core.StudentID]core.Student
	families    map[core.FamilyID]core.Family
	classes     map[core.ClassID]core.Class
	teachers    map[core.TeacherID]core.Teacher
	enrollments map[core.EnrollmentID]core.Enrollment
	sessions    map[core.SessionID]core.Session
	sessionKeys map[schedKey]core.SessionID
	attendance  map[attKey]core.Attendance

	definitions map[string]core.DiscountDefinition
	assignments []core.DiscountAssignment
	sibling     map[sibKey]core.SiblingDiscountState

	accounts    map[acctKey]core.LedgerAccount
	entries     []core.LedgerEntry
	idempotency map[string]bool

	payments map[core.StudentID][]core.Payment
	invoices map[invKey]core.Invoice
	payroll  map[payrollKey]core.PayrollSummary

	points        []core.PointsEntry
	pointsArchive []core.PointsEntry

	audit []core.AuditEntry
}

var _ core.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		students:    make(map[core.StudentID]core.Student),
		families:    make(map[core.FamilyID]core.Family),
		classes:     make(map[core.ClassID]core.Class),
		teachers:    make(map[core.TeacherID]core.Teacher),
		enrollments: make(map[core.EnrollmentID]core.Enrollment),
		sessions:    make(map[core.SessionID]core.Session),
		sessionKeys: make(map[schedKey]core.SessionID),
		attendance:  make(map[attKey]core.Attendance),
		definitions: make(map[string]core.DiscountDefinition),
		sibling:     make(map[sibKey]core.SiblingDiscountState),
		accounts:    make(map[acctKey]core.LedgerAccount),
		idempotency: make(map[string]bool),
		payments:    make(map[core.StudentID][]core.Payment),
		invoices:    make(map[invKey]core.Invoice),
		payroll:     make(map[payrollKey]core.PayrollSummary),
	}
}

// =============================================================================
// SEED HELPERS - fixtures for tests and demo scenarios
// =============================================================================

func (m *Memory) PutStudent(s core.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

func (m *Memory) PutFamily(f core.Family) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.families[f.ID] = f
}

func (m *Memory) PutClass(c core.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
}

func (m *Memory) PutTeacher(t core.Teacher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teachers[t.ID] = t
}

func (m *Memory) PutEnrollment(e core.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
}

func (m *Memory) PutSession(s core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.sessionKeys[sessionKey(s)] = s.ID
}

func (m *Memory) PutAttendance(a core.Attendance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance[attKey{a.SessionID, a.StudentID}] = a
}

func (m *Memory) PutDefinition(d core.DiscountDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[d.ID] = d
}

func (m *Memory) PutAssignment(a core.DiscountAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, a)
}

func (m *Memory) PutPoints(p core.PointsEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
}

func sessionKey(s core.Session) schedKey {
	return schedKey{Class: s.ClassID, Date: core.DateOnly(s.Date).Format("2006-01-02"), Start: s.StartTime}
}

// =============================================================================
// ROSTER STORE
// =============================================================================

func (m *Memory) Student(_ context.Context, id core.StudentID) (*core.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) ListStudents(_ context.Context, activeOnly bool) ([]core.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Student
	for _, s := range m.students {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) StudentsByFamily(_ context.Context, id core.FamilyID) ([]core.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Student
	for _, s := range m.students {
		if s.FamilyID != nil && *s.FamilyID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Family(_ context.Context, id core.FamilyID) (*core.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.families[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (m *Memory) ListFamilies(_ context.Context, activeOnly bool) ([]core.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Family
	for _, f := range m.families {
		if activeOnly && !f.IsActive {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Class(_ context.Context, id core.ClassID) (*core.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.classes[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) Teacher(_ context.Context, id core.TeacherID) (*core.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.teachers[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *Memory) ListTeachers(_ context.Context, activeOnly bool) ([]core.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Teacher
	for _, t := range m.teachers {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Enrollment(_ context.Context, id core.EnrollmentID) (*core.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) EnrollmentsByStudent(_ context.Context, id core.StudentID) ([]core.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SessionsByClass(_ context.Context, id core.ClassID, from, to time.Time) ([]core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Session
	for _, s := range m.sessions {
		if s.ClassID == id && !s.Date.Before(from) && s.Date.Before(to) {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *Memory) SessionsByTeacher(_ context.Context, id core.TeacherID, from, to time.Time) ([]core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Session
	for _, s := range m.sessions {
		if s.TeacherID == id && !s.Date.Before(from) && s.Date.Before(to) {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(ss []core.Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].Date.Equal(ss[j].Date) {
			return ss[i].Date.Before(ss[j].Date)
		}
		if ss[i].StartTime != ss[j].StartTime {
			return ss[i].StartTime < ss[j].StartTime
		}
		return ss[i].ID < ss[j].ID
	})
}

func (m *Memory) Attendance(_ context.Context, sessionID core.SessionID, studentID core.StudentID) (*core.Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.attendance[attKey{sessionID, studentID}]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) EnrolledStudents(_ context.Context, id core.ClassID, on time.Time) ([]core.StudentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.StudentID
	for _, e := range m.enrollments {
		if e.ClassID == id && e.CoversDate(on) {
			out = append(out, e.StudentID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) PendingPastSessions(_ context.Context, before time.Time) ([]core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Session
	for _, s := range m.sessions {
		if s.Status == core.SessionScheduled && s.Date.Before(before) {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *Memory) ResolveSession(_ context.Context, id core.SessionID, status core.SessionStatus, marks []core.Attendance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != core.SessionScheduled {
		return nil
	}
	s.Status = status
	m.sessions[id] = s
	for _, a := range marks {
		k := attKey{a.SessionID, a.StudentID}
		if _, exists := m.attendance[k]; !exists {
			m.attendance[k] = a
		}
	}
	return nil
}

func (m *Memory) UpdateEnrollmentRate(_ context.Context, id core.EnrollmentID, rate *core.Amount, audit core.AuditEntry) (*core.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, core.ErrEnrollmentNotFound
	}
	e.RateOverrideVND = rate
	m.enrollments[id] = e
	m.audit = append(m.audit, audit)
	return &e, nil
}

// =============================================================================
// DISCOUNT STORE
// =============================================================================

func (m *Memory) AssignmentsForStudent(_ context.Context, id core.StudentID, familyID *core.FamilyID) ([]core.DiscountAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.DiscountAssignment
	for _, a := range m.assignments {
		switch {
		case a.StudentID != nil && *a.StudentID == id:
			out = append(out, a)
		case familyID != nil && a.FamilyID != nil && *a.FamilyID == *familyID:
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) Definition(_ context.Context, id string) (*core.DiscountDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.definitions[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *Memory) SiblingState(_ context.Context, id core.FamilyID, month core.Month) (*core.SiblingDiscountState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sibling[sibKey{id, month.String()}]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) SaveSiblingState(_ context.Context, state core.SiblingDiscountState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sibling[sibKey{state.FamilyID, state.Month.String()}] = state
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) EnsureAccount(_ context.Context, studentID core.StudentID, code string) (core.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureAccountLocked(studentID, code), nil
}

func (m *Memory) ensureAccountLocked(studentID core.StudentID, code string) core.LedgerAccount {
	k := acctKey{studentID, code}
	if a, ok := m.accounts[k]; ok {
		return a
	}
	a := core.LedgerAccount{
		ID:        core.AccountID(string(studentID) + ":" + code),
		StudentID: studentID,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	m.accounts[k] = a
	return a
}

func (m *Memory) AppendEntry(_ context.Context, entry core.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) appendEntryLocked(entry core.LedgerEntry) error {
	if entry.IdempotencyKey != "" {
		if m.idempotency[entry.IdempotencyKey] {
			return core.ErrDuplicateIdempotencyKey
		}
		m.idempotency[entry.IdempotencyKey] = true
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Memory) EntriesByStudent(_ context.Context, studentID core.StudentID, code string) ([]core.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.LedgerEntry
	for _, e := range m.entries {
		if e.StudentID == studentID && m.accountCode(e.AccountID) == code {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *Memory) accountCode(id core.AccountID) string {
	for _, a := range m.accounts {
		if a.ID == id {
			return a.Code
		}
	}
	return ""
}

func (m *Memory) EntryExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (m *Memory) PaymentsByStudent(_ context.Context, id core.StudentID) ([]core.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]core.Payment(nil), m.payments[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *Memory) CreatePayment(_ context.Context, p core.Payment, entry core.LedgerEntry, audit core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.ensureAccountLocked(p.StudentID, core.AccountCodeTuition)
	entry.AccountID = account.ID
	if err := m.appendEntryLocked(entry); err != nil {
		return err
	}
	m.payments[p.StudentID] = append(m.payments[p.StudentID], p)
	m.audit = append(m.audit, audit)
	return nil
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (m *Memory) Invoice(_ context.Context, id core.StudentID, month core.Month) (*core.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if inv, ok := m.invoices[invKey{id, month.String()}]; ok {
		return &inv, nil
	}
	return nil, nil
}

func (m *Memory) InvoicesByStudent(_ context.Context, id core.StudentID) ([]core.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Invoice
	for _, inv := range m.invoices {
		if inv.StudentID == id {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (m *Memory) SaveInvoice(_ context.Context, inv core.Invoice, entry *core.LedgerEntry, audit core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry != nil {
		account := m.ensureAccountLocked(inv.StudentID, core.AccountCodeTuition)
		entry.AccountID = account.ID
		if err := m.appendEntryLocked(*entry); err != nil {
			return err
		}
	}
	m.invoices[invKey{inv.StudentID, inv.Month.String()}] = inv
	m.audit = append(m.audit, audit)
	return nil
}

// =============================================================================
// PAYROLL STORE
// =============================================================================

func (m *Memory) UpsertPayrollSummary(_ context.Context, s core.PayrollSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payroll[payrollKey{s.TeacherID, s.Month.String()}] = s
	return nil
}

func (m *Memory) PayrollSummaries(_ context.Context, month core.Month) ([]core.PayrollSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.PayrollSummary
	for _, s := range m.payroll {
		if s.Month.Equal(month) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeacherID < out[j].TeacherID })
	return out, nil
}

// =============================================================================
// POINTS STORE
// =============================================================================

func pointsMatch(p core.PointsEntry, m core.Month, classID *core.ClassID, studentID *core.StudentID) bool {
	if !p.Month.Equal(m) {
		return false
	}
	if classID != nil && p.ClassID != *classID {
		return false
	}
	if studentID != nil && p.StudentID != *studentID {
		return false
	}
	return true
}

func (m *Memory) PointsEntries(_ context.Context, month core.Month, classID *core.ClassID, studentID *core.StudentID) ([]core.PointsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.PointsEntry
	for _, p := range m.points {
		if pointsMatch(p, month, classID, studentID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ArchivePoints(_ context.Context, month core.Month, classID *core.ClassID, studentID *core.StudentID, audit core.AuditEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keep []core.PointsEntry
	archived := 0
	for _, p := range m.points {
		if pointsMatch(p, month, classID, studentID) {
			m.pointsArchive = append(m.pointsArchive, p)
			archived++
			continue
		}
		keep = append(keep, p)
	}
	m.points = keep
	m.audit = append(m.audit, audit)
	return archived, nil
}

// =============================================================================
// AUDIT & SCHEDULE
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, entity, entityID string) ([]core.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.AuditEntry
	for _, a := range m.audit {
		if a.Entity == entity && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) UpsertSessions(_ context.Context, sessions []core.Session) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created, skipped := 0, 0
	for _, s := range sessions {
		k := sessionKey(s)
		if _, exists := m.sessionKeys[k]; exists {
			skipped++
			continue
		}
		m.sessions[s.ID] = s
		m.sessionKeys[k] = s.ID
		created++
	}
	return created, skipped, nil
}
