/*
handlers.go - HTTP API handlers for the tuition engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Students:
    GET    /api/students                     List students
    GET    /api/students/{id}                Student details
    GET    /api/students/{id}/tuition        Tuition projection for a month
    GET    /api/students/{id}/balance        Outstanding ledger balance
    GET    /api/students/{id}/ledger         Posting history with running balance
    GET    /api/students/{id}/invoices       Invoice snapshots

  Admin (bearer token):
    POST   /api/admin/payments               Record a payment
    POST   /api/admin/invoices/generate      Generate invoice(s) for a month
    POST   /api/admin/discounts/sibling/compute  Recompute sibling discounts
    POST   /api/admin/payroll/calculate      Compute monthly payroll
    POST   /api/admin/points/reset           Archive and clear leaderboard points
    PUT    /api/admin/enrollments/{id}/rate  Set/clear enrollment rate override
    POST   /api/admin/schedule/generate      Materialize a class's monthly sessions

  Read-only reporting:
    GET    /api/payroll                      Persisted payroll summaries
    GET    /api/points/leaderboard           Monthly leaderboard
    GET    /api/audit                        Audit trail for an entity

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic (calculator, generator, recorder, ...)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Missing/invalid admin token, unauthorized actor
  - 404: Resource not found
  - 409: Conflict (duplicate idempotency key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas/tuition-engine/core"
	"github.com/atlas/tuition-engine/payroll"
	"github.com/atlas/tuition-engine/points"
	"github.com/atlas/tuition-engine/schedule"
	"github.com/atlas/tuition-engine/store/sqlite"
	"github.com/atlas/tuition-engine/tuition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Calculator *tuition.Calculator
	Generator  *tuition.Generator
	Recorder   *tuition.Recorder
	Sibling    *tuition.SiblingEngine
	Payroll    *payroll.Calculator
	Points     *points.Service
	Schedule   *schedule.Generator
	Ledger     *core.Ledger

	// AdminToken guards /api/admin; empty disables the check (dev mode).
	AdminToken string

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, adminToken string) *Handler {
	calc := tuition.NewCalculator(store, store, store)
	return &Handler{
		Store:      store,
		Calculator: calc,
		Generator:  tuition.NewGenerator(store),
		Recorder:   tuition.NewRecorder(store),
		Sibling:    calc.Sibling,
		Payroll:    payroll.NewCalculator(store, store),
		Points:     points.NewService(store),
		Schedule:   schedule.NewGenerator(store, store),
		Ledger:     core.NewLedger(store),
		AdminToken: adminToken,
		validate:   validator.New(),
	}
}

// actor identifies the caller for authorization and audit rows. The
// admin middleware has already verified the token by the time an admin
// handler runs, so the role is Admin.
func actor(r *http.Request) core.Actor {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		id = "admin"
	}
	return core.Actor{ID: id, Role: core.RoleAdmin}
}

func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.Validationf("body", "invalid JSON: "+err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return core.Validationf("body", err.Error())
	}
	return nil
}

// monthParam parses a required "month" value in YYYY-MM form.
func monthParam(value string) (core.Month, error) {
	if value == "" {
		return core.Month{}, core.Validationf("month", "is required (YYYY-MM)")
	}
	return core.ParseMonth(value)
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns the roster.
// GET /api/students?active=true
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	students, err := h.Store.ListStudents(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStudent returns a single student.
// GET /api/students/{id}
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := core.StudentID(chi.URLParam(r, "id"))

	student, err := h.Store.Student(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// GetTuition returns the full tuition projection for (student, month).
// GET /api/students/{id}/tuition?month=YYYY-MM
func (h *Handler) GetTuition(w http.ResponseWriter, r *http.Request) {
	id := core.StudentID(chi.URLParam(r, "id"))
	month, err := monthParam(r.URL.Query().Get("month"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Calculator.Calculate(r.Context(), id, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetBalance returns the student's outstanding ledger balance.
// GET /api/students/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := core.StudentID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.OutstandingBalance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		StudentID:   string(id),
		Outstanding: balance.Int64(),
	})
}

// GetLedger returns the posting history with a running balance.
// GET /api/students/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := core.StudentID(chi.URLParam(r, "id"))

	entries, err := h.Store.EntriesByStudent(r.Context(), id, core.AccountCodeTuition)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	running := core.ZeroVND()
	for _, e := range entries {
		running = running.Add(e.Net())
		dtos = append(dtos, LedgerEntryDTO{
			ID:         e.ID,
			Debit:      e.Debit.Int64(),
			Credit:     e.Credit.Int64(),
			Month:      e.Month.String(),
			OccurredAt: e.OccurredAt.Format(time.RFC3339),
			Memo:       e.Memo,
			Balance:    running.Int64(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoices returns the student's invoice snapshots.
// GET /api/students/{id}/invoices
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	id := core.StudentID(chi.URLParam(r, "id"))

	invoices, err := h.Store.InvoicesByStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RecordPayment records a confirmed payment.
// POST /api/admin/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	occurredAt, err := time.Parse("2006-01-02", req.OccurredAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid occurred_at format (use YYYY-MM-DD)", err)
		return
	}

	payment, err := h.Recorder.Record(r.Context(), actor(r), tuition.PaymentRequest{
		StudentID:  core.StudentID(req.StudentID),
		AmountVND:  req.AmountVND,
		Method:     req.Method,
		OccurredAt: occurredAt,
		PayerName:  req.PayerName,
		Memo:       req.Memo,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PaymentDTO{
		ID:         payment.ID,
		StudentID:  string(payment.StudentID),
		AmountVND:  payment.Amount.Int64(),
		Method:     payment.Method,
		OccurredAt: payment.OccurredAt.Format("2006-01-02"),
		PayerName:  payment.PayerName,
		Memo:       payment.Memo,
	})
}

// GenerateInvoices generates one invoice or runs the monthly batch.
// POST /api/admin/invoices/generate
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoicesRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.StudentID != "" {
		inv, err := h.Generator.Generate(r.Context(), actor(r), core.StudentID(req.StudentID), month)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
		return
	}

	report, err := h.Generator.GenerateAll(r.Context(), actor(r), month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ComputeSiblingDiscounts recomputes the sibling policy for every family.
// POST /api/admin/discounts/sibling/compute
func (h *Handler) ComputeSiblingDiscounts(w http.ResponseWriter, r *http.Request) {
	var req ComputeSiblingRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := h.Sibling.RecomputeAll(r.Context(), month, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CalculatePayroll computes and persists the month's payroll.
// POST /api/admin/payroll/calculate
func (h *Handler) CalculatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CalculatePayrollRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var teacherID *core.TeacherID
	if req.TeacherID != "" {
		tid := core.TeacherID(req.TeacherID)
		teacherID = &tid
	}

	result, err := h.Payroll.Calculate(r.Context(), month, teacherID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResetPoints archives and clears leaderboard points.
// POST /api/admin/points/reset
func (h *Handler) ResetPoints(w http.ResponseWriter, r *http.Request) {
	var req ResetPointsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var classID *core.ClassID
	if req.ClassID != "" {
		cid := core.ClassID(req.ClassID)
		classID = &cid
	}
	var studentID *core.StudentID
	if req.StudentID != "" {
		sid := core.StudentID(req.StudentID)
		studentID = &sid
	}

	result, err := h.Points.Reset(r.Context(), actor(r), month, classID, studentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateEnrollmentRate sets or clears the enrollment-level rate override,
// audits the change with the operator's reason, and returns the tuition
// projection recalculated under the new rate.
// PUT /api/admin/enrollments/{id}/rate
func (h *Handler) UpdateEnrollmentRate(w http.ResponseWriter, r *http.Request) {
	id := core.EnrollmentID(chi.URLParam(r, "id"))

	var req UpdateEnrollmentRateRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var rate *core.Amount
	diff := map[string]any{
		"reason": req.Reason,
		"after":  map[string]any{"rate_override_vnd": nil},
	}
	if req.RateVND != nil {
		a := core.VND(*req.RateVND)
		rate = &a
		diff["after"] = map[string]any{"rate_override_vnd": *req.RateVND}
	}
	diffJSON, _ := json.Marshal(diff)

	enrollment, err := h.Store.UpdateEnrollmentRate(r.Context(), id, rate, core.AuditEntry{
		ID:          newAuditID(),
		Action:      "enrollment.rate_override",
		Entity:      "enrollment",
		EntityID:    string(id),
		ActorUserID: actor(r).ID,
		Diff:        string(diffJSON),
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := UpdateEnrollmentRateResponse{
		Success:    true,
		Enrollment: toEnrollmentDTO(*enrollment),
	}
	// The override is already committed and audited; a failed
	// recalculation must not mask that, so it only leaves the
	// projection out of the response.
	tuitionResult, err := h.Calculator.Calculate(r.Context(), core.StudentID(req.StudentID), month)
	if err == nil {
		resp.Recalculated = true
		resp.Tuition = tuitionResult
	}
	writeJSON(w, http.StatusOK, resp)
}

// GenerateSchedule materializes a class's weekly template over a month.
// POST /api/admin/schedule/generate
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	var req GenerateScheduleRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := monthParam(req.Month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := h.Schedule.GenerateMonth(r.Context(), core.ClassID(req.ClassID), month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// GetPayroll returns the persisted payroll summaries for a month.
// GET /api/payroll?month=YYYY-MM&teacher_id=...
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r.URL.Query().Get("month"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries, err := h.Store.PayrollSummaries(r.Context(), month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payroll", err)
		return
	}

	if v := r.URL.Query().Get("teacher_id"); v != "" {
		filtered := summaries[:0]
		for _, s := range summaries {
			if s.TeacherID == core.TeacherID(v) {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetLeaderboard returns the month's live points leaderboard.
// GET /api/points/leaderboard?month=YYYY-MM&class_id=...
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r.URL.Query().Get("month"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var classID *core.ClassID
	if v := r.URL.Query().Get("class_id"); v != "" {
		cid := core.ClassID(v)
		classID = &cid
	}

	ranks, err := h.Points.Leaderboard(r.Context(), month, classID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranks)
}

// GetAuditTrail returns the audit rows for an entity.
// GET /api/audit?entity=invoice&entity_id=...
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	entityID := r.URL.Query().Get("entity_id")
	if entity == "" || entityID == "" {
		writeError(w, http.StatusBadRequest, "entity and entity_id are required", nil)
		return
	}

	entries, err := h.Store.AuditTrail(r.Context(), entity, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit trail", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:          e.ID,
			Action:      e.Action,
			Entity:      e.Entity,
			EntityID:    e.EntityID,
			ActorUserID: e.ActorUserID,
			Diff:        e.Diff,
			OccurredAt:  e.OccurredAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toStudentDTO(s core.Student) StudentDTO {
	dto := StudentDTO{
		ID:       string(s.ID),
		FullName: s.FullName,
		IsActive: s.IsActive,
	}
	if s.FamilyID != nil {
		fid := string(*s.FamilyID)
		dto.FamilyID = &fid
	}
	return dto
}

func toInvoiceDTO(inv core.Invoice) InvoiceDTO {
	return InvoiceDTO{
		StudentID:      string(inv.StudentID),
		Month:          inv.Month.String(),
		BaseAmount:     inv.BaseAmount.Int64(),
		DiscountAmount: inv.DiscountAmount.Int64(),
		TotalAmount:    inv.TotalAmount.Int64(),
		PaidAmount:     inv.PaidAmount.Int64(),
		Status:         string(inv.Status),
		Revision:       inv.Revision,
		GeneratedAt:    inv.GeneratedAt.Format(time.RFC3339),
	}
}

func toEnrollmentDTO(e core.Enrollment) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:        string(e.ID),
		StudentID: string(e.StudentID),
		ClassID:   string(e.ClassID),
		StartDate: e.StartDate.Format("2006-01-02"),
	}
	if e.EndDate != nil {
		dto.EndDate = e.EndDate.Format("2006-01-02")
	}
	if e.RateOverrideVND != nil {
		v := e.RateOverrideVND.Int64()
		dto.RateOverrideVND = &v
	}
	return dto
}

func newAuditID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "Not authorized", nil)
	case errors.Is(err, core.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Duplicate posting", err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
