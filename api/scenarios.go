/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the database with small, story-shaped datasets so the API can be
  explored without hand-crafting rows. Each scenario is idempotent: the
  seed helpers upsert, so reloading converges instead of duplicating.

SCENARIOS:
  sibling-family:  Two siblings in different classes; loading then calling
                   the sibling compute endpoint shows the policy picking
                   the cheaper student.
  carry-underpaid: One student whose month costs more than the recorded
                   payment; the tuition projection shows an underpaid
                   carry-out.
  payroll-basics:  Two teachers with held sessions, including one session
                   with a broken time range that lands in DataErrors.

SEE ALSO:
  - handlers.go: scenario endpoints
  - store/sqlite: Save* seed helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atlas/tuition-engine/core"
	"github.com/atlas/tuition-engine/store/sqlite"
)

// Scenario is one loadable demo dataset.
type Scenario struct {
	ID          string
	Name        string
	Description string
	Load        func(ctx context.Context, store *sqlite.Store, month core.Month) error
}

func scenarios() []Scenario {
	return []Scenario{
		{
			ID:          "sibling-family",
			Name:        "Sibling family",
			Description: "Two siblings in different classes; the sibling policy discounts the cheaper one.",
			Load:        loadSiblingFamily,
		},
		{
			ID:          "carry-underpaid",
			Name:        "Underpaid month",
			Description: "A student pays less than the month's tuition and carries debt out.",
			Load:        loadCarryUnderpaid,
		},
		{
			ID:          "payroll-basics",
			Name:        "Payroll basics",
			Description: "Two teachers with held sessions, one with a broken time range.",
			Load:        loadPayrollBasics,
		},
	}
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	var dtos []ScenarioDTO
	for _, s := range scenarios() {
		dtos = append(dtos, ScenarioDTO{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario reports which scenario was loaded last.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"current": h.currentScenario})
}

// LoadScenario seeds the database with a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	month := core.MonthOf(time.Now())
	for _, s := range scenarios() {
		if s.ID != req.ID {
			continue
		}
		if err := s.Load(r.Context(), h.Store, month); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
			return
		}
		h.currentScenario = s.ID
		writeJSON(w, http.StatusOK, map[string]string{"loaded": s.ID, "month": month.String()})
		return
	}
	writeError(w, http.StatusNotFound, "Unknown scenario", nil)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadSiblingFamily(ctx context.Context, store *sqlite.Store, month core.Month) error {
	now := time.Now().UTC()
	famID := core.FamilyID("fam-tran")

	seeds := []func() error{
		func() error {
			return store.SaveFamily(ctx, core.Family{ID: famID, Name: "Tran family", IsActive: true})
		},
		func() error {
			return store.SaveTeacher(ctx, core.Teacher{ID: "teach-lan", FullName: "Lan Pham", HourlyRateVND: core.VND(200_000), IsActive: true})
		},
		func() error {
			return store.SaveClass(ctx, core.Class{ID: "class-math", Name: "Math 8", DefaultTeacherID: "teach-lan", SessionRateVND: core.VND(250_000)})
		},
		func() error {
			return store.SaveClass(ctx, core.Class{ID: "class-eng", Name: "English 6", DefaultTeacherID: "teach-lan", SessionRateVND: core.VND(150_000)})
		},
		func() error {
			return store.SaveStudent(ctx, core.Student{ID: "stu-minh", FullName: "Minh Tran", FamilyID: &famID, IsActive: true, CreatedAt: now})
		},
		func() error {
			return store.SaveStudent(ctx, core.Student{ID: "stu-hoa", FullName: "Hoa Tran", FamilyID: &famID, IsActive: true, CreatedAt: now})
		},
		func() error {
			return store.SaveEnrollment(ctx, core.Enrollment{ID: "enr-minh-math", StudentID: "stu-minh", ClassID: "class-math", StartDate: month.Start()})
		},
		func() error {
			return store.SaveEnrollment(ctx, core.Enrollment{ID: "enr-hoa-eng", StudentID: "stu-hoa", ClassID: "class-eng", StartDate: month.Start()})
		},
	}
	for _, seed := range seeds {
		if err := seed(); err != nil {
			return err
		}
	}

	// Four held sessions per class across the month.
	for i := 0; i < 4; i++ {
		date := month.Start().AddDate(0, 0, i*7)
		if err := store.SaveSession(ctx, core.Session{
			ID: core.SessionID(fmt.Sprintf("ses-math-%d", i+1)), ClassID: "class-math",
			Date: date, StartTime: "17:30", EndTime: "19:00",
			TeacherID: "teach-lan", Status: core.SessionHeld,
		}); err != nil {
			return err
		}
		if err := store.SaveSession(ctx, core.Session{
			ID: core.SessionID(fmt.Sprintf("ses-eng-%d", i+1)), ClassID: "class-eng",
			Date: date.AddDate(0, 0, 1), StartTime: "17:30", EndTime: "19:00",
			TeacherID: "teach-lan", Status: core.SessionHeld,
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadCarryUnderpaid(ctx context.Context, store *sqlite.Store, month core.Month) error {
	now := time.Now().UTC()

	if err := store.SaveTeacher(ctx, core.Teacher{ID: "teach-quan", FullName: "Quan Vo", HourlyRateVND: core.VND(180_000), IsActive: true}); err != nil {
		return err
	}
	if err := store.SaveClass(ctx, core.Class{ID: "class-phys", Name: "Physics 9", DefaultTeacherID: "teach-quan", SessionRateVND: core.VND(375_000)}); err != nil {
		return err
	}
	if err := store.SaveStudent(ctx, core.Student{ID: "stu-khai", FullName: "Khai Nguyen", IsActive: true, CreatedAt: now}); err != nil {
		return err
	}
	if err := store.SaveEnrollment(ctx, core.Enrollment{ID: "enr-khai-phys", StudentID: "stu-khai", ClassID: "class-phys", StartDate: month.Start()}); err != nil {
		return err
	}

	// 4 x 375,000 = 1,500,000 VND for the month.
	for i := 0; i < 4; i++ {
		if err := store.SaveSession(ctx, core.Session{
			ID: core.SessionID(fmt.Sprintf("ses-phys-%d", i+1)), ClassID: "class-phys",
			Date: month.Start().AddDate(0, 0, i*7), StartTime: "18:00", EndTime: "19:30",
			TeacherID: "teach-quan", Status: core.SessionHeld,
		}); err != nil {
			return err
		}
	}

	// A 900,000 payment leaves 600,000 carried out as debt. Recorded
	// through the store so the ledger credit and audit row exist too.
	payment := core.Payment{
		ID: "pay-khai-demo", StudentID: "stu-khai", Amount: core.VND(900_000),
		Method: "cash", OccurredAt: month.Start().AddDate(0, 0, 10),
		CreatedBy: "demo", CreatedAt: now,
	}
	entry := core.LedgerEntry{
		ID: "led-khai-demo", TxID: "tx-khai-demo", StudentID: "stu-khai",
		Credit: payment.Amount, Month: month, OccurredAt: payment.OccurredAt,
		Memo: "payment pay-khai-demo", CreatedBy: "demo",
	}
	audit := core.AuditEntry{
		ID: "aud-khai-demo", Action: "payment.record", Entity: "payment",
		EntityID: payment.ID, ActorUserID: "demo", OccurredAt: now,
	}
	if err := store.CreatePayment(ctx, payment, entry, audit); err != nil {
		// Reloading the scenario re-creates the same payment id; the
		// duplicate insert is the idempotent no-op signal here.
		if !isUniqueViolation(err) {
			return err
		}
	}
	return nil
}

func loadPayrollBasics(ctx context.Context, store *sqlite.Store, month core.Month) error {
	if err := store.SaveTeacher(ctx, core.Teacher{ID: "teach-mai", FullName: "Mai Le", HourlyRateVND: core.VND(220_000), IsActive: true}); err != nil {
		return err
	}
	if err := store.SaveTeacher(ctx, core.Teacher{ID: "teach-son", FullName: "Son Dang", HourlyRateVND: core.VND(175_000), IsActive: true}); err != nil {
		return err
	}
	if err := store.SaveClass(ctx, core.Class{ID: "class-chem", Name: "Chemistry 10", DefaultTeacherID: "teach-mai", SessionRateVND: core.VND(300_000)}); err != nil {
		return err
	}

	sessions := []core.Session{
		{ID: "ses-chem-1", ClassID: "class-chem", Date: month.Start(), StartTime: "17:00", EndTime: "18:30", TeacherID: "teach-mai", Status: core.SessionHeld},
		{ID: "ses-chem-2", ClassID: "class-chem", Date: month.Start().AddDate(0, 0, 7), StartTime: "17:00", EndTime: "18:30", TeacherID: "teach-mai", Status: core.SessionHeld},
		// Broken time range: counts as a session but pays 0 minutes.
		{ID: "ses-chem-3", ClassID: "class-chem", Date: month.Start().AddDate(0, 0, 14), StartTime: "18:30", EndTime: "17:00", TeacherID: "teach-son", Status: core.SessionHeld},
		{ID: "ses-chem-4", ClassID: "class-chem", Date: month.Start().AddDate(0, 0, 21), StartTime: "17:00", EndTime: "19:00", TeacherID: "teach-son", Status: core.SessionHeld},
	}
	for _, s := range sessions {
		if err := store.SaveSession(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
