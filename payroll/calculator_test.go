package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas/tuition-engine/core"
	memstore "github.com/atlas/tuition-engine/core/store"
	"github.com/atlas/tuition-engine/payroll"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march = core.MustMonth("2025-03")

func newTestCalculator(mem *memstore.Memory) *payroll.Calculator {
	calc := payroll.NewCalculator(mem, mem)
	calc.Now = func() time.Time { return time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC) }
	return calc
}

func session(id string, teacher core.TeacherID, day int, start, end string, status core.SessionStatus) core.Session {
	return core.Session{
		ID:        core.SessionID(id),
		ClassID:   "class-chem",
		Date:      time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   end,
		TeacherID: teacher,
		Status:    status,
	}
}

// =============================================================================
// COMPUTATION
// =============================================================================

func TestCalculate_OnlyHeldSessionsPay(t *testing.T) {
	// GIVEN: A teacher with held, canceled, holiday, and scheduled sessions
	// WHEN: Computing March
	// THEN: Only the held sessions contribute minutes and count

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(200_000), IsActive: true})
	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "18:30", core.SessionHeld))
	mem.PutSession(session("ses-2", "teach-1", 10, "17:00", "18:30", core.SessionHeld))
	mem.PutSession(session("ses-3", "teach-1", 17, "17:00", "18:30", core.SessionCanceled))
	mem.PutSession(session("ses-4", "teach-1", 24, "17:00", "18:30", core.SessionHoliday))
	mem.PutSession(session("ses-5", "teach-1", 31, "17:00", "18:30", core.SessionScheduled))

	result, err := newTestCalculator(mem).Calculate(context.Background(), march, nil)
	require.NoError(t, err)

	require.Len(t, result.PayrollData, 1)
	line := result.PayrollData[0]
	assert.Equal(t, 2, line.SessionsCount)
	assert.Equal(t, 180, line.TotalMinutes)
	// 200,000/h * 3h
	assert.Equal(t, int64(600_000), line.TotalAmount)
	assert.Equal(t, int64(600_000), result.GrandTotal)
}

func TestCalculate_SingleRoundingStep(t *testing.T) {
	// GIVEN: 100 minutes at 175,000/h (= 291,666.67 exactly once)
	// WHEN: Computing
	// THEN: One half-up rounding at the end: 291,667, not a per-session
	//       rounded 291,666 or similar drift

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Son Dang", HourlyRateVND: core.VND(175_000), IsActive: true})
	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "17:55", core.SessionHeld))
	mem.PutSession(session("ses-2", "teach-1", 10, "17:00", "17:45", core.SessionHeld))

	result, err := newTestCalculator(mem).Calculate(context.Background(), march, nil)
	require.NoError(t, err)

	line := result.PayrollData[0]
	assert.Equal(t, 100, line.TotalMinutes)
	assert.Equal(t, int64(291_667), line.TotalAmount)
}

func TestCalculate_BrokenTimeRangeIsDataError(t *testing.T) {
	// GIVEN: A held session with end before start and one unparsable
	// WHEN: Computing
	// THEN: Each broken session lands in DataErrors only, never in
	//       SessionsCount, and pays 0 minutes

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(220_000), IsActive: true})
	mem.PutSession(session("ses-broken", "teach-1", 3, "18:30", "17:00", core.SessionHeld))
	mem.PutSession(session("ses-garbage", "teach-1", 10, "late", "later", core.SessionHeld))
	mem.PutSession(session("ses-good", "teach-1", 17, "17:00", "19:00", core.SessionHeld))

	result, err := newTestCalculator(mem).Calculate(context.Background(), march, nil)
	require.NoError(t, err)

	line := result.PayrollData[0]
	assert.Equal(t, 1, line.SessionsCount)
	assert.Equal(t, 2, line.DataErrors)
	assert.Equal(t, 120, line.TotalMinutes)
	assert.Equal(t, int64(440_000), line.TotalAmount)

	summaries, err := mem.PayrollSummaries(context.Background(), march)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].SessionsCount)
	assert.Equal(t, 2, summaries[0].DataErrors)
}

func TestCalculate_InactiveTeacherExcluded(t *testing.T) {
	// GIVEN: An active and an inactive teacher, both with held sessions
	// WHEN: Computing
	// THEN: Only the active teacher appears

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(220_000), IsActive: true})
	mem.PutTeacher(core.Teacher{ID: "teach-gone", FullName: "Left", HourlyRateVND: core.VND(150_000), IsActive: false})
	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "18:00", core.SessionHeld))
	mem.PutSession(session("ses-2", "teach-gone", 3, "18:00", "19:00", core.SessionHeld))

	result, err := newTestCalculator(mem).Calculate(context.Background(), march, nil)
	require.NoError(t, err)

	require.Len(t, result.PayrollData, 1)
	assert.Equal(t, "teach-1", result.PayrollData[0].TeacherID)
	assert.Equal(t, 1, result.TotalTeachers)
}

// =============================================================================
// TEACHER FILTER
// =============================================================================

func TestCalculate_SingleTeacherFilter(t *testing.T) {
	// GIVEN: Two active teachers, both with held March sessions
	// WHEN: Computing with the filter set to one of them
	// THEN: Only that teacher's line and summary are produced

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(200_000), IsActive: true})
	mem.PutTeacher(core.Teacher{ID: "teach-2", FullName: "Son Dang", HourlyRateVND: core.VND(175_000), IsActive: true})
	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "18:00", core.SessionHeld))
	mem.PutSession(session("ses-2", "teach-2", 3, "18:00", "19:00", core.SessionHeld))
	ctx := context.Background()

	teacherID := core.TeacherID("teach-2")
	result, err := newTestCalculator(mem).Calculate(ctx, march, &teacherID)
	require.NoError(t, err)

	require.Len(t, result.PayrollData, 1)
	assert.Equal(t, "teach-2", result.PayrollData[0].TeacherID)
	assert.Equal(t, int64(175_000), result.GrandTotal)
	assert.Equal(t, 1, result.TotalTeachers)

	summaries, err := mem.PayrollSummaries(ctx, march)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, core.TeacherID("teach-2"), summaries[0].TeacherID)
}

func TestCalculate_FilterIncludesInactiveTeacher(t *testing.T) {
	// GIVEN: A deactivated teacher who still has unpaid held sessions
	// WHEN: Computing with that teacher specified explicitly
	// THEN: The run covers them even though the batch would skip them

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-gone", FullName: "Left", HourlyRateVND: core.VND(150_000), IsActive: false})
	mem.PutSession(session("ses-1", "teach-gone", 3, "17:00", "18:00", core.SessionHeld))

	teacherID := core.TeacherID("teach-gone")
	result, err := newTestCalculator(mem).Calculate(context.Background(), march, &teacherID)
	require.NoError(t, err)

	require.Len(t, result.PayrollData, 1)
	assert.Equal(t, int64(150_000), result.PayrollData[0].TotalAmount)
}

func TestCalculate_UnknownTeacherFilter(t *testing.T) {
	mem := memstore.NewMemory()

	teacherID := core.TeacherID("teach-ghost")
	_, err := newTestCalculator(mem).Calculate(context.Background(), march, &teacherID)
	assert.ErrorIs(t, err, core.ErrTeacherNotFound)
}

// =============================================================================
// UPSERT SEMANTICS
// =============================================================================

func TestCalculate_RecomputationResetsSummaries(t *testing.T) {
	// GIVEN: A computed month, then the session is corrected shorter
	// WHEN: Recomputing
	// THEN: The summary reflects the corrected amount, never the sum of runs

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(200_000), IsActive: true})
	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "19:00", core.SessionHeld))
	calc := newTestCalculator(mem)
	ctx := context.Background()

	_, err := calc.Calculate(ctx, march, nil)
	require.NoError(t, err)

	mem.PutSession(session("ses-1", "teach-1", 3, "17:00", "18:00", core.SessionHeld))
	_, err = calc.Calculate(ctx, march, nil)
	require.NoError(t, err)

	summaries, err := mem.PayrollSummaries(ctx, march)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 60, summaries[0].TotalMinutes)
	assert.Equal(t, int64(200_000), summaries[0].TotalAmount.Int64())
}

func TestCalculate_MonthBoundaries(t *testing.T) {
	// GIVEN: Held sessions in February, March, and April
	// WHEN: Computing March
	// THEN: Only the March session pays

	mem := memstore.NewMemory()
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Mai Le", HourlyRateVND: core.VND(200_000), IsActive: true})
	feb := session("ses-feb", "teach-1", 3, "17:00", "18:00", core.SessionHeld)
	feb.Date = time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	apr := session("ses-apr", "teach-1", 3, "17:00", "18:00", core.SessionHeld)
	apr.Date = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	mem.PutSession(feb)
	mem.PutSession(apr)
	mem.PutSession(session("ses-mar", "teach-1", 15, "17:00", "18:00", core.SessionHeld))

	result, err := newTestCalculator(mem).Calculate(context.Background(), march, nil)
	require.NoError(t, err)

	require.Len(t, result.PayrollData, 1)
	assert.Equal(t, 1, result.PayrollData[0].SessionsCount)
	assert.Equal(t, 60, result.PayrollData[0].TotalMinutes)
}
