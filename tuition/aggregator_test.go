package tuition_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas/tuition-engine/core"
	memstore "github.com/atlas/tuition-engine/core/store"
	"github.com/atlas/tuition-engine/tuition"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	march = core.MustMonth("2025-03")
	// asOf after the month so every March session counts as past.
	afterMarch = time.Date(2025, 4, 5, 12, 0, 0, 0, time.UTC)
)

func seedMathClass(mem *memstore.Memory) {
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Lan Pham", HourlyRateVND: core.VND(200_000), IsActive: true})
	mem.PutClass(core.Class{ID: "class-math", Name: "Math 8", DefaultTeacherID: "teach-1", SessionRateVND: core.VND(250_000)})
	mem.PutStudent(core.Student{ID: "stu-1", FullName: "Minh Tran", IsActive: true})
	mem.PutEnrollment(core.Enrollment{ID: "enr-1", StudentID: "stu-1", ClassID: "class-math", StartDate: march.Start()})
}

func marchSession(id string, day int, status core.SessionStatus) core.Session {
	return core.Session{
		ID:        core.SessionID(id),
		ClassID:   "class-math",
		Date:      time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
		StartTime: "17:30",
		EndTime:   "19:00",
		TeacherID: "teach-1",
		Status:    status,
	}
}

// =============================================================================
// BILLABILITY
// =============================================================================

func TestAggregate_BillabilityByStatus(t *testing.T) {
	// GIVEN: One session in each lifecycle state
	// WHEN: Aggregating the month
	// THEN: Only the held session is billed; canceled, holiday, and
	//       unresolved scheduled sessions are excluded

	mem := memstore.NewMemory()
	seedMathClass(mem)
	mem.PutSession(marchSession("ses-held", 3, core.SessionHeld))
	mem.PutSession(marchSession("ses-canceled", 10, core.SessionCanceled))
	mem.PutSession(marchSession("ses-holiday", 17, core.SessionHoliday))
	mem.PutSession(marchSession("ses-pending", 24, core.SessionScheduled))

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 1)
	assert.Equal(t, core.SessionID("ses-held"), agg.Charges[0].SessionID)
	assert.Equal(t, tuition.ChargeHeld, agg.Charges[0].Status)
	assert.Equal(t, int64(250_000), agg.Base().Int64())
}

func TestAggregate_ExcusedAbsenceStillBilled(t *testing.T) {
	// GIVEN: A held session where the student was marked excused
	// WHEN: Aggregating
	// THEN: The session is billed in full, tagged excused

	mem := memstore.NewMemory()
	seedMathClass(mem)
	mem.PutSession(marchSession("ses-1", 3, core.SessionHeld))
	mem.PutAttendance(core.Attendance{SessionID: "ses-1", StudentID: "stu-1", Status: core.AttendanceExcused, MarkedBy: "teach-1"})

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 1)
	assert.Equal(t, tuition.ChargeExcused, agg.Charges[0].Status)
	assert.Equal(t, int64(250_000), agg.Base().Int64())
}

func TestAggregate_PastScheduledBilledOnceResolved(t *testing.T) {
	// GIVEN: A past Scheduled session with a Present attendance row (the
	//        auto-marker ran) and another with none
	// WHEN: Aggregating
	// THEN: Only the resolved one is billed

	mem := memstore.NewMemory()
	seedMathClass(mem)
	mem.PutSession(marchSession("ses-resolved", 3, core.SessionScheduled))
	mem.PutSession(marchSession("ses-unresolved", 10, core.SessionScheduled))
	mem.PutAttendance(core.Attendance{SessionID: "ses-resolved", StudentID: "stu-1", Status: core.AttendancePresent, MarkedBy: "auto-marker"})

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 1)
	assert.Equal(t, core.SessionID("ses-resolved"), agg.Charges[0].SessionID)
}

func TestAggregate_FutureSessionsNeverBilled(t *testing.T) {
	// GIVEN: asOf in the middle of the month
	// WHEN: Aggregating with held sessions before and scheduled after
	// THEN: The future scheduled session is excluded even with attendance

	mem := memstore.NewMemory()
	seedMathClass(mem)
	mem.PutSession(marchSession("ses-past", 3, core.SessionHeld))
	mem.PutSession(marchSession("ses-future", 24, core.SessionScheduled))
	mem.PutAttendance(core.Attendance{SessionID: "ses-future", StudentID: "stu-1", Status: core.AttendancePresent, MarkedBy: "teach-1"})

	midMonth := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, midMonth)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 1)
	assert.Equal(t, core.SessionID("ses-past"), agg.Charges[0].SessionID)
}

// =============================================================================
// ENROLLMENT WINDOW
// =============================================================================

func TestAggregate_EnrollmentWindowBounds(t *testing.T) {
	// GIVEN: An enrollment covering March 10..20 only
	// WHEN: Aggregating held sessions on the 3rd, 14th, and 28th
	// THEN: Only the session inside the window is billed

	mem := memstore.NewMemory()
	seedMathClass(mem)
	end := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	mem.PutEnrollment(core.Enrollment{
		ID: "enr-1", StudentID: "stu-1", ClassID: "class-math",
		StartDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   &end,
	})
	mem.PutSession(marchSession("ses-before", 3, core.SessionHeld))
	mem.PutSession(marchSession("ses-inside", 14, core.SessionHeld))
	mem.PutSession(marchSession("ses-after", 28, core.SessionHeld))

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 1)
	assert.Equal(t, core.SessionID("ses-inside"), agg.Charges[0].SessionID)
}

// =============================================================================
// RATE RESOLUTION
// =============================================================================

func TestAggregate_RateResolutionOrder(t *testing.T) {
	// GIVEN: A class rate, an enrollment override, and a session override
	// WHEN: Aggregating three held sessions
	// THEN: session override > enrollment override > class rate

	mem := memstore.NewMemory()
	seedMathClass(mem)
	enrRate := core.VND(200_000)
	mem.PutEnrollment(core.Enrollment{
		ID: "enr-1", StudentID: "stu-1", ClassID: "class-math",
		StartDate: march.Start(), RateOverrideVND: &enrRate,
	})

	sesRate := core.VND(100_000)
	withOverride := marchSession("ses-override", 3, core.SessionHeld)
	withOverride.RateOverrideVND = &sesRate
	mem.PutSession(withOverride)
	mem.PutSession(marchSession("ses-plain", 10, core.SessionHeld))

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	require.Len(t, agg.Charges, 2)
	assert.Equal(t, int64(100_000), agg.Charges[0].Rate.Int64(), "session override wins")
	assert.Equal(t, int64(200_000), agg.Charges[1].Rate.Int64(), "enrollment override beats class rate")
}

// =============================================================================
// PER-CLASS VIEWS
// =============================================================================

func TestAggregate_HighestClassForMultiClassStudent(t *testing.T) {
	// GIVEN: A student in two classes, math more expensive than english
	// WHEN: Asking for the highest class
	// THEN: The single most expensive class is returned, not the sum

	mem := memstore.NewMemory()
	seedMathClass(mem)
	mem.PutClass(core.Class{ID: "class-eng", Name: "English 6", DefaultTeacherID: "teach-1", SessionRateVND: core.VND(150_000)})
	mem.PutEnrollment(core.Enrollment{ID: "enr-2", StudentID: "stu-1", ClassID: "class-eng", StartDate: march.Start()})

	mem.PutSession(marchSession("ses-math-1", 3, core.SessionHeld))
	mem.PutSession(marchSession("ses-math-2", 10, core.SessionHeld))
	engSession := marchSession("ses-eng-1", 4, core.SessionHeld)
	engSession.ClassID = "class-eng"
	mem.PutSession(engSession)

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	classID, contribution := agg.HighestClass()
	assert.Equal(t, core.ClassID("class-math"), classID)
	assert.Equal(t, int64(500_000), contribution.Int64())

	assert.Equal(t, int64(650_000), agg.Base().Int64(), "whole-student base sums both classes")
	subs := agg.ByClass()
	require.Len(t, subs, 2)
	assert.Equal(t, core.ClassID("class-eng"), subs[0].ClassID)
	assert.Equal(t, 2, subs[1].Sessions)
}
