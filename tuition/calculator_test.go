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

// seedPhysics enrolls stu-1 in physics at 375k/session from the given
// month and holds 4 sessions per seeded month (1,500,000 VND each).
func seedPhysics(mem *memstore.Memory, firstMonth string, months ...string) {
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Quan Vo", HourlyRateVND: core.VND(180_000), IsActive: true})
	mem.PutClass(core.Class{ID: "class-phys", Name: "Physics 9", DefaultTeacherID: "teach-1", SessionRateVND: core.VND(375_000)})
	mem.PutStudent(core.Student{ID: "stu-1", FullName: "Khai Nguyen", IsActive: true})
	mem.PutEnrollment(core.Enrollment{
		ID: "enr-1", StudentID: "stu-1", ClassID: "class-phys",
		StartDate: core.MustMonth(firstMonth).Start(),
	})
	for _, ms := range months {
		m := core.MustMonth(ms)
		for i := 0; i < 4; i++ {
			mem.PutSession(core.Session{
				ID:        core.SessionID("ses-" + ms + "-" + string(rune('a'+i))),
				ClassID:   "class-phys",
				Date:      m.Start().AddDate(0, 0, i*7),
				StartTime: "18:00",
				EndTime:   "19:30",
				TeacherID: "teach-1",
				Status:    core.SessionHeld,
			})
		}
	}
}

func pay(mem *memstore.Memory, id string, amount int64, when time.Time) {
	ctx := context.Background()
	payment := core.Payment{
		ID: id, StudentID: "stu-1", Amount: core.VND(amount),
		Method: "cash", OccurredAt: when, CreatedBy: "admin", CreatedAt: when,
	}
	entry := core.LedgerEntry{
		ID: "led-" + id, TxID: "tx-" + id, StudentID: "stu-1",
		Credit: payment.Amount, Month: core.MonthOf(when), OccurredAt: when,
		Memo: "payment " + id, CreatedBy: "admin",
	}
	_ = mem.CreatePayment(ctx, payment, entry, core.AuditEntry{ID: "aud-" + id})
}

func fixedNowCalculator(mem *memstore.Memory) *tuition.Calculator {
	calc := tuition.NewCalculator(mem, mem, mem)
	calc.Now = func() time.Time { return afterMarch }
	return calc
}

// =============================================================================
// CARRY
// =============================================================================

func TestCalculate_UnderpaidMonth(t *testing.T) {
	// GIVEN: March costs 1,500,000 and the student paid 900,000 in March
	// WHEN: Calculating the March projection
	// THEN: Status underpaid with 600,000 carried out as debt

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	pay(mem, "pay-1", 900_000, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, int64(1_500_000), result.BaseAmount)
	assert.Equal(t, int64(1_500_000), result.TotalAmount)
	assert.Equal(t, 4, result.SessionCount)
	assert.Equal(t, int64(900_000), result.Payments.MonthPayments)
	assert.Equal(t, int64(900_000), result.Payments.CumulativePaidAmount)

	assert.Equal(t, tuition.CarryUnderpaid, result.Carry.Status)
	assert.Equal(t, int64(600_000), result.Carry.CarryOutDebt)
	assert.Zero(t, result.Carry.CarryOutCredit)
	assert.Zero(t, result.Carry.CarryInDebt)
}

func TestCalculate_UnpaidMonthWithoutPayments(t *testing.T) {
	// GIVEN: A billed month with no payments at all
	// WHEN: Calculating
	// THEN: Status unpaid, not underpaid

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, tuition.CarryUnpaid, result.Carry.Status)
	assert.Equal(t, int64(1_500_000), result.Carry.CarryOutDebt)
}

func TestCalculate_CreditCarriesAcrossMonths(t *testing.T) {
	// GIVEN: February cost 1,500,000, the student paid 2,000,000 in February
	// WHEN: Calculating March (another 1,500,000 month, no new payment)
	// THEN: 500,000 carries in as credit; 1,000,000 carries out as debt,
	//       labeled unpaid because March itself saw no payment

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-02", "2025-02", "2025-03")
	pay(mem, "pay-1", 2_000_000, time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), result.Carry.CarryInCredit)
	assert.Zero(t, result.Carry.CarryInDebt)
	assert.Equal(t, tuition.CarryUnpaid, result.Carry.Status)
	assert.Equal(t, int64(1_000_000), result.Carry.CarryOutDebt)
	assert.Equal(t, int64(2_000_000), result.Payments.PriorPayments)
	assert.Zero(t, result.Payments.MonthPayments)
}

func TestCalculate_SettledMonth(t *testing.T) {
	// GIVEN: Payments exactly covering every month through March
	// WHEN: Calculating March
	// THEN: Status settled, both carry-out sides zero

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	pay(mem, "pay-1", 1_500_000, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, tuition.CarrySettled, result.Carry.Status)
	assert.Zero(t, result.Carry.CarryOutCredit)
	assert.Zero(t, result.Carry.CarryOutDebt)
}

func TestCalculate_OverpaidMonth(t *testing.T) {
	// GIVEN: A 1,500,000 month with a 1,700,000 payment
	// WHEN: Calculating
	// THEN: Status credit with the surplus carried out

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	pay(mem, "pay-1", 1_700_000, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, tuition.CarryCredit, result.Carry.Status)
	assert.Equal(t, int64(200_000), result.Carry.CarryOutCredit)
}

func TestCalculate_DiscountAndCarryCompose(t *testing.T) {
	// GIVEN: An at 500,000/session with 4 held June sessions, a pricier
	//        sibling so An wins the family's 10% override, a 300,000 debt
	//        left over from May, and 1,500,000 paid during June
	// WHEN: Calculating An's June projection
	// THEN: base 2,000,000, discount 200,000, total 1,800,000; the May
	//       debt carries in and 600,000 carries out

	mem := memstore.NewMemory()
	ctx := context.Background()
	june := core.MustMonth("2025-06")
	may := core.MustMonth("2025-05")

	famID := core.FamilyID("fam-ngo")
	pct := int64(10)
	mem.PutFamily(core.Family{ID: famID, Name: "Ngo family", IsActive: true, SiblingDiscountPct: &pct})
	mem.PutTeacher(core.Teacher{ID: "teach-1", FullName: "Lan Pham", HourlyRateVND: core.VND(200_000), IsActive: true})
	mem.PutClass(core.Class{ID: "class-adv", Name: "Math Advanced", DefaultTeacherID: "teach-1", SessionRateVND: core.VND(500_000)})
	mem.PutClass(core.Class{ID: "class-sup", Name: "Math Support", DefaultTeacherID: "teach-1", SessionRateVND: core.VND(550_000)})
	mem.PutStudent(core.Student{ID: "stu-an", FullName: "An Ngo", FamilyID: &famID, IsActive: true})
	mem.PutStudent(core.Student{ID: "stu-binh", FullName: "Binh Ngo", FamilyID: &famID, IsActive: true})
	mem.PutEnrollment(core.Enrollment{ID: "enr-an", StudentID: "stu-an", ClassID: "class-adv", StartDate: may.Start()})
	mem.PutEnrollment(core.Enrollment{ID: "enr-binh", StudentID: "stu-binh", ClassID: "class-sup", StartDate: june.Start()})

	// May: one discounted make-up session leaves a 300,000 unpaid total.
	mayRate := core.VND(300_000)
	mem.PutSession(core.Session{
		ID: "ses-may", ClassID: "class-adv",
		Date:      time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
		StartTime: "18:00", EndTime: "19:30",
		TeacherID: "teach-1", Status: core.SessionHeld,
		RateOverrideVND: &mayRate,
	})
	for i := 0; i < 4; i++ {
		day := 2 + i*7
		mem.PutSession(core.Session{
			ID: core.SessionID("ses-adv-" + string(rune('a'+i))), ClassID: "class-adv",
			Date:      time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC),
			StartTime: "18:00", EndTime: "19:30",
			TeacherID: "teach-1", Status: core.SessionHeld,
		})
		mem.PutSession(core.Session{
			ID: core.SessionID("ses-sup-" + string(rune('a'+i))), ClassID: "class-sup",
			Date:      time.Date(2025, 6, day+1, 0, 0, 0, 0, time.UTC),
			StartTime: "18:00", EndTime: "19:30",
			TeacherID: "teach-1", Status: core.SessionHeld,
		})
	}

	paidAt := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mem.CreatePayment(ctx,
		core.Payment{ID: "pay-june", StudentID: "stu-an", Amount: core.VND(1_500_000), Method: "cash", OccurredAt: paidAt, CreatedBy: "admin", CreatedAt: paidAt},
		core.LedgerEntry{ID: "led-june", TxID: "tx-june", StudentID: "stu-an", Credit: core.VND(1_500_000), Month: june, OccurredAt: paidAt, Memo: "payment", CreatedBy: "admin"},
		core.AuditEntry{ID: "aud-june"}))

	calc := tuition.NewCalculator(mem, mem, mem)
	calc.Now = func() time.Time { return time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC) }

	result, err := calc.Calculate(ctx, "stu-an", june)
	require.NoError(t, err)

	assert.Equal(t, int64(2_000_000), result.BaseAmount)
	assert.Equal(t, int64(200_000), result.TotalDiscount, "10% family override on the winning class")
	assert.Equal(t, int64(1_800_000), result.TotalAmount)
	require.Len(t, result.Discounts, 1)
	assert.Equal(t, tuition.SiblingDiscountName, result.Discounts[0].Name)
	require.NotNil(t, result.SiblingState)
	assert.True(t, result.SiblingState.IsWinner, "An's 2,000,000 beats Binh's 2,200,000")

	assert.Equal(t, int64(300_000), result.Carry.CarryInDebt)
	assert.Zero(t, result.Carry.CarryInCredit)
	assert.Equal(t, int64(1_500_000), result.Payments.CumulativePaidAmount)
	assert.Equal(t, tuition.CarryUnderpaid, result.Carry.Status)
	assert.Equal(t, int64(600_000), result.Carry.CarryOutDebt)
	assert.Zero(t, result.Carry.CarryOutCredit)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestCalculate_BalanceInvariant(t *testing.T) {
	// GIVEN: Two billed months and scattered payments
	// WHEN: Calculating March
	// THEN: cumulativePaid - totals == carryOutCredit - carryOutDebt, and
	//       at most one carry-out side is nonzero

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-02", "2025-02", "2025-03")
	pay(mem, "pay-1", 1_000_000, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	pay(mem, "pay-2", 700_000, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	totals := int64(3_000_000) // 1.5M per month
	net := result.Payments.CumulativePaidAmount - totals
	assert.Equal(t, net, result.Carry.CarryOutCredit-result.Carry.CarryOutDebt)
	assert.False(t, result.Carry.CarryOutCredit > 0 && result.Carry.CarryOutDebt > 0)
	assert.Equal(t, tuition.CarryUnderpaid, result.Carry.Status)
}

func TestCalculate_Idempotent(t *testing.T) {
	// GIVEN: A fixed store state
	// WHEN: Calculating the same projection twice
	// THEN: Byte-for-byte identical results; the read path persists nothing

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	pay(mem, "pay-1", 900_000, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	calc := fixedNowCalculator(mem)
	first, err := calc.Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)
	second, err := calc.Calculate(context.Background(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCalculate_UnknownStudent(t *testing.T) {
	mem := memstore.NewMemory()

	_, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-ghost", march)
	assert.ErrorIs(t, err, core.ErrStudentNotFound)
}

// =============================================================================
// SIBLING PROJECTION
// =============================================================================

func TestCalculate_EphemeralSiblingOnReadPath(t *testing.T) {
	// GIVEN: A qualifying family with no persisted sibling state
	// WHEN: Calculating the winner's projection
	// THEN: The discount shows up, and still nothing is persisted

	mem := memstore.NewMemory()
	seedFamily(mem, 4, 4)

	calc := fixedNowCalculator(mem)
	result, err := calc.Calculate(context.Background(), "stu-hoa", march)
	require.NoError(t, err)

	require.Len(t, result.Discounts, 1)
	assert.Equal(t, tuition.SiblingDiscountName, result.Discounts[0].Name)
	assert.Equal(t, int64(30_000), result.Discounts[0].Amount, "5% of the 600,000 english subtotal")
	assert.Equal(t, int64(570_000), result.TotalAmount)
	require.NotNil(t, result.SiblingState)
	assert.True(t, result.SiblingState.IsWinner)

	persisted, err := mem.SiblingState(context.Background(), "fam-tran", march)
	require.NoError(t, err)
	assert.Nil(t, persisted, "Calculate never writes sibling state")
}

func TestCalculate_PersistedSiblingStateWinsOverEphemeral(t *testing.T) {
	// GIVEN: A persisted pending state for the family
	// WHEN: Calculating
	// THEN: The persisted row is honored even though an ephemeral
	//       evaluation would assign a winner

	mem := memstore.NewMemory()
	seedFamily(mem, 4, 4)
	require.NoError(t, mem.SaveSiblingState(context.Background(), core.SiblingDiscountState{
		FamilyID: "fam-tran", Month: march, Status: core.SiblingPending,
		Percent: tuition.DefaultSiblingPercent, ComputedAt: afterMarch,
	}))

	result, err := fixedNowCalculator(mem).Calculate(context.Background(), "stu-hoa", march)
	require.NoError(t, err)

	assert.Empty(t, result.Discounts)
	assert.Equal(t, int64(600_000), result.TotalAmount)
	require.NotNil(t, result.SiblingState)
	assert.Equal(t, string(core.SiblingPending), result.SiblingState.Status)
}
