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

// aggregateFor seeds four held math sessions (base 1,000,000) and returns
// the student's aggregate for March.
func aggregateFor(t *testing.T, mem *memstore.Memory) tuition.MonthAggregate {
	t.Helper()
	seedMathClass(mem)
	for i, day := range []int{3, 10, 17, 24} {
		mem.PutSession(marchSession([]string{"ses-1", "ses-2", "ses-3", "ses-4"}[i], day, core.SessionHeld))
	}
	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), agg.Base().Int64())
	return agg
}

func assign(mem *memstore.Memory, id string, def core.DiscountDefinition) {
	mem.PutDefinition(def)
	student := core.StudentID("stu-1")
	mem.PutAssignment(core.DiscountAssignment{
		ID: id, DefinitionID: def.ID, Scope: core.ScopeStudent,
		StudentID: &student, AssignedAt: time.Now().UTC(),
	})
}

func student1() core.Student {
	return core.Student{ID: "stu-1", FullName: "Minh Tran", IsActive: true}
}

// =============================================================================
// EVALUATION
// =============================================================================

func TestDiscounts_PercentAndAmount(t *testing.T) {
	// GIVEN: A 10% discount and a 50,000 VND flat discount on a 1M base
	// WHEN: Evaluating
	// THEN: 100,000 + 50,000 applied in assignment order

	mem := memstore.NewMemory()
	agg := aggregateFor(t, mem)
	assign(mem, "as-1", core.DiscountDefinition{ID: "def-early", Name: "Early bird", Type: core.DiscountPercent, Value: 10})
	assign(mem, "as-2", core.DiscountDefinition{ID: "def-flat", Name: "Referral", Type: core.DiscountAmount, Value: 50_000})

	applied, total, err := tuition.NewDiscountEngine(mem).DiscountsFor(context.Background(), student1(), agg, nil)
	require.NoError(t, err)

	require.Len(t, applied, 2)
	assert.Equal(t, int64(100_000), applied[0].Amount.Int64())
	assert.Equal(t, int64(50_000), applied[1].Amount.Int64())
	assert.Equal(t, int64(150_000), total.Int64())
}

func TestDiscounts_CumulativeCapAtBase(t *testing.T) {
	// GIVEN: Discounts summing past the base (80% + 500,000 on 1M)
	// WHEN: Evaluating
	// THEN: The second discount is truncated so the total equals the base

	mem := memstore.NewMemory()
	agg := aggregateFor(t, mem)
	assign(mem, "as-1", core.DiscountDefinition{ID: "def-big", Name: "Scholarship", Type: core.DiscountPercent, Value: 80})
	assign(mem, "as-2", core.DiscountDefinition{ID: "def-flat", Name: "Hardship", Type: core.DiscountAmount, Value: 500_000})

	applied, total, err := tuition.NewDiscountEngine(mem).DiscountsFor(context.Background(), student1(), agg, nil)
	require.NoError(t, err)

	require.Len(t, applied, 2)
	assert.Equal(t, int64(800_000), applied[0].Amount.Int64())
	assert.Equal(t, int64(200_000), applied[1].Amount.Int64(), "truncated to the remaining base")
	assert.Equal(t, int64(1_000_000), total.Int64())
}

func TestDiscounts_MalformedAssignmentIsolated(t *testing.T) {
	// GIVEN: A percent outside 0..100, a dangling definition, and one good
	//        discount
	// WHEN: Evaluating
	// THEN: The malformed ones are skipped and logged; the good one applies

	mem := memstore.NewMemory()
	agg := aggregateFor(t, mem)
	assign(mem, "as-bad", core.DiscountDefinition{ID: "def-bad", Name: "Typo", Type: core.DiscountPercent, Value: 150})
	student := core.StudentID("stu-1")
	mem.PutAssignment(core.DiscountAssignment{ID: "as-dangling", DefinitionID: "def-missing", Scope: core.ScopeStudent, StudentID: &student})
	assign(mem, "as-good", core.DiscountDefinition{ID: "def-good", Name: "Early bird", Type: core.DiscountPercent, Value: 10})

	engine := tuition.NewDiscountEngine(mem)
	var logged []string
	engine.Logf = func(format string, args ...any) { logged = append(logged, format) }

	applied, total, err := engine.DiscountsFor(context.Background(), student1(), agg, nil)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	assert.Equal(t, "Early bird", applied[0].Name)
	assert.Equal(t, int64(100_000), total.Int64())
	assert.Len(t, logged, 2, "both malformed assignments logged")
}

func TestDiscounts_ZeroBaseShortCircuits(t *testing.T) {
	// GIVEN: A month with no billable sessions
	// WHEN: Evaluating discounts
	// THEN: Nothing applies, nothing errors

	mem := memstore.NewMemory()
	seedMathClass(mem)
	assign(mem, "as-1", core.DiscountDefinition{ID: "def-early", Name: "Early bird", Type: core.DiscountPercent, Value: 10})

	agg, err := tuition.NewAggregator(mem).Aggregate(context.Background(), "stu-1", march, afterMarch)
	require.NoError(t, err)

	applied, total, err := tuition.NewDiscountEngine(mem).DiscountsFor(context.Background(), student1(), agg, nil)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.True(t, total.IsZero())
}

// =============================================================================
// SIBLING LINE
// =============================================================================

func TestDiscounts_SiblingLineOnlyForWinnerClass(t *testing.T) {
	// GIVEN: An assigned sibling state naming this student and class-math
	// WHEN: Evaluating
	// THEN: 5% of the math subtotal only, not of the whole base

	mem := memstore.NewMemory()
	agg := aggregateFor(t, mem)

	winner := core.StudentID("stu-1")
	class := core.ClassID("class-math")
	state := &core.SiblingDiscountState{
		FamilyID: "fam-1", Month: march, Status: core.SiblingAssigned,
		WinnerStudentID: &winner, WinnerClassID: &class, Percent: 5,
	}

	applied, total, err := tuition.NewDiscountEngine(mem).DiscountsFor(context.Background(), student1(), agg, state)
	require.NoError(t, err)

	require.Len(t, applied, 1)
	assert.Equal(t, tuition.SiblingDiscountName, applied[0].Name)
	assert.Equal(t, int64(50_000), applied[0].Amount.Int64())
	assert.Equal(t, int64(50_000), total.Int64())
}

func TestDiscounts_SiblingLineSkippedForLoser(t *testing.T) {
	// GIVEN: An assigned sibling state naming a different student
	// WHEN: Evaluating for this student
	// THEN: No sibling line

	mem := memstore.NewMemory()
	agg := aggregateFor(t, mem)

	winner := core.StudentID("stu-other")
	class := core.ClassID("class-math")
	state := &core.SiblingDiscountState{
		FamilyID: "fam-1", Month: march, Status: core.SiblingAssigned,
		WinnerStudentID: &winner, WinnerClassID: &class, Percent: 5,
	}

	applied, total, err := tuition.NewDiscountEngine(mem).DiscountsFor(context.Background(), student1(), agg, state)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.True(t, total.IsZero())
}
