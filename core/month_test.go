package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// PARSING
// =============================================================================

func TestParseMonth_WireFormat(t *testing.T) {
	// GIVEN: The "YYYY-MM" wire format
	// WHEN: Parsing a valid month
	// THEN: Year and month round-trip through String()

	m, err := core.ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, 2025, m.Year)
	assert.Equal(t, time.March, m.Month)
	assert.Equal(t, "2025-03", m.String())
}

func TestParseMonth_Invalid(t *testing.T) {
	// GIVEN: Strings outside the wire format
	// WHEN: Parsing
	// THEN: ErrInvalidMonth, always

	for _, bad := range []string{"", "2025", "2025-13", "03-2025", "2025-3", "march"} {
		_, err := core.ParseMonth(bad)
		assert.ErrorIs(t, err, core.ErrInvalidMonth, "input %q", bad)
	}
}

// =============================================================================
// BOUNDARIES
// =============================================================================

func TestMonth_Boundaries(t *testing.T) {
	// GIVEN: March 2025
	// WHEN: Checking the half-open [Start, End) window
	// THEN: The first instant is inside, the next month's first instant is not

	m := core.MustMonth("2025-03")

	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), m.Start())
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), m.End())

	assert.True(t, m.Contains(m.Start()))
	assert.True(t, m.Contains(time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, m.Contains(m.End()))
	assert.False(t, m.Contains(m.Start().Add(-time.Second)))
}

func TestMonth_NextPrevAcrossYear(t *testing.T) {
	// GIVEN: December
	// WHEN: Stepping forward and back
	// THEN: The year rolls correctly

	dec := core.MustMonth("2024-12")
	assert.Equal(t, "2025-01", dec.Next().String())
	assert.Equal(t, "2024-12", dec.Next().Prev().String())
}

func TestMonth_MonthsThrough(t *testing.T) {
	// GIVEN: A range spanning a year boundary
	// WHEN: Enumerating months
	// THEN: Every calendar month appears once, in order

	months := core.MustMonth("2024-11").MonthsThrough(core.MustMonth("2025-02"))
	require.Len(t, months, 4)
	assert.Equal(t, "2024-11", months[0].String())
	assert.Equal(t, "2024-12", months[1].String())
	assert.Equal(t, "2025-01", months[2].String())
	assert.Equal(t, "2025-02", months[3].String())

	// A reversed range is empty, not an error.
	assert.Nil(t, core.MustMonth("2025-02").MonthsThrough(core.MustMonth("2024-11")))

	// A single-month range contains itself.
	single := core.MustMonth("2025-03").MonthsThrough(core.MustMonth("2025-03"))
	require.Len(t, single, 1)
	assert.Equal(t, "2025-03", single[0].String())
}

// =============================================================================
// AMOUNT ROUNDING
// =============================================================================

func TestAmount_PercentRoundsHalfUp(t *testing.T) {
	// GIVEN: Percent math with a .5 fraction
	// WHEN: Computing 5% of 1,234,567 VND (= 61,728.35) and 3% of 50 (= 1.5)
	// THEN: Rounded half-up to whole dong

	assert.Equal(t, int64(61_728), core.VND(1_234_567).Percent(5).Int64())
	assert.Equal(t, int64(2), core.VND(50).Percent(3).Int64())
}

func TestAmount_SubAndClamp(t *testing.T) {
	// GIVEN: Amounts
	// WHEN: Subtracting below zero and clamping with Max
	// THEN: The clamped value is zero

	got := core.VND(100).Sub(core.VND(250)).Max(core.ZeroVND())
	assert.True(t, got.IsZero())
}
