package core

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The billing period
// =============================================================================

// Month is the period every tuition, payroll, and sibling-discount snapshot
// is keyed on. Wire format is "2006-01". Balance-affecting calculations are
// always scoped to calendar months, never to enrollment-relative windows.
type Month struct {
	Year  int
	Month time.Month
}

// ParseMonth parses the "2006-01" wire format.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q (want YYYY-MM)", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// MustMonth is ParseMonth for tests and fixtures.
func MustMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the first day of the next month.
// The month covers [Start, End).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the month.
func (m Month) Contains(t time.Time) bool {
	return !t.Before(m.Start()) && t.Before(m.End())
}

func (m Month) Next() Month {
	return MonthOf(m.Start().AddDate(0, 1, 0))
}

func (m Month) Prev() Month {
	return MonthOf(m.Start().AddDate(0, -1, 0))
}

func (m Month) Before(other Month) bool {
	return m.Start().Before(other.Start())
}

func (m Month) After(other Month) bool {
	return m.Start().After(other.Start())
}

func (m Month) Equal(other Month) bool {
	return m.Year == other.Year && m.Month == other.Month
}

// MonthsThrough returns every month from m through last, inclusive,
// in chronological order. Returns nil if last precedes m.
func (m Month) MonthsThrough(last Month) []Month {
	if last.Before(m) {
		return nil
	}
	var months []Month
	for cur := m; !cur.After(last); cur = cur.Next() {
		months = append(months, cur)
	}
	return months
}

// DateOnly truncates t to midnight UTC. Session dates are stored this way.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
