/*
Package tuition implements the billing core: session aggregation, the
discount engine (including the family-wide sibling policy), the tuition
calculator, the payment recorder, and invoice generation.

aggregator.go - Session/Attendance aggregation

PURPOSE:
  Turns a student's enrollments plus the month's sessions into the
  billable session list the calculator prices. Billability rules:
    - Held sessions are billed in full; an Excused attendance is still
      billed (the organization charges excused absences) and only tags
      the line item.
    - Canceled and Holiday sessions are never billed.
    - Scheduled sessions in the past are billed only once attendance has
      been resolved (auto-marker default Present, or staff marking);
      still-pending sessions are excluded.
    - Scheduled sessions in the future are excluded.
  Rate resolution per session: session override, then enrollment
  override, then class rate. First non-nil wins.

SEE ALSO:
  - calculator.go: prices the aggregate
  - sibling.go: uses per-class subtotals for winner selection
*/
package tuition

import (
	"context"
	"sort"
	"time"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// AGGREGATE - The month's billable sessions for one student
// =============================================================================

type ChargeStatus string

const (
	ChargeHeld    ChargeStatus = "held"
	ChargeExcused ChargeStatus = "excused"
)

// SessionCharge is one billable session line.
type SessionCharge struct {
	SessionID core.SessionID
	ClassID   core.ClassID
	ClassName string
	Date      time.Time
	Rate      core.Amount
	Status    ChargeStatus
}

// ClassSubtotal is the per-class invoice line-item view.
type ClassSubtotal struct {
	ClassID   core.ClassID
	ClassName string
	Base      core.Amount
	Sessions  int
}

// MonthAggregate holds both views of the same data: the whole-student
// total and the per-class subtotals.
type MonthAggregate struct {
	StudentID core.StudentID
	Month     core.Month
	Charges   []SessionCharge
}

// Base returns the student's total across all classes.
func (a MonthAggregate) Base() core.Amount {
	total := core.ZeroVND()
	for _, c := range a.Charges {
		total = total.Add(c.Rate)
	}
	return total
}

// ByClass returns per-class subtotals ordered by class id.
func (a MonthAggregate) ByClass() []ClassSubtotal {
	byID := make(map[core.ClassID]*ClassSubtotal)
	for _, c := range a.Charges {
		sub, ok := byID[c.ClassID]
		if !ok {
			sub = &ClassSubtotal{ClassID: c.ClassID, ClassName: c.ClassName, Base: core.ZeroVND()}
			byID[c.ClassID] = sub
		}
		sub.Base = sub.Base.Add(c.Rate)
		sub.Sessions++
	}
	out := make([]ClassSubtotal, 0, len(byID))
	for _, sub := range byID {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out
}

// BaseForClass returns the student's total for one class.
func (a MonthAggregate) BaseForClass(id core.ClassID) core.Amount {
	total := core.ZeroVND()
	for _, c := range a.Charges {
		if c.ClassID == id {
			total = total.Add(c.Rate)
		}
	}
	return total
}

// HighestClass returns the class with the largest subtotal and that
// subtotal. For sibling eligibility a multi-class student contributes
// their highest-tuition single class, not the summed total. Ties go to
// the lexically smallest class id so the result is deterministic.
func (a MonthAggregate) HighestClass() (core.ClassID, core.Amount) {
	var bestID core.ClassID
	best := core.ZeroVND()
	for _, sub := range a.ByClass() {
		if sub.Base.GreaterThan(best) {
			bestID, best = sub.ClassID, sub.Base
		}
	}
	return bestID, best
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	Roster core.RosterStore
}

func NewAggregator(roster core.RosterStore) *Aggregator {
	return &Aggregator{Roster: roster}
}

// Aggregate returns the ordered billable session list for (student, month).
// asOf decides which Scheduled sessions count as "past"; the read has no
// side effects and recomputes identically for the same stored state.
func (ag *Aggregator) Aggregate(ctx context.Context, studentID core.StudentID, month core.Month, asOf time.Time) (MonthAggregate, error) {
	agg := MonthAggregate{StudentID: studentID, Month: month}

	enrollments, err := ag.Roster.EnrollmentsByStudent(ctx, studentID)
	if err != nil {
		return agg, err
	}

	seen := make(map[core.SessionID]bool)
	for _, enr := range enrollments {
		class, err := ag.Roster.Class(ctx, enr.ClassID)
		if err != nil {
			return agg, err
		}
		if class == nil {
			return agg, core.ErrClassNotFound
		}

		sessions, err := ag.Roster.SessionsByClass(ctx, enr.ClassID, month.Start(), month.End())
		if err != nil {
			return agg, err
		}

		for _, s := range sessions {
			if seen[s.ID] || !enr.CoversDate(s.Date) {
				continue
			}
			status, billable, err := ag.chargeStatus(ctx, s, studentID, asOf)
			if err != nil {
				return agg, err
			}
			if !billable {
				continue
			}
			seen[s.ID] = true
			agg.Charges = append(agg.Charges, SessionCharge{
				SessionID: s.ID,
				ClassID:   class.ID,
				ClassName: class.Name,
				Date:      core.DateOnly(s.Date),
				Rate:      resolveRate(s, enr, *class),
				Status:    status,
			})
		}
	}

	sort.Slice(agg.Charges, func(i, j int) bool {
		if !agg.Charges[i].Date.Equal(agg.Charges[j].Date) {
			return agg.Charges[i].Date.Before(agg.Charges[j].Date)
		}
		return agg.Charges[i].SessionID < agg.Charges[j].SessionID
	})
	return agg, nil
}

func (ag *Aggregator) chargeStatus(ctx context.Context, s core.Session, studentID core.StudentID, asOf time.Time) (ChargeStatus, bool, error) {
	switch s.Status {
	case core.SessionCanceled, core.SessionHoliday:
		return "", false, nil

	case core.SessionHeld:
		att, err := ag.Roster.Attendance(ctx, s.ID, studentID)
		if err != nil {
			return "", false, err
		}
		if att != nil && att.Status == core.AttendanceExcused {
			return ChargeExcused, true, nil
		}
		return ChargeHeld, true, nil

	case core.SessionScheduled:
		if !core.DateOnly(s.Date).Before(core.DateOnly(asOf)) {
			// Future sessions display as Scheduled and are never billed.
			return "", false, nil
		}
		att, err := ag.Roster.Attendance(ctx, s.ID, studentID)
		if err != nil {
			return "", false, err
		}
		if att == nil {
			// Still pending the auto-marker; excluded until resolved.
			return "", false, nil
		}
		switch att.Status {
		case core.AttendancePresent:
			return ChargeHeld, true, nil
		case core.AttendanceExcused:
			return ChargeExcused, true, nil
		default:
			return "", false, nil
		}

	default:
		return "", false, nil
	}
}

// resolveRate applies the rate resolution order:
// session override, enrollment override, class rate.
func resolveRate(s core.Session, e core.Enrollment, c core.Class) core.Amount {
	if s.RateOverrideVND != nil {
		return *s.RateOverrideVND
	}
	if e.RateOverrideVND != nil {
		return *e.RateOverrideVND
	}
	return c.SessionRateVND
}
