/*
calculator.go - The tuition calculation pipeline

PURPOSE:
  Combines aggregated sessions, discounts, prior-month totals, and
  payments into the normalized TuitionResult projection. This projection
  is the single source of truth: the generate path persists it verbatim
  as an Invoice, and both the admin finance view and the student-facing
  view consume it.

KEY INVARIANTS:
  - READ-ONLY: Calculate never mutates ledger, invoice, or sibling state.
    Only the explicit generate path (generator.go) persists anything.
  - IDEMPOTENT: calling Calculate N times with no intervening writes
    yields an identical result every time.
  - BALANCE: cumulativePaid - sum(totalAmount for months <= current)
    == carryOutCredit - carryOutDebt, and exactly one of the two carry
    sides is nonzero.
  - totalDiscount <= baseAmount, totalAmount >= 0, always.

CARRY:
  net = cumulativePaid - totalsThroughCurrent
    net > 0             -> credit (overpaid)
    net < 0             -> underpaid if the month saw payments, else unpaid
    net == 0, total > 0 -> settled
    otherwise           -> open
  Prior months are recomputed with the same pipeline from the student's
  first enrollment month; "prior months" means calendar months.
*/
package tuition

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// RESULT - The normalized projection
// =============================================================================

const (
	CarryCredit    = "credit"
	CarryUnpaid    = "unpaid"
	CarryUnderpaid = "underpaid"
	CarrySettled   = "settled"
	CarryOpen      = "open"
)

type DiscountLine struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Value  int64  `json:"value"`
	Amount int64  `json:"amount"`
}

type SessionDetail struct {
	Date      string `json:"date"`
	ClassName string `json:"className"`
	Rate      int64  `json:"rate"`
	Status    string `json:"status"`
}

type ClassTotal struct {
	ClassID   string `json:"classId"`
	ClassName string `json:"className"`
	Base      int64  `json:"base"`
	Sessions  int    `json:"sessions"`
}

type PaymentsBreakdown struct {
	CumulativePaidAmount int64 `json:"cumulativePaidAmount"`
	MonthPayments        int64 `json:"monthPayments"`
	PriorPayments        int64 `json:"priorPayments"`
}

type Carry struct {
	Status         string `json:"status"`
	CarryInCredit  int64  `json:"carryInCredit"`
	CarryInDebt    int64  `json:"carryInDebt"`
	CarryOutCredit int64  `json:"carryOutCredit"`
	CarryOutDebt   int64  `json:"carryOutDebt"`
	Message        string `json:"message"`
}

type SiblingStateView struct {
	Status   string `json:"status"`
	Percent  int64  `json:"percent"`
	IsWinner bool   `json:"isWinner,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// TuitionResult is the full projection for (student, month).
type TuitionResult struct {
	StudentID      string            `json:"studentId"`
	Month          string            `json:"month"`
	BaseAmount     int64             `json:"baseAmount"`
	TotalDiscount  int64             `json:"totalDiscount"`
	TotalAmount    int64             `json:"totalAmount"`
	SessionCount   int               `json:"sessionCount"`
	Discounts      []DiscountLine    `json:"discounts"`
	SessionDetails []SessionDetail   `json:"sessionDetails"`
	ClassTotals    []ClassTotal      `json:"classTotals"`
	Payments       PaymentsBreakdown `json:"payments"`
	Carry          Carry             `json:"carry"`
	SiblingState   *SiblingStateView `json:"siblingState,omitempty"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Roster    core.RosterStore
	Discounts core.DiscountStore
	Payments  core.PaymentStore

	Aggregator *Aggregator
	Engine     *DiscountEngine
	Sibling    *SiblingEngine

	// Now is injectable for tests; it decides which Scheduled sessions
	// count as past.
	Now func() time.Time
}

func NewCalculator(roster core.RosterStore, discounts core.DiscountStore, payments core.PaymentStore) *Calculator {
	agg := NewAggregator(roster)
	return &Calculator{
		Roster:     roster,
		Discounts:  discounts,
		Payments:   payments,
		Aggregator: agg,
		Engine:     NewDiscountEngine(discounts),
		Sibling:    NewSiblingEngine(roster, discounts, agg),
		Now:        time.Now,
	}
}

// monthOutcome is the priced result of one month.
type monthOutcome struct {
	agg           MonthAggregate
	discounts     []AppliedDiscount
	totalDiscount core.Amount
	total         core.Amount
	sibling       *core.SiblingDiscountState
}

// Calculate produces the projection for (student, month). Read-only.
func (c *Calculator) Calculate(ctx context.Context, studentID core.StudentID, month core.Month) (*TuitionResult, error) {
	student, err := c.Roster.Student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, core.ErrStudentNotFound
	}

	asOf := c.Now().UTC()

	// Price every month from the student's first enrollment through the
	// target month with the same pipeline, so the carry fold is exact.
	first, err := c.firstMonth(ctx, *student, month)
	if err != nil {
		return nil, err
	}

	totalsPrior := core.ZeroVND()
	for _, m := range first.MonthsThrough(month) {
		if m.Equal(month) {
			break
		}
		outcome, err := c.priceMonth(ctx, *student, m, asOf)
		if err != nil {
			return nil, err
		}
		totalsPrior = totalsPrior.Add(outcome.total)
	}

	current, err := c.priceMonth(ctx, *student, month, asOf)
	if err != nil {
		return nil, err
	}

	payments, err := c.Payments.PaymentsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	prior, inMonth := core.ZeroVND(), core.ZeroVND()
	for _, p := range payments {
		switch {
		case p.OccurredAt.Before(month.Start()):
			prior = prior.Add(p.Amount)
		case month.Contains(p.OccurredAt):
			inMonth = inMonth.Add(p.Amount)
		}
	}
	cumulative := prior.Add(inMonth)

	result := &TuitionResult{
		StudentID:     string(studentID),
		Month:         month.String(),
		BaseAmount:    current.agg.Base().Int64(),
		TotalDiscount: current.totalDiscount.Int64(),
		TotalAmount:   current.total.Int64(),
		SessionCount:  len(current.agg.Charges),
		Payments: PaymentsBreakdown{
			CumulativePaidAmount: cumulative.Int64(),
			MonthPayments:        inMonth.Int64(),
			PriorPayments:        prior.Int64(),
		},
		Carry: carryFor(month, prior, inMonth, cumulative, totalsPrior, current.total),
	}

	for _, d := range current.discounts {
		result.Discounts = append(result.Discounts, DiscountLine{
			Name:   d.Name,
			Type:   string(d.Type),
			Value:  d.Value,
			Amount: d.Amount.Int64(),
		})
	}
	for _, ch := range current.agg.Charges {
		result.SessionDetails = append(result.SessionDetails, SessionDetail{
			Date:      ch.Date.Format("2006-01-02"),
			ClassName: ch.ClassName,
			Rate:      ch.Rate.Int64(),
			Status:    string(ch.Status),
		})
	}
	for _, sub := range current.agg.ByClass() {
		result.ClassTotals = append(result.ClassTotals, ClassTotal{
			ClassID:   string(sub.ClassID),
			ClassName: sub.ClassName,
			Base:      sub.Base.Int64(),
			Sessions:  sub.Sessions,
		})
	}
	result.SiblingState = siblingView(*student, current.sibling)

	return result, nil
}

// priceMonth aggregates and discounts one month.
func (c *Calculator) priceMonth(ctx context.Context, student core.Student, m core.Month, asOf time.Time) (monthOutcome, error) {
	agg, err := c.Aggregator.Aggregate(ctx, student.ID, m, asOf)
	if err != nil {
		return monthOutcome{}, err
	}

	sibling, err := c.siblingFor(ctx, student, m, asOf)
	if err != nil {
		return monthOutcome{}, err
	}

	discounts, totalDiscount, err := c.Engine.DiscountsFor(ctx, student, agg, sibling)
	if err != nil {
		return monthOutcome{}, err
	}

	total := agg.Base().Sub(totalDiscount).Max(core.ZeroVND())
	return monthOutcome{
		agg:           agg,
		discounts:     discounts,
		totalDiscount: totalDiscount,
		total:         total,
		sibling:       sibling,
	}, nil
}

// siblingFor reads the persisted (family, month) state; when no state has
// been persisted yet it evaluates one ephemerally, without persisting,
// so the read path stays side-effect-free.
func (c *Calculator) siblingFor(ctx context.Context, student core.Student, m core.Month, asOf time.Time) (*core.SiblingDiscountState, error) {
	if student.FamilyID == nil {
		return nil, nil
	}
	state, err := c.Discounts.SiblingState(ctx, *student.FamilyID, m)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}
	evaluated, err := c.Sibling.Evaluate(ctx, *student.FamilyID, m, asOf)
	if err != nil {
		return nil, err
	}
	return &evaluated, nil
}

// firstMonth returns the month of the student's earliest enrollment,
// bounded above by the target month.
func (c *Calculator) firstMonth(ctx context.Context, student core.Student, target core.Month) (core.Month, error) {
	enrollments, err := c.Roster.EnrollmentsByStudent(ctx, student.ID)
	if err != nil {
		return target, err
	}
	first := target
	for _, e := range enrollments {
		m := core.MonthOf(e.StartDate)
		if m.Before(first) {
			first = m
		}
	}
	return first, nil
}

// carryFor folds the cumulative position into carry-in/out and status.
func carryFor(month core.Month, prior, inMonth, cumulative, totalsPrior, currentTotal core.Amount) Carry {
	carry := Carry{Status: CarryOpen}

	// Carry-in: the position brought into the month.
	netIn := prior.Sub(totalsPrior)
	if netIn.IsPositive() {
		carry.CarryInCredit = netIn.Int64()
	} else if netIn.IsNegative() {
		carry.CarryInDebt = netIn.Neg().Int64()
	}

	// Carry-out: the position leaving the month.
	netOut := cumulative.Sub(totalsPrior.Add(currentTotal))
	switch {
	case netOut.IsPositive():
		carry.Status = CarryCredit
		carry.CarryOutCredit = netOut.Int64()
		carry.Message = fmt.Sprintf("Credit of %s VND after %s", netOut, month)
	case netOut.IsNegative():
		debt := netOut.Neg()
		carry.Status = CarryUnpaid
		if inMonth.IsPositive() {
			carry.Status = CarryUnderpaid
		}
		carry.CarryOutDebt = debt.Int64()
		carry.Message = fmt.Sprintf("Outstanding debt of %s VND after %s", debt, month)
	case currentTotal.IsPositive():
		carry.Status = CarrySettled
		carry.Message = fmt.Sprintf("Settled through %s", month)
	default:
		carry.Message = fmt.Sprintf("No charges through %s", month)
	}
	return carry
}

// siblingView projects the sibling state into the result.
func siblingView(student core.Student, state *core.SiblingDiscountState) *SiblingStateView {
	if state == nil {
		return nil
	}
	view := &SiblingStateView{Status: string(state.Status), Percent: state.Percent}
	if state.Status == core.SiblingPending {
		view.Reason = "family has fewer than 2 students with positive tuition"
		return view
	}
	if state.WinnerStudentID != nil && *state.WinnerStudentID == student.ID {
		view.IsWinner = true
	}
	return view
}
