/*
discount.go - Discount evaluation

PURPOSE:
  Evaluates a student's discount assignments (student- and family-scoped)
  plus the month's sibling outcome into an ordered discount list and a
  capped total. Deterministic and idempotent: same inputs, same output,
  safe to recompute any number of times.

FAILURE SEMANTICS:
  A single malformed assignment (dangling definition, unknown type,
  percent outside 0..100, negative amount) is skipped and logged; the
  remaining discounts still apply. Isolation is per discount, not per
  family.

CAPPING:
  percent: amount = round-half-up(base * value / 100)
  amount:  absolute VND
  Discounts are capped cumulatively at the base amount, so the total
  never exceeds base and the billed total never goes negative.
*/
package tuition

import (
	"context"
	"log"

	"github.com/atlas/tuition-engine/core"
)

// AppliedDiscount is one evaluated discount line.
type AppliedDiscount struct {
	Name   string
	Type   core.DiscountType
	Value  int64
	Amount core.Amount
}

// SiblingDiscountName labels the policy-generated line item.
const SiblingDiscountName = "Sibling discount"

// =============================================================================
// DISCOUNT ENGINE
// =============================================================================

type DiscountEngine struct {
	Store core.DiscountStore

	// Logf receives skipped-assignment notices. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

func NewDiscountEngine(store core.DiscountStore) *DiscountEngine {
	return &DiscountEngine{Store: store, Logf: log.Printf}
}

func (de *DiscountEngine) logf(format string, args ...any) {
	if de.Logf != nil {
		de.Logf(format, args...)
	}
}

// DiscountsFor evaluates all discounts against the student's aggregate.
// sibling is the (family, month) state; nil when the student has no family
// or no state applies. The returned total is capped at the base amount.
func (de *DiscountEngine) DiscountsFor(ctx context.Context, student core.Student, agg MonthAggregate, sibling *core.SiblingDiscountState) ([]AppliedDiscount, core.Amount, error) {
	base := agg.Base()
	total := core.ZeroVND()
	if !base.IsPositive() {
		return nil, total, nil
	}

	assignments, err := de.Store.AssignmentsForStudent(ctx, student.ID, student.FamilyID)
	if err != nil {
		return nil, total, err
	}

	var applied []AppliedDiscount
	for _, a := range assignments {
		def, err := de.Store.Definition(ctx, a.DefinitionID)
		if err != nil {
			return nil, total, err
		}
		raw, ok := de.evaluate(def, a, base)
		if !ok {
			continue
		}
		amount := raw.Min(base.Sub(total)) // cumulative cap at base
		applied = append(applied, AppliedDiscount{
			Name:   def.Name,
			Type:   def.Type,
			Value:  def.Value,
			Amount: amount,
		})
		total = total.Add(amount)
	}

	if line, ok := de.siblingLine(student, agg, sibling); ok {
		line.Amount = line.Amount.Min(base.Sub(total))
		applied = append(applied, line)
		total = total.Add(line.Amount)
	}

	return applied, total, nil
}

// evaluate computes the raw (uncapped) amount for one assignment, or
// reports it malformed.
func (de *DiscountEngine) evaluate(def *core.DiscountDefinition, a core.DiscountAssignment, base core.Amount) (core.Amount, bool) {
	if def == nil {
		de.logf("[Discount] skipping assignment %s: definition %s not found", a.ID, a.DefinitionID)
		return core.Amount{}, false
	}
	switch def.Type {
	case core.DiscountPercent:
		if def.Value < 0 || def.Value > 100 {
			de.logf("[Discount] skipping %q: percent %d outside 0..100", def.Name, def.Value)
			return core.Amount{}, false
		}
		return base.Percent(def.Value), true
	case core.DiscountAmount:
		if def.Value < 0 {
			de.logf("[Discount] skipping %q: negative amount %d", def.Name, def.Value)
			return core.Amount{}, false
		}
		return core.VND(def.Value), true
	default:
		de.logf("[Discount] skipping %q: unknown type %q", def.Name, def.Type)
		return core.Amount{}, false
	}
}

// siblingLine turns an assigned sibling state into a discount line when
// this student is the winner. The percent applies only to the winner's
// selected class, retroactively for the whole month.
func (de *DiscountEngine) siblingLine(student core.Student, agg MonthAggregate, sibling *core.SiblingDiscountState) (AppliedDiscount, bool) {
	if sibling == nil || sibling.Status != core.SiblingAssigned {
		return AppliedDiscount{}, false
	}
	if sibling.WinnerStudentID == nil || *sibling.WinnerStudentID != student.ID {
		return AppliedDiscount{}, false
	}
	if sibling.WinnerClassID == nil {
		return AppliedDiscount{}, false
	}
	classBase := agg.BaseForClass(*sibling.WinnerClassID)
	if !classBase.IsPositive() {
		return AppliedDiscount{}, false
	}
	return AppliedDiscount{
		Name:   SiblingDiscountName,
		Type:   core.DiscountPercent,
		Value:  sibling.Percent,
		Amount: classBase.Percent(sibling.Percent),
	}, true
}
