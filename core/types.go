/*
Package core provides the domain primitives for the tuition engine.

PURPOSE:
  This package contains the types and algorithms shared by every billing
  component: VND amounts, billing months, the append-only ledger, the
  entity model, store contracts, and the error taxonomy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: An integral VND quantity backed by decimal.Decimal
  - Typed identifiers: StudentID, FamilyID, ClassID, ...
  - Actor: who is performing an administrative operation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money math, no floats
  2. Integral currency: VND has no fractional unit; every public Amount
     is a whole number of dong
  3. Rounding: round-half-up at the point of percent/duration computation,
     never at display
  4. Type safety: strong ID types prevent mixing student/class/teacher ids

SEE ALSO:
  - month.go: Billing month arithmetic
  - ledger.go: Append-only ledger entries and balance folds
  - entities.go: The relational entity model
*/
package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Integral VND quantity
// =============================================================================

// Amount is a quantity of Vietnamese dong. VND has no fractional unit, so
// every Amount that leaves a computation is a whole number. Intermediate
// percent and duration math stays in decimal and is rounded half-up once.
type Amount struct {
	Value decimal.Decimal
}

// VND builds an Amount from a whole number of dong.
func VND(v int64) Amount {
	return Amount{Value: decimal.NewFromInt(v)}
}

// ZeroVND is the zero amount.
func ZeroVND() Amount {
	return Amount{Value: decimal.Zero}
}

func (a Amount) Add(b Amount) Amount  { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount  { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount          { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsZero() bool         { return a.Value.IsZero() }
func (a Amount) IsNegative() bool     { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool     { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Percent returns pct% of the amount, rounded half-up to whole dong.
// decimal's Round rounds half away from zero, which for non-negative money
// is exactly round-half-up.
func (a Amount) Percent(pct int64) Amount {
	return Amount{Value: a.Value.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Round(0)}
}

// MulRound multiplies by an arbitrary decimal factor (e.g. hours worked)
// and rounds half-up to whole dong.
func (a Amount) MulRound(factor decimal.Decimal) Amount {
	return Amount{Value: a.Value.Mul(factor).Round(0)}
}

// Int64 returns the amount as whole dong.
func (a Amount) Int64() int64 {
	return a.Value.IntPart()
}

func (a Amount) String() string {
	return a.Value.StringFixed(0)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	StudentID    string
	FamilyID     string
	ClassID      string
	TeacherID    string
	EnrollmentID string
	SessionID    string
	AccountID    string
)

// =============================================================================
// ACTOR - Who performs an administrative operation
// =============================================================================

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleSystem  = "system"
)

// Actor identifies the caller of a mutating operation. Role resolution is
// an external concern; the engine only checks the resolved role.
type Actor struct {
	ID   string
	Role string
}

// SystemActor is used by scheduled jobs.
func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

// IsAdmin reports whether the actor may perform admin-only mutations.
// Scheduled jobs run with the system role and have the same rights.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
