/*
generator.go - Invoice generation and ledger posting

PURPOSE:
  Turns a calculation into the persisted (student, month) Invoice snapshot
  and keeps the ledger in step. Regeneration overwrites the snapshot and
  posts ONLY the signed delta against what was previously posted, so the
  append-only ledger and the mutable snapshot never disagree.

IDEMPOTENCY:
  Every posting carries the key "invoice-{student}-{month}-r{revision}".
  Revision increments on each overwrite; a crashed-and-retried generation
  for the same revision is rejected by the key and the retry converges.

PARITY:
  After saving, the ledger balance through the month is compared against
  the invoice snapshots; a mismatch is logged for operator follow-up, it
  never fails the request (the snapshot is already consistent, and
  failing here would only block the fix).
*/
package tuition

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	Store      core.Store
	Calculator *Calculator
	Ledger     *core.Ledger

	// Logf receives parity notices. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

func NewGenerator(store core.Store) *Generator {
	return &Generator{
		Store:      store,
		Calculator: NewCalculator(store, store, store),
		Ledger:     core.NewLedger(store),
		Logf:       log.Printf,
	}
}

func (g *Generator) logf(format string, args ...any) {
	if g.Logf != nil {
		g.Logf(format, args...)
	}
}

// Generate recalculates (student, month), overwrites the invoice snapshot,
// and posts the signed ledger delta. Admin-only.
func (g *Generator) Generate(ctx context.Context, actor core.Actor, studentID core.StudentID, month core.Month) (*core.Invoice, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrNotAuthorized
	}

	result, err := g.Calculator.Calculate(ctx, studentID, month)
	if err != nil {
		return nil, err
	}

	existing, err := g.Store.Invoice(ctx, studentID, month)
	if err != nil {
		return nil, err
	}

	total := core.VND(result.TotalAmount)
	posted := core.ZeroVND()
	revision := 1
	if existing != nil {
		posted = existing.PostedAmount
		revision = existing.Revision + 1
	}

	now := g.Calculator.Now().UTC()
	inv := core.Invoice{
		StudentID:      studentID,
		Month:          month,
		BaseAmount:     core.VND(result.BaseAmount),
		DiscountAmount: core.VND(result.TotalDiscount),
		TotalAmount:    total,
		PaidAmount:     paidForMonth(result),
		Status:         invoiceStatus(result, existing),
		PostedAmount:   total,
		Revision:       revision,
		GeneratedAt:    now,
	}
	if existing != nil {
		inv.ConfirmationStatus = existing.ConfirmationStatus
	}

	// The delta is what the ledger is still missing for this invoice.
	// First generation posts the full total; regeneration after a rate
	// fix posts only the difference, signed.
	delta := total.Sub(posted)
	var entry *core.LedgerEntry
	if !delta.IsZero() {
		e := core.LedgerEntry{
			ID:             uuid.NewString(),
			TxID:           uuid.NewString(),
			StudentID:      studentID,
			Month:          month,
			OccurredAt:     now,
			Memo:           fmt.Sprintf("invoice %s r%d", month, revision),
			CreatedBy:      actor.ID,
			IdempotencyKey: fmt.Sprintf("invoice-%s-%s-r%d", studentID, month, revision),
		}
		if delta.IsPositive() {
			e.Debit = delta
		} else {
			e.Credit = delta.Neg()
		}
		entry = &e
	}

	audit := core.AuditEntry{
		ID:          uuid.NewString(),
		Action:      "invoice.generate",
		Entity:      "invoice",
		EntityID:    fmt.Sprintf("%s/%s", studentID, month),
		ActorUserID: actor.ID,
		Diff:        invoiceDiff(existing, inv),
		OccurredAt:  now,
	}

	if err := g.Store.SaveInvoice(ctx, inv, entry, audit); err != nil {
		return nil, err
	}

	g.checkParity(ctx, studentID, month, core.VND(result.Payments.CumulativePaidAmount))
	return &inv, nil
}

// paidForMonth allocates the cumulative payment position to this month:
// earlier months absorb payments first, this month gets the remainder,
// clamped to [0, total].
func paidForMonth(result *TuitionResult) core.Amount {
	total := core.VND(result.TotalAmount)
	available := total.Add(core.VND(result.Carry.CarryOutCredit)).Sub(core.VND(result.Carry.CarryOutDebt))
	return available.Max(core.ZeroVND()).Min(total)
}

// invoiceStatus maps the payment position to the snapshot status. An
// operator-flagged needs_review sticks across regenerations until cleared
// by an explicit, audited override.
func invoiceStatus(result *TuitionResult, existing *core.Invoice) core.InvoiceStatus {
	if existing != nil && existing.Status == core.InvoiceNeedsReview {
		return core.InvoiceNeedsReview
	}
	total := core.VND(result.TotalAmount)
	paid := paidForMonth(result)
	switch {
	case !total.IsPositive():
		return core.InvoicePaid
	case !paid.LessThan(total):
		return core.InvoicePaid
	case paid.IsPositive():
		return core.InvoicePartial
	default:
		return core.InvoiceIssued
	}
}

// checkParity compares the ledger fold through the month against the
// invoice snapshots. Logged, never thrown.
func (g *Generator) checkParity(ctx context.Context, studentID core.StudentID, month core.Month, cumulativePaid core.Amount) {
	balance, err := g.Ledger.BalanceThrough(ctx, studentID, month)
	if err != nil {
		g.logf("[Generator] parity check skipped for %s/%s: %v", studentID, month, err)
		return
	}
	invoices, err := g.Store.InvoicesByStudent(ctx, studentID)
	if err != nil {
		g.logf("[Generator] parity check skipped for %s/%s: %v", studentID, month, err)
		return
	}
	expected := core.ZeroVND()
	for _, inv := range invoices {
		if inv.Month.After(month) {
			continue
		}
		expected = expected.Add(inv.PostedAmount)
	}
	expected = expected.Sub(cumulativePaid)
	if !balance.Equal(expected) {
		g.logf("[Generator] parity mismatch for %s through %s: ledger=%s invoices-payments=%s",
			studentID, month, balance, expected)
	}
}

func invoiceDiff(before *core.Invoice, after core.Invoice) string {
	payload := map[string]any{
		"after": map[string]any{
			"total_amount": after.TotalAmount.Int64(),
			"status":       after.Status,
			"revision":     after.Revision,
		},
	}
	if before != nil {
		payload["before"] = map[string]any{
			"total_amount": before.TotalAmount.Int64(),
			"status":       before.Status,
			"revision":     before.Revision,
		}
	}
	diff, _ := json.Marshal(payload)
	return string(diff)
}

// =============================================================================
// BATCH GENERATION - partial success, per-student isolation
// =============================================================================

// GenerationReport summarizes a batch run. A failed student never blocks
// the others.
type GenerationReport struct {
	Processed   int      `json:"processed"`
	NeedsReview int      `json:"needsReview"`
	Errors      []string `json:"errors,omitempty"`
}

// GenerateAll generates invoices for every active student.
func (g *Generator) GenerateAll(ctx context.Context, actor core.Actor, month core.Month) (*GenerationReport, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrNotAuthorized
	}
	students, err := g.Store.ListStudents(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &GenerationReport{}
	for _, s := range students {
		inv, err := g.Generate(ctx, actor, s.ID, month)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Student %s: %v", s.ID, err))
			continue
		}
		report.Processed++
		if inv.Status == core.InvoiceNeedsReview {
			report.NeedsReview++
		}
	}

	if len(report.Errors) > 0 {
		g.logf("[Generator] batch %s: %d generated, %d failed", month, report.Processed, len(report.Errors))
	}
	return report, nil
}

// OutstandingBalance exposes the ledger fold for the finance view.
func (g *Generator) OutstandingBalance(ctx context.Context, studentID core.StudentID) (core.Amount, error) {
	return g.Ledger.OutstandingBalance(ctx, studentID)
}
