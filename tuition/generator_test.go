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

func newGenerator(mem *memstore.Memory) *tuition.Generator {
	gen := tuition.NewGenerator(mem)
	gen.Calculator.Now = func() time.Time { return afterMarch }
	gen.Logf = func(format string, args ...any) {}
	return gen
}

// =============================================================================
// GENERATION & POSTING
// =============================================================================

func TestGenerate_FirstRunPostsFullDebit(t *testing.T) {
	// GIVEN: A 1,500,000 March with a 900,000 payment already recorded
	// WHEN: Generating the invoice
	// THEN: Revision 1, full total posted as one debit, outstanding 600,000

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	pay(mem, "pay-1", 900_000, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	gen := newGenerator(mem)
	ctx := context.Background()

	inv, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, 1, inv.Revision)
	assert.Equal(t, int64(1_500_000), inv.TotalAmount.Int64())
	assert.Equal(t, int64(1_500_000), inv.PostedAmount.Int64())
	assert.Equal(t, int64(900_000), inv.PaidAmount.Int64())
	assert.Equal(t, core.InvoicePartial, inv.Status)

	entries, err := mem.EntriesByStudent(ctx, "stu-1", core.AccountCodeTuition)
	require.NoError(t, err)
	var debits []core.LedgerEntry
	for _, e := range entries {
		if e.Debit.IsPositive() {
			debits = append(debits, e)
		}
	}
	require.Len(t, debits, 1)
	assert.Equal(t, int64(1_500_000), debits[0].Debit.Int64())
	assert.Equal(t, "invoice-stu-1-2025-03-r1", debits[0].IdempotencyKey)

	balance, err := gen.OutstandingBalance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), balance.Int64())
}

func TestGenerate_RegenerationPostsOnlyTheDelta(t *testing.T) {
	// GIVEN: A generated March invoice, then a rate override dropping the
	//        month from 1,500,000 to 1,200,000
	// WHEN: Regenerating
	// THEN: Revision 2 posts a single 300,000 credit; the snapshot and the
	//       ledger agree again

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	gen := newGenerator(mem)
	ctx := context.Background()

	_, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)

	lower := core.VND(300_000)
	_, err = mem.UpdateEnrollmentRate(ctx, "enr-1", &lower, core.AuditEntry{ID: "aud-rate"})
	require.NoError(t, err)

	inv, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, 2, inv.Revision)
	assert.Equal(t, int64(1_200_000), inv.TotalAmount.Int64())
	assert.Equal(t, int64(1_200_000), inv.PostedAmount.Int64())

	entries, err := mem.EntriesByStudent(ctx, "stu-1", core.AccountCodeTuition)
	require.NoError(t, err)
	require.Len(t, entries, 2, "original debit plus one adjusting credit")
	adjustment := entries[1]
	assert.Equal(t, int64(300_000), adjustment.Credit.Int64())
	assert.Equal(t, "invoice-stu-1-2025-03-r2", adjustment.IdempotencyKey)

	balance, err := gen.OutstandingBalance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_200_000), balance.Int64())
}

func TestGenerate_UnchangedRegenerationPostsNothing(t *testing.T) {
	// GIVEN: A generated invoice and no data changes
	// WHEN: Regenerating
	// THEN: The revision still increments but no ledger entry is appended

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	gen := newGenerator(mem)
	ctx := context.Background()

	_, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)
	inv, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)

	assert.Equal(t, 2, inv.Revision)
	entries, err := mem.EntriesByStudent(ctx, "stu-1", core.AccountCodeTuition)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerate_NonAdminRejected(t *testing.T) {
	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")

	_, err := newGenerator(mem).Generate(context.Background(), teacher(), "stu-1", march)
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
}

// =============================================================================
// STATUS
// =============================================================================

func TestGenerate_StatusFromPaymentPosition(t *testing.T) {
	// GIVEN: A 1,500,000 month
	// WHEN: Generating with no payment, a partial payment, then full cover
	// THEN: issued -> partial -> paid

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	gen := newGenerator(mem)
	ctx := context.Background()

	inv, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceIssued, inv.Status)

	pay(mem, "pay-1", 600_000, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	inv, err = gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePartial, inv.Status)
	assert.Equal(t, int64(600_000), inv.PaidAmount.Int64())

	pay(mem, "pay-2", 900_000, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	inv, err = gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePaid, inv.Status)
	assert.Equal(t, int64(1_500_000), inv.PaidAmount.Int64())
}

func TestGenerate_NeedsReviewSticksAcrossRegeneration(t *testing.T) {
	// GIVEN: An operator flagged the invoice needs_review
	// WHEN: Regenerating
	// THEN: The flag survives until an explicit override clears it

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	gen := newGenerator(mem)
	ctx := context.Background()

	first, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)

	flagged := *first
	flagged.Status = core.InvoiceNeedsReview
	require.NoError(t, mem.SaveInvoice(ctx, flagged, nil, core.AuditEntry{ID: "aud-flag"}))

	inv, err := gen.Generate(ctx, admin(), "stu-1", march)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceNeedsReview, inv.Status)
}

// =============================================================================
// BATCH
// =============================================================================

func TestGenerateAll_PartialSuccess(t *testing.T) {
	// GIVEN: Two healthy students and one whose enrollment points at a
	//        missing class
	// WHEN: Generating the month for everyone
	// THEN: Two processed, one error entry; the batch never aborts

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	mem.PutStudent(core.Student{ID: "stu-2", FullName: "Lien Dao", IsActive: true})
	mem.PutEnrollment(core.Enrollment{ID: "enr-2", StudentID: "stu-2", ClassID: "class-phys", StartDate: march.Start()})
	mem.PutStudent(core.Student{ID: "stu-broken", FullName: "Broken", IsActive: true})
	mem.PutEnrollment(core.Enrollment{ID: "enr-broken", StudentID: "stu-broken", ClassID: "class-ghost", StartDate: march.Start()})

	report, err := newGenerator(mem).GenerateAll(context.Background(), admin(), march)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Student stu-broken")

	inv, err := mem.Invoice(context.Background(), "stu-2", march)
	require.NoError(t, err)
	require.NotNil(t, inv)
}

func TestGenerateAll_SkipsInactiveStudents(t *testing.T) {
	// GIVEN: One active, one inactive student
	// WHEN: Generating the batch
	// THEN: Only the active student gets an invoice

	mem := memstore.NewMemory()
	seedPhysics(mem, "2025-03", "2025-03")
	mem.PutStudent(core.Student{ID: "stu-gone", FullName: "Gone", IsActive: false})

	report, err := newGenerator(mem).GenerateAll(context.Background(), admin(), march)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	inv, err := mem.Invoice(context.Background(), "stu-gone", march)
	require.NoError(t, err)
	assert.Nil(t, inv)
}
