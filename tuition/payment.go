/*
payment.go - Payment recording

PURPOSE:
  Records a confirmed payment: one immutable Payment row plus one ledger
  credit, in a single store transaction. The student's tuition account is
  created lazily on first payment; if account creation fails, no Payment
  row is written.

DELIBERATE NON-FEATURES:
  - No deduplication. Two identical requests create two payments and two
    credits. Staff correct mistakes with adjusting entries, not by the
    system guessing which submission was the accident.
  - No invoice matching. A payment reduces the student's outstanding
    balance as a whole; the carry fold in calculator.go allocates it
    across months.
*/
package tuition

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atlas/tuition-engine/core"
)

// PaymentRequest carries the staff-entered payment details.
type PaymentRequest struct {
	StudentID  core.StudentID
	AmountVND  int64
	Method     string
	OccurredAt time.Time
	PayerName  string
	Memo       string
}

// Recorder persists payments. Admin-only.
type Recorder struct {
	Store interface {
		core.RosterStore
		core.PaymentStore
	}
	Now func() time.Time
}

func NewRecorder(store core.Store) *Recorder {
	return &Recorder{Store: store, Now: time.Now}
}

// Record validates and persists one payment. The authorization check runs
// before any read so an unauthorized caller learns nothing about the
// roster.
func (r *Recorder) Record(ctx context.Context, actor core.Actor, req PaymentRequest) (*core.Payment, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrNotAuthorized
	}
	if req.AmountVND <= 0 {
		return nil, core.Validationf("amount_vnd", "must be a positive amount")
	}
	if strings.TrimSpace(string(req.StudentID)) == "" {
		return nil, core.Validationf("student_id", "is required")
	}
	if req.OccurredAt.IsZero() {
		return nil, core.Validationf("occurred_at", "is required")
	}

	student, err := r.Store.Student(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, core.ErrStudentNotFound
	}

	now := r.Now().UTC()
	payment := core.Payment{
		ID:         uuid.NewString(),
		StudentID:  req.StudentID,
		Amount:     core.VND(req.AmountVND),
		Method:     req.Method,
		OccurredAt: req.OccurredAt.UTC(),
		PayerName:  req.PayerName,
		Memo:       req.Memo,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
	}

	entry := core.LedgerEntry{
		ID:         uuid.NewString(),
		TxID:       uuid.NewString(),
		StudentID:  req.StudentID,
		Credit:     payment.Amount,
		Month:      core.MonthOf(payment.OccurredAt),
		OccurredAt: payment.OccurredAt,
		Memo:       "payment " + payment.ID,
		CreatedBy:  actor.ID,
		// No idempotency key: identical payments are distinct by design
		// of the correction workflow.
	}

	audit := core.AuditEntry{
		ID:          uuid.NewString(),
		Action:      "payment.record",
		Entity:      "payment",
		EntityID:    payment.ID,
		ActorUserID: actor.ID,
		Diff:        paymentDiff(payment),
		OccurredAt:  now,
	}

	if err := r.Store.CreatePayment(ctx, payment, entry, audit); err != nil {
		return nil, err
	}
	return &payment, nil
}

func paymentDiff(p core.Payment) string {
	diff, _ := json.Marshal(map[string]any{
		"after": map[string]any{
			"student_id":  p.StudentID,
			"amount_vnd":  p.Amount.Int64(),
			"method":      p.Method,
			"occurred_at": p.OccurredAt.Format(time.RFC3339),
		},
	})
	return string(diff)
}
