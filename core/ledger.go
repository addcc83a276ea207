/*
ledger.go - Append-only double-entry postings

PURPOSE:
  The ledger is the source of truth for student balances. A payment posts
  a credit (reduces the amount owed); a generated invoice posts a debit
  (the amount owed). Balance is always computed by folding entries -
  there is no mutable balance counter that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no Update, no Delete, anywhere in the store.
  2. Outstanding balance == sum(debit) - sum(credit) since account creation.
  3. Postings are scoped to a single account per transaction (simplified
     double entry: the contra side is the organization's revenue account,
     which this system does not model).
  4. Regeneration never rewrites a posting; it appends the signed delta.

CORRECTIONS:
  A wrong payment is corrected by a new adjusting entry, never by editing
  the original. History stays replayable.

SEE ALSO:
  - store.go: LedgerStore persistence contract
  - tuition/payment.go: payment recording (credit postings)
  - tuition/generator.go: invoice generation (debit postings)
*/
package core

import (
	"context"
	"time"
)

// AccountCodeTuition is the only account code in use today. Accounts are
// created lazily on first posting.
const AccountCodeTuition = "tuition"

// LedgerAccount is one account per (student, code).
type LedgerAccount struct {
	ID        AccountID
	StudentID StudentID
	Code      string
	CreatedAt time.Time
}

// LedgerEntry is one immutable posting. Exactly one of Debit/Credit is
// nonzero. TxID groups entries of one logical transaction; in this system
// every transaction touches a single account.
type LedgerEntry struct {
	ID             string
	TxID           string
	AccountID      AccountID
	StudentID      StudentID
	Debit          Amount
	Credit         Amount
	Month          Month
	OccurredAt     time.Time
	Memo           string
	CreatedBy      string
	IdempotencyKey string // empty for payments: identical payments are NOT deduplicated
}

// Net returns debit - credit for the entry.
func (e LedgerEntry) Net() Amount {
	return e.Debit.Sub(e.Credit)
}

// =============================================================================
// LEDGER STORE - Persistence contract (append-only)
// =============================================================================

// LedgerStore persists accounts and entries. There are deliberately no
// update or delete methods.
type LedgerStore interface {
	// EnsureAccount returns the student's account for the code, creating
	// it lazily. Creation failure must abort the caller's operation.
	EnsureAccount(ctx context.Context, studentID StudentID, code string) (LedgerAccount, error)

	// AppendEntry persists one posting. Fails with
	// ErrDuplicateIdempotencyKey if the entry carries a key that exists.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// EntriesByStudent returns all postings for the student's account,
	// ordered by occurred_at then insertion.
	EntriesByStudent(ctx context.Context, studentID StudentID, code string) ([]LedgerEntry, error)

	// EntryExists reports whether an idempotency key has been posted.
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// LEDGER - Balance folds over the store
// =============================================================================

// Ledger wraps a LedgerStore with the derived-balance reads.
type Ledger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Post appends one entry, rejecting duplicate idempotency keys before the
// store-level unique constraint fires.
func (l *Ledger) Post(ctx context.Context, entry LedgerEntry) error {
	if entry.IdempotencyKey != "" {
		exists, err := l.Store.EntryExists(ctx, entry.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendEntry(ctx, entry)
}

// OutstandingBalance folds the full entry history:
// positive = the student owes, negative = the student is in credit.
func (l *Ledger) OutstandingBalance(ctx context.Context, studentID StudentID) (Amount, error) {
	entries, err := l.Store.EntriesByStudent(ctx, studentID, AccountCodeTuition)
	if err != nil {
		return Amount{}, err
	}
	balance := ZeroVND()
	for _, e := range entries {
		balance = balance.Add(e.Net())
	}
	return balance, nil
}

// BalanceThrough folds entries tagged with months up to and including m.
func (l *Ledger) BalanceThrough(ctx context.Context, studentID StudentID, m Month) (Amount, error) {
	entries, err := l.Store.EntriesByStudent(ctx, studentID, AccountCodeTuition)
	if err != nil {
		return Amount{}, err
	}
	balance := ZeroVND()
	for _, e := range entries {
		if e.Month.After(m) {
			continue
		}
		balance = balance.Add(e.Net())
	}
	return balance, nil
}
