/*
ledger.go - Ledger Engine: credits and debits with an append-only entry log

PURPOSE:
  The Ledger Engine is the only component allowed to change a balance.
  Each change is one atomic in-store increment plus one LedgerEntry written
  in the same transaction, so a balance always equals the sum of its entries.

CRITICAL INVARIANTS:
  1. Credit amounts are >= 0; debit amounts are >= 0 and never exceed the
     balance at the moment of the write.
  2. Partner earnings never decrease: partners cannot be debited.
  3. Entries are never updated or deleted. A mistake is fixed by a new entry.

SERIALIZATION:
  Concurrent credits to one account linearize inside the store. The engine
  never reads a balance, adds in Go, and writes it back.

EXAMPLE:
  l := points.NewLedger(store)
  acct, _ := l.OpenAccount(ctx, points.AccountUser, "Asha", "asha@example.com")
  bal, _ := l.Credit(ctx, acct.ID, points.AccountUser, 50, points.ReasonScanCredit, code)
  bal, err = l.Debit(ctx, acct.ID, 120, points.ReasonCatalogRedemption, "reward-1")
  // err is *InsufficientBalanceError, balance unchanged

SEE ALSO:
  - store.go: ApplyDelta contract
*/
package points

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store

	// Now and NewID are overridable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// WithStore returns a copy of the ledger bound to s, typically the
// transaction-scoped store handed to a WithTx callback.
func (l *Ledger) WithStore(s Store) *Ledger {
	cp := *l
	cp.Store = s
	return &cp
}

// OpenAccount creates a zero-balance account.
func (l *Ledger) OpenAccount(ctx context.Context, kind AccountKind, name, email string) (Account, error) {
	if !kind.Valid() {
		return Account{}, invalid("unknown account kind %q", kind)
	}
	if strings.TrimSpace(name) == "" {
		return Account{}, invalid("name is required")
	}
	if strings.TrimSpace(email) == "" {
		return Account{}, invalid("email is required")
	}
	return l.Store.CreateAccount(ctx, Account{
		ID:        l.NewID(),
		Kind:      kind,
		Name:      name,
		Email:     email,
		CreatedAt: l.Now(),
	})
}

// Credit adds amount to the account and returns the resulting balance.
func (l *Ledger) Credit(ctx context.Context, accountID string, kind AccountKind, amount int64, reason EntryReason, ref string) (int64, error) {
	if amount < 0 {
		return 0, invalid("credit amount must be >= 0, got %d", amount)
	}
	if !kind.Valid() {
		return 0, invalid("unknown account kind %q", kind)
	}
	return l.apply(ctx, accountID, kind, amount, reason, ref)
}

// Debit removes amount from a user account and returns the resulting balance.
// A debit larger than the balance fails with *InsufficientBalanceError and
// leaves the balance unchanged.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int64, reason EntryReason, ref string) (int64, error) {
	if amount < 0 {
		return 0, invalid("debit amount must be >= 0, got %d", amount)
	}
	acct, err := l.Store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if acct.Kind != AccountUser {
		return 0, invalid("partner earnings cannot be debited")
	}
	return l.apply(ctx, accountID, AccountUser, -amount, reason, ref)
}

func (l *Ledger) apply(ctx context.Context, accountID string, kind AccountKind, delta int64, reason EntryReason, ref string) (int64, error) {
	if accountID == "" {
		return 0, invalid("account id is required")
	}
	return l.Store.ApplyDelta(ctx, LedgerEntry{
		ID:          l.NewID(),
		AccountID:   accountID,
		AccountKind: kind,
		Delta:       delta,
		Reason:      reason,
		Reference:   ref,
		CreatedAt:   l.Now(),
	})
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := l.Store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Entries returns the account's ledger entries, oldest first.
func (l *Ledger) Entries(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	if _, err := l.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.Store.Entries(ctx, accountID)
}

// Verify recomputes the balance from the entry log and returns
// ErrBalanceDrift if it disagrees with the stored balance.
func (l *Ledger) Verify(ctx context.Context, accountID string) error {
	var acct Account
	var entries []LedgerEntry
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		if acct, err = s.GetAccount(ctx, accountID); err != nil {
			return err
		}
		entries, err = s.Entries(ctx, accountID)
		return err
	})
	if err != nil {
		return err
	}

	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	if sum != acct.Balance {
		return errors.Wrapf(ErrBalanceDrift, "account %s: balance %d, entries sum %d", accountID, acct.Balance, sum)
	}
	return nil
}
