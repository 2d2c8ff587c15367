/*
store.go - Persistence interfaces for codes, accounts and collaborator records

PURPOSE:
  Defines the boundary between the engine and its single authoritative store.
  The store is the only mutable shared state; nothing is cached in Go across
  requests.

KEY INTERFACES:
  CodeStore:    issued codes and the ISSUED -> REDEEMED conditional write
  AccountStore: accounts, atomic balance deltas, the ledger entry log
  CatalogStore: reward catalog (read-mostly)
  PickupStore:  pickup requests (external collaborator records)
  Store:        all of the above plus WithTx

ATOMICITY CONTRACT:
  - TransitionCode is one conditional write. Exactly one caller observes
    ok=true for a given code; every other caller observes ok=false.
  - ApplyDelta increments the balance in-store (never read-modify-write in Go)
    and appends the LedgerEntry in the same transaction. A negative delta that
    would take the balance below zero is refused with *InsufficientBalanceError.
  - WithTx runs fn against a transaction-scoped Store. fn returning an error
    rolls back every write made through that Store. Calling WithTx on a
    transaction-scoped Store joins the outer transaction.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - points/store/memory.go: in-memory for tests and dev

SEE ALSO:
  - ledger.go:     the only caller of ApplyDelta
  - redemption.go: the only caller of TransitionCode
*/
package points

import "context"

// =============================================================================
// CODES
// =============================================================================

type CodeStore interface {
	// InsertCode persists a new code. Returns ErrDuplicateCode on collision.
	InsertCode(ctx context.Context, c TransactionCode) error

	// FindCode returns ErrCodeNotFound for an unknown code.
	FindCode(ctx context.Context, code string) (TransactionCode, error)

	// TransitionCode settles an ISSUED code. ok is false when the code was
	// already REDEEMED; the returned code is then the stored one, unchanged.
	TransitionCode(ctx context.Context, t Transition) (c TransactionCode, ok bool, err error)

	// CodesByBeneficiary returns the user's codes, newest first.
	CodesByBeneficiary(ctx context.Context, userID string) ([]TransactionCode, error)

	// CodesByPartner returns codes the partner redeemed, newest first.
	CodesByPartner(ctx context.Context, partnerID string) ([]TransactionCode, error)

	// SettledCodes returns REDEEMED codes matching the filter, oldest first.
	SettledCodes(ctx context.Context, f CodeFilter) ([]TransactionCode, error)
}

// =============================================================================
// ACCOUNTS & LEDGER ENTRIES
// =============================================================================

type AccountStore interface {
	// CreateAccount persists a zero-balance account and assigns Seq.
	CreateAccount(ctx context.Context, a Account) (Account, error)

	// GetAccount returns ErrAccountNotFound for an unknown id.
	GetAccount(ctx context.Context, id string) (Account, error)

	// ListAccounts returns accounts of one kind in creation order.
	ListAccounts(ctx context.Context, kind AccountKind) ([]Account, error)

	// SetBinFillLevel records a partner's bin fill level and returns the
	// updated account. ErrAccountNotFound unless id is a partner.
	SetBinFillLevel(ctx context.Context, id string, level int) (Account, error)

	// ApplyDelta atomically adds e.Delta to the balance of the account
	// (matching both e.AccountID and e.AccountKind), appends e, and returns
	// the resulting balance.
	ApplyDelta(ctx context.Context, e LedgerEntry) (int64, error)

	// Entries returns the account's ledger entries, oldest first.
	Entries(ctx context.Context, accountID string) ([]LedgerEntry, error)
}

// =============================================================================
// CATALOG & PICKUPS
// =============================================================================

type CatalogStore interface {
	// PutReward inserts or replaces a catalog entry.
	PutReward(ctx context.Context, r Reward) error

	// GetReward returns ErrRewardNotFound for an unknown id.
	GetReward(ctx context.Context, id string) (Reward, error)

	// ListRewards returns the catalog ordered by points required, then id.
	ListRewards(ctx context.Context) ([]Reward, error)
}

type PickupStore interface {
	InsertPickup(ctx context.Context, p Pickup) error

	// ListPickups returns every pickup, newest first.
	ListPickups(ctx context.Context) ([]Pickup, error)

	// UpdatePickupStatus returns ErrPickupNotFound for an unknown id.
	UpdatePickupStatus(ctx context.Context, id string, status PickupStatus) (Pickup, error)
}

// =============================================================================
// STORE
// =============================================================================

// Store is the full persistence surface with transaction support.
type Store interface {
	CodeStore
	AccountStore
	CatalogStore
	PickupStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
