/*
Package points provides the points-ledger and QR-redemption engine.

PURPOSE:
  Citizens earn points for dropping off electronic waste. Partners (drop-off
  hubs) redeem QR codes that citizens present, which credits the citizen's
  points and the partner's earnings. This package holds the parts of that
  flow that carry real correctness hazards:

  - Code Registry:          issued codes and their redemption state
  - Ledger Engine:          balance credits/debits with an append-only entry log
  - Redemption Coordinator: the ISSUED -> REDEEMED state machine
  - Aggregation Reporter:   read-only bucketed totals and rankings

KEY CONCEPTS IN THIS FILE (types.go):
  - TransactionCode: one single-use redemption opportunity
  - Account:         a user (points) or partner (earnings) balance holder
  - LedgerEntry:     an immutable balance delta; balances are a cache of these
  - Reward, Pickup:  records owned by collaborators, read by the reporter

DESIGN PRINCIPLES:
  1. A code moves ISSUED -> REDEEMED at most once, via one conditional write
  2. Balances change only through atomic in-store increments
  3. Every balance change is mirrored by a LedgerEntry in the same transaction
  4. Integer points; decimal only for pickup weights

SEE ALSO:
  - store.go:      persistence interfaces
  - ledger.go:     Ledger Engine
  - registry.go:   Code Registry
  - redemption.go: Redemption Coordinator
  - report.go:     Aggregation Reporter
*/
package points

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CODE STATE
// =============================================================================

// CodeState is the redemption state of a TransactionCode.
// Values are persisted verbatim.
type CodeState string

const (
	StateIssued   CodeState = "ISSUED"
	StateRedeemed CodeState = "REDEEMED"
)

func (s CodeState) Valid() bool {
	return s == StateIssued || s == StateRedeemed
}

// Code prefixes. Partner-redeemable codes are printed as QR codes; self-service
// scan codes are settled at issuance.
const (
	PrefixRedeemable  = "QR-"
	PrefixSelfService = "AI-"
)

// =============================================================================
// TRANSACTION CODE
// =============================================================================

// TransactionCode is one issued redemption opportunity.
//
// INVARIANTS:
//   - State moves ISSUED -> REDEEMED at most once.
//   - Once REDEEMED, PointsAwarded and RedeemingPartnerID never change.
//   - PointsAwarded is 0 while ISSUED.
type TransactionCode struct {
	Code               string
	BeneficiaryUserID  string
	RedeemingPartnerID string // empty until a partner redeems; empty forever for self-service codes
	PointsAwarded      int64
	State              CodeState
	Category           string // waste category for self-service codes
	IssuedAt           time.Time
	RedeemedAt         *time.Time
}

// Redeemed reports whether the code has been settled.
func (c TransactionCode) Redeemed() bool { return c.State == StateRedeemed }

// PartnerRedeemed reports whether a partner settled the code, as opposed to a
// self-service scan that was settled at issuance.
func (c TransactionCode) PartnerRedeemed() bool {
	return c.State == StateRedeemed && c.RedeemingPartnerID != ""
}

// Transition is the single conditional write that settles a code.
type Transition struct {
	Code      string
	PartnerID string
	Points    int64
	At        time.Time
}

// CodeFilter selects settled codes for aggregation.
// The window is half-open: From <= IssuedAt < To.
type CodeFilter struct {
	From      time.Time
	To        time.Time
	PartnerID string // optional
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountKind distinguishes users (points) from partners (earnings).
type AccountKind string

const (
	AccountUser    AccountKind = "USER"
	AccountPartner AccountKind = "PARTNER"
)

func (k AccountKind) Valid() bool {
	return k == AccountUser || k == AccountPartner
}

// Account holds a balance. For users the balance is points, for partners it
// is earnings. Balance is a materialized cache of the account's LedgerEntry
// deltas and is only written by the store's atomic ApplyDelta.
type Account struct {
	ID           string
	Kind         AccountKind
	Name         string
	Email        string
	Balance      int64
	BinFillLevel int   // partners only: drop-off bin fill, percent
	Seq          int64 // creation order, assigned by the store
	CreatedAt    time.Time
}

// MaxBinFillLevel is a full drop-off bin.
const MaxBinFillLevel = 100

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// EntryReason records why a balance changed.
type EntryReason string

const (
	ReasonScanCredit        EntryReason = "scan_credit"
	ReasonCodeRedemption    EntryReason = "code_redemption"
	ReasonPartnerEarning    EntryReason = "partner_earning"
	ReasonCatalogRedemption EntryReason = "catalog_redemption"
)

// LedgerEntry is an append-only balance delta.
type LedgerEntry struct {
	ID          string
	AccountID   string
	AccountKind AccountKind
	Delta       int64
	Reason      EntryReason
	Reference   string // code or reward id
	CreatedAt   time.Time
}

// =============================================================================
// CATALOG & PICKUPS (owned by collaborators)
// =============================================================================

// Reward is a static catalog entry a user can buy with points.
type Reward struct {
	ID             string
	Title          string
	Description    string
	PointsRequired int64
}

// PickupStatus values are persisted verbatim.
type PickupStatus string

const (
	PickupPending   PickupStatus = "Pending"
	PickupApproved  PickupStatus = "Approved"
	PickupCompleted PickupStatus = "Completed"
	PickupRejected  PickupStatus = "Rejected"
)

func (s PickupStatus) Valid() bool {
	switch s {
	case PickupPending, PickupApproved, PickupCompleted, PickupRejected:
		return true
	}
	return false
}

// Pickup is a request to collect e-waste from a user or a partner's bin.
type Pickup struct {
	ID          string
	RequestedBy string
	Role        AccountKind
	Item        string
	Weight      decimal.Decimal // kilograms
	Address     string
	Status      PickupStatus
	CreatedAt   time.Time
}
