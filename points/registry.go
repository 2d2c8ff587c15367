/*
registry.go - Code Registry: issued codes and their redemption state

PURPOSE:
  Creates transaction codes and answers lookups. Two issuance shapes exist:

  1. Partner-redeemable (QR-...): created ISSUED with zero points, settled
     later by the Redemption Coordinator.
  2. Self-service (AI-...): pre-funded, created REDEEMED, and the user is
     credited in the same store transaction as the insert.

CODE IDENTIFIERS:
  prefix + random uuid. Guessing a live code is as hard as guessing a v4 uuid;
  the registry does not attempt cryptographic authenticity beyond that.

SEE ALSO:
  - redemption.go: the ISSUED -> REDEEMED path
  - ledger.go:     credits applied at issuance
*/
package points

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	Store    Store
	Ledger   *Ledger
	Observer Observer

	Now     func() time.Time
	NewCode func(prefix string) string
}

func NewRegistry(store Store, ledger *Ledger) *Registry {
	return &Registry{
		Store:    store,
		Ledger:   ledger,
		Observer: nopObserver{},
		Now:      func() time.Time { return time.Now().UTC() },
		NewCode:  func(prefix string) string { return prefix + uuid.NewString() },
	}
}

// WithStore returns a copy of the registry (and its ledger) bound to s.
func (r *Registry) WithStore(s Store) *Registry {
	cp := *r
	cp.Store = s
	if r.Ledger != nil {
		cp.Ledger = r.Ledger.WithStore(s)
	}
	return &cp
}

// IssueRequest describes a code to create.
type IssueRequest struct {
	BeneficiaryUserID string
	PrefundedPoints   int64  // > 0 settles the code at issuance
	Category          string // optional waste category label
}

// Issued is the outcome of an issuance. Balance is the user's balance after
// the pre-funded credit, or the unchanged balance for an ISSUED code.
type Issued struct {
	Code    TransactionCode
	Balance int64
}

// Issue creates a code for an existing user.
func (r *Registry) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	if req.BeneficiaryUserID == "" {
		return Issued{}, invalid("userId is required")
	}
	if req.PrefundedPoints < 0 {
		return Issued{}, invalid("prefunded points must be >= 0, got %d", req.PrefundedPoints)
	}

	var out Issued
	err := r.Store.WithTx(ctx, func(s Store) error {
		user, err := s.GetAccount(ctx, req.BeneficiaryUserID)
		if err != nil || user.Kind != AccountUser {
			return beneficiaryErr(err, req.BeneficiaryUserID)
		}

		now := r.Now()
		code := TransactionCode{
			BeneficiaryUserID: user.ID,
			State:             StateIssued,
			Category:          req.Category,
			IssuedAt:          now,
		}
		if req.PrefundedPoints == 0 {
			code.Code = r.NewCode(PrefixRedeemable)
			if err := s.InsertCode(ctx, code); err != nil {
				return err
			}
			out = Issued{Code: code, Balance: user.Balance}
			return nil
		}

		code.Code = r.NewCode(PrefixSelfService)
		code.State = StateRedeemed
		code.PointsAwarded = req.PrefundedPoints
		code.RedeemedAt = &now
		if err := s.InsertCode(ctx, code); err != nil {
			return err
		}
		bal, err := r.Ledger.WithStore(s).Credit(ctx, user.ID, AccountUser, req.PrefundedPoints, ReasonScanCredit, code.Code)
		if err != nil {
			return err
		}
		out = Issued{Code: code, Balance: bal}
		return nil
	})
	if err != nil {
		return Issued{}, err
	}
	if r.Observer != nil {
		r.Observer.ObserveIssue(req.PrefundedPoints > 0)
	}
	return out, nil
}

// FindByCode returns ErrCodeNotFound for an unknown or empty code.
func (r *Registry) FindByCode(ctx context.Context, code string) (TransactionCode, error) {
	if code == "" {
		return TransactionCode{}, invalid("code is required")
	}
	return r.Store.FindCode(ctx, code)
}

// MarkRedeemed settles an ISSUED code without touching any balance.
// Returns ErrAlreadyRedeemed unless the code was ISSUED at the moment of the
// write. Balance changes belong to the Redemption Coordinator.
func (r *Registry) MarkRedeemed(ctx context.Context, code, partnerID string, points int64) (TransactionCode, error) {
	if points < 0 {
		return TransactionCode{}, invalid("points must be >= 0, got %d", points)
	}
	c, ok, err := r.Store.TransitionCode(ctx, Transition{
		Code:      code,
		PartnerID: partnerID,
		Points:    points,
		At:        r.Now(),
	})
	if err != nil {
		return TransactionCode{}, err
	}
	if !ok {
		return c, ErrAlreadyRedeemed
	}
	return c, nil
}

// ListByBeneficiary returns the user's codes, newest first.
func (r *Registry) ListByBeneficiary(ctx context.Context, userID string) ([]TransactionCode, error) {
	return r.Store.CodesByBeneficiary(ctx, userID)
}

// ListByPartner returns codes the partner redeemed, newest first.
func (r *Registry) ListByPartner(ctx context.Context, partnerID string) ([]TransactionCode, error) {
	return r.Store.CodesByPartner(ctx, partnerID)
}

// beneficiaryErr turns a missing or non-user account into
// ErrBeneficiaryNotFound and passes storage failures through.
func beneficiaryErr(err error, id string) error {
	if err == nil || IsNotFound(err) {
		return errors.Wrapf(ErrBeneficiaryNotFound, "user %s", id)
	}
	return err
}
