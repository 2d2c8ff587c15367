package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosync/rewards-engine/points"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fixture struct {
	store       *Store
	ledger      *points.Ledger
	registry    *points.Registry
	coordinator *points.Coordinator
}

func newFixture(t *testing.T, s *Store) *fixture {
	ledger := points.NewLedger(s)
	registry := points.NewRegistry(s, ledger)
	return &fixture{
		store:       s,
		ledger:      ledger,
		registry:    registry,
		coordinator: points.NewCoordinator(registry, ledger),
	}
}

func (f *fixture) open(t *testing.T, kind points.AccountKind, name string) points.Account {
	t.Helper()
	a, err := f.ledger.OpenAccount(context.Background(), kind, name, name+"@example.com")
	require.NoError(t, err)
	return a
}

func (f *fixture) qr(t *testing.T, userID string) string {
	t.Helper()
	issued, err := f.registry.Issue(context.Background(), points.IssueRequest{BeneficiaryUserID: userID})
	require.NoError(t, err)
	return issued.Code.Code
}

// =============================================================================
// CODES
// =============================================================================

func TestStore_CodeRoundTrip(t *testing.T) {
	f := newFixture(t, newTestStore(t))
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")

	issued, err := f.registry.Issue(ctx, points.IssueRequest{BeneficiaryUserID: u.ID, PrefundedPoints: 45, Category: "Wireless Earbuds"})
	require.NoError(t, err)

	got, err := f.store.FindCode(ctx, issued.Code.Code)
	require.NoError(t, err)
	assert.Equal(t, points.StateRedeemed, got.State)
	assert.Equal(t, int64(45), got.PointsAwarded)
	assert.Equal(t, "Wireless Earbuds", got.Category)
	assert.Empty(t, got.RedeemingPartnerID)
	assert.True(t, issued.Code.IssuedAt.Equal(got.IssuedAt))
	require.NotNil(t, got.RedeemedAt)
}

func TestStore_InsertCode_Duplicate(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")
	c := points.TransactionCode{Code: "QR-dup", BeneficiaryUserID: u.ID, State: points.StateIssued, IssuedAt: time.Now()}

	require.NoError(t, s.InsertCode(ctx, c))
	err := s.InsertCode(ctx, c)

	assert.ErrorIs(t, err, points.ErrDuplicateCode)
}

func TestStore_FindCode_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindCode(context.Background(), "QR-missing")

	assert.Equal(t, points.KindCodeNotFound, points.KindOf(err))
}

func TestStore_TransitionCode_ConditionalWrite(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")
	p := f.open(t, points.AccountPartner, "p")
	q := f.open(t, points.AccountPartner, "q")
	code := f.qr(t, u.ID)
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	c, ok, err := s.TransitionCode(ctx, points.Transition{Code: code, PartnerID: p.ID, Points: 50, At: at})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ID, c.RedeemingPartnerID)
	assert.True(t, at.Equal(*c.RedeemedAt))

	c, ok, err = s.TransitionCode(ctx, points.Transition{Code: code, PartnerID: q.ID, Points: 500, At: at})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, p.ID, c.RedeemingPartnerID)
	assert.Equal(t, int64(50), c.PointsAwarded)

	_, _, err = s.TransitionCode(ctx, points.Transition{Code: "QR-none", PartnerID: p.ID, At: at})
	assert.Equal(t, points.KindCodeNotFound, points.KindOf(err))
}

func TestStore_SettledCodes_HalfOpenWindow(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")

	for i, at := range []time.Time{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 7, 23, 59, 59, 999, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	} {
		f.registry.Now = func() time.Time { return at }
		_, err := f.registry.Issue(ctx, points.IssueRequest{BeneficiaryUserID: u.ID, PrefundedPoints: int64(10 * (i + 1))})
		require.NoError(t, err)
	}

	got, err := s.SettledCodes(ctx, points.CodeFilter{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].PointsAwarded)
	assert.Equal(t, int64(20), got[1].PointsAwarded)
}

// =============================================================================
// ACCOUNTS & LEDGER
// =============================================================================

func TestStore_Accounts(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	a := f.open(t, points.AccountUser, "a")
	b := f.open(t, points.AccountUser, "b")
	f.open(t, points.AccountPartner, "p")

	assert.Less(t, a.Seq, b.Seq)

	users, err := s.ListAccounts(ctx, points.AccountUser)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, a.ID, users[0].ID)

	_, err = s.GetAccount(ctx, "missing")
	assert.Equal(t, points.KindAccountNotFound, points.KindOf(err))
}

func TestStore_SetBinFillLevel(t *testing.T) {
	// GIVEN: one user and one partner
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")
	p := f.open(t, points.AccountPartner, "p")
	assert.Zero(t, p.BinFillLevel)

	// WHEN: the partner's bin level is set
	got, err := s.SetBinFillLevel(ctx, p.ID, 45)

	// THEN: it is returned and read back by get and list
	require.NoError(t, err)
	assert.Equal(t, 45, got.BinFillLevel)
	again, err := s.GetAccount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, again.BinFillLevel)
	list, err := s.ListAccounts(ctx, points.AccountPartner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 45, list[0].BinFillLevel)

	// AND: users and unknown ids have no bin
	_, err = s.SetBinFillLevel(ctx, u.ID, 10)
	assert.Equal(t, points.KindAccountNotFound, points.KindOf(err))
	_, err = s.SetBinFillLevel(ctx, "missing", 10)
	assert.Equal(t, points.KindAccountNotFound, points.KindOf(err))
}

func TestStore_ApplyDelta_Overdraft(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")

	_, err := f.ledger.Credit(ctx, u.ID, points.AccountUser, 100, points.ReasonScanCredit, "AI-1")
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, u.ID, 150, points.ReasonCatalogRedemption, "reward")

	var ibe *points.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, int64(100), ibe.Available)

	entries, err := s.Entries(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "refused debit writes no entry")
	require.NoError(t, f.ledger.Verify(ctx, u.ID))
}

func TestStore_ApplyDelta_OverflowRefused(t *testing.T) {
	// GIVEN: a partner whose earnings sit at the largest int64
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	p := f.open(t, points.AccountPartner, "p")
	_, err := f.ledger.Credit(ctx, p.ID, points.AccountPartner, math.MaxInt64, points.ReasonPartnerEarning, "QR-1")
	require.NoError(t, err)

	// WHEN: another credit would push the balance past it
	_, err = f.ledger.Credit(ctx, p.ID, points.AccountPartner, 1, points.ReasonPartnerEarning, "QR-2")

	// THEN: the caller gets a non-retryable INVALID_REQUEST and nothing is written
	assert.Equal(t, points.KindInvalidRequest, points.KindOf(err))
	assert.False(t, points.IsRetryable(err))
	bal, err := f.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), bal)
	require.NoError(t, f.ledger.Verify(ctx, p.ID))
}

func TestStore_ApplyDelta_UnknownAccount(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ApplyDelta(context.Background(), points.LedgerEntry{ID: "e", AccountID: "ghost", AccountKind: points.AccountUser, Delta: 5})

	assert.Equal(t, points.KindAccountNotFound, points.KindOf(err))
}

func TestStore_WithTx_Rollback(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx points.Store) error {
		if _, err := f.ledger.WithStore(tx).Credit(ctx, u.ID, points.AccountUser, 10, points.ReasonScanCredit, ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Balance)
	entries, _ := s.Entries(ctx, u.ID)
	assert.Empty(t, entries)
}

// =============================================================================
// REDEMPTION AGAINST SQLITE
// =============================================================================

func TestStore_ConcurrentRedemptionSettlesOnce(t *testing.T) {
	// GIVEN: One ISSUED code in a file-backed database
	// WHEN: 16 partners redeem it concurrently
	// THEN: Exactly one wins; the user holds 50 points; entries agree
	s, err := New(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	defer s.Close()
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")
	code := f.qr(t, u.ID)

	const n = 16
	partners := make([]points.Account, n)
	for i := range partners {
		partners[i] = f.open(t, points.AccountPartner, "p")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.Redeem(ctx, points.RedeemRequest{Code: code, PartnerID: partners[i].ID})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.Equal(t, points.KindAlreadyRedeemed, points.KindOf(err))
		}
	}
	assert.Equal(t, 1, wins)

	bal, err := f.ledger.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
	require.NoError(t, f.ledger.Verify(ctx, u.ID))
}

func TestStore_BalanceDerivability(t *testing.T) {
	s := newTestStore(t)
	f := newFixture(t, s)
	ctx := context.Background()
	u := f.open(t, points.AccountUser, "u")
	p := f.open(t, points.AccountPartner, "p")

	_, err := f.registry.Issue(ctx, points.IssueRequest{BeneficiaryUserID: u.ID, PrefundedPoints: 320})
	require.NoError(t, err)
	_, err = f.coordinator.Redeem(ctx, points.RedeemRequest{Code: f.qr(t, u.ID), PartnerID: p.ID})
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, u.ID, 200, points.ReasonCatalogRedemption, "reward-tree")
	require.NoError(t, err)

	codes, err := s.CodesByBeneficiary(ctx, u.ID)
	require.NoError(t, err)
	var settled int64
	for _, c := range codes {
		if c.Redeemed() {
			settled += c.PointsAwarded
		}
	}

	bal, err := f.ledger.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, settled-200, bal)
	require.NoError(t, f.ledger.Verify(ctx, u.ID))
	require.NoError(t, f.ledger.Verify(ctx, p.ID))
}

// =============================================================================
// CATALOG & PICKUPS
// =============================================================================

func TestStore_Rewards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutReward(ctx, points.Reward{ID: "tree", Title: "Plant a Tree", PointsRequired: 200}))
	require.NoError(t, s.PutReward(ctx, points.Reward{ID: "tote", Title: "Eco Tote Bag", PointsRequired: 120}))
	require.NoError(t, s.PutReward(ctx, points.Reward{ID: "tree", Title: "Plant Two Trees", PointsRequired: 200}))

	list, err := s.ListRewards(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tote", list[0].ID)
	assert.Equal(t, "Plant Two Trees", list[1].Title)

	_, err = s.GetReward(ctx, "nope")
	assert.Equal(t, points.KindRewardNotFound, points.KindOf(err))
}

func TestStore_Pickups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertPickup(ctx, points.Pickup{
		ID: "pk-1", RequestedBy: "u1", Role: points.AccountUser, Item: "Laptop",
		Weight: decimal.RequireFromString("2.35"), Address: "12 MG Road", Status: points.PickupPending, CreatedAt: base,
	}))
	require.NoError(t, s.InsertPickup(ctx, points.Pickup{
		ID: "pk-2", RequestedBy: "p1", Role: points.AccountPartner, Item: "Bin Pickup",
		Weight: decimal.Zero, Address: "Hub 4", Status: points.PickupPending, CreatedAt: base.Add(time.Hour),
	}))

	list, err := s.ListPickups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pk-2", list[0].ID)
	assert.True(t, decimal.RequireFromString("2.35").Equal(list[1].Weight))

	p, err := s.UpdatePickupStatus(ctx, "pk-1", points.PickupApproved)
	require.NoError(t, err)
	assert.Equal(t, points.PickupApproved, p.Status)

	_, err = s.UpdatePickupStatus(ctx, "pk-9", points.PickupApproved)
	assert.Equal(t, points.KindPickupNotFound, points.KindOf(err))
}
