package points_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/points/store"
)

func TestBucketCodes_SameDaySums(t *testing.T) {
	// GIVEN: Three settled codes of 10, 20, 30 on the same UTC day
	// THEN: One bucket labelled with that day totalling 60
	codes := []points.TransactionCode{
		{State: points.StateRedeemed, PointsAwarded: 10, IssuedAt: day(2024, 3, 5, 1)},
		{State: points.StateRedeemed, PointsAwarded: 20, IssuedAt: day(2024, 3, 5, 12)},
		{State: points.StateRedeemed, PointsAwarded: 30, IssuedAt: day(2024, 3, 5, 23)},
		{State: points.StateIssued, IssuedAt: day(2024, 3, 5, 23)},
	}

	got := points.BucketCodes(codes, points.Day)

	want := []points.Bucket{{Label: "2024-03-05", Total: 60}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BucketCodes mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketCodes_AscendingAndSparse(t *testing.T) {
	codes := []points.TransactionCode{
		{State: points.StateRedeemed, PointsAwarded: 5, IssuedAt: day(2024, 5, 9, 0)},
		{State: points.StateRedeemed, PointsAwarded: 7, IssuedAt: day(2024, 1, 2, 0)},
		{State: points.StateRedeemed, PointsAwarded: 1, IssuedAt: day(2024, 1, 30, 0)},
	}

	got := points.BucketCodes(codes, points.Month)

	want := []points.Bucket{
		{Label: "2024-01", Total: 8},
		{Label: "2024-05", Total: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BucketCodes mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketCodes_LabelsInUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	codes := []points.TransactionCode{
		// 2024-03-06 02:00 IST is 2024-03-05 20:30 UTC
		{State: points.StateRedeemed, PointsAwarded: 10, IssuedAt: time.Date(2024, 3, 6, 2, 0, 0, 0, ist)},
	}

	got := points.BucketCodes(codes, points.Day)

	require.Len(t, got, 1)
	assert.Equal(t, "2024-03-05", got[0].Label)
}

func TestTrailingWindows(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 4, 0, 0, time.UTC)

	w := points.TrailingDays(now, 7)
	assert.Equal(t, day(2024, 2, 28, 0), w.From)
	assert.Equal(t, day(2024, 3, 6, 0), w.To)
	assert.True(t, w.Contains(now))
	assert.False(t, w.Contains(day(2024, 3, 6, 0)))

	m := points.TrailingMonths(now, 6)
	assert.Equal(t, day(2023, 10, 1, 0), m.From)
	assert.Equal(t, day(2024, 4, 1, 0), m.To)
}

func TestReporter_BucketedTotals_WindowAndPartner(t *testing.T) {
	// GIVEN: Redemptions of 10, 20, 30 on 2024-03-05 by partner P,
	//        one by partner Q the same day, one by P outside the window
	// WHEN: Bucketing the window [2024-03-01, 2024-03-08) by day
	// THEN: P alone -> [{2024-03-05, 60}]; all partners -> 60 + Q's 40
	e := newEngine()
	ctx := context.Background()
	u := e.user(t, "u")
	p := e.partner(t, "p")
	q := e.partner(t, "q")

	redeem := func(at time.Time, partnerID string, pts int64) {
		e.at(at)
		c := e.qr(t, u.ID)
		_, err := e.coordinator.Redeem(ctx, points.RedeemRequest{Code: c.Code, PartnerID: partnerID, PointsOverride: pts})
		require.NoError(t, err)
	}
	redeem(day(2024, 3, 5, 8), p.ID, 10)
	redeem(day(2024, 3, 5, 9), p.ID, 20)
	redeem(day(2024, 3, 5, 10), p.ID, 30)
	redeem(day(2024, 3, 5, 11), q.ID, 40)
	redeem(day(2024, 3, 8, 0), p.ID, 99) // window end is exclusive
	e.at(day(2024, 3, 4, 0))
	e.qr(t, u.ID) // ISSUED codes never count

	w := points.Window{From: day(2024, 3, 1, 0), To: day(2024, 3, 8, 0)}

	got, err := e.reporter.BucketedTotals(ctx, w, points.Day, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []points.Bucket{{Label: "2024-03-05", Total: 60}}, got)

	all, err := e.reporter.BucketedTotals(ctx, w, points.Day, "")
	require.NoError(t, err)
	assert.Equal(t, []points.Bucket{{Label: "2024-03-05", Total: 100}}, all)
}

func TestReporter_BucketedTotals_Validation(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	w := points.Window{From: day(2024, 3, 1, 0), To: day(2024, 3, 8, 0)}

	_, err := e.reporter.BucketedTotals(ctx, w, "week", "")
	assert.Equal(t, points.KindInvalidRequest, points.KindOf(err))

	_, err = e.reporter.BucketedTotals(ctx, points.Window{From: w.To, To: w.From}, points.Day, "")
	assert.Equal(t, points.KindInvalidRequest, points.KindOf(err))
}

func TestReporter_TopN_TiesByCreationOrder(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	a := e.user(t, "a")
	b := e.user(t, "b")
	c := e.user(t, "c")
	for id, amt := range map[string]int64{a.ID: 100, b.ID: 300, c.ID: 100} {
		_, err := e.ledger.Credit(ctx, id, points.AccountUser, amt, points.ReasonScanCredit, "")
		require.NoError(t, err)
	}

	top, err := e.reporter.TopN(ctx, points.AccountUser, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, b.ID, top[0].ID)
	assert.Equal(t, a.ID, top[1].ID, "a was created before c")

	_, err = e.reporter.TopN(ctx, points.AccountUser, 0)
	assert.Equal(t, points.KindInvalidRequest, points.KindOf(err))
}

func TestReporter_CategoryTotals(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	add := func(item, weight string, status points.PickupStatus) {
		require.NoError(t, e.store.InsertPickup(ctx, points.Pickup{
			ID:     item + weight + string(status),
			Item:   item,
			Weight: decimal.RequireFromString(weight),
			Status: status,
		}))
	}
	add("Laptop", "2.5", points.PickupCompleted)
	add("Laptop", "1.25", points.PickupPending)
	add("Smartphone", "3.75", points.PickupApproved)
	add("Batteries", "9", points.PickupRejected)
	add("Cables", "0.5", points.PickupPending)

	got, err := e.reporter.CategoryTotals(ctx, 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	// Laptop and Smartphone tie at 3.75; label breaks the tie
	assert.Equal(t, "Laptop", got[0].Label)
	assert.True(t, decimal.RequireFromString("3.75").Equal(got[0].Weight))
	assert.Equal(t, "Smartphone", got[1].Label)
}

func TestReporter_WalletAndEarnings(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	u := e.user(t, "u")
	p := e.partner(t, "p")

	e.at(day(2024, 1, 15, 10))
	c1 := e.qr(t, u.ID)
	_, err := e.coordinator.Redeem(ctx, points.RedeemRequest{Code: c1.Code, PartnerID: p.ID})
	require.NoError(t, err)
	e.at(day(2024, 3, 4, 10))
	c2 := e.qr(t, u.ID)
	_, err = e.coordinator.Redeem(ctx, points.RedeemRequest{Code: c2.Code, PartnerID: p.ID, PointsOverride: 20})
	require.NoError(t, err)

	wallet, err := e.reporter.Wallet(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), wallet.Balance)
	require.Len(t, wallet.Codes, 2)
	assert.Equal(t, c2.Code, wallet.Codes[0].Code)

	earnings, err := e.reporter.PartnerEarnings(ctx, p.ID, day(2024, 3, 5, 12))
	require.NoError(t, err)
	assert.Equal(t, int64(70), earnings.Total)
	assert.Equal(t, []points.Bucket{{Label: "2024-03-04", Total: 20}}, earnings.Weekly)
	assert.Equal(t, []points.Bucket{
		{Label: "2024-01", Total: 50},
		{Label: "2024-03", Total: 20},
	}, earnings.Monthly)

	_, err = e.reporter.PartnerEarnings(ctx, u.ID, day(2024, 3, 5, 12))
	assert.Equal(t, points.KindPartnerNotFound, points.KindOf(err))
	_, err = e.reporter.Wallet(ctx, p.ID)
	assert.Equal(t, points.KindAccountNotFound, points.KindOf(err))
}

// txOnlyStore refuses wallet reads made outside WithTx.
type txOnlyStore struct {
	*store.Memory
	txs int
}

func (s *txOnlyStore) WithTx(ctx context.Context, fn func(points.Store) error) error {
	s.txs++
	return s.Memory.WithTx(ctx, fn)
}

func (s *txOnlyStore) GetAccount(context.Context, string) (points.Account, error) {
	return points.Account{}, errors.New("account read outside a transaction")
}

func (s *txOnlyStore) CodesByBeneficiary(context.Context, string) ([]points.TransactionCode, error) {
	return nil, errors.New("code read outside a transaction")
}

func TestReporter_Wallet_ReadsInOneTransaction(t *testing.T) {
	// GIVEN: a user with one settled code
	e := newEngine()
	ctx := context.Background()
	u := e.user(t, "u")
	p := e.partner(t, "p")
	_, err := e.coordinator.Redeem(ctx, points.RedeemRequest{Code: e.qr(t, u.ID).Code, PartnerID: p.ID})
	require.NoError(t, err)

	// WHEN: the wallet is read through a store that only serves reads in a transaction
	s := &txOnlyStore{Memory: e.store}
	wallet, err := points.NewReporter(s).Wallet(ctx, u.ID)

	// THEN: balance and codes come from the same transaction and agree
	require.NoError(t, err)
	assert.Equal(t, 1, s.txs)
	require.Len(t, wallet.Codes, 1)
	assert.Equal(t, wallet.Balance, wallet.Codes[0].PointsAwarded)
}

func TestReporter_Overview(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	u1 := e.user(t, "u1")
	e.user(t, "u2")
	p := e.partner(t, "p")

	e.at(day(2024, 3, 4, 10))
	_, err := e.coordinator.Redeem(ctx, points.RedeemRequest{Code: e.qr(t, u1.ID).Code, PartnerID: p.ID})
	require.NoError(t, err)
	require.NoError(t, e.store.InsertPickup(ctx, points.Pickup{
		ID: "pk-1", Item: "Laptop", Weight: decimal.RequireFromString("2.5"), Status: points.PickupPending,
	}))
	require.NoError(t, e.store.InsertPickup(ctx, points.Pickup{
		ID: "pk-2", Item: "Laptop", Weight: decimal.RequireFromString("4"), Status: points.PickupRejected,
	}))

	got, err := e.reporter.Overview(ctx, day(2024, 3, 5, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, got.TotalUsers)
	assert.Equal(t, 1, got.TotalPartners)
	assert.Equal(t, int64(50), got.TotalRevenue)
	assert.True(t, decimal.RequireFromString("2.5").Equal(got.TotalWaste))
	assert.Equal(t, []points.Bucket{{Label: "2024-03", Total: 50}}, got.Monthly)
	require.Len(t, got.TopUsers, 2)
	assert.Equal(t, u1.ID, got.TopUsers[0].ID)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, "Laptop", got.Categories[0].Label)
}
