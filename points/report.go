/*
report.go - Aggregation Reporter: bucketed totals and rankings

PURPOSE:
  Read-only views over the registry and the accounts: points per day or per
  month, top-N accounts by balance, waste totals per category, and the
  composite wallet / earnings / admin overview reports built from them.
  Nothing here mutates the store.

BUCKETING:
  Codes are bucketed by IssuedAt in UTC:
    Day   -> "2006-01-02"
    Month -> "2006-01"
  Windows are half-open [From, To). Output is ascending by label and sparse:
  a bucket with no codes is absent, not zero.

  Example, three codes of 10, 20, 30 issued on 2024-03-05:
    BucketCodes(codes, Day) -> [{"2024-03-05", 60}]

RANKINGS:
  TopN orders by balance descending, ties by creation order (Seq ascending).
  CategoryTotals ignores Rejected pickups and orders by weight descending,
  ties by label ascending.

SEE ALSO:
  - store.go: SettledCodes, ListAccounts, ListPickups
*/
package points

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// WINDOWS & GRANULARITY
// =============================================================================

type Granularity string

const (
	Day   Granularity = "day"
	Month Granularity = "month"
)

// Label formats t as the bucket label for g.
func (g Granularity) Label(t time.Time) string {
	if g == Month {
		return t.UTC().Format("2006-01")
	}
	return t.UTC().Format("2006-01-02")
}

func (g Granularity) Valid() bool { return g == Day || g == Month }

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// TrailingDays covers the n calendar days ending with now's day.
func TrailingDays(now time.Time, n int) Window {
	today := startOfDay(now)
	return Window{From: today.AddDate(0, 0, -(n - 1)), To: today.AddDate(0, 0, 1)}
}

// TrailingMonths covers the n calendar months ending with now's month.
func TrailingMonths(now time.Time, n int) Window {
	month := startOfMonth(now)
	return Window{From: month.AddDate(0, -(n - 1), 0), To: month.AddDate(0, 1, 0)}
}

// =============================================================================
// RESULT TYPES
// =============================================================================

type Bucket struct {
	Label string
	Total int64
}

type CategoryTotal struct {
	Label  string
	Weight decimal.Decimal
}

type Wallet struct {
	Balance int64
	Codes   []TransactionCode // newest first
}

type Earnings struct {
	Total   int64
	Weekly  []Bucket // last 7 days, by day
	Monthly []Bucket // last 6 months, by month
}

type Overview struct {
	TotalUsers    int
	TotalPartners int
	TotalWaste    decimal.Decimal
	TotalRevenue  int64
	Monthly       []Bucket
	Categories    []CategoryTotal
	TopUsers      []Account
	TopPartners   []Account
}

const (
	earningsDays   = 7
	earningsMonths = 6
	overviewTopN   = 5
)

// =============================================================================
// PURE AGGREGATION
// =============================================================================

// BucketCodes sums PointsAwarded of REDEEMED codes per label, ascending.
func BucketCodes(codes []TransactionCode, g Granularity) []Bucket {
	sums := make(map[string]int64)
	for _, c := range codes {
		if !c.Redeemed() {
			continue
		}
		sums[g.Label(c.IssuedAt)] += c.PointsAwarded
	}
	out := make([]Bucket, 0, len(sums))
	for label, total := range sums {
		out = append(out, Bucket{Label: label, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// RankAccounts orders accounts by balance descending, ties by Seq, and keeps n.
func RankAccounts(accounts []Account, n int) []Account {
	ranked := append([]Account(nil), accounts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Balance != ranked[j].Balance {
			return ranked[i].Balance > ranked[j].Balance
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// TotalCategories sums pickup weight per item, skipping Rejected pickups.
func TotalCategories(pickups []Pickup) []CategoryTotal {
	sums := make(map[string]decimal.Decimal)
	for _, p := range pickups {
		if p.Status == PickupRejected {
			continue
		}
		sums[p.Item] = sums[p.Item].Add(p.Weight)
	}
	out := make([]CategoryTotal, 0, len(sums))
	for label, w := range sums {
		out = append(out, CategoryTotal{Label: label, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Weight.Cmp(out[j].Weight); c != 0 {
			return c > 0
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	Store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{Store: store}
}

// BucketedTotals sums settled points per bucket within w. partnerID is
// optional and restricts the sum to codes that partner redeemed.
func (r *Reporter) BucketedTotals(ctx context.Context, w Window, g Granularity, partnerID string) ([]Bucket, error) {
	if !g.Valid() {
		return nil, invalid("unknown granularity %q", g)
	}
	if !w.From.Before(w.To) {
		return nil, invalid("window start must be before its end")
	}
	codes, err := r.Store.SettledCodes(ctx, CodeFilter{From: w.From, To: w.To, PartnerID: partnerID})
	if err != nil {
		return nil, err
	}
	return BucketCodes(codes, g), nil
}

// TopN returns the n highest balances of one account kind.
func (r *Reporter) TopN(ctx context.Context, kind AccountKind, n int) ([]Account, error) {
	if !kind.Valid() {
		return nil, invalid("unknown account kind %q", kind)
	}
	if n <= 0 {
		return nil, invalid("n must be > 0, got %d", n)
	}
	accounts, err := r.Store.ListAccounts(ctx, kind)
	if err != nil {
		return nil, err
	}
	return RankAccounts(accounts, n), nil
}

// CategoryTotals returns the n heaviest pickup categories.
func (r *Reporter) CategoryTotals(ctx context.Context, n int) ([]CategoryTotal, error) {
	if n <= 0 {
		return nil, invalid("n must be > 0, got %d", n)
	}
	pickups, err := r.Store.ListPickups(ctx)
	if err != nil {
		return nil, err
	}
	totals := TotalCategories(pickups)
	if len(totals) > n {
		totals = totals[:n]
	}
	return totals, nil
}

// Wallet returns a user's balance and codes, newest first, read in one
// transaction so the balance matches the listed codes.
func (r *Reporter) Wallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, invalid("userId is required")
	}
	var out Wallet
	err := r.Store.WithTx(ctx, func(s Store) error {
		user, err := s.GetAccount(ctx, userID)
		if err != nil || user.Kind != AccountUser {
			return accountErr(err, userID)
		}
		codes, err := s.CodesByBeneficiary(ctx, userID)
		if err != nil {
			return err
		}
		out = Wallet{Balance: user.Balance, Codes: codes}
		return nil
	})
	if err != nil {
		return Wallet{}, err
	}
	return out, nil
}

// PartnerEarnings returns a partner's total earnings with the trailing
// 7-day and 6-month series as of now.
func (r *Reporter) PartnerEarnings(ctx context.Context, partnerID string, now time.Time) (Earnings, error) {
	if partnerID == "" {
		return Earnings{}, invalid("partnerId is required")
	}
	partner, err := r.Store.GetAccount(ctx, partnerID)
	if err != nil && !IsNotFound(err) {
		return Earnings{}, err
	}
	if err != nil || partner.Kind != AccountPartner {
		return Earnings{}, errors.Wrapf(ErrPartnerNotFound, "partner %s", partnerID)
	}

	weekly, err := r.BucketedTotals(ctx, TrailingDays(now, earningsDays), Day, partnerID)
	if err != nil {
		return Earnings{}, err
	}
	monthly, err := r.BucketedTotals(ctx, TrailingMonths(now, earningsMonths), Month, partnerID)
	if err != nil {
		return Earnings{}, err
	}
	return Earnings{Total: partner.Balance, Weekly: weekly, Monthly: monthly}, nil
}

// Overview builds the admin analytics report. Independent reads run
// concurrently; the first failure cancels the rest.
func (r *Reporter) Overview(ctx context.Context, now time.Time) (Overview, error) {
	var (
		out      Overview
		users    []Account
		partners []Account
		pickups  []Pickup
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = r.Store.ListAccounts(gctx, AccountUser)
		return err
	})
	g.Go(func() error {
		var err error
		partners, err = r.Store.ListAccounts(gctx, AccountPartner)
		return err
	})
	g.Go(func() error {
		var err error
		pickups, err = r.Store.ListPickups(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.Monthly, err = r.BucketedTotals(gctx, TrailingMonths(now, earningsMonths), Month, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	out.TotalUsers = len(users)
	out.TotalPartners = len(partners)
	for _, p := range partners {
		out.TotalRevenue += p.Balance
	}
	out.TotalWaste = decimal.Zero
	for _, p := range pickups {
		if p.Status != PickupRejected {
			out.TotalWaste = out.TotalWaste.Add(p.Weight)
		}
	}
	out.Categories = TotalCategories(pickups)
	if len(out.Categories) > overviewTopN {
		out.Categories = out.Categories[:overviewTopN]
	}
	out.TopUsers = RankAccounts(users, overviewTopN)
	out.TopPartners = RankAccounts(partners, overviewTopN)
	return out, nil
}

func accountErr(err error, id string) error {
	if err == nil || IsNotFound(err) {
		return errors.Wrapf(ErrAccountNotFound, "account %s", id)
	}
	return err
}
