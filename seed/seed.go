/*
Package seed loads the demo dataset used by local runs and the admin seed
endpoint.

PURPOSE:
  Ten citizens, five partner hubs, twenty partner-redeemed codes spread over
  the last twenty days, ten pickup requests and the reward catalog.

DERIVED BALANCES:
  No balance is written directly. Each citizen's starting points are one
  pre-funded AI- code issued before the first partner code, and every
  QR-SEED- code is issued and then redeemed through the Redemption
  Coordinator. A seeded user's balance is the sum of PointsAwarded over their
  codes, and a partner's earnings are the sum over the codes it redeemed.

LOADING RULES:
  Load refuses to run against a store that already has accounts. The whole
  dataset is written in one store transaction: either everything lands or
  nothing does.

SEE ALSO:
  - points/registry.go:   Issue
  - points/redemption.go: Redeem
*/
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/points"
)

// ErrNotEmpty is returned when the target store already holds accounts.
var ErrNotEmpty = errors.Mark(errors.New("store already has accounts"), points.ErrInvalidRequest)

// =============================================================================
// DATASET
// =============================================================================

type person struct {
	Name   string
	Email  string
	Points int64 // pre-funded on one opening code
}

var users = []person{
	{"Aarav Singh", "aarav@eco.com", 320},
	{"Diya Sharma", "diya@eco.com", 220},
	{"Kabir Patel", "kabir@eco.com", 540},
	{"Meera Joshi", "meera@eco.com", 150},
	{"Rohan Gupta", "rohan@eco.com", 80},
	{"Zara Khan", "zara@eco.com", 410},
	{"Ishaan Verma", "ishaan@eco.com", 60},
	{"Anaya Das", "anaya@eco.com", 275},
	{"Vivaan Roy", "vivaan@eco.com", 95},
	{"Sara Ali", "sara@eco.com", 180},
}

type hub struct {
	Name         string
	Email        string
	BinFillLevel int
}

var partners = []hub{
	{"GreenDrop Hub", "hub1@eco.com", 45},
	{"EcoCycle Point", "hub2@eco.com", 72},
	{"ReTech Center", "hub3@eco.com", 30},
	{"CleanCircuit Depot", "hub4@eco.com", 90},
	{"Urban E-Store", "hub5@eco.com", 55},
}

// seededCodes QR codes are settled, code i on day now-i for 20+(i%5)*10
// points. Opening codes are issued the day before the oldest of them.
const seededCodes = 20

// OpeningCategory labels the pre-funded code carrying a citizen's starting
// points.
const OpeningCategory = "Opening balance"

type pickupRow struct {
	Partner bool
	Index   int
	Item    string
	Weight  string
	Address string
	Status  points.PickupStatus
}

var pickups = []pickupRow{
	{false, 0, "Laptop", "2.4", "Bengaluru, Koramangala", points.PickupPending},
	{false, 1, "Smartphone", "0.4", "Delhi, South Extension", points.PickupApproved},
	{false, 2, "TV", "12", "Mumbai, Andheri", points.PickupCompleted},
	{false, 3, "Router", "0.6", "Chennai, Adyar", points.PickupPending},
	{false, 4, "Earbuds", "0.2", "Kolkata, Salt Lake", points.PickupApproved},
	{false, 5, "Desktop PC", "8", "Pune, Hinjewadi", points.PickupPending},
	{true, 0, "Bin Pickup", "0", "Bengaluru, Indiranagar", points.PickupPending},
	{true, 1, "Bin Pickup", "0", "Delhi, Saket", points.PickupApproved},
	{true, 2, "Bin Pickup", "0", "Mumbai, Powai", points.PickupCompleted},
	{true, 3, "Bin Pickup", "0", "Chennai, T Nagar", points.PickupPending},
}

// Catalog is the reward catalog shipped with the demo dataset.
var Catalog = []points.Reward{
	{ID: "eco-tote-bag", Title: "Eco Tote Bag", Description: "Reusable tote bag", PointsRequired: 120},
	{ID: "plant-a-tree", Title: "Plant a Tree", Description: "Tree plantation in your name", PointsRequired: 200},
	{ID: "solar-charger", Title: "Solar Charger", Description: "Pocket solar phone charger", PointsRequired: 320},
	{ID: "led-bulb-pack", Title: "LED Bulb Pack", Description: "Set of 3 energy-saving bulbs", PointsRequired: 150},
	{ID: "recycled-notebook", Title: "Recycled Notebook", Description: "Notebook made from recycled paper", PointsRequired: 80},
}

// Summary counts what Load wrote. Codes counts partner-redeemed codes,
// Openings the pre-funded opening codes.
type Summary struct {
	Users    int `json:"users"`
	Partners int `json:"partners"`
	Codes    int `json:"transactions"`
	Openings int `json:"openings"`
	Pickups  int `json:"pickups"`
	Rewards  int `json:"rewards"`
}

// =============================================================================
// LOADER
// =============================================================================

type Loader struct {
	Ledger *points.Ledger
	Log    zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewLoader(ledger *points.Ledger) *Loader {
	return &Loader{
		Ledger: ledger,
		Log:    logger.Nop(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// Load writes the demo dataset into an empty store.
func (l *Loader) Load(ctx context.Context) (Summary, error) {
	now := l.Now()
	var sum Summary

	err := l.Ledger.Store.WithTx(ctx, func(s points.Store) error {
		if err := ensureEmpty(ctx, s); err != nil {
			return err
		}
		ledger := l.Ledger.WithStore(s)

		userIDs, err := openUsers(ctx, ledger)
		if err != nil {
			return err
		}
		partnerIDs, err := openPartners(ctx, ledger, s)
		if err != nil {
			return err
		}
		sum.Users, sum.Partners = len(userIDs), len(partnerIDs)

		opened := now.AddDate(0, 0, -seededCodes)
		for i, u := range users {
			if u.Points == 0 {
				continue
			}
			reg, _ := l.at(s, opened, fmt.Sprintf("OPENING-%d", i+1))
			if _, err := reg.Issue(ctx, points.IssueRequest{
				BeneficiaryUserID: userIDs[i],
				PrefundedPoints:   u.Points,
				Category:          OpeningCategory,
			}); err != nil {
				return err
			}
			sum.Openings++
		}

		for i := 0; i < seededCodes; i++ {
			reg, coord := l.at(s, now.AddDate(0, 0, -i), fmt.Sprintf("SEED-%d", i+1))
			issued, err := reg.Issue(ctx, points.IssueRequest{BeneficiaryUserID: userIDs[i%len(userIDs)]})
			if err != nil {
				return err
			}
			if _, err := coord.Redeem(ctx, points.RedeemRequest{
				Code:           issued.Code.Code,
				PartnerID:      partnerIDs[i%len(partnerIDs)],
				PointsOverride: int64(20 + (i%5)*10),
			}); err != nil {
				return err
			}
			sum.Codes++
		}

		for i, row := range pickups {
			p := points.Pickup{
				ID:          l.NewID(),
				RequestedBy: userIDs[row.Index],
				Role:        points.AccountUser,
				Item:        row.Item,
				Weight:      decimal.RequireFromString(row.Weight),
				Address:     row.Address,
				Status:      row.Status,
				CreatedAt:   now.Add(-time.Duration(len(pickups)-i) * time.Minute),
			}
			if row.Partner {
				p.RequestedBy = partnerIDs[row.Index]
				p.Role = points.AccountPartner
			}
			if err := s.InsertPickup(ctx, p); err != nil {
				return err
			}
			sum.Pickups++
		}

		for _, r := range Catalog {
			if err := s.PutReward(ctx, r); err != nil {
				return err
			}
			sum.Rewards++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	log := logger.FromContext(ctx, l.Log)
	log.Info().
		Int("users", sum.Users).
		Int("partners", sum.Partners).
		Int("transactions", sum.Codes).
		Int("openings", sum.Openings).
		Int("pickups", sum.Pickups).
		Msg("seed completed")
	return sum, nil
}

// at returns a registry and coordinator bound to s whose clocks read t and
// whose next code is named prefix+name.
func (l *Loader) at(s points.Store, t time.Time, name string) (*points.Registry, *points.Coordinator) {
	clock := func() time.Time { return t }
	ledger := l.Ledger.WithStore(s)
	ledger.Now = clock

	reg := points.NewRegistry(s, ledger)
	reg.Now = clock
	reg.NewCode = func(prefix string) string { return prefix + name }

	coord := points.NewCoordinator(reg, ledger)
	coord.Log = l.Log
	return reg, coord
}

func ensureEmpty(ctx context.Context, s points.Store) error {
	for _, kind := range []points.AccountKind{points.AccountUser, points.AccountPartner} {
		accounts, err := s.ListAccounts(ctx, kind)
		if err != nil {
			return err
		}
		if len(accounts) > 0 {
			return ErrNotEmpty
		}
	}
	return nil
}

func openUsers(ctx context.Context, ledger *points.Ledger) ([]string, error) {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		acct, err := ledger.OpenAccount(ctx, points.AccountUser, u.Name, u.Email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

func openPartners(ctx context.Context, ledger *points.Ledger, s points.Store) ([]string, error) {
	ids := make([]string, 0, len(partners))
	for _, h := range partners {
		acct, err := ledger.OpenAccount(ctx, points.AccountPartner, h.Name, h.Email)
		if err != nil {
			return nil, err
		}
		if _, err := s.SetBinFillLevel(ctx, acct.ID, h.BinFillLevel); err != nil {
			return nil, err
		}
		ids = append(ids, acct.ID)
	}
	return ids, nil
}
