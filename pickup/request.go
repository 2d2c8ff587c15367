/*
Package pickup records requests to collect e-waste.

PURPOSE:
  Users ask for an item to be collected from their address; partners ask for
  a full drop-off bin to be emptied. Admins move each request through its
  status. Pickup weights feed the category totals in the admin report.

BIN FILL LEVEL:
  Every partner hub reports how full its drop-off bin is, 0 to 100 percent.
  BinStatus reads it back; a Completed bin pickup does not reset it, the hub
  reports the new level itself.

STATUS FLOW:
  Pending ──▶ Approved ──▶ Completed
     │
     └──────▶ Rejected

  Any of the four statuses may be set by an admin; the store records the
  value verbatim. Rejected pickups are excluded from waste totals.

SEE ALSO:
  - points/report.go: CategoryTotals, Overview
*/
package pickup

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/points"
)

// BinPickupItem is the item label recorded for partner bin pickups.
const BinPickupItem = "Bin Pickup"

// =============================================================================
// REQUEST SERVICE
// =============================================================================

type Service struct {
	Store interface {
		points.PickupStore
		GetAccount(ctx context.Context, id string) (points.Account, error)
		SetBinFillLevel(ctx context.Context, id string, level int) (points.Account, error)
	}
	Log zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewService(store points.Store) *Service {
	return &Service{
		Store: store,
		Log:   logger.Nop(),
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Request is a pickup to create. Every field is required; Weight is in kg.
type Request struct {
	RequestedBy string
	Role        points.AccountKind
	Item        string
	Weight      decimal.Decimal
	Address     string
}

func (r Request) validate() error {
	switch {
	case r.RequestedBy == "":
		return errors.Wrap(points.ErrInvalidRequest, "requestedBy is required")
	case !r.Role.Valid():
		return errors.Wrapf(points.ErrInvalidRequest, "unknown role %q", r.Role)
	case strings.TrimSpace(r.Item) == "":
		return errors.Wrap(points.ErrInvalidRequest, "item is required")
	case r.Weight.IsNegative():
		return errors.Wrap(points.ErrInvalidRequest, "weight must be >= 0")
	case strings.TrimSpace(r.Address) == "":
		return errors.Wrap(points.ErrInvalidRequest, "address is required")
	}
	return nil
}

// Create records a Pending pickup for an existing account of the given role.
func (s *Service) Create(ctx context.Context, req Request) (points.Pickup, error) {
	if err := req.validate(); err != nil {
		return points.Pickup{}, err
	}
	acct, err := s.Store.GetAccount(ctx, req.RequestedBy)
	if err != nil {
		return points.Pickup{}, err
	}
	if acct.Kind != req.Role {
		return points.Pickup{}, errors.Wrapf(points.ErrAccountNotFound, "%s account %s", req.Role, req.RequestedBy)
	}

	p := points.Pickup{
		ID:          s.NewID(),
		RequestedBy: req.RequestedBy,
		Role:        req.Role,
		Item:        req.Item,
		Weight:      req.Weight,
		Address:     req.Address,
		Status:      points.PickupPending,
		CreatedAt:   s.Now(),
	}
	if err := s.Store.InsertPickup(ctx, p); err != nil {
		return points.Pickup{}, err
	}

	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("pickup_id", p.ID).
		Str("requested_by", p.RequestedBy).
		Str("item", p.Item).
		Msg("pickup requested")
	return p, nil
}

// RequestBin records a partner's request to empty its drop-off bin.
func (s *Service) RequestBin(ctx context.Context, partnerID, address string) (points.Pickup, error) {
	return s.Create(ctx, Request{
		RequestedBy: partnerID,
		Role:        points.AccountPartner,
		Item:        BinPickupItem,
		Weight:      decimal.Zero,
		Address:     address,
	})
}

// BinStatus returns a partner's current bin fill level.
func (s *Service) BinStatus(ctx context.Context, partnerID string) (int, error) {
	if partnerID == "" {
		return 0, errors.Wrap(points.ErrInvalidRequest, "partnerId is required")
	}
	partner, err := s.Store.GetAccount(ctx, partnerID)
	if err != nil && !points.IsNotFound(err) {
		return 0, err
	}
	if err != nil || partner.Kind != points.AccountPartner {
		return 0, errors.Wrapf(points.ErrPartnerNotFound, "partner %s", partnerID)
	}
	return partner.BinFillLevel, nil
}

// ReportBinLevel records the fill level a partner hub reports for its bin.
func (s *Service) ReportBinLevel(ctx context.Context, partnerID string, level int) (points.Account, error) {
	if partnerID == "" {
		return points.Account{}, errors.Wrap(points.ErrInvalidRequest, "partnerId is required")
	}
	if level < 0 || level > points.MaxBinFillLevel {
		return points.Account{}, errors.Wrapf(points.ErrInvalidRequest,
			"binFillLevel must be between 0 and %d, got %d", points.MaxBinFillLevel, level)
	}
	a, err := s.Store.SetBinFillLevel(ctx, partnerID, level)
	if points.IsNotFound(err) {
		return points.Account{}, errors.Wrapf(points.ErrPartnerNotFound, "partner %s", partnerID)
	}
	if err != nil {
		return points.Account{}, err
	}
	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("partner_id", partnerID).
		Int("bin_fill_level", level).
		Msg("bin fill level reported")
	return a, nil
}

// List returns every pickup, newest first.
func (s *Service) List(ctx context.Context) ([]points.Pickup, error) {
	return s.Store.ListPickups(ctx)
}

// UpdateStatus sets a pickup's status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status points.PickupStatus) (points.Pickup, error) {
	if id == "" {
		return points.Pickup{}, errors.Wrap(points.ErrInvalidRequest, "pickupId is required")
	}
	if !status.Valid() {
		return points.Pickup{}, errors.Wrapf(points.ErrInvalidRequest, "unknown status %q", status)
	}
	p, err := s.Store.UpdatePickupStatus(ctx, id, status)
	if err != nil {
		return points.Pickup{}, err
	}
	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("pickup_id", id).
		Str("status", string(status)).
		Msg("pickup status updated")
	return p, nil
}
