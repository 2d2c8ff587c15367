/*
redemption.go - Redemption Coordinator: one redemption attempt, start to finish

PURPOSE:
  A partner presents a code. The coordinator validates the attempt, settles
  the code exactly once, and credits the user and the partner by the same
  amount. Every outcome is reported with a stable error Kind.

STATE MACHINE:
  ┌────────┐   conditional write (state = ISSUED)   ┌──────────┐
  │ ISSUED │ ─────────────────────────────────────▶ │ REDEEMED │
  └────────┘                                        └──────────┘
                                                         │
                               any later attempt ───────▶ ALREADY_REDEEMED

ATTEMPT ORDER:
  1. Validate input (no storage access)      -> INVALID_REQUEST
  2. Look up the code                        -> CODE_NOT_FOUND
  3. Already settled                         -> ALREADY_REDEEMED
  4. Beneficiary / partner exist             -> BENEFICIARY_NOT_FOUND / PARTNER_NOT_FOUND
  5. Award = override if > 0, else default
  6. One store transaction: transition, credit user, credit partner.
     Losing a race to another attempt        -> ALREADY_REDEEMED, nothing credited

AFTER COMMIT:
  A Settlement is published best-effort. A publish failure is logged and
  never turns a committed redemption into an error.

RETRIES:
  A caller that timed out after commit may retry; the retry answers
  ALREADY_REDEEMED and credits nothing.

SEE ALSO:
  - registry.go: MarkRedeemed
  - ledger.go:   Credit
*/
package points

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/ecosync/rewards-engine/logger"
)

// DefaultAward is credited when a partner does not supply a positive override.
const DefaultAward int64 = 50

var tracer = otel.Tracer("github.com/ecosync/rewards-engine/points")

// =============================================================================
// COLLABORATOR PORTS
// =============================================================================

// Settlement is emitted once per successful redemption.
type Settlement struct {
	Code            string    `json:"code"`
	UserID          string    `json:"userId"`
	PartnerID       string    `json:"partnerId"`
	Points          int64     `json:"points"`
	UserBalance     int64     `json:"userBalance"`
	PartnerEarnings int64     `json:"partnerEarnings"`
	SettledAt       time.Time `json:"settledAt"`
}

// SettlementPublisher delivers settlements to downstream consumers.
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, s Settlement) error
}

// Observer receives redemption and issuance outcomes for metrics.
// outcome is "ok" on success, otherwise the error Kind.
type Observer interface {
	ObserveRedemption(outcome string, points int64, elapsed time.Duration)
	ObserveIssue(prefunded bool)
}

type nopObserver struct{}

func (nopObserver) ObserveRedemption(string, int64, time.Duration) {}
func (nopObserver) ObserveIssue(bool)                              {}

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	Registry     *Registry
	Ledger       *Ledger
	DefaultAward int64

	Publisher SettlementPublisher // optional
	Observer  Observer
	Log       zerolog.Logger
}

func NewCoordinator(registry *Registry, ledger *Ledger) *Coordinator {
	return &Coordinator{
		Registry:     registry,
		Ledger:       ledger,
		DefaultAward: DefaultAward,
		Observer:     nopObserver{},
		Log:          logger.Nop(),
	}
}

// RedeemRequest is one partner scan. PointsOverride <= 0 means "use the
// default award". Positive overrides are accepted without an upper bound;
// partners are trusted to enter the agreed value.
type RedeemRequest struct {
	Code           string
	PartnerID      string
	PointsOverride int64
}

type RedeemResult struct {
	Code            string
	PointsAwarded   int64
	UserBalance     int64
	PartnerEarnings int64
}

// Redeem runs one redemption attempt.
func (c *Coordinator) Redeem(ctx context.Context, req RedeemRequest) (res RedeemResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "points.Redeem")
	span.SetAttributes(
		attribute.String("code", req.Code),
		attribute.String("partner.id", req.PartnerID),
	)
	log := logger.FromContext(ctx, c.Log).With().
		Str("code", req.Code).
		Str("partner_id", req.PartnerID).
		Logger()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			ev := log.Warn()
			if !IsClientError(err) {
				ev = log.Error()
			}
			ev.Err(err).Str("kind", outcome).Msg("redemption rejected")
		} else {
			span.SetAttributes(attribute.Int64("points", res.PointsAwarded))
			log.Info().Int64("points", res.PointsAwarded).Int64("user_balance", res.UserBalance).Msg("code redeemed")
		}
		c.observer().ObserveRedemption(outcome, res.PointsAwarded, time.Since(start))
		span.End()
	}()

	if err := validateRedeem(req); err != nil {
		return RedeemResult{}, err
	}

	code, err := c.Registry.Store.FindCode(ctx, req.Code)
	if err != nil {
		return RedeemResult{}, err
	}
	if code.Redeemed() {
		return RedeemResult{}, errors.Wrapf(ErrAlreadyRedeemed, "code %s", code.Code)
	}
	if err := c.checkParties(ctx, code.BeneficiaryUserID, req.PartnerID); err != nil {
		return RedeemResult{}, err
	}

	award := c.DefaultAward
	if req.PointsOverride > 0 {
		award = req.PointsOverride
	}

	var settledAt time.Time
	err = c.Registry.Store.WithTx(ctx, func(s Store) error {
		settled, err := c.Registry.WithStore(s).MarkRedeemed(ctx, code.Code, req.PartnerID, award)
		if err != nil {
			return err
		}
		if settled.RedeemedAt != nil {
			settledAt = *settled.RedeemedAt
		}

		ledger := c.Ledger.WithStore(s)
		userBal, err := ledger.Credit(ctx, settled.BeneficiaryUserID, AccountUser, award, ReasonCodeRedemption, settled.Code)
		if err != nil {
			return err
		}
		partnerBal, err := ledger.Credit(ctx, req.PartnerID, AccountPartner, award, ReasonPartnerEarning, settled.Code)
		if err != nil {
			return err
		}
		res = RedeemResult{
			Code:            settled.Code,
			PointsAwarded:   award,
			UserBalance:     userBal,
			PartnerEarnings: partnerBal,
		}
		return nil
	})
	if err != nil {
		return RedeemResult{}, err
	}

	c.publish(ctx, log, Settlement{
		Code:            res.Code,
		UserID:          code.BeneficiaryUserID,
		PartnerID:       req.PartnerID,
		Points:          res.PointsAwarded,
		UserBalance:     res.UserBalance,
		PartnerEarnings: res.PartnerEarnings,
		SettledAt:       settledAt,
	})
	return res, nil
}

func validateRedeem(req RedeemRequest) error {
	if req.Code == "" {
		return invalid("code is required")
	}
	if req.PartnerID == "" {
		return invalid("partnerId is required")
	}
	if _, err := uuid.Parse(req.PartnerID); err != nil {
		return invalid("partnerId %q is not a valid account id", req.PartnerID)
	}
	return nil
}

func (c *Coordinator) checkParties(ctx context.Context, userID, partnerID string) error {
	store := c.Registry.Store
	user, err := store.GetAccount(ctx, userID)
	if err != nil || user.Kind != AccountUser {
		return beneficiaryErr(err, userID)
	}
	partner, err := store.GetAccount(ctx, partnerID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if err != nil || partner.Kind != AccountPartner {
		return errors.Wrapf(ErrPartnerNotFound, "partner %s", partnerID)
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, log zerolog.Logger, s Settlement) {
	if c.Publisher == nil {
		return
	}
	if err := c.Publisher.PublishSettlement(ctx, s); err != nil {
		log.Error().Err(err).Msg("settlement publish failed")
	}
}

func (c *Coordinator) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}
	return c.Observer
}
