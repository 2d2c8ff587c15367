package rewards

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/points"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Registry *points.Registry
	Ledger   *points.Ledger
	Catalog  points.CatalogStore
	Table    CategoryTable
	Selector Selector
	Log      zerolog.Logger
}

func NewService(registry *points.Registry, ledger *points.Ledger, catalog points.CatalogStore, table CategoryTable, selector Selector) *Service {
	return &Service{
		Registry: registry,
		Ledger:   ledger,
		Catalog:  catalog,
		Table:    table,
		Selector: selector,
		Log:      logger.Nop(),
	}
}

// ScanResult is what a self-service scan returns to the user.
type ScanResult struct {
	Category      string
	PointsAwarded int64
	Balance       int64
	Code          string
}

// Scan credits the user for one scanned item. The code is created already
// settled and the credit lands in the same transaction.
func (s *Service) Scan(ctx context.Context, userID string) (ScanResult, error) {
	if userID == "" {
		return ScanResult{}, errors.Wrap(points.ErrInvalidRequest, "userId is required")
	}
	cat := s.Selector.Select(s.Table)

	issued, err := s.Registry.Issue(ctx, points.IssueRequest{
		BeneficiaryUserID: userID,
		PrefundedPoints:   cat.Points,
		Category:          cat.Name,
	})
	if err != nil {
		return ScanResult{}, err
	}

	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("user_id", userID).
		Str("code", issued.Code.Code).
		Str("category", cat.Name).
		Int64("points", cat.Points).
		Msg("scan credited")

	return ScanResult{
		Category:      cat.Name,
		PointsAwarded: cat.Points,
		Balance:       issued.Balance,
		Code:          issued.Code.Code,
	}, nil
}

// GenerateCode issues a zero-value code for a partner to redeem.
func (s *Service) GenerateCode(ctx context.Context, userID string) (points.TransactionCode, error) {
	issued, err := s.Registry.Issue(ctx, points.IssueRequest{BeneficiaryUserID: userID})
	if err != nil {
		return points.TransactionCode{}, err
	}
	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("user_id", userID).
		Str("code", issued.Code.Code).
		Msg("code issued")
	return issued.Code, nil
}

// RedeemCatalogItem spends the reward's points and returns the new balance.
func (s *Service) RedeemCatalogItem(ctx context.Context, userID, rewardID string) (int64, error) {
	if userID == "" || rewardID == "" {
		return 0, errors.Wrap(points.ErrInvalidRequest, "userId and rewardId are required")
	}
	reward, err := s.Catalog.GetReward(ctx, rewardID)
	if err != nil {
		return 0, err
	}
	bal, err := s.Ledger.Debit(ctx, userID, reward.PointsRequired, points.ReasonCatalogRedemption, reward.ID)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx, s.Log)
	log.Info().
		Str("user_id", userID).
		Str("reward_id", reward.ID).
		Int64("points", reward.PointsRequired).
		Msg("reward redeemed")
	return bal, nil
}

// Rewards lists the catalog, cheapest first.
func (s *Service) Rewards(ctx context.Context) ([]points.Reward, error) {
	return s.Catalog.ListRewards(ctx)
}
