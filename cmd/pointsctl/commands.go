package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/seed"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportBucketsCmd)
	reportCmd.AddCommand(reportTopCmd)
	reportCmd.AddCommand(reportOverviewCmd)
	reportCmd.AddCommand(reportEarningsCmd)

	accountsCmd.Flags().String("kind", string(points.AccountUser), "Account kind: USER or PARTNER")

	issueCmd.Flags().String("user", "", "Beneficiary user id")
	issueCmd.Flags().Int64("points", 0, "Pre-fund the code with this many points (settles it at once)")
	issueCmd.Flags().String("category", "", "Waste category for a pre-funded code")

	redeemCmd.Flags().String("partner", "", "Redeeming partner id")
	redeemCmd.Flags().Int64("points", 0, "Points override; <= 0 uses the default award")

	reportBucketsCmd.Flags().String("granularity", string(points.Day), "day or month")
	reportBucketsCmd.Flags().String("from", "", "Window start, YYYY-MM-DD (inclusive)")
	reportBucketsCmd.Flags().String("to", "", "Window end, YYYY-MM-DD (exclusive)")
	reportBucketsCmd.Flags().String("partner", "", "Restrict to one partner")

	reportTopCmd.Flags().String("kind", string(points.AccountUser), "Account kind: USER or PARTNER")
	reportTopCmd.Flags().Int("n", 10, "Number of accounts")
}

// ─── seed ───────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo dataset into an empty database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			l := seed.NewLoader(e.ledger)
			l.Log = e.log
			return l.Load(ctx)
		})
	},
}

// ─── accounts ───────────────────────────────────────────────────────────────

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts of one kind in creation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			k := points.AccountKind(kind)
			if !k.Valid() {
				return nil, errors.Wrapf(points.ErrInvalidRequest, "unknown account kind %q", kind)
			}
			return e.store.ListAccounts(ctx, k)
		})
	},
}

// ─── issue / redeem ─────────────────────────────────────────────────────────

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a code to a user",
	Long: `Issue a code to a user. Without --points the code is ISSUED and waits
for a partner to redeem it; with --points it is settled immediately and the
user is credited.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		prefund, _ := cmd.Flags().GetInt64("points")
		category, _ := cmd.Flags().GetString("category")
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			return e.registry.Issue(ctx, points.IssueRequest{
				BeneficiaryUserID: user,
				PrefundedPoints:   prefund,
				Category:          category,
			})
		})
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem CODE",
	Short: "Redeem a code on behalf of a partner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partner, _ := cmd.Flags().GetString("partner")
		override, _ := cmd.Flags().GetInt64("points")
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			return e.coordinator.Redeem(ctx, points.RedeemRequest{
				Code:           args[0],
				PartnerID:      partner,
				PointsOverride: override,
			})
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify ACCOUNT_ID",
	Short: "Check that an account balance equals the sum of its ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			if err := e.ledger.Verify(ctx, args[0]); err != nil {
				return nil, err
			}
			bal, err := e.ledger.Balance(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]any{"accountId": args[0], "balance": bal, "consistent": true}, nil
		})
	},
}

// ─── report ─────────────────────────────────────────────────────────────────

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print read-only aggregation reports",
}

var reportBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Settled points per day or month within a window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, _ := cmd.Flags().GetString("granularity")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		partner, _ := cmd.Flags().GetString("partner")
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			w, err := parseWindow(from, to)
			if err != nil {
				return nil, err
			}
			return e.reporter.BucketedTotals(ctx, w, points.Granularity(g), partner)
		})
	},
}

var reportTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Highest balances of one account kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		n, _ := cmd.Flags().GetInt("n")
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			return e.reporter.TopN(ctx, points.AccountKind(kind), n)
		})
	},
}

var reportOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Admin analytics overview as of now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			return e.reporter.Overview(ctx, time.Now().UTC())
		})
	},
}

var reportEarningsCmd = &cobra.Command{
	Use:   "earnings PARTNER_ID",
	Short: "A partner's total earnings with trailing 7-day and 6-month series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine) (any, error) {
			return e.reporter.PartnerEarnings(ctx, args[0], time.Now().UTC())
		})
	},
}

func parseWindow(from, to string) (points.Window, error) {
	if from == "" || to == "" {
		return points.Window{}, errors.Wrap(points.ErrInvalidRequest, "--from and --to are required")
	}
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return points.Window{}, errors.Wrapf(points.ErrInvalidRequest, "--from: %v", err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return points.Window{}, errors.Wrapf(points.ErrInvalidRequest, "--to: %v", err)
	}
	return points.Window{From: f, To: t}, nil
}
