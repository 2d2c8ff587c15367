package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosync/rewards-engine/points"
)

// run executes pointsctl with args. Flags keep their values between runs in
// one process, so every call passes the flags it depends on.
func run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.Bytes(), err
}

func runJSON[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(out, &v), string(out))
	return v
}

func TestPointsctl_SeedIssueRedeemReport(t *testing.T) {
	db := filepath.Join(t.TempDir(), "points.db")

	// GIVEN: a seeded database
	sum := runJSON[map[string]int](t, "seed", "--db", db)
	assert.Equal(t, 10, sum["users"])

	_, err := run(t, "seed", "--db", db)
	require.Error(t, err, "seeding twice is refused")

	users := runJSON[[]points.Account](t, "accounts", "--db", db, "--kind", "USER")
	partners := runJSON[[]points.Account](t, "accounts", "--db", db, "--kind", "PARTNER")
	require.Len(t, users, 10)
	require.Len(t, partners, 5)

	// WHEN: a code is issued to the first user and redeemed by the first partner
	issued := runJSON[points.Issued](t, "issue", "--db", db, "--user", users[0].ID, "--points", "0", "--category", "")
	assert.Equal(t, points.StateIssued, issued.Code.State)

	res := runJSON[points.RedeemResult](t, "redeem", issued.Code.Code, "--db", db, "--partner", partners[0].ID, "--points", "0")

	// THEN: the configured default award is credited on both sides
	assert.Equal(t, int64(50), res.PointsAwarded)
	assert.Equal(t, users[0].Balance+50, res.UserBalance)
	assert.Equal(t, partners[0].Balance+50, res.PartnerEarnings)

	_, err = run(t, "redeem", issued.Code.Code, "--db", db, "--partner", partners[0].ID, "--points", "0")
	require.Error(t, err)
	assert.Equal(t, points.KindAlreadyRedeemed, points.KindOf(err))

	verified := runJSON[map[string]any](t, "verify", users[0].ID, "--db", db)
	assert.Equal(t, true, verified["consistent"])

	top := runJSON[[]points.Account](t, "report", "top", "--db", db, "--kind", "USER", "--n", "1")
	require.Len(t, top, 1)
	assert.Equal(t, "Kabir Patel", top[0].Name)

	partnerTop := runJSON[[]points.Account](t, "report", "top", "--db", db, "--kind", "PARTNER", "--n", "1")
	require.Len(t, partnerTop, 1)
	assert.Equal(t, "Urban E-Store", partnerTop[0].Name)

	today := time.Now().UTC()
	buckets := runJSON[[]points.Bucket](t, "report", "buckets", "--db", db,
		"--granularity", "day",
		"--from", today.Format(time.DateOnly),
		"--to", today.AddDate(0, 0, 1).Format(time.DateOnly),
		"--partner", "")
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(20+50), buckets[0].Total, "QR-SEED-1 plus the new redemption")
}

func TestPointsctl_RedeemUsesConfiguredDefaultAward(t *testing.T) {
	// GIVEN: DEFAULT_AWARD and DB_PATH set in the environment, no --db flag
	db := filepath.Join(t.TempDir(), "points.db")
	t.Setenv("DEFAULT_AWARD", "75")
	t.Setenv("DB_PATH", db)
	rootCmd.PersistentFlags().Set("db", "")
	t.Cleanup(func() { rootCmd.PersistentFlags().Set("db", "") })

	runJSON[map[string]int](t, "seed")
	users := runJSON[[]points.Account](t, "accounts", "--kind", "USER")
	partners := runJSON[[]points.Account](t, "accounts", "--kind", "PARTNER")
	issued := runJSON[points.Issued](t, "issue", "--user", users[1].ID, "--points", "0", "--category", "")

	// WHEN: a partner redeems without an override
	res := runJSON[points.RedeemResult](t, "redeem", issued.Code.Code, "--partner", partners[1].ID, "--points", "0")

	// THEN: the award comes from the environment and the database from DB_PATH
	assert.Equal(t, int64(75), res.PointsAwarded)
	assert.Equal(t, users[1].Balance+75, res.UserBalance)
	assert.FileExists(t, db)
}

func TestPointsctl_InvalidConfigRefused(t *testing.T) {
	t.Setenv("DEFAULT_AWARD", "0")

	_, err := run(t, "accounts", "--db", filepath.Join(t.TempDir(), "points.db"), "--kind", "USER")

	assert.Error(t, err)
}

func TestPointsctl_ReportBucketsNeedsWindow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "points.db")
	_, err := run(t, "report", "buckets", "--db", db, "--granularity", "day", "--from", "", "--to", "")
	require.Error(t, err)
	assert.Equal(t, points.KindInvalidRequest, points.KindOf(err))
}
