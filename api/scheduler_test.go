package api

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosync/rewards-engine/metrics"
	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/points/store"
)

func TestReportScheduler_RefreshesGauges(t *testing.T) {
	// GIVEN: two users holding 30 and 70 points and one partner with none
	ctx := context.Background()
	s := store.NewMemory()
	ledger := points.NewLedger(s)
	for _, amount := range []int64{30, 70} {
		a, err := ledger.OpenAccount(ctx, points.AccountUser, "u", "u@example.com")
		require.NoError(t, err)
		_, err = ledger.Credit(ctx, a.ID, points.AccountUser, amount, points.ReasonScanCredit, "test")
		require.NoError(t, err)
	}
	_, err := ledger.OpenAccount(ctx, points.AccountPartner, "p", "p@example.com")
	require.NoError(t, err)

	// WHEN
	rs := NewReportScheduler(s, zerolog.Nop())
	rs.RunNow()

	// THEN
	assert.Equal(t, float64(100), testutil.ToFloat64(metrics.OutstandingBalance.WithLabelValues("USER")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Accounts.WithLabelValues("USER")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.OutstandingBalance.WithLabelValues("PARTNER")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Accounts.WithLabelValues("PARTNER")))
}

func TestReportScheduler_StartStop(t *testing.T) {
	rs := NewReportScheduler(store.NewMemory(), zerolog.Nop())
	rs.CheckInterval = 10 * time.Millisecond

	rs.Start()
	time.Sleep(30 * time.Millisecond)
	rs.Stop()
	rs.Stop()

	assert.Greater(t, testutil.ToFloat64(metrics.ReportRefreshed), float64(0))
}

func TestReportScheduler_RestartAfterStop(t *testing.T) {
	// GIVEN: a scheduler that has been started and stopped once
	rs := NewReportScheduler(store.NewMemory(), zerolog.Nop())
	rs.CheckInterval = 10 * time.Millisecond
	rs.Start()
	rs.Stop()
	before := testutil.ToFloat64(metrics.ReportRefreshed)

	// WHEN: it is started again, started twice, and stopped twice
	rs.Start()
	rs.Start()
	time.Sleep(30 * time.Millisecond)

	// THEN: the second run refreshes again and stopping never panics
	assert.NotPanics(t, func() {
		rs.Stop()
		rs.Stop()
	})
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.ReportRefreshed), before)
}

func TestReportScheduler_Disabled(t *testing.T) {
	rs := NewReportScheduler(store.NewMemory(), zerolog.Nop())
	rs.Enabled = false

	rs.Start()
	rs.Stop()
}
