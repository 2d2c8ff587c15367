// Package metrics holds the Prometheus collectors for the points engine.
//
// Counters and the latency histogram are fed by Recorder, which the
// redemption coordinator and code registry call on every outcome. The
// balance gauges are refreshed by the report scheduler from store reads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ecosync"

// ─── Redemptions ────────────────────────────────────────────────────────────

var RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "redemption",
	Name:      "attempts_total",
	Help:      "Redemption attempts by outcome (ok or error kind).",
}, []string{"outcome"})

var RedemptionPointsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "redemption",
	Name:      "points_total",
	Help:      "Points credited to users by successful redemptions.",
})

var RedemptionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "redemption",
	Name:      "duration_seconds",
	Help:      "Redemption attempt latency.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{"outcome"})

// ─── Issuance ───────────────────────────────────────────────────────────────

var CodesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "codes",
	Name:      "issued_total",
	Help:      "Codes issued, by type (prefunded scan or redeemable).",
}, []string{"type"})

// ─── Balances (refreshed by the report scheduler) ───────────────────────────

var OutstandingBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "outstanding_balance",
	Help:      "Sum of balances: user points or partner earnings.",
}, []string{"kind"})

var Accounts = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "accounts",
	Help:      "Number of accounts by kind.",
}, []string{"kind"})

var ReportRefreshed = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "report",
	Name:      "last_refresh_timestamp_seconds",
	Help:      "Unix time of the last successful gauge refresh.",
})

// ─── Recorder ───────────────────────────────────────────────────────────────

// Recorder feeds redemption and issuance outcomes into the collectors above.
type Recorder struct{}

func (Recorder) ObserveRedemption(outcome string, points int64, elapsed time.Duration) {
	RedemptionsTotal.WithLabelValues(outcome).Inc()
	RedemptionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "ok" {
		RedemptionPointsTotal.Add(float64(points))
	}
}

func (Recorder) ObserveIssue(prefunded bool) {
	kind := "redeemable"
	if prefunded {
		kind = "prefunded"
	}
	CodesIssuedTotal.WithLabelValues(kind).Inc()
}

// SetBalances records one refresh of the balance gauges.
func SetBalances(kind string, accounts int, outstanding int64, at time.Time) {
	Accounts.WithLabelValues(kind).Set(float64(accounts))
	OutstandingBalance.WithLabelValues(kind).Set(float64(outstanding))
	ReportRefreshed.Set(float64(at.Unix()))
}
