/*
scheduler.go - Periodic refresh of the balance gauges

PURPOSE:
  Outstanding user points and partner earnings are exported as Prometheus
  gauges. Counting them on every scrape would scan every account, so a
  background goroutine refreshes them on a fixed interval instead.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Refreshes once immediately on start
  - Read-only: never writes to the store
  - A failed refresh is logged and retried on the next tick

USAGE:
  scheduler := NewReportScheduler(store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - metrics/metrics.go: SetBalances
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecosync/rewards-engine/metrics"
	"github.com/ecosync/rewards-engine/points"
)

// ReportScheduler refreshes the balance gauges.
type ReportScheduler struct {
	Store         points.AccountStore
	Log           zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReportScheduler creates a new scheduler.
func NewReportScheduler(store points.AccountStore, log zerolog.Logger) *ReportScheduler {
	return &ReportScheduler{
		Store:         store,
		Log:           log,
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReportScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("report scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("report scheduler started")
}

// Stop stops the scheduler.
func (rs *ReportScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Log.Info().Msg("report scheduler stopped")
	}
}

func (rs *ReportScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunNow()

	for {
		select {
		case <-tick:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow refreshes the gauges immediately.
func (rs *ReportScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	if err := rs.refresh(ctx, time.Now()); err != nil {
		rs.Log.Error().Err(err).Msg("balance gauge refresh failed")
	}
}

func (rs *ReportScheduler) refresh(ctx context.Context, now time.Time) error {
	for _, kind := range []points.AccountKind{points.AccountUser, points.AccountPartner} {
		accounts, err := rs.Store.ListAccounts(ctx, kind)
		if err != nil {
			return err
		}
		var outstanding int64
		for _, a := range accounts {
			outstanding += a.Balance
		}
		metrics.SetBalances(string(kind), len(accounts), outstanding, now)
		rs.Log.Debug().
			Str("kind", string(kind)).
			Int("accounts", len(accounts)).
			Int64("outstanding", outstanding).
			Msg("balance gauges refreshed")
	}
	return nil
}
