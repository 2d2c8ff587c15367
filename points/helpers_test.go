package points_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/points/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type engine struct {
	store       *store.Memory
	ledger      *points.Ledger
	registry    *points.Registry
	coordinator *points.Coordinator
	reporter    *points.Reporter
}

func newEngine() *engine {
	s := store.NewMemory()
	ledger := points.NewLedger(s)
	registry := points.NewRegistry(s, ledger)
	return &engine{
		store:       s,
		ledger:      ledger,
		registry:    registry,
		coordinator: points.NewCoordinator(registry, ledger),
		reporter:    points.NewReporter(s),
	}
}

// at pins the clock of every component to t.
func (e *engine) at(t time.Time) {
	now := func() time.Time { return t }
	e.ledger.Now = now
	e.registry.Now = now
}

func (e *engine) user(t *testing.T, name string) points.Account {
	t.Helper()
	a, err := e.ledger.OpenAccount(context.Background(), points.AccountUser, name, name+"@example.com")
	require.NoError(t, err)
	return a
}

func (e *engine) partner(t *testing.T, name string) points.Account {
	t.Helper()
	a, err := e.ledger.OpenAccount(context.Background(), points.AccountPartner, name, name+"@hub.example.com")
	require.NoError(t, err)
	return a
}

func (e *engine) qr(t *testing.T, userID string) points.TransactionCode {
	t.Helper()
	issued, err := e.registry.Issue(context.Background(), points.IssueRequest{BeneficiaryUserID: userID})
	require.NoError(t, err)
	return issued.Code
}

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

type recordingPublisher struct {
	got []points.Settlement
	err error
}

func (p *recordingPublisher) PublishSettlement(_ context.Context, s points.Settlement) error {
	p.got = append(p.got, s)
	return p.err
}

type countingObserver struct {
	outcomes []string
	issued   int
}

func (o *countingObserver) ObserveRedemption(outcome string, _ int64, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *countingObserver) ObserveIssue(bool) { o.issued++ }
