// Package store provides an in-memory points.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ecosync/rewards-engine/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every call behind one mutex. WithTx holds the mutex for
// the whole callback and restores a snapshot if the callback fails.
type Memory struct {
	mu sync.Mutex
	st *state
}

var _ points.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) InsertCode(ctx context.Context, c points.TransactionCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertCode(c)
}

func (m *Memory) FindCode(ctx context.Context, code string) (points.TransactionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.findCode(code)
}

func (m *Memory) TransitionCode(ctx context.Context, t points.Transition) (points.TransactionCode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.transitionCode(t)
}

func (m *Memory) CodesByBeneficiary(ctx context.Context, userID string) ([]points.TransactionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.codesWhere(func(c points.TransactionCode) bool { return c.BeneficiaryUserID == userID }, true), nil
}

func (m *Memory) CodesByPartner(ctx context.Context, partnerID string) ([]points.TransactionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.byPartner(partnerID), nil
}

func (m *Memory) SettledCodes(ctx context.Context, f points.CodeFilter) ([]points.TransactionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.settled(f), nil
}

func (m *Memory) CreateAccount(ctx context.Context, a points.Account) (points.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createAccount(a)
}

func (m *Memory) GetAccount(ctx context.Context, id string) (points.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getAccount(id)
}

func (m *Memory) ListAccounts(ctx context.Context, kind points.AccountKind) ([]points.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listAccounts(kind), nil
}

func (m *Memory) SetBinFillLevel(ctx context.Context, id string, level int) (points.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setBinFillLevel(id, level)
}

func (m *Memory) ApplyDelta(ctx context.Context, e points.LedgerEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.applyDelta(e)
}

func (m *Memory) Entries(ctx context.Context, accountID string) ([]points.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entriesFor(accountID), nil
}

func (m *Memory) PutReward(ctx context.Context, r points.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.rewards[r.ID] = r
	return nil
}

func (m *Memory) GetReward(ctx context.Context, id string) (points.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getReward(id)
}

func (m *Memory) ListRewards(ctx context.Context) ([]points.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listRewards(), nil
}

func (m *Memory) InsertPickup(ctx context.Context, p points.Pickup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.pickups = append(m.st.pickups, p)
	return nil
}

func (m *Memory) ListPickups(ctx context.Context) ([]points.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listPickups(), nil
}

func (m *Memory) UpdatePickupStatus(ctx context.Context, id string, status points.PickupStatus) (points.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updatePickup(id, status)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(points.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW - used only while Memory.WithTx holds the mutex
// =============================================================================

type txView struct {
	st *state
}

func (v *txView) InsertCode(_ context.Context, c points.TransactionCode) error {
	return v.st.insertCode(c)
}

func (v *txView) FindCode(_ context.Context, code string) (points.TransactionCode, error) {
	return v.st.findCode(code)
}

func (v *txView) TransitionCode(_ context.Context, t points.Transition) (points.TransactionCode, bool, error) {
	return v.st.transitionCode(t)
}

func (v *txView) CodesByBeneficiary(_ context.Context, userID string) ([]points.TransactionCode, error) {
	return v.st.codesWhere(func(c points.TransactionCode) bool { return c.BeneficiaryUserID == userID }, true), nil
}

func (v *txView) CodesByPartner(_ context.Context, partnerID string) ([]points.TransactionCode, error) {
	return v.st.byPartner(partnerID), nil
}

func (v *txView) SettledCodes(_ context.Context, f points.CodeFilter) ([]points.TransactionCode, error) {
	return v.st.settled(f), nil
}

func (v *txView) CreateAccount(_ context.Context, a points.Account) (points.Account, error) {
	return v.st.createAccount(a)
}

func (v *txView) GetAccount(_ context.Context, id string) (points.Account, error) {
	return v.st.getAccount(id)
}

func (v *txView) ListAccounts(_ context.Context, kind points.AccountKind) ([]points.Account, error) {
	return v.st.listAccounts(kind), nil
}

func (v *txView) SetBinFillLevel(_ context.Context, id string, level int) (points.Account, error) {
	return v.st.setBinFillLevel(id, level)
}

func (v *txView) ApplyDelta(_ context.Context, e points.LedgerEntry) (int64, error) {
	return v.st.applyDelta(e)
}

func (v *txView) Entries(_ context.Context, accountID string) ([]points.LedgerEntry, error) {
	return v.st.entriesFor(accountID), nil
}

func (v *txView) PutReward(_ context.Context, r points.Reward) error {
	v.st.rewards[r.ID] = r
	return nil
}

func (v *txView) GetReward(_ context.Context, id string) (points.Reward, error) {
	return v.st.getReward(id)
}

func (v *txView) ListRewards(_ context.Context) ([]points.Reward, error) {
	return v.st.listRewards(), nil
}

func (v *txView) InsertPickup(_ context.Context, p points.Pickup) error {
	v.st.pickups = append(v.st.pickups, p)
	return nil
}

func (v *txView) ListPickups(_ context.Context) ([]points.Pickup, error) {
	return v.st.listPickups(), nil
}

func (v *txView) UpdatePickupStatus(_ context.Context, id string, status points.PickupStatus) (points.Pickup, error) {
	return v.st.updatePickup(id, status)
}

// WithTx joins the enclosing transaction.
func (v *txView) WithTx(_ context.Context, fn func(points.Store) error) error {
	return fn(v)
}

// =============================================================================
// STATE - unsynchronized; callers hold Memory.mu
// =============================================================================

type state struct {
	codes     []points.TransactionCode // insertion order
	codeIndex map[string]int
	accounts  map[string]points.Account
	nextSeq   int64
	entries   []points.LedgerEntry
	rewards   map[string]points.Reward
	pickups   []points.Pickup
}

func newState() *state {
	return &state{
		codeIndex: make(map[string]int),
		accounts:  make(map[string]points.Account),
		rewards:   make(map[string]points.Reward),
	}
}

func (s *state) clone() *state {
	cp := &state{
		codes:     append([]points.TransactionCode(nil), s.codes...),
		codeIndex: make(map[string]int, len(s.codeIndex)),
		accounts:  make(map[string]points.Account, len(s.accounts)),
		nextSeq:   s.nextSeq,
		entries:   append([]points.LedgerEntry(nil), s.entries...),
		rewards:   make(map[string]points.Reward, len(s.rewards)),
		pickups:   append([]points.Pickup(nil), s.pickups...),
	}
	for k, v := range s.codeIndex {
		cp.codeIndex[k] = v
	}
	for k, v := range s.accounts {
		cp.accounts[k] = v
	}
	for k, v := range s.rewards {
		cp.rewards[k] = v
	}
	return cp
}

func (s *state) insertCode(c points.TransactionCode) error {
	if _, ok := s.codeIndex[c.Code]; ok {
		return errors.Wrapf(points.ErrDuplicateCode, "code %s", c.Code)
	}
	s.codeIndex[c.Code] = len(s.codes)
	s.codes = append(s.codes, copyCode(c))
	return nil
}

func (s *state) findCode(code string) (points.TransactionCode, error) {
	i, ok := s.codeIndex[code]
	if !ok {
		return points.TransactionCode{}, errors.Wrapf(points.ErrCodeNotFound, "code %s", code)
	}
	return copyCode(s.codes[i]), nil
}

// transitionCode is the compare-and-set on State.
func (s *state) transitionCode(t points.Transition) (points.TransactionCode, bool, error) {
	i, ok := s.codeIndex[t.Code]
	if !ok {
		return points.TransactionCode{}, false, errors.Wrapf(points.ErrCodeNotFound, "code %s", t.Code)
	}
	c := s.codes[i]
	if c.State != points.StateIssued {
		return copyCode(c), false, nil
	}
	at := t.At
	c.State = points.StateRedeemed
	c.RedeemingPartnerID = t.PartnerID
	c.PointsAwarded = t.Points
	c.RedeemedAt = &at
	s.codes[i] = c
	return copyCode(c), true, nil
}

func (s *state) codesWhere(match func(points.TransactionCode) bool, newestFirst bool) []points.TransactionCode {
	var out []points.TransactionCode
	for i := len(s.codes) - 1; i >= 0; i-- {
		if match(s.codes[i]) {
			out = append(out, copyCode(s.codes[i]))
		}
	}
	// Insertion order is not guaranteed to follow IssuedAt (seeded data).
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

func (s *state) byPartner(partnerID string) []points.TransactionCode {
	return s.codesWhere(func(c points.TransactionCode) bool {
		return c.PartnerRedeemed() && c.RedeemingPartnerID == partnerID
	}, true)
}

func (s *state) settled(f points.CodeFilter) []points.TransactionCode {
	w := points.Window{From: f.From, To: f.To}
	return s.codesWhere(func(c points.TransactionCode) bool {
		if !c.Redeemed() {
			return false
		}
		if f.PartnerID != "" && c.RedeemingPartnerID != f.PartnerID {
			return false
		}
		return w.Contains(c.IssuedAt)
	}, false)
}

func (s *state) createAccount(a points.Account) (points.Account, error) {
	if _, ok := s.accounts[a.ID]; ok {
		return points.Account{}, errors.Newf("account %s already exists", a.ID)
	}
	s.nextSeq++
	a.Seq = s.nextSeq
	a.Balance = 0
	s.accounts[a.ID] = a
	return a, nil
}

func (s *state) getAccount(id string) (points.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return points.Account{}, errors.Wrapf(points.ErrAccountNotFound, "account %s", id)
	}
	return a, nil
}

func (s *state) setBinFillLevel(id string, level int) (points.Account, error) {
	a, ok := s.accounts[id]
	if !ok || a.Kind != points.AccountPartner {
		return points.Account{}, errors.Wrapf(points.ErrAccountNotFound, "partner account %s", id)
	}
	a.BinFillLevel = level
	s.accounts[id] = a
	return a, nil
}

func (s *state) listAccounts(kind points.AccountKind) []points.Account {
	var out []points.Account
	for _, a := range s.accounts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *state) applyDelta(e points.LedgerEntry) (int64, error) {
	a, ok := s.accounts[e.AccountID]
	if !ok || a.Kind != e.AccountKind {
		return 0, errors.Wrapf(points.ErrAccountNotFound, "%s account %s", e.AccountKind, e.AccountID)
	}
	if e.Delta < 0 && a.Balance+e.Delta < 0 {
		return 0, &points.InsufficientBalanceError{
			AccountID: a.ID,
			Available: a.Balance,
			Requested: -e.Delta,
		}
	}
	if points.Overflows(a.Balance, e.Delta) {
		return 0, points.BalanceOverflow(a.ID, a.Balance, e.Delta)
	}
	a.Balance += e.Delta
	s.accounts[a.ID] = a
	s.entries = append(s.entries, e)
	return a.Balance, nil
}

func (s *state) entriesFor(accountID string) []points.LedgerEntry {
	var out []points.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) getReward(id string) (points.Reward, error) {
	r, ok := s.rewards[id]
	if !ok {
		return points.Reward{}, errors.Wrapf(points.ErrRewardNotFound, "reward %s", id)
	}
	return r, nil
}

func (s *state) listRewards() []points.Reward {
	out := make([]points.Reward, 0, len(s.rewards))
	for _, r := range s.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PointsRequired != out[j].PointsRequired {
			return out[i].PointsRequired < out[j].PointsRequired
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) listPickups() []points.Pickup {
	out := make([]points.Pickup, 0, len(s.pickups))
	for i := len(s.pickups) - 1; i >= 0; i-- {
		out = append(out, s.pickups[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *state) updatePickup(id string, status points.PickupStatus) (points.Pickup, error) {
	for i := range s.pickups {
		if s.pickups[i].ID == id {
			s.pickups[i].Status = status
			return s.pickups[i], nil
		}
	}
	return points.Pickup{}, errors.Wrapf(points.ErrPickupNotFound, "pickup %s", id)
}

// copyCode detaches RedeemedAt so callers cannot mutate stored state.
func copyCode(c points.TransactionCode) points.TransactionCode {
	if c.RedeemedAt != nil {
		at := *c.RedeemedAt
		c.RedeemedAt = &at
	}
	return c
}
