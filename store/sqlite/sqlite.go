/*
Package sqlite provides a SQLite-backed implementation of points.Store.

PURPOSE:
  The single authoritative store. Every invariant that two concurrent
  requests could break is enforced by one SQL statement, not by Go code:

  - Code settlement:  UPDATE codes ... WHERE code = ? AND state = 'ISSUED'
  - Balance change:   UPDATE accounts SET balance = balance + ? ... RETURNING
  - No overdraft:     the same UPDATE carries AND balance + ? >= 0,
                      backed by CHECK (balance >= 0)

KEY TABLES:
  accounts:       users and partners, cached balance, bin fill level, creation seq
  codes:          issued transaction codes and their state
  ledger_entries: append-only balance deltas (no UPDATE, no DELETE)
  rewards:        reward catalog
  pickups:        pickup requests

CONNECTIONS:
  One open connection. SQLite has a single writer anyway; funnelling reads
  through the same connection keeps ":memory:" databases coherent and makes
  every WithTx a serialization point.

WAL MODE:
  Opened with WAL and a busy timeout so a second process (pointsctl) can read
  while the server writes.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order is chronological order and
  window filters can run in SQL.

USAGE:
  store, err := sqlite.New("./ecosync.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := points.NewLedger(store)

SEE ALSO:
  - points/store.go: interface definitions and atomicity contract
  - points/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ecosync/rewards-engine/points"
)

// timeLayout is RFC3339 with fixed nanoseconds, sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements points.Store using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var _ points.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{db: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return points.Unavailable(s.db.PingContext(ctx), "ping")
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		kind       TEXT NOT NULL CHECK (kind IN ('USER', 'PARTNER')),
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		bin_fill_level INTEGER NOT NULL DEFAULT 0 CHECK (bin_fill_level BETWEEN 0 AND 100),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_kind_balance
		ON accounts(kind, balance DESC, seq);

	CREATE TABLE IF NOT EXISTS codes (
		code                 TEXT PRIMARY KEY,
		beneficiary_user_id  TEXT NOT NULL REFERENCES accounts(id),
		redeeming_partner_id TEXT REFERENCES accounts(id),
		points_awarded       INTEGER NOT NULL DEFAULT 0 CHECK (points_awarded >= 0),
		state                TEXT NOT NULL CHECK (state IN ('ISSUED', 'REDEEMED')),
		category             TEXT NOT NULL DEFAULT '',
		issued_at            TEXT NOT NULL,
		redeemed_at          TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_codes_beneficiary
		ON codes(beneficiary_user_id, issued_at DESC);
	CREATE INDEX IF NOT EXISTS idx_codes_partner
		ON codes(redeeming_partner_id, issued_at DESC)
		WHERE redeeming_partner_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_codes_settled
		ON codes(issued_at) WHERE state = 'REDEEMED';

	-- Append-only. Balances are a cache of SUM(delta) per account.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id),
		account_kind TEXT NOT NULL,
		delta        INTEGER NOT NULL,
		reason       TEXT NOT NULL,
		reference    TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries(account_id);

	CREATE TABLE IF NOT EXISTS rewards (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		points_required INTEGER NOT NULL CHECK (points_required > 0)
	);

	CREATE TABLE IF NOT EXISTS pickups (
		id           TEXT PRIMARY KEY,
		requested_by TEXT NOT NULL,
		role         TEXT NOT NULL CHECK (role IN ('USER', 'PARTNER')),
		item         TEXT NOT NULL,
		weight       TEXT NOT NULL,
		address      TEXT NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('Pending', 'Approved', 'Completed', 'Rejected')),
		created_at   TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(points.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return points.Unavailable(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: &queries{db: sqlTx}}); err != nil {
		return err
	}
	return points.Unavailable(sqlTx.Commit(), "commit transaction")
}

// ApplyDelta runs the balance update and the entry insert in their own
// transaction when called outside WithTx.
func (s *Store) ApplyDelta(ctx context.Context, e points.LedgerEntry) (int64, error) {
	var bal int64
	err := s.WithTx(ctx, func(tx points.Store) error {
		var err error
		bal, err = tx.ApplyDelta(ctx, e)
		return err
	})
	return bal, err
}

type txStore struct {
	*queries
}

// WithTx joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(points.Store) error) error {
	return fn(ts)
}

// =============================================================================
// QUERIES - shared by *sql.DB and *sql.Tx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// --- codes -------------------------------------------------------------------

const codeColumns = `code, beneficiary_user_id, redeeming_partner_id, points_awarded,
	state, category, issued_at, redeemed_at`

func (q *queries) InsertCode(ctx context.Context, c points.TransactionCode) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO codes (`+codeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Code,
		c.BeneficiaryUserID,
		nullString(c.RedeemingPartnerID),
		c.PointsAwarded,
		string(c.State),
		c.Category,
		formatTime(c.IssuedAt),
		nullTime(c.RedeemedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.Wrapf(points.ErrDuplicateCode, "code %s", c.Code)
		}
		return points.Unavailable(err, "insert code")
	}
	return nil
}

func (q *queries) FindCode(ctx context.Context, code string) (points.TransactionCode, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM codes WHERE code = ?`, code)
	c, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.TransactionCode{}, errors.Wrapf(points.ErrCodeNotFound, "code %s", code)
	}
	if err != nil {
		return points.TransactionCode{}, points.Unavailable(err, "find code")
	}
	return c, nil
}

// TransitionCode is the compare-and-set that settles a code. Only the
// statement that flips state from ISSUED gets a row back.
func (q *queries) TransitionCode(ctx context.Context, t points.Transition) (points.TransactionCode, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE codes
		SET state = 'REDEEMED', redeeming_partner_id = ?, points_awarded = ?, redeemed_at = ?
		WHERE code = ? AND state = 'ISSUED'
		RETURNING `+codeColumns,
		t.PartnerID, t.Points, formatTime(t.At), t.Code,
	)
	c, err := scanCode(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return points.TransactionCode{}, false, points.Unavailable(err, "transition code")
	}

	existing, err := q.FindCode(ctx, t.Code)
	if err != nil {
		return points.TransactionCode{}, false, err
	}
	return existing, false, nil
}

func (q *queries) CodesByBeneficiary(ctx context.Context, userID string) ([]points.TransactionCode, error) {
	return q.queryCodes(ctx, `
		SELECT `+codeColumns+` FROM codes
		WHERE beneficiary_user_id = ?
		ORDER BY issued_at DESC, rowid DESC`, userID)
}

func (q *queries) CodesByPartner(ctx context.Context, partnerID string) ([]points.TransactionCode, error) {
	return q.queryCodes(ctx, `
		SELECT `+codeColumns+` FROM codes
		WHERE redeeming_partner_id = ?
		ORDER BY issued_at DESC, rowid DESC`, partnerID)
}

func (q *queries) SettledCodes(ctx context.Context, f points.CodeFilter) ([]points.TransactionCode, error) {
	return q.queryCodes(ctx, `
		SELECT `+codeColumns+` FROM codes
		WHERE state = 'REDEEMED'
		  AND issued_at >= ? AND issued_at < ?
		  AND (? = '' OR redeeming_partner_id = ?)
		ORDER BY issued_at, rowid`,
		formatTime(f.From), formatTime(f.To), f.PartnerID, f.PartnerID)
}

func (q *queries) queryCodes(ctx context.Context, query string, args ...any) ([]points.TransactionCode, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, points.Unavailable(err, "query codes")
	}
	defer rows.Close()

	var out []points.TransactionCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, points.Unavailable(err, "scan code")
		}
		out = append(out, c)
	}
	return out, points.Unavailable(rows.Err(), "iterate codes")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCode(row scanner) (points.TransactionCode, error) {
	var (
		c          points.TransactionCode
		partnerID  sql.NullString
		state      string
		issuedAt   string
		redeemedAt sql.NullString
	)
	err := row.Scan(&c.Code, &c.BeneficiaryUserID, &partnerID, &c.PointsAwarded,
		&state, &c.Category, &issuedAt, &redeemedAt)
	if err != nil {
		return points.TransactionCode{}, err
	}
	c.RedeemingPartnerID = partnerID.String
	c.State = points.CodeState(state)
	if c.IssuedAt, err = parseTime(issuedAt); err != nil {
		return points.TransactionCode{}, err
	}
	if redeemedAt.Valid {
		at, err := parseTime(redeemedAt.String)
		if err != nil {
			return points.TransactionCode{}, err
		}
		c.RedeemedAt = &at
	}
	return c, nil
}

// --- accounts & ledger -------------------------------------------------------

func (q *queries) CreateAccount(ctx context.Context, a points.Account) (points.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, kind, name, email, balance, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		RETURNING seq`,
		a.ID, string(a.Kind), a.Name, a.Email, formatTime(a.CreatedAt),
	)
	if err := row.Scan(&a.Seq); err != nil {
		if isUniqueConstraintError(err) {
			return points.Account{}, errors.Newf("account %s already exists", a.ID)
		}
		return points.Account{}, points.Unavailable(err, "create account")
	}
	a.Balance = 0
	return a, nil
}

func (q *queries) GetAccount(ctx context.Context, id string) (points.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Account{}, errors.Wrapf(points.ErrAccountNotFound, "account %s", id)
	}
	if err != nil {
		return points.Account{}, points.Unavailable(err, "get account")
	}
	return a, nil
}

func (q *queries) ListAccounts(ctx context.Context, kind points.AccountKind) ([]points.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE kind = ?
		ORDER BY seq`, string(kind))
	if err != nil {
		return nil, points.Unavailable(err, "list accounts")
	}
	defer rows.Close()

	var out []points.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, points.Unavailable(err, "scan account")
		}
		out = append(out, a)
	}
	return out, points.Unavailable(rows.Err(), "iterate accounts")
}

func (q *queries) SetBinFillLevel(ctx context.Context, id string, level int) (points.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE accounts SET bin_fill_level = ?
		WHERE id = ? AND kind = 'PARTNER'
		RETURNING `+accountColumns, level, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Account{}, errors.Wrapf(points.ErrAccountNotFound, "partner account %s", id)
	}
	if err != nil {
		return points.Account{}, points.Unavailable(err, "set bin fill level")
	}
	return a, nil
}

const accountColumns = `seq, id, kind, name, email, balance, bin_fill_level, created_at`

func scanAccount(row scanner) (points.Account, error) {
	var (
		a         points.Account
		kind      string
		createdAt string
	)
	if err := row.Scan(&a.Seq, &a.ID, &kind, &a.Name, &a.Email, &a.Balance, &a.BinFillLevel, &createdAt); err != nil {
		return points.Account{}, err
	}
	a.Kind = points.AccountKind(kind)
	var err error
	a.CreatedAt, err = parseTime(createdAt)
	return a, err
}

// ApplyDelta must run inside a transaction; Store.ApplyDelta provides one.
func (q *queries) ApplyDelta(ctx context.Context, e points.LedgerEntry) (int64, error) {
	var headroom int64
	if e.Delta > 0 {
		headroom = e.Delta
	}
	var bal int64
	err := q.db.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance + ?
		WHERE id = ? AND kind = ? AND balance + ? >= 0
		  AND balance <= 9223372036854775807 - ?
		RETURNING balance`,
		e.Delta, e.AccountID, string(e.AccountKind), e.Delta, headroom,
	).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, q.deltaRefused(ctx, e)
	}
	if err != nil {
		return 0, points.Unavailable(err, "apply delta")
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, account_kind, delta, reason, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, string(e.AccountKind), e.Delta, string(e.Reason), e.Reference, formatTime(e.CreatedAt),
	)
	if err != nil {
		return 0, points.Unavailable(err, "append ledger entry")
	}
	return bal, nil
}

// deltaRefused explains why the conditional balance update matched no row.
func (q *queries) deltaRefused(ctx context.Context, e points.LedgerEntry) error {
	var bal int64
	err := q.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ? AND kind = ?`,
		e.AccountID, string(e.AccountKind),
	).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(points.ErrAccountNotFound, "%s account %s", e.AccountKind, e.AccountID)
	}
	if err != nil {
		return points.Unavailable(err, "read balance")
	}
	if points.Overflows(bal, e.Delta) {
		return points.BalanceOverflow(e.AccountID, bal, e.Delta)
	}
	return &points.InsufficientBalanceError{
		AccountID: e.AccountID,
		Available: bal,
		Requested: -e.Delta,
	}
}

func (q *queries) Entries(ctx context.Context, accountID string) ([]points.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, account_id, account_kind, delta, reason, reference, created_at
		FROM ledger_entries WHERE account_id = ?
		ORDER BY rowid`, accountID)
	if err != nil {
		return nil, points.Unavailable(err, "query ledger entries")
	}
	defer rows.Close()

	var out []points.LedgerEntry
	for rows.Next() {
		var (
			e         points.LedgerEntry
			kind      string
			reason    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Delta, &reason, &e.Reference, &createdAt); err != nil {
			return nil, points.Unavailable(err, "scan ledger entry")
		}
		e.AccountKind = points.AccountKind(kind)
		e.Reason = points.EntryReason(reason)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, points.Unavailable(rows.Err(), "iterate ledger entries")
}

// --- catalog -----------------------------------------------------------------

func (q *queries) PutReward(ctx context.Context, r points.Reward) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rewards (id, title, description, points_required)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			points_required = excluded.points_required`,
		r.ID, r.Title, r.Description, r.PointsRequired,
	)
	return points.Unavailable(err, "put reward")
}

func (q *queries) GetReward(ctx context.Context, id string) (points.Reward, error) {
	var r points.Reward
	err := q.db.QueryRowContext(ctx,
		`SELECT id, title, description, points_required FROM rewards WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Description, &r.PointsRequired)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Reward{}, errors.Wrapf(points.ErrRewardNotFound, "reward %s", id)
	}
	if err != nil {
		return points.Reward{}, points.Unavailable(err, "get reward")
	}
	return r, nil
}

func (q *queries) ListRewards(ctx context.Context) ([]points.Reward, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, title, description, points_required FROM rewards
		ORDER BY points_required, id`)
	if err != nil {
		return nil, points.Unavailable(err, "list rewards")
	}
	defer rows.Close()

	var out []points.Reward
	for rows.Next() {
		var r points.Reward
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.PointsRequired); err != nil {
			return nil, points.Unavailable(err, "scan reward")
		}
		out = append(out, r)
	}
	return out, points.Unavailable(rows.Err(), "iterate rewards")
}

// --- pickups -----------------------------------------------------------------

const pickupColumns = `id, requested_by, role, item, weight, address, status, created_at`

func (q *queries) InsertPickup(ctx context.Context, p points.Pickup) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pickups (`+pickupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RequestedBy, string(p.Role), p.Item, p.Weight.String(), p.Address,
		string(p.Status), formatTime(p.CreatedAt),
	)
	return points.Unavailable(err, "insert pickup")
}

func (q *queries) ListPickups(ctx context.Context) ([]points.Pickup, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+pickupColumns+` FROM pickups
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, points.Unavailable(err, "list pickups")
	}
	defer rows.Close()

	var out []points.Pickup
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, points.Unavailable(err, "scan pickup")
		}
		out = append(out, p)
	}
	return out, points.Unavailable(rows.Err(), "iterate pickups")
}

func (q *queries) UpdatePickupStatus(ctx context.Context, id string, status points.PickupStatus) (points.Pickup, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE pickups SET status = ? WHERE id = ?
		RETURNING `+pickupColumns, string(status), id)
	p, err := scanPickup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Pickup{}, errors.Wrapf(points.ErrPickupNotFound, "pickup %s", id)
	}
	if err != nil {
		return points.Pickup{}, points.Unavailable(err, "update pickup")
	}
	return p, nil
}

func scanPickup(row scanner) (points.Pickup, error) {
	var (
		p         points.Pickup
		role      string
		weight    string
		status    string
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.RequestedBy, &role, &p.Item, &weight, &p.Address, &status, &createdAt); err != nil {
		return points.Pickup{}, err
	}
	var err error
	if p.Weight, err = decimal.NewFromString(weight); err != nil {
		return points.Pickup{}, errors.Wrapf(err, "pickup %s weight", p.ID)
	}
	p.Role = points.AccountKind(role)
	p.Status = points.PickupStatus(status)
	p.CreatedAt, err = parseTime(createdAt)
	return p, err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
