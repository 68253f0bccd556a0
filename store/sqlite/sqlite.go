/*
Package sqlite provides a SQLite-backed implementation of market.TxStore.

PURPOSE:
  Default persistent store. Users, vouchers and the balance journal live in
  one database file; every engine transaction maps to one sql.Tx.

KEY TABLES:
  users:          Accounts (unique username, unique case-insensitive email)
  vouchers:       Voucher records, nullable user_id → users.id
  ledger_entries: Append-only journal of balance changes

STORAGE FORMATS:
  - ids:       TEXT (canonical UUID)
  - money:     TEXT (decimal string, exact); compared as REAL in filters
  - dates:     TEXT YYYY-MM-DD
  - instants:  TEXT fixed-width UTC timestamp (sorts lexically)
  - enums:     TEXT

CONCURRENCY:
  One connection, guarded by sync.RWMutex. WithTx holds the write lock for
  the whole transaction, so two orders for the same voucher run one after
  the other and the second sees status PAID. For multi-process deployments
  use store/postgres (row locks) instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/vouchers.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := market.NewVoucherEngine(store)

MIGRATION:
  Schema is auto-migrated on New() with CREATE ... IF NOT EXISTS.

SEE ALSO:
  - market/store.go: Interface definitions
  - store/sqlbuild: Voucher query translation shared with postgres
  - market/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/store/sqlbuild"
)

// timeLayout is fixed-width so stored instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements market.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email TEXT,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users(LOWER(email)) WHERE email IS NOT NULL;

	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price TEXT NOT NULL,
		tour_type TEXT NOT NULL,
		transfer_type TEXT NOT NULL,
		hotel_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'REGISTERED',
		arrival_date TEXT NOT NULL,
		eviction_date TEXT NOT NULL,
		user_id TEXT REFERENCES users(id),
		is_hot INTEGER NOT NULL DEFAULT 0,
		cancellation_reason TEXT,
		cancellation_requested_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_status ON vouchers(status, is_hot);
	CREATE INDEX IF NOT EXISTS idx_vouchers_user ON vouchers(user_id);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		voucher_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset removes all data (dev/demo only).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "vouchers", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store market.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS - Outside a transaction
// =============================================================================

func (s *Store) read() queries {
	return queries{q: s.db}
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUser(ctx, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserByUsername(ctx, username)
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ExistsByUsername(ctx, username)
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ExistsByEmail(ctx, email)
}

func (s *Store) SaveUser(ctx context.Context, u market.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveUser(ctx, u)
}

func (s *Store) ListUsers(ctx context.Context) ([]market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListUsers(ctx)
}

func (s *Store) GetVoucher(ctx context.Context, id uuid.UUID) (*market.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetVoucher(ctx, id)
}

func (s *Store) SaveVoucher(ctx context.Context, v market.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveVoucher(ctx, v)
}

func (s *Store) DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteVoucher(ctx, id)
}

func (s *Store) FindVouchers(ctx context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindVouchers(ctx, q)
}

func (s *Store) CountVouchersByStatus(ctx context.Context) (map[market.VoucherStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountVouchersByStatus(ctx)
}

func (s *Store) AppendEntry(ctx context.Context, e market.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AppendEntry(ctx, e)
}

func (s *Store) EntriesByUser(ctx context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().EntriesByUser(ctx, userID)
}

// =============================================================================
// QUERIES - Shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements market.Store on top of a querier.
type queries struct {
	q querier
}

const userColumns = `id, username, password_hash, email, first_name, last_name, phone_number, role, balance, active`

func (qs queries) GetUser(ctx context.Context, id uuid.UUID) (*market.User, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

func (qs queries) GetUserByUsername(ctx context.Context, username string) (*market.User, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (qs queries) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := qs.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

func (qs queries) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := qs.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER(?))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func (qs queries) SaveUser(ctx context.Context, u market.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			phone_number = excluded.phone_number,
			role = excluded.role,
			balance = excluded.balance,
			active = excluded.active
	`
	_, err := qs.q.ExecContext(ctx, query,
		u.ID.String(), u.Username, u.PasswordHash, nullString(u.Email),
		u.FirstName, u.LastName, u.PhoneNumber, string(u.Role),
		u.Balance.String(), u.Active,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (qs queries) ListUsers(ctx context.Context) ([]market.User, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []market.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const voucherSelect = `
	SELECT v.id, v.title, v.description, v.price, v.tour_type, v.transfer_type, v.hotel_type,
	       v.status, v.arrival_date, v.eviction_date, v.user_id, u.username, v.is_hot,
	       v.cancellation_reason, v.cancellation_requested_at
	FROM vouchers v
	LEFT JOIN users u ON u.id = v.user_id`

func (qs queries) GetVoucher(ctx context.Context, id uuid.UUID) (*market.Voucher, error) {
	rows, err := qs.q.QueryContext(ctx, voucherSelect+` WHERE v.id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanVoucher(rows)
}

func (qs queries) SaveVoucher(ctx context.Context, v market.Voucher) error {
	query := `
		INSERT INTO vouchers (id, title, description, price, tour_type, transfer_type, hotel_type,
			status, arrival_date, eviction_date, user_id, is_hot, cancellation_reason, cancellation_requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			price = excluded.price,
			tour_type = excluded.tour_type,
			transfer_type = excluded.transfer_type,
			hotel_type = excluded.hotel_type,
			status = excluded.status,
			arrival_date = excluded.arrival_date,
			eviction_date = excluded.eviction_date,
			user_id = excluded.user_id,
			is_hot = excluded.is_hot,
			cancellation_reason = excluded.cancellation_reason,
			cancellation_requested_at = excluded.cancellation_requested_at
	`
	var userID sql.NullString
	if v.UserID != nil {
		userID = nullString(v.UserID.String())
	}
	var reason sql.NullString
	if v.CancellationReason != nil {
		reason = sql.NullString{String: *v.CancellationReason, Valid: true}
	}
	var requestedAt sql.NullString
	if v.CancellationRequestedAt != nil {
		requestedAt = nullString(v.CancellationRequestedAt.UTC().Format(timeLayout))
	}

	_, err := qs.q.ExecContext(ctx, query,
		v.ID.String(), v.Title, v.Description, v.Price.String(),
		string(v.TourType), string(v.TransferType), string(v.HotelType), string(v.Status),
		v.ArrivalDate.String(), v.EvictionDate.String(), userID, v.IsHot, reason, requestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	return nil
}

func (qs queries) DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := qs.q.ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete voucher: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (qs queries) FindVouchers(ctx context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	c := sqlbuild.Build(q, sqlbuild.SQLite)

	var total int
	countQuery := `SELECT COUNT(*) FROM vouchers v LEFT JOIN users u ON u.id = v.user_id ` + c.Where
	if err := qs.q.QueryRowContext(ctx, countQuery, c.Args...).Scan(&total); err != nil {
		return market.VoucherPage{}, fmt.Errorf("failed to count vouchers: %w", err)
	}

	rows, err := qs.q.QueryContext(ctx, strings.Join([]string{voucherSelect, c.Where, c.OrderBy, c.Limit}, " "), c.Args...)
	if err != nil {
		return market.VoucherPage{}, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	items := []market.Voucher{}
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return market.VoucherPage{}, err
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return market.VoucherPage{}, err
	}
	return market.NewVoucherPage(items, q.Page, total), nil
}

func (qs queries) CountVouchersByStatus(ctx context.Context) (map[market.VoucherStatus]int, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM vouchers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count vouchers: %w", err)
	}
	defer rows.Close()

	counts := make(map[market.VoucherStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[market.VoucherStatus(status)] = n
	}
	return counts, rows.Err()
}

func (qs queries) AppendEntry(ctx context.Context, e market.LedgerEntry) error {
	var voucherID sql.NullString
	if e.VoucherID != nil {
		voucherID = nullString(e.VoucherID.String())
	}
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, voucher_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID.String(), string(e.Kind), e.Amount.String(),
		e.BalanceAfter.String(), voucherID, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (qs queries) EntriesByUser(ctx context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, balance_after, voucher_id, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []market.LedgerEntry{}
	for rows.Next() {
		var (
			id, uid, kind, amount, after, at string
			voucherID                        sql.NullString
		)
		if err := rows.Scan(&id, &uid, &kind, &amount, &after, &voucherID, &at); err != nil {
			return nil, err
		}
		e, err := decodeEntry(id, uid, kind, amount, after, voucherID, at)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func decodeEntry(id, uid, kind, amount, after string, voucherID sql.NullString, at string) (market.LedgerEntry, error) {
	var (
		e   = market.LedgerEntry{Kind: market.EntryKind(kind)}
		err error
	)
	if e.ID, err = uuid.Parse(id); err != nil {
		return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
	}
	if e.UserID, err = uuid.Parse(uid); err != nil {
		return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
	}
	if voucherID.Valid {
		vid, err := uuid.Parse(voucherID.String)
		if err != nil {
			return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
		}
		e.VoucherID = &vid
	}
	if e.CreatedAt, err = time.Parse(timeLayout, at); err != nil {
		return e, fmt.Errorf("corrupt ledger entry %s: %w", id, err)
	}
	return e, nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*market.User, error) {
	var (
		u                 market.User
		id, role, balance string
		email             sql.NullString
	)
	err := row.Scan(&id, &u.Username, &u.PasswordHash, &email, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &role, &balance, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance for user %s: %w", id, err)
	}
	u.Email = email.String
	u.Role = market.Role(role)
	return &u, nil
}

func scanVoucher(row scanner) (*market.Voucher, error) {
	var (
		v                                  market.Voucher
		id, price, tour, transfer, hotel   string
		status, arrival, eviction          string
		userID, owner, reason, requestedAt sql.NullString
	)
	err := row.Scan(&id, &v.Title, &v.Description, &price, &tour, &transfer, &hotel,
		&status, &arrival, &eviction, &userID, &owner, &v.IsHot, &reason, &requestedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan voucher: %w", err)
	}

	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt voucher id %q: %w", id, err)
	}
	if v.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price for voucher %s: %w", id, err)
	}
	if v.ArrivalDate, err = market.ParseDate(arrival); err != nil {
		return nil, err
	}
	if v.EvictionDate, err = market.ParseDate(eviction); err != nil {
		return nil, err
	}
	v.TourType = market.TourType(tour)
	v.TransferType = market.TransferType(transfer)
	v.HotelType = market.HotelType(hotel)
	v.Status = market.VoucherStatus(status)

	if userID.Valid {
		uid, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt owner for voucher %s: %w", id, err)
		}
		v.UserID = &uid
		v.OwnerUsername = owner.String
	}
	if reason.Valid {
		r := reason.String
		v.CancellationReason = &r
	}
	if requestedAt.Valid {
		t, err := time.Parse(timeLayout, requestedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt cancellation time for voucher %s: %w", id, err)
		}
		v.CancellationRequestedAt = &t
	}
	return &v, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// uniqueViolation maps a UNIQUE constraint failure on users to a domain error.
func uniqueViolation(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	if strings.Contains(se.Error(), "email") {
		return market.ErrDuplicateEmail
	}
	return market.ErrDuplicateUsername
}
