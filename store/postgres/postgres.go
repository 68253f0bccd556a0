/*
Package postgres provides a PostgreSQL-backed implementation of market.TxStore.

PURPOSE:
  Production store for deployments that run more than one server process.
  Isolation comes from row locks instead of a process-wide mutex.

LOCKING:
  Inside WithTx every GetVoucher/GetUser read is SELECT ... FOR UPDATE, so
  two orders for the same voucher queue on the row and the second one sees
  status PAID. Engines always lock the voucher before the user.

MIGRATIONS:
  Embedded goose migrations (migrations/*.sql) run on New().

SEE ALSO:
  - store/sqlite: Single-process store with the same semantics
  - store/sqlbuild: Voucher query translation
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/store/sqlbuild"
)

const uniqueViolationCode = "23505"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store implements market.TxStore using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to dsn, applies migrations and returns a ready store.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize a connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping the DB: %w", err)
	}

	return &Store{pool: pool, log: log}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db error: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect error: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose run migrations error: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset removes all data (dev/demo only).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE ledger_entries, vouchers, users`)
	return err
}

// WithTx runs fn in a READ COMMITTED transaction with locking reads.
func (s *Store) WithTx(ctx context.Context, fn func(store market.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start a transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Error().Err(err).Msg("rollback failed")
		}
	}()

	if err := fn(queries{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) read() queries {
	return queries{q: s.pool}
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*market.User, error) {
	return s.read().GetUser(ctx, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*market.User, error) {
	return s.read().GetUserByUsername(ctx, username)
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.read().ExistsByUsername(ctx, username)
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.read().ExistsByEmail(ctx, email)
}

func (s *Store) SaveUser(ctx context.Context, u market.User) error {
	return s.read().SaveUser(ctx, u)
}

func (s *Store) ListUsers(ctx context.Context) ([]market.User, error) {
	return s.read().ListUsers(ctx)
}

func (s *Store) GetVoucher(ctx context.Context, id uuid.UUID) (*market.Voucher, error) {
	return s.read().GetVoucher(ctx, id)
}

func (s *Store) SaveVoucher(ctx context.Context, v market.Voucher) error {
	return s.read().SaveVoucher(ctx, v)
}

func (s *Store) DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.read().DeleteVoucher(ctx, id)
}

func (s *Store) FindVouchers(ctx context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	return s.read().FindVouchers(ctx, q)
}

func (s *Store) CountVouchersByStatus(ctx context.Context) (map[market.VoucherStatus]int, error) {
	return s.read().CountVouchersByStatus(ctx)
}

func (s *Store) AppendEntry(ctx context.Context, e market.LedgerEntry) error {
	return s.read().AppendEntry(ctx, e)
}

func (s *Store) EntriesByUser(ctx context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	return s.read().EntriesByUser(ctx, userID)
}

// =============================================================================
// QUERIES - Shared by the pool and transactions
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements market.Store. lock adds FOR UPDATE to single-row reads.
type queries struct {
	q    querier
	lock bool
}

func (qs queries) forUpdate(of string) string {
	if !qs.lock {
		return ""
	}
	if of == "" {
		return " FOR UPDATE"
	}
	return " FOR UPDATE OF " + of
}

const userColumns = `id, username, password_hash, email, first_name, last_name, phone_number, role, balance::text, active`

func (qs queries) GetUser(ctx context.Context, id uuid.UUID) (*market.User, error) {
	row := qs.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`+qs.forUpdate(""), id)
	return scanUser(row)
}

func (qs queries) GetUserByUsername(ctx context.Context, username string) (*market.User, error) {
	row := qs.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`+qs.forUpdate(""), username)
	return scanUser(row)
}

func (qs queries) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := qs.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

func (qs queries) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := qs.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func (qs queries) SaveUser(ctx context.Context, u market.User) error {
	const query = `
		INSERT INTO users (id, username, password_hash, email, first_name, last_name, phone_number, role, balance, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone_number = EXCLUDED.phone_number,
			role = EXCLUDED.role,
			balance = EXCLUDED.balance,
			active = EXCLUDED.active`

	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	_, err := qs.q.Exec(ctx, query,
		u.ID, u.Username, u.PasswordHash, email, u.FirstName, u.LastName,
		u.PhoneNumber, string(u.Role), u.Balance.String(), u.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return market.ErrDuplicateEmail
			}
			return market.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (qs queries) ListUsers(ctx context.Context) ([]market.User, error) {
	rows, err := qs.q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
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
	SELECT v.id, v.title, v.description, v.price::text, v.tour_type, v.transfer_type, v.hotel_type,
	       v.status, v.arrival_date, v.eviction_date, v.user_id, u.username, v.is_hot,
	       v.cancellation_reason, v.cancellation_requested_at
	FROM vouchers v
	LEFT JOIN users u ON u.id = v.user_id`

func (qs queries) GetVoucher(ctx context.Context, id uuid.UUID) (*market.Voucher, error) {
	row := qs.q.QueryRow(ctx, voucherSelect+` WHERE v.id = $1`+qs.forUpdate("v"), id)
	v, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (qs queries) SaveVoucher(ctx context.Context, v market.Voucher) error {
	const query = `
		INSERT INTO vouchers (id, title, description, price, tour_type, transfer_type, hotel_type,
			status, arrival_date, eviction_date, user_id, is_hot, cancellation_reason, cancellation_requested_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			tour_type = EXCLUDED.tour_type,
			transfer_type = EXCLUDED.transfer_type,
			hotel_type = EXCLUDED.hotel_type,
			status = EXCLUDED.status,
			arrival_date = EXCLUDED.arrival_date,
			eviction_date = EXCLUDED.eviction_date,
			user_id = EXCLUDED.user_id,
			is_hot = EXCLUDED.is_hot,
			cancellation_reason = EXCLUDED.cancellation_reason,
			cancellation_requested_at = EXCLUDED.cancellation_requested_at`

	_, err := qs.q.Exec(ctx, query,
		v.ID, v.Title, v.Description, v.Price.String(),
		string(v.TourType), string(v.TransferType), string(v.HotelType), string(v.Status),
		v.ArrivalDate.Time, v.EvictionDate.Time, v.UserID, v.IsHot,
		v.CancellationReason, v.CancellationRequestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	return nil
}

func (qs queries) DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := qs.q.Exec(ctx, `DELETE FROM vouchers WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete voucher: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (qs queries) FindVouchers(ctx context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	c := sqlbuild.Build(q, sqlbuild.Postgres)

	var total int
	countQuery := `SELECT COUNT(*) FROM vouchers v LEFT JOIN users u ON u.id = v.user_id ` + c.Where
	if err := qs.q.QueryRow(ctx, countQuery, c.Args...).Scan(&total); err != nil {
		return market.VoucherPage{}, fmt.Errorf("failed to count vouchers: %w", err)
	}

	rows, err := qs.q.Query(ctx, strings.Join([]string{voucherSelect, c.Where, c.OrderBy, c.Limit}, " "), c.Args...)
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
	rows, err := qs.q.Query(ctx, `SELECT status, COUNT(*) FROM vouchers GROUP BY status`)
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
	_, err := qs.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, voucher_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)`,
		e.ID, e.UserID, string(e.Kind), e.Amount.String(), e.BalanceAfter.String(), e.VoucherID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (qs queries) EntriesByUser(ctx context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	rows, err := qs.q.Query(ctx, `
		SELECT id, user_id, kind, amount::text, balance_after::text, voucher_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []market.LedgerEntry{}
	for rows.Next() {
		var (
			e                   market.LedgerEntry
			kind, amount, after string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &amount, &after, &e.VoucherID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = market.EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

func scanUser(row pgx.Row) (*market.User, error) {
	var (
		u             market.User
		role, balance string
		email         *string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &role, &balance, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan a user row: %w", err)
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance for user %s: %w", u.ID, err)
	}
	if email != nil {
		u.Email = *email
	}
	u.Role = market.Role(role)
	return &u, nil
}

func scanVoucher(row pgx.Row) (*market.Voucher, error) {
	var (
		v                            market.Voucher
		price, tour, transfer, hotel string
		status                       string
		arrival, eviction            time.Time
		owner                        *string
		requestedAt                  *time.Time
	)
	err := row.Scan(&v.ID, &v.Title, &v.Description, &price, &tour, &transfer, &hotel,
		&status, &arrival, &eviction, &v.UserID, &owner, &v.IsHot,
		&v.CancellationReason, &requestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan a voucher row: %w", err)
	}

	if v.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price for voucher %s: %w", v.ID, err)
	}
	v.TourType = market.TourType(tour)
	v.TransferType = market.TransferType(transfer)
	v.HotelType = market.HotelType(hotel)
	v.Status = market.VoucherStatus(status)
	v.ArrivalDate = market.DateOf(arrival)
	v.EvictionDate = market.DateOf(eviction)
	if owner != nil {
		v.OwnerUsername = *owner
	}
	if requestedAt != nil {
		t := requestedAt.UTC()
		v.CancellationRequestedAt = &t
	}
	return &v, nil
}
