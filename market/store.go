/*
store.go - Persistence interfaces for users, vouchers and the balance journal

PURPOSE:
  Defines the boundary between the engines and the database. Engines only
  talk to these interfaces; the memory, sqlite and postgres stores implement
  them.

KEY INTERFACES:
  UserStore:    Account records (lookup by id/username, uniqueness checks)
  VoucherStore: Voucher records and filtered, paged queries
  LedgerStore:  Append-only journal of balance changes
  TxStore:      Runs a function against a transactional view of the Store

MISSING ROWS:
  Lookups return (nil, nil) when the row does not exist. Engines turn that
  into NotFoundError; stores never invent domain errors.

ATOMICITY:
  Every mutating engine operation runs inside WithTx. The view passed to fn
  reads and writes inside one transaction; if fn returns an error nothing is
  persisted. Implementations must serialize concurrent transactions touching
  the same voucher or user row (store mutex, or SELECT ... FOR UPDATE).

IMPLEMENTATIONS:
  - market/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: Default persistent store
  - store/postgres/postgres.go: Row-locking store for multi-process deployments

SEE ALSO:
  - query.go: VoucherQuery passed to FindVouchers
*/
package market

import (
	"context"

	"github.com/google/uuid"
)

// UserStore persists accounts.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// ExistsByEmail compares case-insensitively.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// SaveUser inserts or replaces the user with the same ID.
	SaveUser(ctx context.Context, u User) error

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]User, error)
}

// VoucherStore persists vouchers.
type VoucherStore interface {
	GetVoucher(ctx context.Context, id uuid.UUID) (*Voucher, error)

	// SaveVoucher inserts or replaces the voucher with the same ID.
	// OwnerUsername is ignored.
	SaveVoucher(ctx context.Context, v Voucher) error

	// DeleteVoucher removes the voucher. Returns false if it did not exist.
	DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error)

	// FindVouchers returns one page of vouchers matching q, ordered by q.
	FindVouchers(ctx context.Context, q VoucherQuery) (VoucherPage, error)

	// CountVouchersByStatus returns the number of vouchers per status.
	CountVouchersByStatus(ctx context.Context) (map[VoucherStatus]int, error)
}

// LedgerStore persists the balance journal. APPEND-ONLY.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// EntriesByUser returns the user's entries, newest first.
	EntriesByUser(ctx context.Context, userID uuid.UUID) ([]LedgerEntry, error)
}

// Store combines every persistence capability the engines need.
type Store interface {
	UserStore
	VoucherStore
	LedgerStore
}

// TxStore extends Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
