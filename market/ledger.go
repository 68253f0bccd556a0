/*
ledger.go - Account ledger: wallet deposits and withdrawals

PURPOSE:
  Owns every change to User.Balance that is not a voucher purchase or
  refund. Each change is written together with a LedgerEntry in a single
  store transaction, so the journal always explains the balance.

INVARIANT:
  balance >= 0 at all times. Withdrawals larger than the balance are
  rejected before anything is written.

VALIDATION ORDER (deposit):
  user exists → amount > 0 → 16-digit card → 3-digit CVV → MM/YY format →
  not expired. The first failing check wins.

CONCURRENCY:
  The user row is read and written inside WithTx. Stores serialize
  transactions on the same row, so a deposit racing a purchase never loses
  either update.

SEE ALSO:
  - card.go: Card and amount checks
  - lifecycle.go: PURCHASE and REFUND entries
*/
package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountLedger handles wallet deposits and withdrawals.
type AccountLedger struct {
	Store    TxStore
	Now      func() time.Time
	Recorder Recorder
	Log      zerolog.Logger
}

// NewAccountLedger creates a ledger with a wall clock, no metrics and no logs.
func NewAccountLedger(store TxStore) *AccountLedger {
	return &AccountLedger{
		Store:    store,
		Now:      time.Now,
		Recorder: NopRecorder{},
		Log:      zerolog.Nop(),
	}
}

// Deposit credits amount to the user's balance after validating the card.
func (l *AccountLedger) Deposit(ctx context.Context, username string, amount decimal.Decimal, cardNumber, expiry, cvv string) (*User, error) {
	now := l.Now()

	var result *User
	err := l.Store.WithTx(ctx, func(tx Store) error {
		user, err := loadUserByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := ValidateDeposit(amount, cardNumber, expiry, cvv, now); err != nil {
			return err
		}

		user.Balance = user.Balance.Add(amount)
		if err := tx.SaveUser(ctx, *user); err != nil {
			return err
		}
		if err := appendEntry(ctx, tx, user, EntryDeposit, amount, nil, now); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		l.Recorder.Rejected("deposit", KindOf(err))
		return nil, err
	}

	l.Recorder.Movement(EntryDeposit, amount)
	l.Log.Info().
		Str("user", username).
		Str("amount", amount.String()).
		Str("balance", result.Balance.String()).
		Msg("deposit")
	return result, nil
}

// Withdraw debits amount from the user's balance.
func (l *AccountLedger) Withdraw(ctx context.Context, username string, amount decimal.Decimal, cardNumber string) (*User, error) {
	now := l.Now()

	var result *User
	err := l.Store.WithTx(ctx, func(tx Store) error {
		user, err := loadUserByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := ValidateWithdrawal(amount, cardNumber); err != nil {
			return err
		}
		if !user.CanAfford(amount) {
			return &InsufficientBalanceError{
				Username:  username,
				Available: user.Balance,
				Requested: amount,
			}
		}

		user.Balance = user.Balance.Sub(amount)
		if err := tx.SaveUser(ctx, *user); err != nil {
			return err
		}
		if err := appendEntry(ctx, tx, user, EntryWithdrawal, amount.Neg(), nil, now); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		l.Recorder.Rejected("withdraw", KindOf(err))
		return nil, err
	}

	l.Recorder.Movement(EntryWithdrawal, amount)
	l.Log.Info().
		Str("user", username).
		Str("amount", amount.String()).
		Str("balance", result.Balance.String()).
		Msg("withdrawal")
	return result, nil
}

// History returns the user's ledger entries, newest first.
func (l *AccountLedger) History(ctx context.Context, username string) ([]LedgerEntry, error) {
	user, err := loadUserByUsername(ctx, l.Store, username)
	if err != nil {
		return nil, err
	}
	return l.Store.EntriesByUser(ctx, user.ID)
}

// =============================================================================
// HELPERS shared by the engines
// =============================================================================

func appendEntry(ctx context.Context, tx Store, user *User, kind EntryKind, delta decimal.Decimal, voucherID *uuid.UUID, at time.Time) error {
	return tx.AppendEntry(ctx, LedgerEntry{
		ID:           uuid.New(),
		UserID:       user.ID,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: user.Balance,
		VoucherID:    voucherID,
		CreatedAt:    at.UTC(),
	})
}

func loadUserByUsername(ctx context.Context, s UserStore, username string) (*User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userNotFound(username)
	}
	return user, nil
}

func loadUser(ctx context.Context, s UserStore, id uuid.UUID) (*User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userNotFound(id.String())
	}
	return user, nil
}

func loadVoucher(ctx context.Context, s VoucherStore, id uuid.UUID) (*Voucher, error) {
	v, err := s.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, voucherNotFound(id.String())
	}
	return v, nil
}

// ParseID parses a UUID, returning *InvalidIDError on failure.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &InvalidIDError{Value: s}
	}
	return id, nil
}
