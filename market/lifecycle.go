/*
lifecycle.go - Voucher lifecycle state machine

PURPOSE:
  Governs every change to a voucher's status, owner and cancellation
  fields, and couples the money movement (debit on order, credit on refund)
  to the transition inside one store transaction.

STATE MACHINE:
  ┌────────────┐  order   ┌──────┐  request   ┌────────────────────────┐
  │ REGISTERED │ ───────▶ │ PAID │ ─────────▶ │ CANCELLATION_REQUESTED │
  └────────────┘          └──────┘            └────────────────────────┘
        ▲                     ▲   reject               │
        │                     └────────────────────────┤
        │ reregister                                   │ approve (refund)
        │                 ┌──────────┐                 │
        └──────────────── │ CANCELED │ ◀───────────────┘
                          └──────────┘

  REGISTERED and CANCELED carry no owner. No state is terminal.

ORDER CHECKS (first failure wins):
  voucher exists → user exists → hot voucher needs an active user →
  status is REGISTERED → balance covers the price.

CONCURRENCY:
  Each transition runs inside WithTx. Two customers racing for the same
  voucher are serialized by the store; the loser re-reads status PAID and
  fails with "Voucher cannot be ordered".

AUTHORIZATION:
  Role checks happen in the HTTP layer before these calls. Ownership is
  checked here (RequestCancellation) because it depends on the locked row.

SEE ALSO:
  - ledger.go: Deposit/withdraw and the shared entry helpers
  - catalog.go: Read side for customers
*/
package market

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Rule violation messages returned in VoucherOrderError.Reason.
const (
	ReasonHotInactive         = "Inactive users cannot order HOT vouchers"
	ReasonNotOrderable        = "Voucher cannot be ordered"
	ReasonInsufficientBalance = "Insufficient balance"
	ReasonNotOwner            = "You may only request cancellation for your own voucher"
	ReasonNotCancellable      = "Voucher cannot be cancelled in its current status"
	ReasonNotAwaiting         = "Voucher is not awaiting cancellation"
	ReasonNotCanceled         = "Voucher is not in CANCELED status"
)

// =============================================================================
// INPUTS
// =============================================================================

// VoucherSpec describes a new voucher. Status and IsHot are optional.
type VoucherSpec struct {
	Title        string
	Description  string
	Price        decimal.Decimal
	TourType     TourType
	TransferType TransferType
	HotelType    HotelType
	ArrivalDate  Date
	EvictionDate Date
	Status       *VoucherStatus
	IsHot        *bool
}

// VoucherPatch carries a partial update. Nil fields are left untouched.
type VoucherPatch struct {
	Title        *string
	Description  *string
	Price        *decimal.Decimal
	TourType     *TourType
	TransferType *TransferType
	HotelType    *HotelType
	ArrivalDate  *Date
	EvictionDate *Date
}

// =============================================================================
// ENGINE
// =============================================================================

// VoucherEngine applies lifecycle transitions.
type VoucherEngine struct {
	Store    TxStore
	Now      func() time.Time
	Recorder Recorder
	Log      zerolog.Logger
}

// NewVoucherEngine creates an engine with a wall clock, no metrics and no logs.
func NewVoucherEngine(store TxStore) *VoucherEngine {
	return &VoucherEngine{
		Store:    store,
		Now:      time.Now,
		Recorder: NopRecorder{},
		Log:      zerolog.Nop(),
	}
}

// Create persists a new voucher.
func (e *VoucherEngine) Create(ctx context.Context, spec VoucherSpec) (*Voucher, error) {
	if err := validateSpec(spec); err != nil {
		e.Recorder.Rejected("create", KindOf(err))
		return nil, err
	}

	v := Voucher{
		ID:           uuid.New(),
		Title:        spec.Title,
		Description:  spec.Description,
		Price:        spec.Price,
		TourType:     spec.TourType,
		TransferType: spec.TransferType,
		HotelType:    spec.HotelType,
		ArrivalDate:  spec.ArrivalDate,
		EvictionDate: spec.EvictionDate,
		Status:       StatusRegistered,
	}
	if spec.Status != nil {
		v.Status = *spec.Status
	}
	if spec.IsHot != nil {
		v.IsHot = *spec.IsHot
	}

	if err := e.Store.SaveVoucher(ctx, v); err != nil {
		e.Recorder.Rejected("create", KindOf(err))
		return nil, err
	}
	e.committed(&v, "", "create", "")
	return &v, nil
}

// Order sells a REGISTERED voucher to the user, debiting the price.
func (e *VoucherEngine) Order(ctx context.Context, voucherID, userID string) (*Voucher, error) {
	vid, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}
	uid, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	now := e.Now()

	var (
		result *Voucher
		buyer  string
	)
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, vid)
		if err != nil {
			return err
		}
		user, err := loadUser(ctx, tx, uid)
		if err != nil {
			return err
		}

		if v.IsHot && !user.Active {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonHotInactive}
		}
		if v.Status != StatusRegistered {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonNotOrderable}
		}
		if !user.CanAfford(v.Price) {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonInsufficientBalance}
		}

		user.Balance = user.Balance.Sub(v.Price)
		v.UserID = &user.ID
		v.OwnerUsername = user.Username
		v.Status = StatusPaid

		if err := tx.SaveUser(ctx, *user); err != nil {
			return err
		}
		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		if err := appendEntry(ctx, tx, user, EntryPurchase, v.Price.Neg(), &v.ID, now); err != nil {
			return err
		}
		result = v
		buyer = user.Username
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("order", KindOf(err))
		return nil, err
	}

	e.Recorder.Movement(EntryPurchase, result.Price)
	e.committed(result, StatusRegistered, "order", buyer)
	return result, nil
}

// Update applies the non-nil fields of patch.
func (e *VoucherEngine) Update(ctx context.Context, voucherID string, patch VoucherPatch) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}

	var result *Voucher
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := applyPatch(v, patch); err != nil {
			return err
		}
		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("update", KindOf(err))
		return nil, err
	}
	return result, nil
}

// Delete removes a voucher permanently.
func (e *VoucherEngine) Delete(ctx context.Context, voucherID string) error {
	id, err := ParseID(voucherID)
	if err != nil {
		return err
	}
	existed, err := e.Store.DeleteVoucher(ctx, id)
	if err == nil && !existed {
		err = voucherNotFound(voucherID)
	}
	if err != nil {
		e.Recorder.Rejected("delete", KindOf(err))
		return err
	}
	e.Log.Info().Str("voucher", voucherID).Msg("delete")
	return nil
}

// ChangeHotStatus sets the hot flag and nothing else.
func (e *VoucherEngine) ChangeHotStatus(ctx context.Context, voucherID string, isHot bool) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}

	var result *Voucher
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		v.IsHot = isHot
		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("change_hot_status", KindOf(err))
		return nil, err
	}

	e.Log.Info().Str("voucher", voucherID).Bool("hot", isHot).Msg("change_hot_status")
	return result, nil
}

// RequestCancellation lets the owner of a PAID voucher ask for a refund.
func (e *VoucherEngine) RequestCancellation(ctx context.Context, voucherID, username, reason string) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}
	now := e.Now().UTC()

	var result *Voucher
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		if v.UserID == nil || v.OwnerUsername != username {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonNotOwner}
		}
		if v.Status != StatusPaid {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonNotCancellable}
		}

		v.Status = StatusCancellationRequested
		v.CancellationReason = &reason
		v.CancellationRequestedAt = &now
		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("request_cancellation", KindOf(err))
		return nil, err
	}

	e.committed(result, StatusPaid, "request_cancellation", username)
	return result, nil
}

// DecideCancellation resolves a pending cancellation. Approval refunds the
// owner and releases the voucher; rejection returns it to PAID.
func (e *VoucherEngine) DecideCancellation(ctx context.Context, voucherID string, approve bool, adminUsername string) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}
	now := e.Now()

	var (
		result   *Voucher
		refunded bool
	)
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		if v.Status != StatusCancellationRequested {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonNotAwaiting}
		}

		if approve {
			if v.UserID != nil {
				owner, err := loadUser(ctx, tx, *v.UserID)
				if err != nil {
					return err
				}
				owner.Balance = owner.Balance.Add(v.Price)
				if err := tx.SaveUser(ctx, *owner); err != nil {
					return err
				}
				if err := appendEntry(ctx, tx, owner, EntryRefund, v.Price, &v.ID, now); err != nil {
					return err
				}
				refunded = true
			}
			v.clearOwner()
			v.Status = StatusCanceled
		} else {
			v.Status = StatusPaid
		}
		v.clearCancellation()

		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("decide_cancellation", KindOf(err))
		return nil, err
	}

	if refunded {
		e.Recorder.Movement(EntryRefund, result.Price)
	}
	e.committed(result, StatusCancellationRequested, "decide_cancellation", adminUsername)
	return result, nil
}

// ReregisterVoucher puts a CANCELED voucher back on sale.
func (e *VoucherEngine) ReregisterVoucher(ctx context.Context, voucherID, adminUsername string) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}

	var result *Voucher
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v, err := loadVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		if v.Status != StatusCanceled {
			return &VoucherOrderError{VoucherID: voucherID, Reason: ReasonNotCanceled}
		}

		v.Status = StatusRegistered
		v.clearOwner()
		v.clearCancellation()
		if err := tx.SaveVoucher(ctx, *v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		e.Recorder.Rejected("reregister", KindOf(err))
		return nil, err
	}

	e.committed(result, StatusCanceled, "reregister", adminUsername)
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

// FindByID returns one voucher.
func (e *VoucherEngine) FindByID(ctx context.Context, voucherID string) (*Voucher, error) {
	id, err := ParseID(voucherID)
	if err != nil {
		return nil, err
	}
	return loadVoucher(ctx, e.Store, id)
}

// FindAll returns every voucher, by title.
func (e *VoucherEngine) FindAll(ctx context.Context) ([]Voucher, error) {
	return e.findUnpaged(ctx, VoucherQuery{})
}

// FindMyVouchers returns the vouchers currently owned by username.
func (e *VoucherEngine) FindMyVouchers(ctx context.Context, username string) ([]Voucher, error) {
	return e.findUnpaged(ctx, VoucherQuery{OwnerUsername: username})
}

// FindCanceled returns the vouchers waiting for re-registration.
func (e *VoucherEngine) FindCanceled(ctx context.Context) ([]Voucher, error) {
	return e.findUnpaged(ctx, VoucherQuery{Statuses: []VoucherStatus{StatusCanceled}})
}

// Find runs an arbitrary store query (admin listing by type, price, owner, status).
func (e *VoucherEngine) Find(ctx context.Context, q VoucherQuery) (VoucherPage, error) {
	return e.Store.FindVouchers(ctx, q)
}

func (e *VoucherEngine) findUnpaged(ctx context.Context, q VoucherQuery) ([]Voucher, error) {
	q.Sort = Sort{Field: SortTitle, Direction: Asc}
	page, err := e.Store.FindVouchers(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *VoucherEngine) committed(v *Voucher, from VoucherStatus, op, actor string) {
	e.Recorder.Transition(from, v.Status)
	e.Log.Info().
		Str("voucher", v.ID.String()).
		Str("from", string(from)).
		Str("to", string(v.Status)).
		Str("actor", actor).
		Msg(op)
}

func validateSpec(spec VoucherSpec) error {
	switch {
	case strings.TrimSpace(spec.Title) == "":
		return &ValidationError{Field: "title", Message: "Title cannot be empty"}
	case strings.TrimSpace(spec.Description) == "":
		return &ValidationError{Field: "description", Message: "Description cannot be empty"}
	case !spec.Price.IsPositive():
		return &ValidationError{Field: "price", Message: "Price must be positive"}
	case !IsCents(spec.Price):
		return &ValidationError{Field: "price", Message: "Price must have at most 2 decimal places"}
	case !spec.TourType.Valid():
		return &ValidationError{Field: "tourType", Message: "Tour type is required"}
	case !spec.TransferType.Valid():
		return &ValidationError{Field: "transferType", Message: "Transfer type is required"}
	case !spec.HotelType.Valid():
		return &ValidationError{Field: "hotelType", Message: "Hotel type is required"}
	case spec.ArrivalDate.IsZero():
		return &ValidationError{Field: "arrivalDate", Message: "Arrival date is required"}
	case spec.EvictionDate.IsZero():
		return &ValidationError{Field: "evictionDate", Message: "Eviction date is required"}
	case !spec.EvictionDate.After(spec.ArrivalDate):
		return &InvalidDatesError{Arrival: spec.ArrivalDate, Eviction: spec.EvictionDate}
	}
	if spec.Status != nil && *spec.Status != StatusRegistered && *spec.Status != StatusCanceled {
		return &ValidationError{Field: "status", Message: "New vouchers must be REGISTERED or CANCELED"}
	}
	return nil
}

// applyPatch validates patch against v and applies it. v is untouched on error.
func applyPatch(v *Voucher, p VoucherPatch) error {
	arrival, eviction := v.ArrivalDate, v.EvictionDate
	if p.ArrivalDate != nil && !p.ArrivalDate.IsZero() {
		arrival = *p.ArrivalDate
	}
	if p.EvictionDate != nil && !p.EvictionDate.IsZero() {
		eviction = *p.EvictionDate
	}
	if !eviction.After(arrival) {
		return &InvalidDatesError{Arrival: arrival, Eviction: eviction}
	}

	switch {
	case p.Title != nil && strings.TrimSpace(*p.Title) == "":
		return &ValidationError{Field: "title", Message: "Title cannot be empty"}
	case p.Description != nil && strings.TrimSpace(*p.Description) == "":
		return &ValidationError{Field: "description", Message: "Description cannot be empty"}
	case p.Price != nil && !p.Price.IsPositive():
		return &ValidationError{Field: "price", Message: "Price must be positive"}
	case p.Price != nil && !IsCents(*p.Price):
		return &ValidationError{Field: "price", Message: "Price must have at most 2 decimal places"}
	case p.TourType != nil && !p.TourType.Valid():
		return &ValidationError{Field: "tourType", Message: "Unknown tour type"}
	case p.TransferType != nil && !p.TransferType.Valid():
		return &ValidationError{Field: "transferType", Message: "Unknown transfer type"}
	case p.HotelType != nil && !p.HotelType.Valid():
		return &ValidationError{Field: "hotelType", Message: "Unknown hotel type"}
	}

	if p.Title != nil {
		v.Title = *p.Title
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	if p.Price != nil {
		v.Price = *p.Price
	}
	if p.TourType != nil {
		v.TourType = *p.TourType
	}
	if p.TransferType != nil {
		v.TransferType = *p.TransferType
	}
	if p.HotelType != nil {
		v.HotelType = *p.HotelType
	}
	v.ArrivalDate = arrival
	v.EvictionDate = eviction
	return nil
}
