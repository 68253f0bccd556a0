/*
types.go - Core domain types for the voucher market

PURPOSE:
  Defines the records the engine reads and writes: users (accounts with a
  wallet balance), vouchers (purchasable travel packages with a status
  lifecycle) and ledger entries (the append-only journal of balance moves).

KEY CONCEPTS:
  Money:         decimal.Decimal everywhere. No float64 ever touches a balance.
  VoucherStatus: REGISTERED → PAID → CANCELLATION_REQUESTED → CANCELED/PAID,
                 CANCELED → REGISTERED. See lifecycle.go.
  Ownership:     Voucher.UserID is set only while PAID or CANCELLATION_REQUESTED.
  Hot vouchers:  Sorted first in the catalog, purchasable only by active users.

ENUM STORAGE:
  All enums are strings so they round-trip through JSON and SQL unchanged.

SEE ALSO:
  - lifecycle.go: Status transitions
  - ledger.go: Balance mutations
  - date.go: Day-granularity dates used for arrival/eviction
*/
package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleManager:
		return true
	}
	return false
}

// =============================================================================
// VOUCHER CLASSIFICATION
// =============================================================================

type TourType string

const (
	TourHealth    TourType = "HEALTH"
	TourSports    TourType = "SPORTS"
	TourLeisure   TourType = "LEISURE"
	TourSafari    TourType = "SAFARI"
	TourWine      TourType = "WINE"
	TourEco       TourType = "ECO"
	TourAdventure TourType = "ADVENTURE"
	TourCultural  TourType = "CULTURAL"
)

var tourTypes = []TourType{
	TourHealth, TourSports, TourLeisure, TourSafari,
	TourWine, TourEco, TourAdventure, TourCultural,
}

func (t TourType) Valid() bool {
	for _, v := range tourTypes {
		if v == t {
			return true
		}
	}
	return false
}

type TransferType string

const (
	TransferBus            TransferType = "BUS"
	TransferTrain          TransferType = "TRAIN"
	TransferPlane          TransferType = "PLANE"
	TransferShip           TransferType = "SHIP"
	TransferPrivateCar     TransferType = "PRIVATE_CAR"
	TransferJeeps          TransferType = "JEEPS"
	TransferMinibus        TransferType = "MINIBUS"
	TransferElectricalCars TransferType = "ELECTRICAL_CARS"
)

var transferTypes = []TransferType{
	TransferBus, TransferTrain, TransferPlane, TransferShip,
	TransferPrivateCar, TransferJeeps, TransferMinibus, TransferElectricalCars,
}

func (t TransferType) Valid() bool {
	for _, v := range transferTypes {
		if v == t {
			return true
		}
	}
	return false
}

type HotelType string

const (
	HotelOneStar    HotelType = "ONE_STAR"
	HotelTwoStars   HotelType = "TWO_STARS"
	HotelThreeStars HotelType = "THREE_STARS"
	HotelFourStars  HotelType = "FOUR_STARS"
	HotelFiveStars  HotelType = "FIVE_STARS"
)

var hotelTypes = []HotelType{
	HotelOneStar, HotelTwoStars, HotelThreeStars, HotelFourStars, HotelFiveStars,
}

func (t HotelType) Valid() bool {
	for _, v := range hotelTypes {
		if v == t {
			return true
		}
	}
	return false
}

// =============================================================================
// VOUCHER STATUS
// =============================================================================

type VoucherStatus string

const (
	StatusRegistered            VoucherStatus = "REGISTERED"
	StatusPaid                  VoucherStatus = "PAID"
	StatusCancellationRequested VoucherStatus = "CANCELLATION_REQUESTED"
	StatusCanceled              VoucherStatus = "CANCELED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []VoucherStatus{
	StatusRegistered, StatusPaid, StatusCancellationRequested, StatusCanceled,
}

func (s VoucherStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Owned reports whether a voucher in this status must carry an owner.
func (s VoucherStatus) Owned() bool {
	return s == StatusPaid || s == StatusCancellationRequested
}

// =============================================================================
// USER
// =============================================================================

// User is an account with a wallet balance.
// PasswordHash is a bcrypt hash and must never be serialized or logged.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Email        string
	FirstName    string
	LastName     string
	PhoneNumber  string
	Role         Role
	Balance      decimal.Decimal
	Active       bool
}

// CanAfford reports whether the balance covers amount.
func (u *User) CanAfford(amount decimal.Decimal) bool {
	return u.Balance.Cmp(amount) >= 0
}

// =============================================================================
// VOUCHER
// =============================================================================

type Voucher struct {
	ID           uuid.UUID
	Title        string
	Description  string
	Price        decimal.Decimal
	TourType     TourType
	TransferType TransferType
	HotelType    HotelType
	Status       VoucherStatus
	ArrivalDate  Date
	EvictionDate Date
	IsHot        bool

	// Owner. Set only while PAID or CANCELLATION_REQUESTED.
	UserID *uuid.UUID
	// OwnerUsername is resolved by the store on read and ignored on write.
	OwnerUsername string

	// Set only while CANCELLATION_REQUESTED.
	CancellationReason      *string
	CancellationRequestedAt *time.Time
}

// OwnedBy reports whether the voucher currently belongs to userID.
func (v *Voucher) OwnedBy(userID uuid.UUID) bool {
	return v.UserID != nil && *v.UserID == userID
}

func (v *Voucher) clearOwner() {
	v.UserID = nil
	v.OwnerUsername = ""
}

func (v *Voucher) clearCancellation() {
	v.CancellationReason = nil
	v.CancellationRequestedAt = nil
}

// =============================================================================
// LEDGER ENTRY - Append-only journal of balance changes
// =============================================================================

type EntryKind string

const (
	EntryDeposit    EntryKind = "DEPOSIT"
	EntryWithdrawal EntryKind = "WITHDRAWAL"
	EntryPurchase   EntryKind = "PURCHASE"
	EntryRefund     EntryKind = "REFUND"
)

// LedgerEntry records one balance change. Amount is signed: credits are
// positive, debits negative. Entries are never updated or deleted.
type LedgerEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Kind         EntryKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	VoucherID    *uuid.UUID
	CreatedAt    time.Time
}
