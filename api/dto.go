/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types never
  reach the wire directly; every response goes through a to*DTO converter
  so password hashes and internal fields stay out of responses.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

ENVELOPE:
  Most endpoints wrap their payload in APIResponse:
    {"results": ..., "statusCode": "OK", "statusMessage": "..."}
  Errors use ErrorResponse instead.

MONEY:
  Amounts are shopspring decimals. They serialize as JSON strings ("125.5")
  and accept either strings or numbers on input.

VALIDATION:
  Done in validate.go and in the market package, not in DTOs.

SEE ALSO:
  - validate.go: Field checks for request types
  - handlers.go: writeJSON / writeError
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// APIResponse wraps successful payloads.
type APIResponse struct {
	Results       any    `json:"results,omitempty"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

func ok(results any, message string) APIResponse {
	return APIResponse{Results: results, StatusCode: "OK", StatusMessage: message}
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// MessageResponse is a body with only a message.
type MessageResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// AUTH
// =============================================================================

type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Email           string `json:"email"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	PhoneNumber     string `json:"phoneNumber"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token  string `json:"token"`
	MaxAge int    `json:"maxAge"`
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user in API responses. It has no password field.
type UserDTO struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	Email       string          `json:"email,omitempty"`
	FirstName   string          `json:"firstName"`
	LastName    string          `json:"lastName"`
	Role        market.Role     `json:"role"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	Active      bool            `json:"active"`
}

// UpdateUserRequest is a partial profile update; absent fields are kept.
type UpdateUserRequest struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type DepositRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	CardNumber string          `json:"cardNumber"`
	Expiry     string          `json:"expiry"`
	CVV        string          `json:"cvv"`
}

type WithdrawRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	CardNumber string          `json:"cardNumber"`
}

// ActiveRequest toggles a user's active flag. A missing value means true.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// LedgerEntryDTO is one line of a user's balance history.
type LedgerEntryDTO struct {
	ID           string           `json:"id"`
	Kind         market.EntryKind `json:"kind"`
	Amount       decimal.Decimal  `json:"amount"`
	BalanceAfter decimal.Decimal  `json:"balanceAfter"`
	VoucherID    *string          `json:"voucherId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// =============================================================================
// VOUCHERS
// =============================================================================

// VoucherDTO represents a voucher in API responses.
type VoucherDTO struct {
	ID                      string              `json:"id"`
	Title                   string              `json:"title"`
	Description             string              `json:"description"`
	Price                   decimal.Decimal     `json:"price"`
	TourType                market.TourType     `json:"tourType"`
	TransferType            market.TransferType `json:"transferType"`
	HotelType               market.HotelType    `json:"hotelType"`
	Status                  market.VoucherStatus `json:"status"`
	ArrivalDate             market.Date         `json:"arrivalDate"`
	EvictionDate            market.Date         `json:"evictionDate"`
	UserID                  *string             `json:"userId"`
	UserName                *string             `json:"userName"`
	IsHot                   bool                `json:"isHot"`
	CancellationReason      *string             `json:"cancellationReason"`
	CancellationRequestedAt *time.Time          `json:"cancellationRequestedAt"`
}

// VoucherRequest is the body of create and update calls. On update, absent
// fields are kept; Status and IsHot are honored on create only.
type VoucherRequest struct {
	Title        *string               `json:"title"`
	Description  *string               `json:"description"`
	Price        *decimal.Decimal      `json:"price"`
	TourType     *market.TourType      `json:"tourType"`
	TransferType *market.TransferType  `json:"transferType"`
	HotelType    *market.HotelType     `json:"hotelType"`
	Status       *market.VoucherStatus `json:"status"`
	ArrivalDate  *market.Date          `json:"arrivalDate"`
	EvictionDate *market.Date          `json:"evictionDate"`
	IsHot        *bool                 `json:"isHot"`
}

type HotStatusRequest struct {
	IsHot *bool `json:"isHot"`
}

type CancellationRequest struct {
	Reason string `json:"reason"`
}

type DecisionRequest struct {
	Approved bool `json:"approved"`
}

// CatalogResponse is one page of the customer catalog.
type CatalogResponse struct {
	Vouchers      []VoucherDTO `json:"vouchers"`
	CurrentPage   int          `json:"currentPage"`
	TotalPages    int          `json:"totalPages"`
	TotalElements int          `json:"totalElements"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u *market.User) UserDTO {
	return UserDTO{
		ID:          u.ID.String(),
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		PhoneNumber: u.PhoneNumber,
		Balance:     u.Balance,
		Active:      u.Active,
	}
}

func toUserDTOs(users []market.User) []UserDTO {
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	return dtos
}

func toVoucherDTO(v *market.Voucher) VoucherDTO {
	dto := VoucherDTO{
		ID:                      v.ID.String(),
		Title:                   v.Title,
		Description:             v.Description,
		Price:                   v.Price,
		TourType:                v.TourType,
		TransferType:            v.TransferType,
		HotelType:               v.HotelType,
		Status:                  v.Status,
		ArrivalDate:             v.ArrivalDate,
		EvictionDate:            v.EvictionDate,
		IsHot:                   v.IsHot,
		CancellationReason:      v.CancellationReason,
		CancellationRequestedAt: v.CancellationRequestedAt,
	}
	if v.UserID != nil {
		id := v.UserID.String()
		dto.UserID = &id
	}
	if v.OwnerUsername != "" {
		name := v.OwnerUsername
		dto.UserName = &name
	}
	return dto
}

func toVoucherDTOs(vs []market.Voucher) []VoucherDTO {
	dtos := make([]VoucherDTO, len(vs))
	for i := range vs {
		dtos[i] = toVoucherDTO(&vs[i])
	}
	return dtos
}

func toCatalogResponse(p market.VoucherPage) CatalogResponse {
	return CatalogResponse{
		Vouchers:      toVoucherDTOs(p.Items),
		CurrentPage:   p.Page,
		TotalPages:    p.TotalPages,
		TotalElements: p.TotalElements,
	}
}

func toLedgerEntryDTOs(entries []market.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:           e.ID.String(),
			Kind:         e.Kind,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		}
		if e.VoucherID != nil {
			id := e.VoucherID.String()
			dtos[i].VoucherID = &id
		}
	}
	return dtos
}

func (r VoucherRequest) spec() market.VoucherSpec {
	spec := market.VoucherSpec{Status: r.Status, IsHot: r.IsHot}
	if r.Title != nil {
		spec.Title = *r.Title
	}
	if r.Description != nil {
		spec.Description = *r.Description
	}
	if r.Price != nil {
		spec.Price = *r.Price
	}
	if r.TourType != nil {
		spec.TourType = *r.TourType
	}
	if r.TransferType != nil {
		spec.TransferType = *r.TransferType
	}
	if r.HotelType != nil {
		spec.HotelType = *r.HotelType
	}
	if r.ArrivalDate != nil {
		spec.ArrivalDate = *r.ArrivalDate
	}
	if r.EvictionDate != nil {
		spec.EvictionDate = *r.EvictionDate
	}
	return spec
}

func (r VoucherRequest) patch() market.VoucherPatch {
	return market.VoucherPatch{
		Title:        r.Title,
		Description:  r.Description,
		Price:        r.Price,
		TourType:     r.TourType,
		TransferType: r.TransferType,
		HotelType:    r.HotelType,
		ArrivalDate:  r.ArrivalDate,
		EvictionDate: r.EvictionDate,
	}
}
