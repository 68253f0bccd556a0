package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// GetMe returns the caller's profile.
// GET /api/users/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	user, err := h.Accounts.GetByUsername(r.Context(), p.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toUserDTO(user), "User profile"))
}

// UpdateMe applies a partial profile update.
// PATCH /api/users/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if errs := validateUpdateUser(req); !errs.empty() {
		writeFieldErrors(w, errs)
		return
	}

	p := PrincipalFrom(r.Context())
	user, err := h.Accounts.UpdateProfile(r.Context(), p.Username, market.ProfilePatch{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toUserDTO(user), "User successfully updated"))
}

// ChangePassword replaces the caller's password.
// POST /api/users/me/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if errs := validatePasswordChange(req); !errs.empty() {
		writeFieldErrors(w, errs)
		return
	}

	p := PrincipalFrom(r.Context())
	if err := h.Accounts.ChangePassword(r.Context(), p.Username, req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil, "Password successfully changed"))
}

// MyTransactions returns the caller's ledger, newest first.
// GET /api/users/me/transactions
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	entries, err := h.Ledger.History(r.Context(), p.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toLedgerEntryDTOs(entries), "Transaction history"))
}

// Deposit credits the caller's balance from a card.
// POST /api/users/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	p := PrincipalFrom(r.Context())
	user, err := h.Ledger.Deposit(r.Context(), p.Username, req.Amount, req.CardNumber, req.Expiry, req.CVV)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toUserDTO(user), "Balance successfully topped up"))
}

// Withdraw debits the caller's balance to a card.
// POST /api/users/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	p := PrincipalFrom(r.Context())
	user, err := h.Ledger.Withdraw(r.Context(), p.Username, req.Amount, req.CardNumber)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toUserDTO(user), "Funds successfully withdrawn"))
}

// ListUsers returns every account.
// GET /api/users/all
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toUserDTOs(users), "All users"))
}

// ChangeUserActive toggles a user's active flag. A missing body activates.
// PATCH /api/users/{id}/active
func (h *Handler) ChangeUserActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	user, err := h.Accounts.ChangeUserActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	message := "User deactivated"
	if active {
		message = "User activated"
	}
	writeJSON(w, http.StatusOK, ok(toUserDTO(user), message))
}
