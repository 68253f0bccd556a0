/*
handlers.go - HTTP API handlers for the voucher market

PURPOSE:
  Exposes the market engines via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to the market package.

ENDPOINTS:
  Auth (auth.go):
    POST   /api/auth/register              Create customer account
    POST   /api/auth/login                 Issue JWT (body + jwt cookie)
    POST   /api/auth/logout                Clear jwt cookie

  Users (users.go):
    GET    /api/users/me                   Current profile
    PATCH  /api/users/me                   Partial profile update
    POST   /api/users/me/password          Change password
    GET    /api/users/me/transactions      Ledger history, newest first
    POST   /api/users/deposit              Card deposit
    POST   /api/users/withdraw             Card withdrawal
    GET    /api/users/all                  All users (ADMIN)
    PATCH  /api/users/{id}/active          Toggle active flag (ADMIN)

  Vouchers (vouchers.go):
    GET    /api/vouchers/catalog           Public paged catalog
    GET    /api/vouchers/my                Caller's vouchers
    GET    /api/vouchers/{id}              Single voucher
    POST   /api/vouchers/order/{id}        Buy
    PATCH  /api/vouchers/{id}/cancel       Request cancellation (owner)
    ...plus ADMIN/MANAGER management routes, see server.go

  Scenarios (scenarios.go):
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Reset and load a scenario
    POST   /api/scenarios/reset            Reset the store

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (also used for reset and health)
  - Accounts, Ledger, Vouchers, Catalog: market engines
  - Tokens: JWT issue/parse

REQUEST FLOW:
  1. Parse HTTP request (path params, query, JSON body)
  2. Validate input shape (validate.go)
  3. Call the engine
  4. Convert to DTO and serialize
  5. Map errors with writeDomainError

ERROR HANDLING:
  market.KindOf decides the status:
  - 400: Validation errors, invalid ids
  - 401: Bad credentials, missing token
  - 403: Role check failed
  - 404: Resource not found
  - 409: Business rule violation, duplicate username/email
  - 500: Internal errors (logged; the client sees a generic message)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/warp/voucher-market/auth"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from a storage backend.
type Store interface {
	market.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Accounts *market.Accounts
	Ledger   *market.AccountLedger
	Vouchers *market.VoucherEngine
	Catalog  *market.Catalog
	Tokens   *auth.TokenMaker
	Log      zerolog.Logger

	// SecureCookies marks the jwt cookie Secure (production only).
	SecureCookies bool

	// AfterReset runs after the store is wiped, e.g. to re-create the admin.
	AfterReset func(ctx context.Context) error

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engines over store with metrics and logging enabled.
func NewHandler(store Store, tokens *auth.TokenMaker, hasher market.PasswordHasher, log zerolog.Logger) *Handler {
	accounts := market.NewAccounts(store, hasher)
	accounts.Log = log.With().Str("component", "accounts").Logger()

	ledger := market.NewAccountLedger(store)
	ledger.Recorder = metrics.Recorder{}
	ledger.Log = log.With().Str("component", "ledger").Logger()

	vouchers := market.NewVoucherEngine(store)
	vouchers.Recorder = metrics.Recorder{}
	vouchers.Log = log.With().Str("component", "vouchers").Logger()

	return &Handler{
		Store:    store,
		Accounts: accounts,
		Ledger:   ledger,
		Vouchers: vouchers,
		Catalog:  market.NewCatalog(store),
		Tokens:   tokens,
		Log:      log,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Log.Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message, Details: details}
	writeJSON(w, status, resp)
}

func writeFieldErrors(w http.ResponseWriter, errs fieldErrors) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Code:    string(market.KindValidation),
		Details: errs,
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind market.ErrorKind) int {
	switch kind {
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindInvalidID, market.KindValidation:
		return http.StatusBadRequest
	case market.KindBusinessRule, market.KindConflict:
		return http.StatusConflict
	case market.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps a market error to a response. Infrastructure
// failures are logged and answered with a generic message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := market.KindOf(err)
	if kind == market.KindInfrastructure {
		h.Log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal server error",
			Code:  string(kind),
		})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: string(kind)}
	var ve *market.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		resp.Details = map[string]string{ve.Field: ve.Message}
	}
	writeJSON(w, statusFor(kind), resp)
}

// decodeJSON reads the request body into dst. An empty body leaves dst
// untouched so optional bodies keep their defaults.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
