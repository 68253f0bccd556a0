package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// PRINCIPAL - Authenticated caller carried in the request context
// =============================================================================

const tokenCookie = "jwt"

type principalKey struct{}

// Principal is the caller identified by a valid token.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Role     market.Role
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller, or nil for anonymous requests.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// authenticate attaches a Principal when the request carries a valid token
// in the jwt cookie or an Authorization bearer header. Invalid tokens are
// treated as anonymous; requireAuth decides whether that is acceptable.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := h.Tokens.ParseToken(raw)
		if err != nil {
			h.Log.Debug().Err(err).Msg("ignoring invalid token")
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(claims.UserID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		p := &Principal{UserID: id, Username: claims.Username, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(tokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFrom(r.Context()) == nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "Authentication required",
				Code:  string(market.KindUnauthorized),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole allows the request through only for the listed roles.
func requireRole(roles ...market.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error: "Authentication required",
					Code:  string(market.KindUnauthorized),
				})
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Access Denied", Code: "FORBIDDEN"})
		})
	}
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Register creates a customer account.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if errs := validateRegister(req); !errs.empty() {
		writeFieldErrors(w, errs)
		return
	}

	user, err := h.Accounts.Register(r.Context(), market.Registration{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		PhoneNumber:     req.PhoneNumber,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok(toUserDTO(user), "User registered successfully"))
}

// Login verifies credentials and issues a token, both in the body and as
// an httpOnly cookie.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if errs := validateLogin(req); !errs.empty() {
		writeFieldErrors(w, errs)
		return
	}

	user, err := h.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	token, err := h.Tokens.GenerateToken(user)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	maxAge := int(h.Tokens.TTL().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	h.Log.Info().Str("user", user.Username).Msg("user logged in")
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, MaxAge: maxAge})
}

// Logout clears the token cookie.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}
