package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/auth"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/store/sqlite"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAdmin    = "admin"
	testPassword = "secret1"
)

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	hasher auth.BcryptHasher
}

// newTestServer wires the full router over an in-memory sqlite store with
// a bootstrap admin.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	h := NewHandler(store, auth.NewTokenMaker("test-secret", time.Hour), hasher, zerolog.Nop())
	h.AfterReset = func(ctx context.Context) error {
		_, err := h.Accounts.EnsureAdmin(ctx, testAdmin, testPassword)
		return err
	}
	require.NoError(t, h.AfterReset(context.Background()))

	return &testServer{
		t:      t,
		h:      h,
		router: NewRouter(h, []string{"*"}),
		hasher: hasher,
	}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[LoginResponse](s.t, rec)
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func (s *testServer) adminToken() string {
	return s.login(testAdmin, testPassword)
}

// registerCustomer signs a customer up and returns a token for them.
func (s *testServer) registerCustomer(username string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Username:        username,
		Password:        testPassword,
		ConfirmPassword: testPassword,
		Email:           username + "@example.com",
		FirstName:       "Test",
		LastName:        "Customer",
		PhoneNumber:     "+380501234567",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return s.login(username, testPassword)
}

// seedUser stores a user with an arbitrary role and returns a token.
func (s *testServer) seedUser(username string, role market.Role) string {
	s.t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	require.NoError(s.t, err)
	require.NoError(s.t, s.h.Store.SaveUser(context.Background(), market.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Balance:      decimal.Zero,
		Active:       true,
	}))
	return s.login(username, testPassword)
}

func (s *testServer) deposit(token string, amount string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/users/deposit", token, map[string]string{
		"amount":     amount,
		"cardNumber": "4111111111111111",
		"expiry":     "12/99",
		"cvv":        "123",
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func voucherBody(title, price string) map[string]any {
	return map[string]any{
		"title":        title,
		"description":  title + " package",
		"price":        price,
		"tourType":     "LEISURE",
		"transferType": "PLANE",
		"hotelType":    "FOUR_STARS",
		"arrivalDate":  "2031-06-01",
		"evictionDate": "2031-06-08",
	}
}

func (s *testServer) createVoucher(adminToken, title, price string) VoucherDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/vouchers/create", adminToken, voucherBody(title, price))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeResults[VoucherDTO](s.t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type envelope[T any] struct {
	Results       T      `json:"results"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

func decodeResults[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	env := decodeBody[envelope[T]](t, rec)
	assert.Equal(t, "OK", env.StatusCode)
	return env.Results
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}
