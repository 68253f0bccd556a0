package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
)

func TestDepositAndWithdraw(t *testing.T) {
	// GIVEN: A customer with 100 deposited
	s := newTestServer(t)
	token := s.registerCustomer("alice")
	s.deposit(token, "100.50")

	// WHEN: Withdrawing part of it
	rec := s.do(http.MethodPost, "/api/users/withdraw", token, map[string]string{
		"amount":     "40.25",
		"cardNumber": "4111111111111111",
	})

	// THEN: The balance reflects both moves
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDecimal(t, "60.25", decodeResults[UserDTO](t, rec).Balance)

	// AND: The history lists them newest first
	rec = s.do(http.MethodGet, "/api/users/me/transactions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeResults[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, market.EntryWithdrawal, entries[0].Kind)
	assertDecimal(t, "-40.25", entries[0].Amount)
	assertDecimal(t, "60.25", entries[0].BalanceAfter)
	assert.Equal(t, market.EntryDeposit, entries[1].Kind)
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	token := s.registerCustomer("alice")
	s.deposit(token, "10")

	rec := s.do(http.MethodPost, "/api/users/withdraw", token, map[string]string{
		"amount":     "10.01",
		"cardNumber": "4111111111111111",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Insufficient balance", decodeBody[ErrorResponse](t, rec).Error)

	me := decodeResults[UserDTO](t, s.do(http.MethodGet, "/api/users/me", token, nil))
	assertDecimal(t, "10", me.Balance)
}

func TestDeposit_RejectsBadCard(t *testing.T) {
	s := newTestServer(t)
	token := s.registerCustomer("alice")

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"zero amount", map[string]any{"amount": "0", "cardNumber": "4111111111111111", "expiry": "12/99", "cvv": "123"}, market.ReasonAmountNotPositive},
		{"short card", map[string]any{"amount": "5", "cardNumber": "4111", "expiry": "12/99", "cvv": "123"}, market.ReasonInvalidCard},
		{"bad cvv", map[string]any{"amount": "5", "cardNumber": "4111111111111111", "expiry": "12/99", "cvv": "12"}, market.ReasonInvalidCVV},
		{"bad expiry", map[string]any{"amount": "5", "cardNumber": "4111111111111111", "expiry": "13/99", "cvv": "123"}, market.ReasonInvalidExpiry},
		{"expired", map[string]any{"amount": "5", "cardNumber": "4111111111111111", "expiry": "01/20", "cvv": "123"}, market.ReasonCardExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/users/deposit", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestUpdateMe_PartialUpdate(t *testing.T) {
	// GIVEN: Two customers
	s := newTestServer(t)
	token := s.registerCustomer("alice")
	s.registerCustomer("bob")

	// WHEN: Alice changes only her first name
	rec := s.do(http.MethodPatch, "/api/users/me", token, map[string]string{"firstName": "alicia"})

	// THEN: Other fields are kept
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decodeResults[UserDTO](t, rec)
	assert.Equal(t, "Alicia", user.FirstName)
	assert.Equal(t, "alice@example.com", user.Email)

	// AND: Taking bob's email conflicts regardless of case
	rec = s.do(http.MethodPatch, "/api/users/me", token, map[string]string{"email": "BOB@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: Malformed values are rejected before reaching the store
	rec = s.do(http.MethodPatch, "/api/users/me", token, map[string]string{"phoneNumber": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.registerCustomer("alice")

	rec := s.do(http.MethodPost, "/api/users/me/password", token, UpdatePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "newpass", ConfirmPassword: "newpass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password is invalid", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/users/me/password", token, UpdatePasswordRequest{
		CurrentPassword: testPassword, NewPassword: "newpass", ConfirmPassword: "newpass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.login("alice", "newpass")
}

func TestChangeUserActive(t *testing.T) {
	// GIVEN: A customer and the admin
	s := newTestServer(t)
	token := s.registerCustomer("alice")
	me := decodeResults[UserDTO](t, s.do(http.MethodGet, "/api/users/me", token, nil))
	admin := s.adminToken()

	// WHEN: Deactivating
	rec := s.do(http.MethodPatch, "/api/users/"+me.ID+"/active", admin, ActiveRequest{Active: boolPtr(false)})

	// THEN: The user is inactive
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeResults[UserDTO](t, rec).Active)

	// AND: An empty body re-activates
	rec = s.do(http.MethodPatch, "/api/users/"+me.ID+"/active", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResults[UserDTO](t, rec).Active)

	// AND: Bad ids are distinguished from missing ones
	rec = s.do(http.MethodPatch, "/api/users/not-a-uuid/active", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPatch, "/api/users/00000000-0000-0000-0000-000000000001/active", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUsers_NeverExposesHashes(t *testing.T) {
	s := newTestServer(t)
	s.registerCustomer("alice")

	rec := s.do(http.MethodGet, "/api/users/all", s.adminToken(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeResults[[]UserDTO](t, rec)
	assert.Len(t, users, 2)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func boolPtr(b bool) *bool { return &b }
