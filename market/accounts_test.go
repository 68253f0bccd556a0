package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/market/store"
)

// plainHasher stores passwords with a prefix so tests can read them back.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

func newTestAccounts(t *testing.T) (*market.Accounts, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	return market.NewAccounts(s, plainHasher{}), s
}

func registration(username string) market.Registration {
	return market.Registration{
		Username:        username,
		Password:        "secret1",
		ConfirmPassword: "secret1",
		Email:           username + "@example.com",
		FirstName:       "aLIce",
		LastName:        "smith",
		PhoneNumber:     "+380501234567",
	}
}

func TestRegister(t *testing.T) {
	accounts, _ := newTestAccounts(t)

	u, err := accounts.Register(context.Background(), registration("alice"))

	require.NoError(t, err)
	assert.Equal(t, "Alice", u.FirstName)
	assert.Equal(t, "Smith", u.LastName)
	assert.Equal(t, market.RoleCustomer, u.Role)
	assert.True(t, u.Active)
	assert.True(t, u.Balance.IsZero())
	assert.Equal(t, "plain:secret1", u.PasswordHash)
}

func TestRegister_Conflicts(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(context.Background(), registration("alice"))
	require.NoError(t, err)

	_, err = accounts.Register(context.Background(), registration("alice"))
	assert.ErrorIs(t, err, market.ErrDuplicateUsername)
	assert.Equal(t, market.KindConflict, market.KindOf(err))

	r := registration("alice2")
	r.Email = "ALICE@example.com"
	_, err = accounts.Register(context.Background(), r)
	assert.ErrorIs(t, err, market.ErrDuplicateEmail)

	r = registration("bob")
	r.ConfirmPassword = "other"
	_, err = accounts.Register(context.Background(), r)
	assert.ErrorIs(t, err, market.ErrPasswordMismatch)
	assert.Equal(t, market.KindValidation, market.KindOf(err))
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	accounts, s := newTestAccounts(t)

	first, err := accounts.EnsureAdmin(context.Background(), "admin", "secret1")
	require.NoError(t, err)
	second, err := accounts.EnsureAdmin(context.Background(), "admin", "changed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, market.RoleAdmin, second.Role)
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = accounts.Authenticate(context.Background(), "admin", "secret1")
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(context.Background(), registration("alice"))
	require.NoError(t, err)

	u, err := accounts.Authenticate(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = accounts.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, market.ErrInvalidCredentials)
	_, err = accounts.Authenticate(context.Background(), "ghost", "secret1")
	assert.ErrorIs(t, err, market.ErrInvalidCredentials)
	assert.Equal(t, market.KindUnauthorized, market.KindOf(err))
}

func TestChangeUserActive(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	u, err := accounts.Register(context.Background(), registration("alice"))
	require.NoError(t, err)

	off, err := accounts.ChangeUserActive(context.Background(), u.ID.String(), false)
	require.NoError(t, err)
	assert.False(t, off.Active)

	again, err := accounts.ChangeUserActive(context.Background(), u.ID.String(), false)
	require.NoError(t, err)
	assert.False(t, again.Active)

	_, err = accounts.ChangeUserActive(context.Background(), "bad", true)
	assert.ErrorIs(t, err, market.ErrInvalidID)
	_, err = accounts.ChangeUserActive(context.Background(), "8a1c3f1e-0000-4000-8000-000000000000", true)
	assert.ErrorIs(t, err, market.ErrUserNotFound)
}

func TestUpdateProfile(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(context.Background(), registration("alice"))
	require.NoError(t, err)
	_, err = accounts.Register(context.Background(), registration("bob"))
	require.NoError(t, err)

	first := "ALICIA"
	phone := "+380931112233"
	empty := ""
	u, err := accounts.UpdateProfile(context.Background(), "alice", market.ProfilePatch{FirstName: &first, PhoneNumber: &phone, Password: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", u.FirstName)
	assert.Equal(t, "Smith", u.LastName)
	assert.Equal(t, phone, u.PhoneNumber)
	assert.Equal(t, "plain:secret1", u.PasswordHash, "empty password is ignored")

	sameEmail := "Alice@Example.com"
	_, err = accounts.UpdateProfile(context.Background(), "alice", market.ProfilePatch{Email: &sameEmail})
	assert.NoError(t, err, "own email in another case is not a conflict")

	taken := "bob@example.com"
	_, err = accounts.UpdateProfile(context.Background(), "alice", market.ProfilePatch{Email: &taken})
	assert.ErrorIs(t, err, market.ErrDuplicateEmail)

	_, err = accounts.UpdateProfile(context.Background(), "ghost", market.ProfilePatch{FirstName: &first})
	assert.ErrorIs(t, err, market.ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	_, err := accounts.Register(context.Background(), registration("alice"))
	require.NoError(t, err)

	err = accounts.ChangePassword(context.Background(), "alice", "secret1", "newpass", "other")
	assert.ErrorIs(t, err, market.ErrPasswordMismatch)

	err = accounts.ChangePassword(context.Background(), "alice", "wrong", "newpass", "newpass")
	assert.ErrorIs(t, err, market.ErrWrongPassword)

	require.NoError(t, accounts.ChangePassword(context.Background(), "alice", "secret1", "newpass", "newpass"))
	_, err = accounts.Authenticate(context.Background(), "alice", "newpass")
	assert.NoError(t, err)
}
