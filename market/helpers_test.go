package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/market/store"
)

var testNow = time.Date(2030, time.March, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type testEnv struct {
	ctx      context.Context
	store    *store.Memory
	ledger   *market.AccountLedger
	vouchers *market.VoucherEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemory()
	return newTestEnvWith(t, s, s)
}

func newTestEnvWith(t *testing.T, mem *store.Memory, tx market.TxStore) *testEnv {
	t.Helper()
	ledger := market.NewAccountLedger(tx)
	ledger.Now = clock
	vouchers := market.NewVoucherEngine(tx)
	vouchers.Now = clock
	return &testEnv{ctx: context.Background(), store: mem, ledger: ledger, vouchers: vouchers}
}

func (e *testEnv) user(t *testing.T, username string, balance int64) market.User {
	t.Helper()
	u := market.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "hash",
		Email:        username + "@example.com",
		Role:         market.RoleCustomer,
		Balance:      decimal.NewFromInt(balance),
		Active:       true,
	}
	require.NoError(t, e.store.SaveUser(e.ctx, u))
	return u
}

func (e *testEnv) voucher(t *testing.T, title string, price int64) market.Voucher {
	t.Helper()
	v, err := e.vouchers.Create(e.ctx, market.VoucherSpec{
		Title:        title,
		Description:  title + " trip",
		Price:        decimal.NewFromInt(price),
		TourType:     market.TourLeisure,
		TransferType: market.TransferPlane,
		HotelType:    market.HotelFourStars,
		ArrivalDate:  market.NewDate(2030, time.June, 1),
		EvictionDate: market.NewDate(2030, time.June, 10),
	})
	require.NoError(t, err)
	return *v
}

func (e *testEnv) reloadUser(t *testing.T, id uuid.UUID) market.User {
	t.Helper()
	u, err := e.store.GetUser(e.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return *u
}

func (e *testEnv) reloadVoucher(t *testing.T, id uuid.UUID) market.Voucher {
	t.Helper()
	v, err := e.store.GetVoucher(e.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return *v
}

// order buys v for u and fails the test on error.
func (e *testEnv) order(t *testing.T, v market.Voucher, u market.User) {
	t.Helper()
	_, err := e.vouchers.Order(e.ctx, v.ID.String(), u.ID.String())
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

// =============================================================================
// MOCKS
// =============================================================================

// recorderMock captures engine events.
type recorderMock struct {
	mock.Mock
}

func (m *recorderMock) Transition(from, to market.VoucherStatus) { m.Called(from, to) }
func (m *recorderMock) Movement(kind market.EntryKind, amount decimal.Decimal) {
	m.Called(kind, amount.String())
}
func (m *recorderMock) Rejected(op string, kind market.ErrorKind) { m.Called(op, kind) }

// storeMock is a TxStore whose behaviour is scripted per test. WithTx runs
// fn against the mock itself.
type storeMock struct {
	mock.Mock
}

func (m *storeMock) WithTx(ctx context.Context, fn func(market.Store) error) error {
	return fn(m)
}

func (m *storeMock) GetUser(ctx context.Context, id uuid.UUID) (*market.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*market.User)
	return u, args.Error(1)
}

func (m *storeMock) GetUserByUsername(ctx context.Context, username string) (*market.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*market.User)
	return u, args.Error(1)
}

func (m *storeMock) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *storeMock) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *storeMock) SaveUser(ctx context.Context, u market.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *storeMock) ListUsers(ctx context.Context) ([]market.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]market.User)
	return users, args.Error(1)
}

func (m *storeMock) GetVoucher(ctx context.Context, id uuid.UUID) (*market.Voucher, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*market.Voucher)
	return v, args.Error(1)
}

func (m *storeMock) SaveVoucher(ctx context.Context, v market.Voucher) error {
	return m.Called(ctx, v).Error(0)
}

func (m *storeMock) DeleteVoucher(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *storeMock) FindVouchers(ctx context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	args := m.Called(ctx, q)
	page, _ := args.Get(0).(market.VoucherPage)
	return page, args.Error(1)
}

func (m *storeMock) CountVouchersByStatus(ctx context.Context) (map[market.VoucherStatus]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[market.VoucherStatus]int)
	return counts, args.Error(1)
}

func (m *storeMock) AppendEntry(ctx context.Context, e market.LedgerEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *storeMock) EntriesByUser(ctx context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	args := m.Called(ctx, userID)
	entries, _ := args.Get(0).([]market.LedgerEntry)
	return entries, args.Error(1)
}
