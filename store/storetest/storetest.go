/*
Package storetest holds the behaviour every market.TxStore must share.

USAGE:
  func TestStoreContract(t *testing.T) {
      storetest.Run(t, func(t *testing.T) market.TxStore {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }

Each subtest gets a fresh store from the factory.
*/
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
)

// Factory returns an empty store.
type Factory func(t *testing.T) market.TxStore

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s market.TxStore)
	}{
		{"UserRoundTrip", testUserRoundTrip},
		{"MissingRecordsAreNil", testMissingRecordsAreNil},
		{"DuplicateUsername", testDuplicateUsername},
		{"DuplicateEmailIgnoresCase", testDuplicateEmailIgnoresCase},
		{"ListUsersByUsername", testListUsersByUsername},
		{"VoucherRoundTrip", testVoucherRoundTrip},
		{"DeleteVoucher", testDeleteVoucher},
		{"FindVouchersFilters", testFindVouchersFilters},
		{"FindVouchersDescriptionIsLiteral", testFindVouchersDescriptionIsLiteral},
		{"FindVouchersOrderAndPaging", testFindVouchersOrderAndPaging},
		{"FindVouchersHugePageIndex", testFindVouchersHugePageIndex},
		{"CountVouchersByStatus", testCountVouchersByStatus},
		{"WithTxRollsBack", testWithTxRollsBack},
		{"EntriesNewestFirst", testEntriesNewestFirst},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

// User returns a valid customer with the given username and balance.
func User(username string, balance int64) market.User {
	return market.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "hash",
		Email:        username + "@example.com",
		FirstName:    "Test",
		LastName:     "User",
		Role:         market.RoleCustomer,
		Balance:      decimal.NewFromInt(balance),
		Active:       true,
	}
}

// Voucher returns a valid REGISTERED voucher.
func Voucher(title string, price int64) market.Voucher {
	return market.Voucher{
		ID:           uuid.New(),
		Title:        title,
		Description:  title + " trip",
		Price:        decimal.NewFromInt(price),
		TourType:     market.TourLeisure,
		TransferType: market.TransferPlane,
		HotelType:    market.HotelFourStars,
		Status:       market.StatusRegistered,
		ArrivalDate:  market.NewDate(2030, time.June, 1),
		EvictionDate: market.NewDate(2030, time.June, 10),
	}
}

func save(t *testing.T, s market.Store, vs ...market.Voucher) {
	t.Helper()
	for _, v := range vs {
		require.NoError(t, s.SaveVoucher(context.Background(), v))
	}
}

func titles(p market.VoucherPage) []string {
	out := make([]string, len(p.Items))
	for i, v := range p.Items {
		out[i] = v.Title
	}
	return out
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// =============================================================================
// USERS
// =============================================================================

func testUserRoundTrip(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	u := User("alice", 0)
	u.Balance = decimal.RequireFromString("125.50")
	u.PhoneNumber = "+123456789"
	require.NoError(t, s.SaveUser(ctx, u))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "+123456789", got.PhoneNumber)
	assert.True(t, got.Balance.Equal(u.Balance), "balance %s", got.Balance)
	assert.True(t, got.Active)

	// Upsert keeps the id and replaces fields
	u.Active = false
	u.Balance = decimal.NewFromInt(10)
	require.NoError(t, s.SaveUser(ctx, u))

	got, err = s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.Active)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))

	exists, err := s.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testMissingRecordsAreNil(t *testing.T, s market.TxStore) {
	ctx := context.Background()

	u, err := s.GetUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = s.GetUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	v, err := s.GetVoucher(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, v)

	exists, err := s.ExistsByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testDuplicateUsername(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, User("bob", 0)))

	dup := User("bob", 0)
	dup.Email = "other@example.com"
	err := s.SaveUser(ctx, dup)
	assert.True(t, errors.Is(err, market.ErrDuplicateUsername), "got %v", err)
}

func testDuplicateEmailIgnoresCase(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, User("carol", 0)))

	exists, err := s.ExistsByEmail(ctx, "CAROL@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := User("dave", 0)
	dup.Email = "Carol@Example.com"
	err = s.SaveUser(ctx, dup)
	assert.True(t, errors.Is(err, market.ErrDuplicateEmail), "got %v", err)

	// Accounts without email never collide
	a, b := User("erin", 0), User("frank", 0)
	a.Email, b.Email = "", ""
	require.NoError(t, s.SaveUser(ctx, a))
	require.NoError(t, s.SaveUser(ctx, b))
}

func testListUsersByUsername(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	for _, name := range []string{"zed", "amy", "mike"} {
		require.NoError(t, s.SaveUser(ctx, User(name, 0)))
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"amy", "mike", "zed"}, []string{users[0].Username, users[1].Username, users[2].Username})
}

// =============================================================================
// VOUCHERS
// =============================================================================

func testVoucherRoundTrip(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	owner := User("owner", 0)
	require.NoError(t, s.SaveUser(ctx, owner))

	v := Voucher("Alps", 0)
	v.Price = decimal.RequireFromString("999.99")
	v.IsHot = true
	v.Status = market.StatusCancellationRequested
	v.UserID = &owner.ID
	reason := "sick"
	at := time.Date(2030, 5, 1, 12, 30, 0, 0, time.UTC)
	v.CancellationReason = &reason
	v.CancellationRequestedAt = &at
	save(t, s, v)

	got, err := s.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alps", got.Title)
	assert.True(t, got.Price.Equal(v.Price), "price %s", got.Price)
	assert.True(t, got.IsHot)
	assert.Equal(t, market.StatusCancellationRequested, got.Status)
	assert.True(t, got.ArrivalDate.Equal(v.ArrivalDate))
	assert.True(t, got.EvictionDate.Equal(v.EvictionDate))
	require.NotNil(t, got.UserID)
	assert.Equal(t, owner.ID, *got.UserID)
	assert.Equal(t, "owner", got.OwnerUsername)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "sick", *got.CancellationReason)
	require.NotNil(t, got.CancellationRequestedAt)
	assert.True(t, got.CancellationRequestedAt.Equal(at))

	// Clearing the owner persists as NULL
	got.UserID = nil
	got.CancellationReason = nil
	got.CancellationRequestedAt = nil
	got.Status = market.StatusCanceled
	save(t, s, *got)

	got, err = s.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.UserID)
	assert.Empty(t, got.OwnerUsername)
	assert.Nil(t, got.CancellationReason)
	assert.Nil(t, got.CancellationRequestedAt)
}

func testDeleteVoucher(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	v := Voucher("Gone", 100)
	save(t, s, v)

	existed, err := s.DeleteVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func testFindVouchersFilters(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	owner := User("buyer", 0)
	require.NoError(t, s.SaveUser(ctx, owner))

	cheap := Voucher("Cheap", 100)
	mid := Voucher("Mid", 500)
	mid.TourType = market.TourSafari
	mid.HotelType = market.HotelThreeStars
	pricey := Voucher("Pricey", 2000)
	pricey.TransferType = market.TransferShip
	pricey.IsHot = true
	sold := Voucher("Sold", 500)
	sold.Status = market.StatusPaid
	sold.UserID = &owner.ID
	save(t, s, cheap, mid, pricey, sold)

	run := func(q market.VoucherQuery) []string {
		t.Helper()
		q.Sort = market.Sort{Field: market.SortTitle, Direction: market.Asc}
		page, err := s.FindVouchers(ctx, q)
		require.NoError(t, err)
		return titles(page)
	}

	assert.Equal(t, []string{"Cheap", "Mid", "Pricey", "Sold"}, run(market.VoucherQuery{}))
	assert.Equal(t, []string{"Cheap", "Mid", "Pricey"},
		run(market.VoucherQuery{Statuses: []market.VoucherStatus{market.StatusRegistered}}))
	assert.Equal(t, []string{"Mid"}, run(market.VoucherQuery{TourType: market.TourSafari}))
	assert.Equal(t, []string{"Pricey"}, run(market.VoucherQuery{TransferType: market.TransferShip}))
	assert.Equal(t, []string{"Mid"}, run(market.VoucherQuery{HotelType: market.HotelThreeStars}))
	assert.Equal(t, []string{"Mid", "Sold"}, run(market.VoucherQuery{Price: dec(500)}))
	trailing := decimal.RequireFromString("500.00")
	assert.Equal(t, []string{"Mid", "Sold"}, run(market.VoucherQuery{Price: &trailing}))
	assert.Equal(t, []string{"Cheap", "Mid", "Sold"}, run(market.VoucherQuery{MinPrice: dec(100), MaxPrice: dec(500)}))
	// A single bound is ignored
	assert.Len(t, run(market.VoucherQuery{MinPrice: dec(1000)}), 4)
	assert.Equal(t, []string{"Pricey"}, run(market.VoucherQuery{DescriptionContains: "PRICEY"}))
	assert.Equal(t, []string{"Sold"}, run(market.VoucherQuery{OwnerUsername: "buyer"}))
	assert.Equal(t, []string{"Cheap", "Mid", "Sold"}, run(market.VoucherQuery{ExcludeHot: true}))
}

func testFindVouchersDescriptionIsLiteral(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	a := Voucher("A", 100)
	a.Description = "100% relax"
	b := Voucher("B", 100)
	b.Description = "1000 relax"
	save(t, s, a, b)

	page, err := s.FindVouchers(ctx, market.VoucherQuery{DescriptionContains: "0% r"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles(page))

	page, err = s.FindVouchers(ctx, market.VoucherQuery{DescriptionContains: "_"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func testFindVouchersOrderAndPaging(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	hotCheap := Voucher("HotCheap", 50)
	hotCheap.IsHot = true
	save(t, s, Voucher("V100", 100), Voucher("V300", 300), Voucher("V200", 200), hotCheap)

	q := market.VoucherQuery{HotFirst: true, Sort: market.DefaultSort, Page: market.PageRequest{Index: 0, Size: 3}}
	page, err := s.FindVouchers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"HotCheap", "V300", "V200"}, titles(page))
	assert.Equal(t, 4, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)

	q.Page.Index = 1
	page, err = s.FindVouchers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"V100"}, titles(page))

	q.Page.Index = 5
	page, err = s.FindVouchers(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 4, page.TotalElements)

	// Without HotFirst the sort alone decides
	page, err = s.FindVouchers(ctx, market.VoucherQuery{Sort: market.Sort{Field: market.SortPrice, Direction: market.Asc}})
	require.NoError(t, err)
	assert.Equal(t, []string{"HotCheap", "V100", "V200", "V300"}, titles(page))
}

func testFindVouchersHugePageIndex(t *testing.T, s market.TxStore) {
	save(t, s, Voucher("Only", 100))

	// Index*Size would overflow int
	q := market.VoucherQuery{Page: market.PageRequest{Index: math.MaxInt / 5, Size: 10}}
	page, err := s.FindVouchers(context.Background(), q)

	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.TotalElements)
}

func testCountVouchersByStatus(t *testing.T, s market.TxStore) {
	paid := Voucher("Paid", 100)
	paid.Status = market.StatusPaid
	save(t, s, Voucher("A", 100), Voucher("B", 100), paid)

	counts, err := s.CountVouchersByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[market.StatusRegistered])
	assert.Equal(t, 1, counts[market.StatusPaid])
	assert.Zero(t, counts[market.StatusCanceled])
}

// =============================================================================
// TRANSACTIONS & LEDGER
// =============================================================================

func testWithTxRollsBack(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	u := User("tx", 100)
	require.NoError(t, s.SaveUser(ctx, u))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx market.Store) error {
		changed := u
		changed.Balance = decimal.Zero
		if err := tx.SaveUser(ctx, changed); err != nil {
			return err
		}
		if err := tx.SaveVoucher(ctx, Voucher("Phantom", 1)); err != nil {
			return err
		}
		// The transaction sees its own writes
		got, err := tx.GetUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if !got.Balance.IsZero() {
			return errors.New("write not visible inside tx")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	page, err := s.FindVouchers(ctx, market.VoucherQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func testEntriesNewestFirst(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	u := User("journal", 0)
	other := User("other", 0)
	require.NoError(t, s.SaveUser(ctx, u))
	require.NoError(t, s.SaveUser(ctx, other))

	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	vid := uuid.New()
	entries := []market.LedgerEntry{
		{ID: uuid.New(), UserID: u.ID, Kind: market.EntryDeposit, Amount: decimal.NewFromInt(100), BalanceAfter: decimal.NewFromInt(100), CreatedAt: base},
		{ID: uuid.New(), UserID: u.ID, Kind: market.EntryPurchase, Amount: decimal.NewFromInt(-40), BalanceAfter: decimal.NewFromInt(60), VoucherID: &vid, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), UserID: other.ID, Kind: market.EntryDeposit, Amount: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(5), CreatedAt: base},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendEntry(ctx, e))
	}

	got, err := s.EntriesByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, market.EntryPurchase, got[0].Kind)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(-40)))
	assert.True(t, got[0].BalanceAfter.Equal(decimal.NewFromInt(60)))
	require.NotNil(t, got[0].VoucherID)
	assert.Equal(t, vid, *got[0].VoucherID)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, market.EntryDeposit, got[1].Kind)
	assert.Nil(t, got[1].VoucherID)
}
