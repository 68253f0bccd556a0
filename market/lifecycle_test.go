package market_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/store/sqlite"
	"github.com/warp/voucher-market/store/storetest"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DefaultsToRegistered(t *testing.T) {
	env := newTestEnv(t)

	v := env.voucher(t, "Alps", 100)

	assert.Equal(t, market.StatusRegistered, v.Status)
	assert.Nil(t, v.UserID)
	assert.False(t, v.IsHot)
	assert.Equal(t, v, env.reloadVoucher(t, v.ID))
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	valid := func() market.VoucherSpec {
		return market.VoucherSpec{
			Title:        "Alps",
			Description:  "Ski week",
			Price:        dec("100"),
			TourType:     market.TourSports,
			TransferType: market.TransferBus,
			HotelType:    market.HotelThreeStars,
			ArrivalDate:  market.NewDate(2030, time.January, 10),
			EvictionDate: market.NewDate(2030, time.January, 17),
		}
	}
	paid, canceled := market.StatusPaid, market.StatusCanceled

	tests := []struct {
		name    string
		mutate  func(*market.VoucherSpec)
		wantErr error
	}{
		{"blank title", func(s *market.VoucherSpec) { s.Title = "  " }, market.ErrValidation},
		{"zero price", func(s *market.VoucherSpec) { s.Price = dec("0") }, market.ErrValidation},
		{"sub-cent price", func(s *market.VoucherSpec) { s.Price = dec("0.001") }, market.ErrValidation},
		{"unknown tour type", func(s *market.VoucherSpec) { s.TourType = "SPACE" }, market.ErrValidation},
		{"missing arrival", func(s *market.VoucherSpec) { s.ArrivalDate = market.Date{} }, market.ErrValidation},
		{"same day", func(s *market.VoucherSpec) { s.EvictionDate = s.ArrivalDate }, market.ErrInvalidDates},
		{"eviction first", func(s *market.VoucherSpec) { s.EvictionDate = market.NewDate(2030, time.January, 5) }, market.ErrInvalidDates},
		{"paid status", func(s *market.VoucherSpec) { s.Status = &paid }, market.ErrValidation},
		{"canceled status", func(s *market.VoucherSpec) { s.Status = &canceled }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid()
			tt.mutate(&spec)
			v, err := env.vouchers.Create(env.ctx, spec)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, *spec.Status, v.Status)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, market.KindValidation, market.KindOf(err))
		})
	}
}

// =============================================================================
// ORDER
// =============================================================================

func TestOrder_DebitsAndAssigns(t *testing.T) {
	// GIVEN: A REGISTERED voucher priced 100 and a user with 150
	env := newTestEnv(t)
	u := env.user(t, "alice", 150)
	v := env.voucher(t, "Alps", 100)

	// WHEN: Ordering
	ordered, err := env.vouchers.Order(env.ctx, v.ID.String(), u.ID.String())

	// THEN: Balance 50, voucher PAID and owned by the user
	require.NoError(t, err)
	assert.Equal(t, market.StatusPaid, ordered.Status)
	requireDecimal(t, "50", env.reloadUser(t, u.ID).Balance)
	stored := env.reloadVoucher(t, v.ID)
	assert.Equal(t, market.StatusPaid, stored.Status)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, u.ID, *stored.UserID)
	assert.Equal(t, "alice", stored.OwnerUsername)

	// AND: A PURCHASE entry points at the voucher
	entries, err := env.ledger.History(env.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, market.EntryPurchase, entries[0].Kind)
	requireDecimal(t, "-100", entries[0].Amount)
	require.NotNil(t, entries[0].VoucherID)
	assert.Equal(t, v.ID, *entries[0].VoucherID)
}

func TestOrder_Rules(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		active  bool
		hot     bool
		status  market.VoucherStatus
		reason  string
	}{
		{"insufficient balance", 99, true, false, market.StatusRegistered, market.ReasonInsufficientBalance},
		{"already paid", 1000, true, false, market.StatusPaid, market.ReasonNotOrderable},
		{"canceled", 1000, true, false, market.StatusCanceled, market.ReasonNotOrderable},
		{"hot for inactive", 1000, false, true, market.StatusRegistered, market.ReasonHotInactive},
		{"hot check precedes status", 1000, false, true, market.StatusPaid, market.ReasonHotInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			u := env.user(t, "alice", tt.balance)
			u.Active = tt.active
			require.NoError(t, env.store.SaveUser(env.ctx, u))
			v := env.voucher(t, "Alps", 100)
			v.IsHot = tt.hot
			v.Status = tt.status
			require.NoError(t, env.store.SaveVoucher(env.ctx, v))

			_, err := env.vouchers.Order(env.ctx, v.ID.String(), u.ID.String())

			var orderErr *market.VoucherOrderError
			require.True(t, errors.As(err, &orderErr), "got %v", err)
			assert.Equal(t, tt.reason, orderErr.Reason)
			assert.Equal(t, market.KindBusinessRule, market.KindOf(err))
			requireDecimal(t, u.Balance.String(), env.reloadUser(t, u.ID).Balance)
			assert.Equal(t, tt.status, env.reloadVoucher(t, v.ID).Status)
		})
	}
}

func TestOrder_InvalidAndMissingIDs(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice", 100)
	v := env.voucher(t, "Alps", 10)

	_, err := env.vouchers.Order(env.ctx, "not-a-uuid", u.ID.String())
	assert.ErrorIs(t, err, market.ErrInvalidID)

	_, err = env.vouchers.Order(env.ctx, v.ID.String(), "also-bad")
	assert.ErrorIs(t, err, market.ErrInvalidID)

	_, err = env.vouchers.Order(env.ctx, "8a1c3f1e-0000-4000-8000-000000000000", u.ID.String())
	assert.ErrorIs(t, err, market.ErrVoucherNotFound)

	_, err = env.vouchers.Order(env.ctx, v.ID.String(), "8a1c3f1e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, market.ErrUserNotFound)
}

// concurrentDoubleOrder races two funded users for one voucher.
func concurrentDoubleOrder(t *testing.T, s market.TxStore) {
	ctx := context.Background()
	alice := storetest.User("alice", 1000)
	bob := storetest.User("bob", 1000)
	require.NoError(t, s.SaveUser(ctx, alice))
	require.NoError(t, s.SaveUser(ctx, bob))
	v := storetest.Voucher("Alps", 600)
	require.NoError(t, s.SaveVoucher(ctx, v))

	engine := market.NewVoucherEngine(s)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []market.User{alice, bob} {
		wg.Add(1)
		go func(i int, buyer market.User) {
			defer wg.Done()
			_, errs[i] = engine.Order(ctx, v.ID.String(), buyer.ID.String())
		}(i, buyer)
	}
	wg.Wait()

	// Exactly one succeeds; the loser sees the wrong status
	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var orderErr *market.VoucherOrderError
		require.True(t, errors.As(err, &orderErr), "unexpected error %v", err)
		assert.Equal(t, market.ReasonNotOrderable, orderErr.Reason)
		losses++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	// Only the winner paid
	a, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	b, err := s.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	requireDecimal(t, "1400", a.Balance.Add(b.Balance))
}

func TestOrder_ConcurrentDoubleOrder_Memory(t *testing.T) {
	env := newTestEnv(t)
	concurrentDoubleOrder(t, env.store)
}

func TestOrder_ConcurrentDoubleOrder_SQLite(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	concurrentDoubleOrder(t, s)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestRequestCancellation_OwnerOnly(t *testing.T) {
	// GIVEN: A voucher paid by alice
	env := newTestEnv(t)
	alice := env.user(t, "alice", 100)
	env.user(t, "bob", 100)
	v := env.voucher(t, "Alps", 50)
	env.order(t, v, alice)
	before := env.reloadVoucher(t, v.ID)

	// WHEN: Bob asks to cancel it
	_, err := env.vouchers.RequestCancellation(env.ctx, v.ID.String(), "bob", "please")

	// THEN: Rejected, voucher unchanged
	var orderErr *market.VoucherOrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, market.ReasonNotOwner, orderErr.Reason)
	assert.Equal(t, market.KindBusinessRule, market.KindOf(err))
	assert.Equal(t, before, env.reloadVoucher(t, v.ID))

	// WHEN: Alice asks
	pending, err := env.vouchers.RequestCancellation(env.ctx, v.ID.String(), "alice", "sick")

	// THEN: Pending with reason and timestamp
	require.NoError(t, err)
	assert.Equal(t, market.StatusCancellationRequested, pending.Status)
	require.NotNil(t, pending.CancellationReason)
	assert.Equal(t, "sick", *pending.CancellationReason)
	require.NotNil(t, pending.CancellationRequestedAt)
	assert.Equal(t, testNow, *pending.CancellationRequestedAt)

	// AND: Asking twice fails
	_, err = env.vouchers.RequestCancellation(env.ctx, v.ID.String(), "alice", "again")
	assert.ErrorIs(t, err, market.ErrVoucherOrder)
}

func TestRequestCancellation_UnownedVoucher(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", 100)
	v := env.voucher(t, "Alps", 50)

	_, err := env.vouchers.RequestCancellation(env.ctx, v.ID.String(), "alice", "x")

	assert.ErrorIs(t, err, market.ErrVoucherOrder)
	assert.Equal(t, market.StatusRegistered, env.reloadVoucher(t, v.ID).Status)
}

func pendingCancellation(t *testing.T, env *testEnv, balance, price int64) (market.User, market.Voucher) {
	t.Helper()
	u := env.user(t, "alice", balance+price)
	v := env.voucher(t, "Alps", price)
	env.order(t, v, u)
	_, err := env.vouchers.RequestCancellation(env.ctx, v.ID.String(), "alice", "sick")
	require.NoError(t, err)
	return u, v
}

func TestDecideCancellation_ApproveRefundsAndReleases(t *testing.T) {
	// GIVEN: A pending cancellation on a 50 voucher; owner balance 100
	env := newTestEnv(t)
	u, v := pendingCancellation(t, env, 100, 50)
	requireDecimal(t, "100", env.reloadUser(t, u.ID).Balance)

	// WHEN: Approving
	decided, err := env.vouchers.DecideCancellation(env.ctx, v.ID.String(), true, "admin")

	// THEN: Owner has 150; voucher CANCELED, unowned, cancellation cleared
	require.NoError(t, err)
	assert.Equal(t, market.StatusCanceled, decided.Status)
	requireDecimal(t, "150", env.reloadUser(t, u.ID).Balance)
	stored := env.reloadVoucher(t, v.ID)
	assert.Equal(t, market.StatusCanceled, stored.Status)
	assert.Nil(t, stored.UserID)
	assert.Empty(t, stored.OwnerUsername)
	assert.Nil(t, stored.CancellationReason)
	assert.Nil(t, stored.CancellationRequestedAt)

	// AND: A REFUND entry is journaled
	entries, err := env.ledger.History(env.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, market.EntryRefund, entries[0].Kind)
	requireDecimal(t, "50", entries[0].Amount)
	requireDecimal(t, "150", entries[0].BalanceAfter)
}

func TestDecideCancellation_RejectRestoresPaid(t *testing.T) {
	env := newTestEnv(t)
	u, v := pendingCancellation(t, env, 100, 50)

	decided, err := env.vouchers.DecideCancellation(env.ctx, v.ID.String(), false, "admin")

	require.NoError(t, err)
	assert.Equal(t, market.StatusPaid, decided.Status)
	stored := env.reloadVoucher(t, v.ID)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, u.ID, *stored.UserID)
	assert.Nil(t, stored.CancellationReason)
	assert.Nil(t, stored.CancellationRequestedAt)
	requireDecimal(t, "100", env.reloadUser(t, u.ID).Balance)
}

func TestDecideCancellation_RequiresPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice", 100)
	v := env.voucher(t, "Alps", 50)
	env.order(t, v, u)

	for _, approve := range []bool{true, false} {
		_, err := env.vouchers.DecideCancellation(env.ctx, v.ID.String(), approve, "admin")
		var orderErr *market.VoucherOrderError
		require.True(t, errors.As(err, &orderErr))
		assert.Equal(t, market.ReasonNotAwaiting, orderErr.Reason)
	}
	requireDecimal(t, "50", env.reloadUser(t, u.ID).Balance)
}

func TestReregisterVoucher(t *testing.T) {
	// GIVEN: An approved cancellation
	env := newTestEnv(t)
	_, v := pendingCancellation(t, env, 0, 50)

	// WHEN: Re-registering before approval
	_, err := env.vouchers.ReregisterVoucher(env.ctx, v.ID.String(), "admin")

	// THEN: Not allowed
	var orderErr *market.VoucherOrderError
	require.True(t, errors.As(err, &orderErr))
	assert.Equal(t, market.ReasonNotCanceled, orderErr.Reason)

	// WHEN: Approved, then re-registered
	_, err = env.vouchers.DecideCancellation(env.ctx, v.ID.String(), true, "admin")
	require.NoError(t, err)
	again, err := env.vouchers.ReregisterVoucher(env.ctx, v.ID.String(), "admin")

	// THEN: Back on sale, unowned, no cancellation data
	require.NoError(t, err)
	assert.Equal(t, market.StatusRegistered, again.Status)
	assert.Nil(t, again.UserID)
	assert.Nil(t, again.CancellationReason)
	assert.Nil(t, again.CancellationRequestedAt)

	// AND: It can be bought again
	bob := env.user(t, "bob", 50)
	env.order(t, *again, bob)
}

// =============================================================================
// UPDATE / DELETE / HOT FLAG
// =============================================================================

func TestUpdate_DatesOutOfOrderLeaveVoucherUnmodified(t *testing.T) {
	env := newTestEnv(t)
	v := env.voucher(t, "Alps", 100)
	title := "Renamed"
	arrival := market.NewDate(2026, time.March, 10)
	eviction := market.NewDate(2026, time.March, 5)

	_, err := env.vouchers.Update(env.ctx, v.ID.String(), market.VoucherPatch{
		Title:        &title,
		ArrivalDate:  &arrival,
		EvictionDate: &eviction,
	})

	var datesErr *market.InvalidDatesError
	require.True(t, errors.As(err, &datesErr))
	assert.ErrorIs(t, err, market.ErrInvalidDates)
	assert.Equal(t, v, env.reloadVoucher(t, v.ID))
}

func TestUpdate_SingleDateMergesWithStored(t *testing.T) {
	// GIVEN: A voucher from June 1 to June 10
	env := newTestEnv(t)
	v := env.voucher(t, "Alps", 100)

	// WHEN: Moving only the eviction date before the stored arrival
	early := market.NewDate(2030, time.May, 30)
	_, err := env.vouchers.Update(env.ctx, v.ID.String(), market.VoucherPatch{EvictionDate: &early})

	// THEN: Rejected
	assert.ErrorIs(t, err, market.ErrInvalidDates)

	// WHEN: Moving it within range
	later := market.NewDate(2030, time.June, 12)
	price := dec("120")
	updated, err := env.vouchers.Update(env.ctx, v.ID.String(), market.VoucherPatch{EvictionDate: &later, Price: &price})

	// THEN: Only the supplied fields change
	require.NoError(t, err)
	assert.True(t, updated.EvictionDate.Equal(later))
	assert.True(t, updated.ArrivalDate.Equal(v.ArrivalDate))
	requireDecimal(t, "120", updated.Price)
	assert.Equal(t, v.Title, updated.Title)
	assert.Equal(t, v.Status, updated.Status)
}

func TestUpdate_SubCentPriceRejected(t *testing.T) {
	env := newTestEnv(t)
	v := env.voucher(t, "Alps", 100)
	price := dec("99.995")

	_, err := env.vouchers.Update(env.ctx, v.ID.String(), market.VoucherPatch{Price: &price})

	var verr *market.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.Field)
	requireDecimal(t, "100", env.reloadVoucher(t, v.ID).Price)
}

func TestUpdate_KeepsOwnerAndStatus(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice", 100)
	v := env.voucher(t, "Alps", 100)
	env.order(t, v, u)
	desc := "Now with breakfast"

	updated, err := env.vouchers.Update(env.ctx, v.ID.String(), market.VoucherPatch{Description: &desc})

	require.NoError(t, err)
	assert.Equal(t, market.StatusPaid, updated.Status)
	require.NotNil(t, updated.UserID)
	assert.Equal(t, u.ID, *updated.UserID)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	v := env.voucher(t, "Alps", 100)

	require.NoError(t, env.vouchers.Delete(env.ctx, v.ID.String()))

	_, err := env.vouchers.FindByID(env.ctx, v.ID.String())
	assert.ErrorIs(t, err, market.ErrVoucherNotFound)
	assert.ErrorIs(t, env.vouchers.Delete(env.ctx, v.ID.String()), market.ErrVoucherNotFound)
	assert.ErrorIs(t, env.vouchers.Delete(env.ctx, "nope"), market.ErrInvalidID)
}

func TestChangeHotStatus_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	v := env.voucher(t, "Alps", 100)

	first, err := env.vouchers.ChangeHotStatus(env.ctx, v.ID.String(), true)
	require.NoError(t, err)
	second, err := env.vouchers.ChangeHotStatus(env.ctx, v.ID.String(), true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, env.reloadVoucher(t, v.ID).IsHot)
	assert.Equal(t, market.StatusRegistered, second.Status)
}

// =============================================================================
// READS
// =============================================================================

func TestFindMyVouchersAndCanceled(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice", 1000)
	bob := env.user(t, "bob", 1000)
	b := env.voucher(t, "B", 10)
	a := env.voucher(t, "A", 10)
	c := env.voucher(t, "C", 10)
	env.order(t, b, alice)
	env.order(t, a, alice)
	env.order(t, c, bob)
	_, err := env.vouchers.RequestCancellation(env.ctx, c.ID.String(), "bob", "x")
	require.NoError(t, err)
	_, err = env.vouchers.DecideCancellation(env.ctx, c.ID.String(), true, "admin")
	require.NoError(t, err)

	mine, err := env.vouchers.FindMyVouchers(env.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "A", mine[0].Title)
	assert.Equal(t, "B", mine[1].Title)

	canceled, err := env.vouchers.FindCanceled(env.ctx)
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, c.ID, canceled[0].ID)

	all, err := env.vouchers.FindAll(env.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// RECORDER / FAILURES
// =============================================================================

func TestVoucherEngine_RecordsTransitions(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice", 100)
	v := env.voucher(t, "Alps", 40)
	rec := &recorderMock{}
	rec.On("Transition", market.StatusRegistered, market.StatusPaid).Once()
	rec.On("Movement", market.EntryPurchase, "40").Once()
	rec.On("Rejected", "order", market.KindBusinessRule).Once()
	env.vouchers.Recorder = rec

	env.order(t, v, u)
	_, err := env.vouchers.Order(env.ctx, v.ID.String(), u.ID.String())
	require.Error(t, err)

	rec.AssertExpectations(t)
}

func TestVoucherEngine_RecordsRejectedDeleteAndHotStatus(t *testing.T) {
	env := newTestEnv(t)
	missing := "8a1c3f1e-0000-4000-8000-000000000000"
	rec := &recorderMock{}
	rec.On("Rejected", "delete", market.KindNotFound).Once()
	rec.On("Rejected", "change_hot_status", market.KindNotFound).Once()
	env.vouchers.Recorder = rec

	assert.ErrorIs(t, env.vouchers.Delete(env.ctx, missing), market.ErrVoucherNotFound)
	_, err := env.vouchers.ChangeHotStatus(env.ctx, missing, true)
	assert.ErrorIs(t, err, market.ErrVoucherNotFound)

	rec.AssertExpectations(t)
}

func TestDelete_StoreFailureIsRecorded(t *testing.T) {
	boom := errors.New("connection reset")
	s := &storeMock{}
	s.On("DeleteVoucher", mock.Anything, mock.Anything).Return(false, boom)
	rec := &recorderMock{}
	rec.On("Rejected", "delete", market.KindInfrastructure).Once()
	engine := market.NewVoucherEngine(s)
	engine.Recorder = rec

	err := engine.Delete(context.Background(), "8a1c3f1e-0000-4000-8000-000000000000")

	assert.ErrorIs(t, err, boom)
	rec.AssertExpectations(t)
}

func TestOrder_StoreFailureIsInfrastructure(t *testing.T) {
	// GIVEN: A store that fails while loading the voucher
	boom := errors.New("connection reset")
	s := &storeMock{}
	s.On("GetVoucher", mock.Anything, mock.Anything).Return(nil, boom)

	engine := market.NewVoucherEngine(s)

	// WHEN: Ordering
	_, err := engine.Order(context.Background(), "8a1c3f1e-0000-4000-8000-000000000000", "8a1c3f1e-0000-4000-8000-000000000001")

	// THEN: The store error surfaces unchanged
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, market.KindInfrastructure, market.KindOf(err))
	s.AssertNotCalled(t, "SaveVoucher", mock.Anything, mock.Anything)
}
