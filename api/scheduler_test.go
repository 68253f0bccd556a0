package api

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/market/store"
	"github.com/warp/voucher-market/metrics"
	"github.com/warp/voucher-market/store/storetest"
)

func TestInventoryScheduler_ScanNow(t *testing.T) {
	// GIVEN: One voucher per status, one cancellation request 4 days old
	// and one an hour old
	ctx := context.Background()
	now := time.Date(2030, time.March, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemory()
	owner := storetest.User("alice", 0)
	require.NoError(t, mem.SaveUser(ctx, owner))

	old := now.Add(-96 * time.Hour)
	recent := now.Add(-time.Hour)
	reason := "changed plans"
	for i, s := range []struct {
		status    market.VoucherStatus
		requested *time.Time
	}{
		{market.StatusRegistered, nil},
		{market.StatusPaid, nil},
		{market.StatusCancellationRequested, &old},
		{market.StatusCancellationRequested, &recent},
		{market.StatusCanceled, nil},
	} {
		v := storetest.Voucher(string(rune('A'+i)), 100)
		v.Status = s.status
		if s.status.Owned() {
			v.UserID = &owner.ID
		}
		if s.requested != nil {
			v.CancellationReason = &reason
			v.CancellationRequestedAt = s.requested
		}
		require.NoError(t, mem.SaveVoucher(ctx, v))
	}

	scheduler := NewInventoryScheduler(mem, zerolog.Nop())
	scheduler.Now = func() time.Time { return now }

	// WHEN: Scanning
	report, err := scheduler.ScanNow(ctx)

	// THEN: Counts and stale requests are reported and published
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[market.StatusRegistered])
	assert.Equal(t, 2, report.Counts[market.StatusCancellationRequested])
	require.Len(t, report.Stale, 1)
	assert.Equal(t, "C", report.Stale[0].Title)
	assert.Equal(t, "alice", report.Stale[0].OwnerUsername)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.VouchersByStatus.WithLabelValues(string(market.StatusCancellationRequested))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleCancellations))
}

func TestInventoryScheduler_StartStop(t *testing.T) {
	// GIVEN: A scheduler with a short interval
	scheduler := NewInventoryScheduler(store.NewMemory(), zerolog.Nop())
	scheduler.CheckInterval = 10 * time.Millisecond

	// WHEN: Starting twice and stopping twice
	scheduler.Start()
	scheduler.Start()
	time.Sleep(30 * time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()

	// THEN: It can be restarted
	scheduler.Start()
	scheduler.Stop()
}

func TestInventoryScheduler_Disabled(t *testing.T) {
	scheduler := NewInventoryScheduler(store.NewMemory(), zerolog.Nop())
	scheduler.Enabled = false

	scheduler.Start()

	assert.Nil(t, scheduler.ticker)
	scheduler.Stop()
}
