/*
scheduler.go - Periodic voucher inventory scan

PURPOSE:
  Periodically counts vouchers per status into the metrics gauges and
  warns about cancellation requests that have waited for an admin
  decision longer than StaleAfter.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Scans once immediately on start
  - Read-only: never changes a voucher

CONFIGURATION:
  - CheckInterval: How often to scan (INVENTORY_INTERVAL, default 1m)
  - StaleAfter: Age of a pending request that triggers a warning
    (STALE_CANCELLATION_AFTER, default 72h)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewInventoryScheduler(store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - metrics/metrics.go: SetInventory
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/metrics"
)

// InventoryScheduler publishes voucher inventory metrics.
type InventoryScheduler struct {
	Store         market.Store
	Log           zerolog.Logger
	CheckInterval time.Duration
	StaleAfter    time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// InventoryReport is the result of one scan.
type InventoryReport struct {
	Counts map[market.VoucherStatus]int
	Stale  []market.Voucher
}

// NewInventoryScheduler creates a new scheduler.
func NewInventoryScheduler(store market.Store, log zerolog.Logger) *InventoryScheduler {
	return &InventoryScheduler{
		Store:         store,
		Log:           log.With().Str("component", "inventory").Logger(),
		CheckInterval: time.Minute,
		StaleAfter:    72 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *InventoryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Log.Info().Dur("interval", s.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for a running scan to finish.
func (s *InventoryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Log.Info().Msg("scheduler stopped")
	}
}

func (s *InventoryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.scan()

	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-stop:
			return
		}
	}
}

func (s *InventoryScheduler) scan() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.ScanNow(ctx); err != nil {
		s.Log.Error().Err(err).Msg("inventory scan failed")
	}
}

// ScanNow counts vouchers, publishes the gauges and logs stale requests.
func (s *InventoryScheduler) ScanNow(ctx context.Context) (InventoryReport, error) {
	counts, err := s.Store.CountVouchersByStatus(ctx)
	if err != nil {
		return InventoryReport{}, err
	}

	pending, err := s.Store.FindVouchers(ctx, market.VoucherQuery{
		Statuses: []market.VoucherStatus{market.StatusCancellationRequested},
		Sort:     market.Sort{Field: market.SortTitle, Direction: market.Asc},
	})
	if err != nil {
		return InventoryReport{}, err
	}

	report := InventoryReport{Counts: counts}
	cutoff := s.Now().Add(-s.StaleAfter)
	for _, v := range pending.Items {
		if v.CancellationRequestedAt != nil && v.CancellationRequestedAt.Before(cutoff) {
			report.Stale = append(report.Stale, v)
			s.Log.Warn().
				Str("voucher_id", v.ID.String()).
				Str("owner", v.OwnerUsername).
				Time("requested_at", *v.CancellationRequestedAt).
				Msg("cancellation request awaiting decision")
		}
	}

	metrics.SetInventory(counts, len(report.Stale))
	s.Log.Debug().Interface("counts", counts).Int("stale", len(report.Stale)).Msg("inventory scanned")
	return report, nil
}
