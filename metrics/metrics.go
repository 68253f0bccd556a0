// Package metrics exposes Prometheus collectors for the voucher market.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_market_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voucher_market_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	VoucherTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_market_voucher_transitions_total",
			Help: "Committed voucher status transitions",
		},
		[]string{"from", "to"},
	)

	LedgerMovements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_market_ledger_movements_total",
			Help: "Committed balance movements",
		},
		[]string{"kind"},
	)

	LedgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_market_ledger_amount_total",
			Help: "Sum of moved amounts (absolute value)",
		},
		[]string{"kind"},
	)

	RejectedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_market_rejected_operations_total",
			Help: "Operations rejected by a rule or a failure",
		},
		[]string{"operation", "kind"},
	)

	VouchersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voucher_market_vouchers",
			Help: "Vouchers per status at the last inventory scan",
		},
		[]string{"status"},
	)

	StaleCancellations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voucher_market_stale_cancellations",
			Help: "Cancellation requests pending longer than the threshold",
		},
	)
)

// Recorder implements market.Recorder on the package collectors.
type Recorder struct{}

func (Recorder) Transition(from, to market.VoucherStatus) {
	f := string(from)
	if f == "" {
		f = "NEW"
	}
	VoucherTransitions.WithLabelValues(f, string(to)).Inc()
}

func (Recorder) Movement(kind market.EntryKind, amount decimal.Decimal) {
	LedgerMovements.WithLabelValues(string(kind)).Inc()
	LedgerAmount.WithLabelValues(string(kind)).Add(amount.Abs().InexactFloat64())
}

func (Recorder) Rejected(op string, kind market.ErrorKind) {
	RejectedOperations.WithLabelValues(op, string(kind)).Inc()
}

// SetInventory replaces the per-status gauge values.
func SetInventory(counts map[market.VoucherStatus]int, stale int) {
	for _, s := range market.AllStatuses {
		VouchersByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	StaleCancellations.Set(float64(stale))
}

// RecordHTTPRequest observes one finished request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records every request under its chi route pattern, so
// /api/vouchers/{id} is one series regardless of the id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
