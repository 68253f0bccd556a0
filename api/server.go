/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. requestLogger: One zerolog line per request
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. Metrics:      Prometheus counters per route pattern
  5. CORS:         Cross-origin requests for the frontend
  6. authenticate: Attach the caller from the jwt cookie / bearer token

ROUTE GROUPS:
  /api/auth/*       Public
  /api/users/*      Authenticated; /all and /{id}/active ADMIN only
  /api/vouchers/*   Catalog public; the rest authenticated, management
                    routes ADMIN (hot flag and listing also MANAGER)
  /api/scenarios/*  ADMIN
  /metrics          Prometheus scrape endpoint
  /health           Store liveness

SECURITY NOTE:
  Request logs carry method, path, status and duration only. Bodies are
  never logged, so passwords and card numbers stay out of the logs.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: authenticate / requireAuth / requireRole
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/warp/voucher-market/market"
	"github.com/warp/voucher-market/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", h.GetMe)
			r.Patch("/me", h.UpdateMe)
			r.Post("/me/password", h.ChangePassword)
			r.Get("/me/transactions", h.MyTransactions)
			r.Post("/deposit", h.Deposit)
			r.Post("/withdraw", h.Withdraw)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(market.RoleAdmin))
				r.Get("/all", h.ListUsers)
				r.Patch("/{id}/active", h.ChangeUserActive)
			})
		})

		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/catalog", h.BrowseCatalog)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/my", h.MyVouchers)
				r.Get("/{id}", h.GetVoucher)
				r.Post("/order/{id}", h.OrderVoucher)
				r.Patch("/{id}/cancel", h.RequestCancellation)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(market.RoleAdmin, market.RoleManager))
				r.Get("/", h.SearchVouchers)
				r.Patch("/{id}/status", h.ChangeHotStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(market.RoleAdmin))
				r.Get("/all", h.AllVouchers)
				r.Get("/canceled", h.CanceledVouchers)
				r.Post("/create", h.CreateVoucher)
				r.Patch("/{id}", h.UpdateVoucher)
				r.Delete("/{id}", h.DeleteVoucher)
				r.Patch("/{id}/cancel/decision", h.DecideCancellation)
				r.Patch("/{id}/reregister", h.ReregisterVoucher)
			})
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Use(requireRole(market.RoleAdmin))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
