/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. withLogger: zerolog logger carrying the request id, stored on the context
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/accounts    Account creation
  /api/user/*      Citizen operations       (X-User-Role: USER)
  /api/partner/*   Partner hub operations   (X-User-Role: PARTNER)
  /api/admin/*     Admin reports and seeding (X-User-Role: ADMIN)
  /healthz         Store reachability
  /metrics         Prometheus scrape endpoint

SECURITY NOTE:
  The role header is trusted as sent. It gates routes, it does not
  authenticate callers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecosync/rewards-engine/logger"
)

// RoleHeader names the header carrying the caller's role.
const RoleHeader = "X-User-Role"

// Roles accepted by RequireRole.
const (
	RoleUser    = "USER"
	RolePartner = "PARTNER"
	RoleAdmin   = "ADMIN"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.withLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", RoleHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", h.OpenAccount)

		r.Route("/user", func(r chi.Router) {
			r.Use(RequireRole(RoleUser))
			r.Post("/scan", h.Scan)
			r.Post("/generate-qr", h.GenerateQR)
			r.Get("/wallet", h.Wallet)
			r.Post("/redeem", h.RedeemReward)
			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/rewards", h.ListRewards)
			r.Get("/partners", h.ListPartners)
			r.Post("/request-pickup", h.RequestPickup)
		})

		r.Route("/partner", func(r chi.Router) {
			r.Use(RequireRole(RolePartner))
			r.Post("/scan-qr", h.ScanQR)
			r.Get("/transactions", h.PartnerTransactions)
			r.Get("/earnings", h.Earnings)
			r.Post("/request-bin-pickup", h.RequestBinPickup)
			r.Get("/bin-status", h.BinStatus)
			r.Post("/bin-level", h.ReportBinLevel)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Get("/analytics", h.Analytics)
			r.Get("/users", h.ListUsers)
			r.Get("/partners", h.ListPartners)
			r.Get("/bins", h.ListPartners)
			r.Get("/pickups", h.ListPickups)
			r.Put("/update-pickup", h.UpdatePickup)
			r.Post("/seed", h.Seed)
		})
	})

	return r
}

// RequireRole rejects requests whose role header is not role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(RoleHeader) != role {
				writeJSON(w, http.StatusForbidden, ErrorResponse{Kind: "FORBIDDEN", Error: "access denied"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithFields(h.Log, map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}
