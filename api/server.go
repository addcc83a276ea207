/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. adminOnly:  Bearer token check on /api/admin (and scenario loads)

ROUTE GROUPS:
  /api/students/*    Roster, tuition projections, ledger, invoices
  /api/admin/*       Mutating operations (payments, generation, resets)
  /api/payroll       Payroll summaries
  /api/points/*      Leaderboard
  /api/audit         Audit trail
  /api/scenarios/*   Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/tuition", h.GetTuition)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/invoices", h.GetInvoices)
		})

		// Admin routes (token-guarded)
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminOnly)
			r.Post("/payments", h.RecordPayment)
			r.Post("/invoices/generate", h.GenerateInvoices)
			r.Post("/discounts/sibling/compute", h.ComputeSiblingDiscounts)
			r.Post("/payroll/calculate", h.CalculatePayroll)
			r.Post("/points/reset", h.ResetPoints)
			r.Put("/enrollments/{id}/rate", h.UpdateEnrollmentRate)
			r.Post("/schedule/generate", h.GenerateSchedule)
		})

		// Reporting routes
		r.Get("/payroll", h.GetPayroll)
		r.Get("/points/leaderboard", h.GetLeaderboard)
		r.Get("/audit", h.GetAuditTrail)

		// Scenario routes (demo/dev)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(h.adminOnly).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// adminOnly rejects requests without the configured bearer token. An
// empty token disables the check for local development.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken != "" {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
				writeError(w, http.StatusForbidden, "Not authorized", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
