/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the estate office portal

ROUTE GROUPS:
  /api/dues/*           Dues status lookups (payroll, estate office)
  /api/payments/*       Payroll confirmation intake
  /api/deductions/*     Monthly billing and export
  /api/occupants/*      Directory, status feed, PDF bills
  /api/admin/*          Admin operations
  /api/system/*         Health
  /metrics              Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/dues/{employee_id}", h.GetDuesStatus)

		r.Post("/payments/confirmations", h.IngestConfirmations)

		r.Route("/deductions/{billing_month}", func(r chi.Router) {
			r.Post("/", h.GenerateDeductions)
			r.Get("/export.csv", h.ExportDeductionsCSV)
			r.Get("/export.xlsx", h.ExportDeductionsXLSX)
			r.Post("/uploaded", h.MarkUploaded)
		})

		r.Route("/occupants", func(r chi.Router) {
			r.Get("/", h.ListOccupants)
			r.Post("/status-updates", h.ApplyStatusUpdates)
			r.Get("/{allottee_id}/bills/{billing_month}/pdf", h.GetBillPDF)
		})

		r.Post("/admin/seed", h.SeedDemoData)
		r.Get("/system/health", h.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
