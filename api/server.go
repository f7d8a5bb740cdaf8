/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/fees/*            Stateless fee calculation
  /api/fee-plans/*       Fee plan management
  /api/fee-events/*      Fee event accrual and cancellation
  /api/invoices/*        Invoice assembly and payments
  /api/commissions/*     Partner commissions
  /api/reconciliation/*  Invoice total reconciliation
  /api/scenarios/*       Demo scenarios (dev only)

SECURITY NOTE:
  No authentication middleware. Deploy behind the gateway that
  authenticates back-office users.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/fees/calculate", h.CalculateFee)

		r.Route("/fee-plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
		})

		r.Route("/fee-events", func(r chi.Router) {
			r.Get("/", h.ListFeeEvents)
			r.Post("/", h.CreateFeeEvent)
			r.Get("/{id}", h.GetFeeEvent)
			r.Post("/{id}/cancel", h.CancelFeeEvent)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Post("/", h.CreateCommission)
			r.Get("/{id}", h.GetCommission)
			r.Post("/{id}/transition", h.TransitionCommission)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/latest", h.GetLatestReconciliation)
			r.Post("/run", h.RunReconciliation)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
