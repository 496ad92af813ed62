/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front-end

ROUTE GROUPS:
  /api/health                  Liveness
  /api/projects/*              Read model, budgets, explicit recalculation
  /api/work-orders/*           Work order lifecycle
  /api/payment-certificates/*  Certificate lifecycle and payments
  /api/retention-releases/*    Retention releases
  /api/payments/{id}           DELETE only, always rejected
  /api/scenarios/*             Demo scenarios

SECURITY NOTE:
  No authentication middleware. Authentication is handled upstream.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/costledger/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sitebooks/costledger/finance"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Read model and budgets
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/financial-summary", h.ProjectSummary)
			r.Route("/codes/{codeID}", func(r chi.Router) {
				r.Get("/financial-summary", h.CodeSummary)
				r.Get("/budget", h.GetBudget)
				r.Put("/budget", h.PutBudget)
				r.Post("/recalculate", h.Recalculate)
			})
		})

		// Work orders
		r.Route("/work-orders", func(r chi.Router) {
			r.Post("/", h.CreateWorkOrder)
			r.Get("/{id}", h.GetWorkOrder)
			r.Get("/{id}/versions", h.ListWorkOrderVersions)
			r.Put("/{id}", h.EditWorkOrder)
			r.Post("/{id}/issue", h.IssueWorkOrder)
			r.Post("/{id}/revise", h.ReviseWorkOrder)
			r.Delete("/{id}", h.DeleteDocument(finance.DocWorkOrder))
		})

		// Payment certificates
		r.Route("/payment-certificates", func(r chi.Router) {
			r.Post("/", h.CreateCertificate)
			r.Get("/{id}", h.GetCertificate)
			r.Put("/{id}", h.ReviseCertificate)
			r.Post("/{id}/certify", h.CertifyCertificate)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Get("/{id}/payments", h.ListPayments)
			r.Delete("/{id}", h.DeleteDocument(finance.DocPaymentCertificate))
		})

		r.Delete("/payments/{id}", h.DeleteDocument(finance.DocPayment))

		r.Route("/retention-releases", func(r chi.Router) {
			r.Post("/", h.CreateRetentionRelease)
			r.Delete("/{id}", h.DeleteDocument(finance.DocRetentionRelease))
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
