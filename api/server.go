/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: logrus entry per request, tagged with the request id
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the dashboard and the form

ROUTE GROUPS:
  /api/registrations/*  Submission, listing, edit/delete, review, provisioning
  /api/coupons/*        Coupon admin and quote
  /api/health           Liveness and store check
  /api/scenarios/*      Demo data loaders (only when Handler.Reset is set)

SECURITY NOTE:
  No authentication middleware. Session handling belongs to the host
  application; review and provisioning take the actor id from the body.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/registrations", func(r chi.Router) {
			r.Get("/", h.ListRegistrations)
			r.Post("/", h.SubmitRegistration)
			r.Get("/{id}", h.GetRegistration)
			r.Put("/{id}", h.EditRegistration)
			r.Delete("/{id}", h.DeleteRegistration)
			r.Post("/{id}/review", h.ReviewRegistration)
			r.Post("/{id}/provision", h.ProvisionRegistration)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.ListCoupons)
			r.Post("/", h.CreateCoupon)
			r.Post("/quote", h.QuoteCoupon)
			r.Get("/{code}", h.GetCoupon)
			r.Post("/{code}/activate", h.ActivateCoupon)
			r.Post("/{code}/deactivate", h.DeactivateCoupon)
		})

		if h.Reset != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
