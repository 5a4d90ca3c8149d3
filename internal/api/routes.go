package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.HandleListAccounts)
			r.Get("/{name}", s.HandleGetAccount)
			r.Get("/{name}/log", s.HandleAccountLog)
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Route("/{device_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Post("/command", s.HandleCommand)
				r.Post("/wakeup", s.HandleWakeUp)
				r.Get("/events", s.HandleGetEvents)
			})
		})
	})
}
