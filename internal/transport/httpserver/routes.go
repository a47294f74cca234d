package httpserver

import (
	"net/http"
	"time"

	"family-alert-go/internal/config"
	"family-alert-go/internal/transport/httpserver/handler"
	authmw "family-alert-go/internal/transport/httpserver/middleware"
	"family-alert-go/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Instrumentation wraps routes with request metrics and serves the scrape endpoint.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

func NewRouter(cfg config.Config, handlers *handler.Handlers, verifier authmw.TokenVerifier, profiles authmw.ProfileEnsurer, metrics Instrumentation, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}
	r.Use(authmw.NewCORS(cfg.CORS.AllowedOrigins))

	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(chimw.Timeout(30*time.Second)).Get("/health", handlers.Health)

		auth := authmw.NewFirebaseAuth(cfg.Auth, verifier, profiles, log)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			// websocket streams outlive the request timeout
			r.Get("/alerts/stream", handlers.StreamAlerts)
			r.Get("/families/{family_id}/members/stream", handlers.StreamFamilyMembers)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(30 * time.Second))

				r.Get("/profile", handlers.GetProfile)
				r.Patch("/profile", handlers.UpdateProfile)
				r.Delete("/profile", handlers.DeleteAccount)
				r.Put("/profile/location", handlers.UpdateLocation)
				r.Put("/profile/presence", handlers.SetPresence)
				r.Put("/profile/contacts", handlers.SetEmergencyContacts)

				r.Get("/cooldown", handlers.GetCooldown)
				r.Delete("/cooldown", handlers.ClearCooldown)

				r.Post("/alerts", handlers.CreateOrUpdateAlert)
				r.Get("/alerts/active", handlers.GetActiveAlert)
				r.Get("/alerts/mine", handlers.ListMyAlerts)
				r.Post("/alerts/{alert_id}/stop", handlers.StopAlert)

				r.Post("/families", handlers.CreateFamily)
				r.Post("/families/join", handlers.JoinFamily)
				r.Get("/families/{family_id}", handlers.GetFamily)
				r.Post("/families/{family_id}/invites", handlers.CreateInvite)
				r.Post("/families/{family_id}/leave", handlers.LeaveFamily)
				r.Delete("/families/{family_id}/members/{user_id}", handlers.RemoveFamilyMember)
			})
		})
	})

	return r
}
