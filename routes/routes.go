package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/spa-auth/app"
	"github.com/upb/spa-auth/middleware"
)

// AdminRole is required below /admin
const AdminRole = "ADMIN"

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestContext)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	home := cfg.Auth.HomeRoute
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, home, http.StatusFound)
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Scopes.Attach)

		// Event streams are long-lived and stay outside the request timeout
		r.Get("/auth/session/events", deps.SessionHandler.HandleEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))

			r.Get("/auth/session", deps.SessionHandler.HandleStatus)
			r.Get("/auth/session/history", deps.SessionHandler.HandleHistory)
			r.Post("/auth/session/login", deps.SessionHandler.HandleLogin)
			r.Post("/auth/session/register", deps.SessionHandler.HandleRegister)
			r.Post("/auth/session/refresh", deps.SessionHandler.HandleRefresh)
			r.Post("/auth/session/logout", deps.SessionHandler.HandleLogout)

			// Login page is public
			r.Get(cfg.Auth.LoginRoute, deps.AppHandler.ServeHTTP)

			// Guarded application routes
			r.Group(func(r chi.Router) {
				r.Use(deps.Guard.RequireSession)
				r.Handle(home, deps.AppHandler)
				r.Handle(home+"/*", deps.AppHandler)

				r.Group(func(r chi.Router) {
					r.Use(deps.Guard.RequireRole(AdminRole))
					r.Handle("/admin", deps.AppHandler)
					r.Handle("/admin/*", deps.AppHandler)
				})
			})
		})
	})

	// Unknown paths serve static assets or land on the home route
	r.NotFound(deps.AppHandler.Fallback(home))

	return r
}
