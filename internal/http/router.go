package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/visitsafe/server/internal/auth"
	"github.com/visitsafe/server/internal/http/handlers"
	"github.com/visitsafe/server/internal/middleware"
	"github.com/visitsafe/server/internal/model"
)

// Handlers bundles the handler set the router wires up.
type Handlers struct {
	Visitor *handlers.VisitorHandler
	Auth    *handlers.AuthHandler
	Tokens  *handlers.TokenHandler
	Admin   *handlers.AdminHandler
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	// The kiosk endpoint is unauthenticated; throttle it per source IP.
	submitLimiter := middleware.NewRateLimiter(time.Minute, 20)

	// Public routes: kiosk submission, the notification-button action path,
	// the token-gated approval-link views, and registration/login.
	r.Group(func(r chi.Router) {
		r.With(middleware.RateLimitMiddleware(submitLimiter, middleware.IPKey)).
			Post("/api/visitor-requests", h.Visitor.HandleSubmit)

		r.Get("/action", h.Visitor.HandleAction)
		r.Post("/action", h.Visitor.HandleAction)
		r.Post("/api/visitor-action", h.Visitor.HandleAction)

		r.Get("/api/visitor-details", h.Visitor.HandleDetails)
		r.Get("/api/visitor-status", h.Visitor.HandleStatus)
		r.Get("/api/test", h.Visitor.HandleInspect)

		r.Post("/api/register-residency", h.Auth.HandleRegisterResidency)
		r.Get("/api/residency-status", h.Auth.HandleResidencyStatus)
		r.Post("/api/login", h.Auth.HandleLogin)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Get("/api/visitor-requests", h.Visitor.HandleList)
		r.Post("/api/tokens/register", h.Tokens.HandleRegister)

		r.With(middleware.RequireRole(model.RoleResident)).
			Post("/api/visitor-decision", h.Visitor.HandleDecision)

		r.With(middleware.RequireRole(model.RoleGuard, model.RoleAdmin)).
			Post("/api/update-request-status", h.Visitor.HandleUpdateStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Post("/api/blocks", h.Admin.HandleCreateBlock)
			r.Get("/api/blocks", h.Admin.HandleListBlocks)
			r.Delete("/api/blocks/{id}", h.Admin.HandleDeleteBlock)

			r.Post("/api/flats", h.Admin.HandleCreateFlat)
			r.Get("/api/flats", h.Admin.HandleListFlats)
			r.Delete("/api/flats/{id}", h.Admin.HandleDeleteFlat)

			r.Post("/api/residents", h.Admin.HandleCreateResident)
			r.Get("/api/residents", h.Admin.HandleListResidents)
			r.Delete("/api/residents/{id}", h.Admin.HandleDeleteResident)

			r.Post("/api/guards", h.Admin.HandleCreateGuard)
			r.Get("/api/guards", h.Admin.HandleListGuards)
			r.Delete("/api/guards/{id}", h.Admin.HandleDeleteGuard)

			r.Post("/api/broadcast", h.Admin.HandleBroadcast)
			r.Post("/api/toggle-service", h.Admin.HandleToggleService)
			r.Delete("/api/residency", h.Admin.HandleDeleteResidency)
		})
	})

	return r
}
