package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires global middleware and mounts the health endpoint plus all
// registered v1 route groups. Call exactly once after registrars are set.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"not_found_route","message":"route not found"}}`))
	})
}

// registerGlobalMiddleware applies the cross-cutting chain. Order matters:
// the recoverer must wrap everything, the timeout must bound the handlers,
// and the request ID must exist before the access log runs.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(ContextTimeoutMiddleware(s.Config.Server.RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))
}
