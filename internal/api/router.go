package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/api/middleware"
)

// NewRouter wires the routes and global middleware.
func NewRouter(h *Handler, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(allowedOrigins)))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/", h.Index)
	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Get("/user/{email}", h.GetUser)
		r.Get("/history/{email}", h.GetHistory)
		r.Post("/check-emails", h.CheckEmails)
	})

	return r
}
