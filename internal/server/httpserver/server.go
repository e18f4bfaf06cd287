// Package httpserver exposes the DocVault JSON API over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/obs"
	"github.com/and161185/docvault/internal/service"
)

// UserLookup resolves the caller's current role for error rendering.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Services are the application services behind the API.
type Services struct {
	Auth      service.AuthService
	Documents service.DocumentService
	StepUp    service.StepUpService
	Directory service.DirectoryService
}

// Options tune the middleware stack.
type Options struct {
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	Metrics     *obs.Metrics
	// Ready reports readiness for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires services into HTTP handlers.
type Server struct {
	auth   service.AuthService
	docs   service.DocumentService
	stepUp service.StepUpService
	dir    service.DirectoryService
	users  UserLookup
	log    *zap.Logger
	opts   Options
}

// New constructs an HTTP server with injected services.
func New(svc Services, users UserLookup, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth:   svc.Auth,
		docs:   svc.Documents,
		stepUp: svc.StepUp,
		dir:    svc.Directory,
		users:  users,
		log:    log,
		opts:   opts,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))
	r.Use(s.opts.Metrics.Instrument)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", StepUpHeader},
			MaxAge:         300,
		}))
	}
	if s.opts.RateRPS > 0 {
		r.Use(RateLimit(s.opts.RateRPS, s.opts.RateBurst))
	}
	r.Use(ClientIP)

	r.Get("/healthz", s.healthz)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.register)
		r.Post("/auth/login", s.login)
		r.Get("/public/documents/{id}", s.verifyPublic)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(s.auth))

			r.Post("/auth/step-up", s.requestStepUp)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", s.upload)
				r.Get("/", s.listDocuments)
				r.Post("/issue", s.issue)
				r.Get("/queue", s.queue)
				r.Get("/{id}", s.getDocument)
				r.Post("/{id}/verify", s.verify)
				r.Post("/{id}/reject", s.reject)
				r.Post("/{id}/raw", s.viewRaw)
			})

			r.Post("/organizations", s.createOrganization)
			r.Get("/organizations", s.listOrganizations)
			r.Post("/users", s.createStaff)
			r.Put("/users/{id}/role", s.setRole)
			r.Post("/users/{id}/deactivate", s.deactivate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
