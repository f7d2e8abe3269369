// Package handler provides the HTTP API of quill.
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/repository"
)

// APIPrefix is the mount point of the JSON API.
const APIPrefix = "/api/v1"

// Gate builds the authentication middleware for a route group.
type Gate interface {
	// Require admits requests whose token satisfies policy.
	Require(policy auth.Policy) func(http.Handler) http.Handler

	// Optional attaches the caller when a valid token is present.
	Optional() func(http.Handler) http.Handler
}

// verifierGate adapts an auth.Verifier to Gate.
type verifierGate struct {
	verifier *auth.Verifier
}

func (g verifierGate) Require(policy auth.Policy) func(http.Handler) http.Handler {
	return g.verifier.Middleware(policy)
}

func (g verifierGate) Optional() func(http.Handler) http.Handler {
	return g.verifier.Optional()
}

// NewGate returns a Gate backed by verifier.
func NewGate(verifier *auth.Verifier) Gate {
	return verifierGate{verifier: verifier}
}

// Router wires every handler under one chi mux.
type Router struct {
	users      *UserHandler
	posts      *PostHandler
	categories *CategoryHandler
	comments   *CommentHandler
	images     *ImageHandler
	home       *HomeHandler

	gate       Gate
	health     repository.DatabaseHealth
	metrics    *metrics.Metrics
	timeout    time.Duration
	production bool
	logger     zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	UserHandler     *UserHandler
	PostHandler     *PostHandler
	CategoryHandler *CategoryHandler
	CommentHandler  *CommentHandler
	ImageHandler    *ImageHandler
	HomeHandler     *HomeHandler

	Gate    Gate
	Health  repository.DatabaseHealth
	Metrics *metrics.Metrics

	// RequestTimeout bounds each request. Zero disables the limit.
	RequestTimeout time.Duration

	// Production hides internal error detail from clients.
	Production bool

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		users:      config.UserHandler,
		posts:      config.PostHandler,
		categories: config.CategoryHandler,
		comments:   config.CommentHandler,
		images:     config.ImageHandler,
		home:       config.HomeHandler,
		gate:       config.Gate,
		health:     config.Health,
		metrics:    config.Metrics,
		timeout:    config.RequestTimeout,
		production: config.Production,
		logger:     config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.logger))
	r.Use(instrument(rt.metrics))
	r.Use(middleware.Recoverer)
	r.Use(errorDetail(!rt.production))
	if rt.timeout > 0 {
		r.Use(middleware.Timeout(rt.timeout))
	}

	r.NotFound(rt.handleNotFound)
	r.MethodNotAllowed(rt.handleNotFound)

	// Health check (no auth)
	r.Get("/health", rt.handleHealth)

	if rt.home != nil {
		rt.home.RegisterRoutes(r)
	}
	if rt.images != nil {
		r.Route("/images", rt.images.RegisterRoutes)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Route("/users", func(r chi.Router) { rt.users.RegisterRoutes(r, rt.gate) })
		r.Route("/posts", func(r chi.Router) { rt.posts.RegisterRoutes(r, rt.gate) })
		r.Route("/categories", func(r chi.Router) { rt.categories.RegisterRoutes(r, rt.gate) })
		r.Route("/comments", func(r chi.Router) { rt.comments.RegisterRoutes(r, rt.gate) })
	})

	return r
}

// handleHealth reports whether the database answers.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		if err := rt.health.Ping(r.Context()); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, envelope{Status: "unhealthy", Message: "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Status: "healthy"})
}

func (rt *Router) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{
		Status:  statusFailed,
		Message: fmt.Sprintf("Cannot find route %s", r.URL.Path),
	})
}
