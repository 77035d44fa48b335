// Package api wires the auth core to its HTTP surface: credential and
// rotation endpoints, tenant-directory administration, and health probes.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/drivelinehq/driveline/pkg/authn"
	"github.com/drivelinehq/driveline/pkg/authz"
	"github.com/drivelinehq/driveline/pkg/httputil"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/middleware"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/revocation"
	"github.com/drivelinehq/driveline/pkg/rotation"
	"github.com/drivelinehq/driveline/pkg/token"
)

// maxRequestBody caps every request body. Auth payloads are a few hundred
// bytes; anything near this limit is abuse.
const maxRequestBody = 1 << 20

// HealthCheck reports the readiness of one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server assembles the HTTP routing for the auth core.
type Server struct {
	router    *mux.Router
	protected *mux.Router
	logger    *observability.Logger
	checks    []HealthCheck
}

// Deps carries everything the server routes to.
type Deps struct {
	Codec     *token.Codec
	Registry  revocation.Registry
	Authn     *authn.Service
	Rotator   *rotation.Service
	Engine    *authz.Engine
	Directory DirectoryAdmin
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewServer builds the router. Additional application routes can be added
// to the protected subrouter via Protected().
func NewServer(deps Deps, checks ...HealthCheck) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
		checks: checks,
	}

	s.router.Use(mux.MiddlewareFunc(middleware.RequestID(deps.Logger)))
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(mux.MiddlewareFunc(httputil.MaxBytesMiddleware(maxRequestBody)))

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	s.router.HandleFunc("/readyz", s.readyz).Methods("GET")

	authHandlers := NewAuthHandlers(deps.Authn, deps.Rotator, deps.Logger)
	authHandlers.RegisterPublicRoutes(s.router)

	authMw := middleware.NewAuthMiddleware(deps.Codec, deps.Registry, deps.Logger, deps.Metrics, false)
	protected := s.router.PathPrefix("/").Subrouter()
	protected.Use(mux.MiddlewareFunc(authMw.Handler))
	authHandlers.RegisterProtectedRoutes(protected)

	// Directory administration: tenant-bound, school_admin and up.
	admin := protected.PathPrefix("/").Subrouter()
	admin.Use(mux.MiddlewareFunc(middleware.TenantGuard(deps.Engine)))
	admin.Use(mux.MiddlewareFunc(middleware.RequireCapabilities(deps.Engine,
		authz.Cap(authz.ResourceUser, authz.ActionUpdate),
		authz.Cap(authz.ResourceStudent, authz.ActionAssign),
	)))
	NewDirectoryHandlers(deps.Directory, deps.Logger).RegisterRoutes(admin)

	s.protected = protected
	return s
}

// Protected returns the authenticated subrouter for application routes.
func (s *Server) Protected() *mux.Router {
	return s.protected
}

// Router returns the assembled handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// healthz is the liveness probe: the process is up.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// readyz is the readiness probe: every dependency answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for _, c := range s.checks {
		if err := c.Check(r.Context()); err != nil {
			status[c.Name] = err.Error()
			healthy = false
		} else {
			status[c.Name] = "ok"
		}
	}
	if !healthy {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.WriteSuccess(w, status)
}

func getPrincipal(r *http.Request) *identity.Principal {
	return middleware.GetPrincipal(r)
}
