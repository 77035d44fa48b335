package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/drivelinehq/driveline/pkg/authn"
	"github.com/drivelinehq/driveline/pkg/autherr"
	"github.com/drivelinehq/driveline/pkg/httputil"
	"github.com/drivelinehq/driveline/pkg/middleware"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/rotation"
	"github.com/drivelinehq/driveline/pkg/token"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	authn   *authn.Service
	rotator *rotation.Service
	logger  *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(authnSvc *authn.Service, rotator *rotation.Service, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		authn:   authnSvc,
		rotator: rotator,
		logger:  logger,
	}
}

// RegisterPublicRoutes registers routes that require no bearer token
func (h *AuthHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
}

// RegisterProtectedRoutes registers routes that run behind auth middleware
func (h *AuthHandlers) RegisterProtectedRoutes(router *mux.Router) {
	router.HandleFunc("/auth/password", h.changePassword).Methods("POST")
	router.HandleFunc("/auth/logout-all", h.logoutAll).Methods("POST")
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}
	if req.Role == "" {
		req.Role = "student"
	}

	user, err := h.authn.Register(r.Context(), req.Email, req.Password, req.FullName, req.Role, req.TenantID)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, _, err := h.authn.Login(r.Context(), req.Email, req.Password, clientContext(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pairResponse(pair))
}

// refresh handles POST /auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.rotator.Rotate(r.Context(), req.RefreshToken, clientContext(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pairResponse(pair))
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		httputil.WriteBadRequest(w, "access_token is required")
		return
	}

	if err := h.authn.Logout(r.Context(), req.AccessToken, req.RefreshToken, clientContext(r)); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// logoutAll handles POST /auth/logout-all
func (h *AuthHandlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, autherr.GenericDenial)
		return
	}

	if err := h.authn.LogoutAll(r.Context(), principal.UserID, "logout_all"); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// changePassword handles POST /auth/password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, autherr.GenericDenial)
		return
	}

	var req ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.authn.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// writeAuthError maps internal error kinds to transport status codes. The
// response body stays generic; the specific kind only reaches the logs,
// under the request-scoped logger so entries carry the request id.
func (h *AuthHandlers) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())
	switch {
	case autherr.IsAuthentication(err) || autherr.IsSuspicious(err):
		logger.WithError(err).Debug("authentication rejected")
		httputil.WriteUnauthorized(w, autherr.GenericDenial)
	case autherr.IsAuthorization(err):
		logger.WithError(err).Debug("authorization rejected")
		httputil.WriteForbidden(w, "forbidden")
	default:
		logger.WithError(err).Error("auth operation failed")
		httputil.WriteInternalError(w, err)
	}
}

func pairResponse(pair *token.Pair) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		AccessTokenExpiresAt:  pair.AccessExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshExpiresAt,
		TokenType:             "Bearer",
	}
}

func clientContext(r *http.Request) rotation.ClientContext {
	return rotation.ClientContext{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
