package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/drivelinehq/driveline/pkg/authz"
	"github.com/drivelinehq/driveline/pkg/httputil"
	"github.com/drivelinehq/driveline/pkg/observability"
)

// DirectoryAdmin is the write side of the tenant directory, implemented by
// both the Postgres and in-memory directories.
type DirectoryAdmin interface {
	authz.Directory
	AddMember(ctx context.Context, userID, tenantID, role string) error
	RemoveMember(ctx context.Context, userID, tenantID string) error
	AssignScope(ctx context.Context, userID, tenantID, resourceID, assignedBy string) error
	RemoveScope(ctx context.Context, userID, tenantID, resourceID string) error
}

// DirectoryHandlers handles tenant-membership administration
type DirectoryHandlers struct {
	directory DirectoryAdmin
	logger    *observability.Logger
}

func NewDirectoryHandlers(dir DirectoryAdmin, logger *observability.Logger) *DirectoryHandlers {
	return &DirectoryHandlers{directory: dir, logger: logger}
}

// RegisterRoutes registers directory routes. The caller wraps them in the
// tenant guard and admin capability middleware.
func (h *DirectoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{tenantId}/members", h.addMember).Methods("POST")
	router.HandleFunc("/tenants/{tenantId}/members/{userId}", h.removeMember).Methods("DELETE")
	router.HandleFunc("/tenants/{tenantId}/members/{userId}/scopes", h.listScopes).Methods("GET")
	router.HandleFunc("/tenants/{tenantId}/members/{userId}/scopes", h.assignScope).Methods("POST")
	router.HandleFunc("/tenants/{tenantId}/members/{userId}/scopes/{resourceId}", h.removeScope).Methods("DELETE")
}

// addMember handles POST /tenants/{tenantId}/members
func (h *DirectoryHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if !authz.RoleKnown(req.Role) {
		httputil.WriteBadRequest(w, "unknown role")
		return
	}

	if err := h.directory.AddMember(r.Context(), req.UserID, tenantID, req.Role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeMember handles DELETE /tenants/{tenantId}/members/{userId}
func (h *DirectoryHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.directory.RemoveMember(r.Context(), vars["userId"], vars["tenantId"]); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listScopes handles GET /tenants/{tenantId}/members/{userId}/scopes
func (h *DirectoryHandlers) listScopes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ids, err := h.directory.ScopedResourceIDs(r.Context(), vars["userId"], vars["tenantId"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string][]string{"resource_ids": ids})
}

// assignScope handles POST /tenants/{tenantId}/members/{userId}/scopes
func (h *DirectoryHandlers) assignScope(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req ScopeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ResourceID == "" {
		httputil.WriteBadRequest(w, "resource_id is required")
		return
	}

	var assignedBy string
	if p := getPrincipal(r); p != nil {
		assignedBy = p.UserID
	}
	if err := h.directory.AssignScope(r.Context(), vars["userId"], vars["tenantId"], req.ResourceID, assignedBy); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeScope handles DELETE /tenants/{tenantId}/members/{userId}/scopes/{resourceId}
func (h *DirectoryHandlers) removeScope(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.directory.RemoveScope(r.Context(), vars["userId"], vars["tenantId"], vars["resourceId"]); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
