package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/authn"
	"github.com/drivelinehq/driveline/pkg/authz"
	"github.com/drivelinehq/driveline/pkg/directory"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/middleware"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/revocation"
	"github.com/drivelinehq/driveline/pkg/rotation"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	server    *Server
	users     *identity.MemoryUserStore
	directory *directory.MemoryDirectory
	engine    *authz.Engine
	authn     *authn.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := observability.NewNopLogger()
	codec, err := token.NewCodec(testSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	store := tokenstore.NewMemoryStore()
	users := identity.NewMemoryUserStore()
	registry := revocation.NewMemoryRegistry(logger)
	dir := directory.NewMemoryDirectory()
	emitter := audit.NewEmitter(audit.NopSink{}, logger)

	rotator := rotation.NewService(codec, store, users, emitter, logger)
	authnSvc := authn.NewService(codec, users, store, registry, rotator, emitter, logger,
		authn.WithHasher(fastHasher{}))
	engine := authz.NewEngine(dir, emitter, logger)

	server := NewServer(Deps{
		Codec:     codec,
		Registry:  registry,
		Authn:     authnSvc,
		Rotator:   rotator,
		Engine:    engine,
		Directory: dir,
		Logger:    logger,
	})
	return &testEnv{server: server, users: users, directory: dir, engine: engine, authn: authnSvc}
}

type fastHasher struct{}

func (fastHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (fastHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return errors.New("mismatch")
	}
	return nil
}

func (e *testEnv) seedUser(t *testing.T, email, role, tenantID string) *identity.User {
	t.Helper()
	user := &identity.User{
		ID:           "user-" + email,
		Email:        email,
		Role:         role,
		TenantID:     tenantID,
		PasswordHash: "h:password123",
		IsActive:     true,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	if tenantID != "" {
		require.NoError(t, e.directory.AddMember(context.Background(), user.ID, tenantID, role))
	}
	return user
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, email string) TokenPairResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: email, Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair TokenPairResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pair))
	return pair
}

func TestServer_LoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kim@example.com", authz.RoleStudent, "school-1")

	pair := env.login(t, "kim@example.com")
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
}

func TestServer_LoginBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kim@example.com", authz.RoleStudent, "school-1")

	rec := env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "kim@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication failed")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestServer_RefreshAndReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kim@example.com", authz.RoleStudent, "school-1")
	pair := env.login(t, "kim@example.com")

	rec := env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var next TokenPairResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&next))
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Replaying the consumed token is a generic 401; the replacement dies
	// with it.
	rec = env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: next.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_LogoutRevokesAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kim@example.com", authz.RoleStudent, "school-1")
	pair := env.login(t, "kim@example.com")

	// The protected endpoint works before logout.
	rec := env.do(t, http.MethodPost, "/auth/logout-all", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// And the token is dead afterward.
	rec = env.do(t, http.MethodPost, "/auth/logout-all", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kim@example.com", authz.RoleStudent, "school-1")
	pair := env.login(t, "kim@example.com")

	rec := env.do(t, http.MethodPost, "/auth/password", pair.AccessToken, ChangePasswordRequest{
		CurrentPassword: "password123",
		NewPassword:     "evenbetter456",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Old sessions are revoked by the change.
	rec = env.do(t, http.MethodPost, "/auth/password", pair.AccessToken, ChangePasswordRequest{
		CurrentPassword: "evenbetter456",
		NewPassword:     "another789",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Register(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		Email:    "new@example.com",
		Password: "password123",
		Role:     authz.RoleStudent,
		TenantID: "school-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password", "hash never leaves the server")
}

func TestServer_DirectoryAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin@example.com", authz.RoleSchoolAdmin, "school-1")
	env.seedUser(t, "teach@example.com", authz.RoleInstructor, "school-1")
	adminPair := env.login(t, "admin@example.com")

	rec := env.do(t, http.MethodPost, "/tenants/school-1/members/user-teach@example.com/scopes",
		adminPair.AccessToken, ScopeRequest{ResourceID: "stu-42"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/tenants/school-1/members/user-teach@example.com/scopes",
		adminPair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stu-42")
}

func TestServer_DirectoryAdmin_CrossTenantRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin@example.com", authz.RoleSchoolAdmin, "school-1")
	adminPair := env.login(t, "admin@example.com")

	rec := env.do(t, http.MethodPost, "/tenants/school-2/members",
		adminPair.AccessToken, MemberRequest{UserID: "u", Role: authz.RoleStudent})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_DirectoryAdmin_InstructorForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "teach@example.com", authz.RoleInstructor, "school-1")
	pair := env.login(t, "teach@example.com")

	rec := env.do(t, http.MethodPost, "/tenants/school-1/members",
		pair.AccessToken, MemberRequest{UserID: "u", Role: authz.RoleStudent})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_ScopedApplicationRoute(t *testing.T) {
	env := newTestEnv(t)
	teach := env.seedUser(t, "teach@example.com", authz.RoleInstructor, "school-1")
	require.NoError(t, env.directory.AssignScope(context.Background(), teach.ID, "school-1", "stu-1", ""))

	// An application route mounted on the protected subrouter, gated the
	// same way real resource handlers are.
	env.server.Protected().Handle("/students/{id}",
		middleware.RequireCapabilities(env.engine, authz.Cap(authz.ResourceStudent, authz.ActionRead))(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))).Methods("GET")

	pair := env.login(t, "teach@example.com")

	rec := env.do(t, http.MethodGet, "/students/stu-1", pair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/students/stu-999", pair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_HealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzReportsFailure(t *testing.T) {
	logger := observability.NewNopLogger()
	codec, err := token.NewCodec(testSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	store := tokenstore.NewMemoryStore()
	users := identity.NewMemoryUserStore()
	registry := revocation.NewMemoryRegistry(logger)
	dir := directory.NewMemoryDirectory()
	emitter := audit.NewEmitter(audit.NopSink{}, logger)
	rotator := rotation.NewService(codec, store, users, emitter, logger)
	authnSvc := authn.NewService(codec, users, store, registry, rotator, emitter, logger)
	engine := authz.NewEngine(dir, emitter, logger)

	server := NewServer(Deps{
		Codec: codec, Registry: registry, Authn: authnSvc, Rotator: rotator,
		Engine: engine, Directory: dir, Logger: logger,
	},
		HealthCheck{Name: "database", Check: func(ctx context.Context) error { return errors.New("down") }},
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}
