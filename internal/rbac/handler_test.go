package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveDecision(requirement, decision string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[requirement+"/"+decision]++
}

type consoleFixture struct {
	store    *memStore
	verifier *identity.TokenVerifier
	csrf     *shared.CSRFManager
	audit    *recordingAudit
	metrics  *countingObserver
	router   chi.Router
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	store := newMemStore()
	verifier, err := identity.NewTokenVerifier("test-secret", "")
	require.NoError(t, err)
	audit := &recordingAudit{}
	metrics := &countingObserver{}
	csrf := shared.NewCSRFManager("csrf-secret")
	roles := NewRoleStore(store, nil)
	catalog := NewCatalog(store, audit, nil)
	gw := Gateway{
		Sessions:  session.NewResolver(verifier, nil, ""),
		Members:   roles,
		Evaluator: NewEvaluator(catalog),
		CSRF:      csrf,
		Metrics:   metrics,
	}
	h := NewHandler(nil, catalog, roles, gw, audit)

	r := chi.NewRouter()
	r.Route("/permissions", h.MountPermissionRoutes)
	r.Route("/roles", h.MountRoleRoutes)
	r.Route("/users", h.MountUserRoleRoutes)
	r.Route("/auth", h.MountAuthRoutes)
	r.With(gw.Require(Perm(shared.PermUsersView))).Get("/probe", func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		actor, ok := shared.ActorFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, p.AccountID, actor.AccountID)
		w.WriteHeader(http.StatusNoContent)
	})
	return &consoleFixture{store: store, verifier: verifier, csrf: csrf, audit: audit, metrics: metrics, router: r}
}

func (f *consoleFixture) token(t *testing.T, email string) string {
	t.Helper()
	tok, err := f.verifier.SignTestToken(uuid.NewString(), email, time.Minute)
	require.NoError(t, err)
	return tok
}

func (f *consoleFixture) tokenFor(t *testing.T, subject, email string) string {
	t.Helper()
	tok, err := f.verifier.SignTestToken(subject, email, time.Minute)
	require.NoError(t, err)
	return tok
}

func (f *consoleFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUpdateUserRolesStaffWithForgedRoleCookieIsForbidden(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addMember("staff@example.com", RoleStaff)
	target := f.store.addMember("member@example.com", RoleUsuario)
	token := f.token(t, "staff@example.com")

	body := map[string]any{"users": []map[string]string{{"id": target.ID, "role": "admin"}}}

	bearer := jsonRequest(t, http.MethodPut, "/users/roles", body)
	bearer.Header.Set("Authorization", "Bearer "+token)
	bearer.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})
	bearer.Header.Set("X-User-Role", "admin")
	rec := f.serve(bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	cookie := jsonRequest(t, http.MethodPut, "/users/roles", body)
	cookie.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	cookie.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})
	cookie.Header.Set(shared.CSRFHeader, f.csrf.Token(token))
	rec = f.serve(cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, RoleUsuario, f.store.role("member@example.com"))
	assert.Zero(t, f.store.roleWrites)
	assert.Empty(t, f.audit.actions())
	assert.Equal(t, 2, f.metrics.counts["role:admin/deny"])
}

func TestUpdateUserRolesPartialFailure(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addMember("admin@example.com", RoleAdmin)
	target := f.store.addMember("member@example.com", RoleUsuario)
	missing := uuid.NewString()

	req := jsonRequest(t, http.MethodPut, "/users/roles", map[string]any{"users": []map[string]string{
		{"id": target.ID, "role": "staff"},
		{"accountId": missing, "role": "staff"},
		{"id": target.ID, "role": "superadmin"},
	}})
	req.Header.Set("Authorization", "Bearer "+f.token(t, "admin@example.com"))
	rec := f.serve(req)
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var resp struct {
		Results []RoleUpdateResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, RoleUpdateResult{ID: target.ID, Success: true}, resp.Results[0])
	assert.Equal(t, RoleUpdateResult{ID: missing, Success: false, Message: "account not found"}, resp.Results[1])
	assert.Equal(t, RoleUpdateResult{ID: target.ID, Success: false, Message: "invalid role"}, resp.Results[2])
	assert.Equal(t, RoleStaff, f.store.role("member@example.com"))
	assert.Equal(t, []string{"rbac.role.set"}, f.audit.actions())
	assert.Equal(t, f.store.members["admin@example.com"].ID, f.audit.logs[0].ActorID)
}

func TestUpdateUserRolesKeepsLastAdmin(t *testing.T) {
	f := newConsoleFixture(t)
	self := f.store.addMember("admin@example.com", RoleAdmin)
	other := f.store.addMember("second@example.com", RoleAdmin)

	req := jsonRequest(t, http.MethodPut, "/users/roles", map[string]any{"users": []map[string]string{
		{"id": other.ID, "role": "staff"},
		{"id": self.ID, "role": "usuario"},
	}})
	req.Header.Set("Authorization", "Bearer "+f.token(t, "admin@example.com"))
	rec := f.serve(req)
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var resp struct {
		Results []RoleUpdateResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, RoleUpdateResult{ID: self.ID, Success: false, Message: "at least one admin must remain"}, resp.Results[1])
	assert.Equal(t, RoleAdmin, f.store.role("admin@example.com"))
	assert.Equal(t, RoleStaff, f.store.role("second@example.com"))
}

func TestUpdateUserRolesAllSucceed(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addMember("admin@example.com", RoleAdmin)
	target := f.store.addMember("member@example.com", RoleUsuario)

	req := jsonRequest(t, http.MethodPut, "/users/roles", map[string]any{"users": []map[string]string{{"id": target.ID, "role": "staff"}}})
	req.Header.Set("Authorization", "Bearer "+f.token(t, "admin@example.com"))
	rec := f.serve(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	empty := jsonRequest(t, http.MethodPut, "/users/roles", map[string]any{"users": []any{}})
	empty.Header.Set("Authorization", "Bearer "+f.token(t, "admin@example.com"))
	assert.Equal(t, http.StatusBadRequest, f.serve(empty).Code)
}

func TestGatewayRejectsUnauthenticated(t *testing.T) {
	f := newConsoleFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/roles/permissions", nil)
	req.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})
	rec := f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Zero(t, f.store.memberCount())
}

func TestGatewayCookieMutationRequiresCSRF(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addMember("admin@example.com", RoleAdmin)
	target := f.store.addMember("member@example.com", RoleUsuario)
	token := f.token(t, "admin@example.com")
	body := map[string]any{"users": []map[string]string{{"id": target.ID, "role": "staff"}}}

	req := jsonRequest(t, http.MethodPut, "/users/roles", body)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	assert.Equal(t, http.StatusForbidden, f.serve(req).Code)

	req = jsonRequest(t, http.MethodPut, "/users/roles", body)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	req.Header.Set(shared.CSRFHeader, "forged")
	assert.Equal(t, http.StatusForbidden, f.serve(req).Code)
	assert.Equal(t, RoleUsuario, f.store.role("member@example.com"))

	req = jsonRequest(t, http.MethodPut, "/users/roles", body)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	req.Header.Set(shared.CSRFHeader, f.csrf.Token(token))
	assert.Equal(t, http.StatusOK, f.serve(req).Code)
	assert.Equal(t, RoleStaff, f.store.role("member@example.com"))
}

func TestGatewayFineGrainedPermission(t *testing.T) {
	f := newConsoleFixture(t)
	view := f.store.addPermission(shared.PermUsersView)
	f.store.addMember("staff@example.com", RoleStaff)
	f.store.addMember("member@example.com", RoleUsuario)
	f.store.grants[RoleStaff] = []uuid.UUID{view.ID}

	probe := func(email string) int {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, email))
		return f.serve(req).Code
	}
	assert.Equal(t, http.StatusNoContent, probe("staff@example.com"))
	assert.Equal(t, http.StatusForbidden, probe("member@example.com"))
	assert.Equal(t, http.StatusForbidden, probe("first.login@example.com"))
	assert.Equal(t, RoleUsuario, f.store.role("first.login@example.com"))
}

func TestGatewayStoreFailureIsServerError(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addMember("staff@example.com", RoleStaff)
	token := f.token(t, "staff@example.com")
	f.store.readErr = errors.New("db down")

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.serve(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestGatewayIdentityCollisionIsServerError(t *testing.T) {
	f := newConsoleFixture(t)
	subject := uuid.NewString()
	f.store.addMemberWithID(subject, "old@example.com", RoleStaff)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+f.tokenFor(t, subject, "new@example.com"))
	rec := f.serve(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Not Found")
	assert.Equal(t, 1, f.store.memberCount())
}

func TestReplaceRolePermissionsEndpoint(t *testing.T) {
	f := newConsoleFixture(t)
	p1 := f.store.addPermission("p1")
	f.store.addMember("admin@example.com", RoleAdmin)
	f.store.addMember("staff@example.com", RoleStaff)
	adminToken := f.token(t, "admin@example.com")

	put := func(token string, body any) *httptest.ResponseRecorder {
		req := jsonRequest(t, http.MethodPut, "/roles/permissions", body)
		req.Header.Set("Authorization", "Bearer "+token)
		return f.serve(req)
	}

	rec := put(f.token(t, "staff@example.com"), map[string]any{"rolePermissions": []GrantUpdate{{Role: "staff", Permissions: []string{p1.ID.String()}}}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = put(adminToken, map[string]any{"rolePermissions": []GrantUpdate{{Role: "admin", Permissions: []string{p1.ID.String()}}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(adminToken, map[string]any{"rolePermissions": []GrantUpdate{{Role: "staff", Permissions: []string{uuid.NewString()}}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.store.grants[RoleStaff])

	rec = put(adminToken, map[string]any{"rolePermissions": []GrantUpdate{{Role: "staff", Permissions: []string{p1.ID.String()}}}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RolePermissions []RoleGrant `json:"rolePermissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.RolePermissions, 3)
	assert.Equal(t, []uuid.UUID{p1.ID}, resp.RolePermissions[1].Permissions)
}

func TestListRolePermissionsEndpoint(t *testing.T) {
	f := newConsoleFixture(t)
	f.store.addPermission("p1")
	f.store.addMember("staff@example.com", RoleStaff)
	f.store.addMember("member@example.com", RoleUsuario)

	req := httptest.NewRequest(http.MethodGet, "/roles/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "staff@example.com"))
	rec := f.serve(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions     []Permission `json:"permissions"`
		RolePermissions []RoleGrant  `json:"rolePermissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Permissions, 1)
	require.Len(t, resp.RolePermissions, 3)
	assert.Equal(t, RoleAdmin, resp.RolePermissions[0].Role)
	assert.True(t, resp.RolePermissions[0].Implicit)

	req = httptest.NewRequest(http.MethodGet, "/permissions/", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "member@example.com"))
	assert.Equal(t, http.StatusForbidden, f.serve(req).Code)
}

func TestCheckRoleReflectsStoreNotCookie(t *testing.T) {
	f := newConsoleFixture(t)
	m := f.store.addMember("member@example.com", RoleUsuario)
	token := f.token(t, "member@example.com")

	check := func() map[string]string {
		req := httptest.NewRequest(http.MethodGet, "/auth/check-role", nil)
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
		req.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})
		rec := f.serve(req)
		require.Equal(t, http.StatusOK, rec.Code)
		var out map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}
	out := check()
	assert.Equal(t, "usuario", out["role"])
	assert.Equal(t, m.ID, out["accountId"])

	require.NoError(t, NewRoleStore(f.store, nil).SetRole(t.Context(), m.ID, "staff"))
	assert.Equal(t, "staff", check()["role"])
}
