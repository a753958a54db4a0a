package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bffgate/bffgate/internal/config"
	"github.com/bffgate/bffgate/internal/cookie"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/**", "/api/things", true},
		{"/api/**", "/api/things/42/parts", true},
		{"/api/**", "/api", true},
		{"/api/**", "/other", false},
		{"/api/public/**", "/api/public/info", true},
		{"/api/public/**", "/api/publicity", false},
		{"/api/*/detail", "/api/things/detail", true},
		{"/api/*/detail", "/api/things/42/detail", false},
		{"/api/*", "/api/things", true},
		{"/api/*", "/api/things/42", false},
		{"/", "/", true},
		{"/**", "/anything/at/all", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchPath(tt.pattern, tt.path),
			"pattern %s path %s", tt.pattern, tt.path)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	access := NewAccessController(nil, nil, []config.RouteRule{
		{Pattern: "/api/public/**", Access: config.AccessPublic},
		{Pattern: "/api/**", Access: config.AccessAuthenticated},
	}, loginPath)

	assert.Equal(t, config.AccessPublic, access.resolveRule("/api/public/info").Access)
	assert.Equal(t, config.AccessAuthenticated, access.resolveRule("/api/things").Access)
	// Unmatched paths fall through to default deny
	assert.Equal(t, config.AccessAuthenticated, access.resolveRule("/totally/elsewhere").Access)
}

func newAccessFixture(t *testing.T) (*AccessController, storage.Store, *csrf.Guard) {
	t.Helper()
	store := storage.NewMemoryStore(storage.Config{
		SessionTTL:   time.Hour,
		HandshakeTTL: 10 * time.Minute,
	})
	guard := csrf.NewGuard(store)
	access := NewAccessController(store, guard, config.DefaultRoutes, loginPath)
	return access, store, guard
}

func seedSession(t *testing.T, store storage.Store, authorities ...string) *storage.Session {
	t.Helper()
	sess := &storage.Session{
		ID:          "sess-" + t.Name(),
		Principal:   "subject-1",
		Username:    "testuser",
		Authorities: authorities,
	}
	require.NoError(t, store.CreateSession(t.Context(), sess))
	return sess
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAccessPublicRouteSkipsAuth(t *testing.T) {
	access, _, _ := newAccessFixture(t)
	handler := access.Middleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/public/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessAnonymousAPIRequestGets401(t *testing.T) {
	access, _, _ := newAccessFixture(t)
	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":401`)
}

func TestAccessAnonymousBrowserRequestRedirects(t *testing.T) {
	access, _, _ := newAccessFixture(t)
	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/things?page=2", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, loginPath+"?return=%2Fapi%2Fthings%3Fpage%3D2", rec.Header().Get("Location"))
}

func TestAccessXHRWithHTMLAcceptGets401(t *testing.T) {
	access, _, _ := newAccessFixture(t)
	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessStaleCookieClearedOnDeny(t *testing.T) {
	access, _, _ := newAccessFixture(t)
	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: "long-gone"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.SessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "stale session cookie should be cleared")
}

func TestAccessAuthenticatedRequestPasses(t *testing.T) {
	access, store, _ := newAccessFixture(t)
	sess := seedSession(t, store)

	var seen *storage.Session
	handler := access.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "subject-1", seen.Principal)
}

func TestAccessRoleGate(t *testing.T) {
	access, store, _ := newAccessFixture(t)
	plain := seedSession(t, store)

	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: plain.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ROLE_ADMIN")
}

func TestAccessRoleGateAdmits(t *testing.T) {
	access, store, _ := newAccessFixture(t)
	admin := seedSession(t, store, "ROLE_ADMIN")

	handler := access.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: admin.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessCSRFRequiredOnStateChange(t *testing.T) {
	access, store, guard := newAccessFixture(t)
	sess := seedSession(t, store)
	token, err := guard.Issue(t.Context(), sess.ID)
	require.NoError(t, err)

	handler := access.Middleware()(okHandler())

	// Without the header the request is refused
	req := httptest.NewRequest(http.MethodPost, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The failed check burned the token; the original token no longer works
	req = httptest.NewRequest(http.MethodPost, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	req.Header.Set(csrf.HeaderName, token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A re-issued token is accepted
	token, err = guard.Issue(t.Context(), sess.ID)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	req.Header.Set(csrf.HeaderName, token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessCSRFNotRequiredOnReads(t *testing.T) {
	access, store, _ := newAccessFixture(t)
	sess := seedSession(t, store)

	handler := access.Middleware()(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/api/things", nil)
		req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
}

func TestAccessExpiredSessionDenied(t *testing.T) {
	store := storage.NewMemoryStore(storage.Config{
		SessionTTL:   -time.Second,
		HandshakeTTL: 10 * time.Minute,
	})
	guard := csrf.NewGuard(store)
	access := NewAccessController(store, guard, config.DefaultRoutes, loginPath)

	sess := &storage.Session{ID: "expired", Principal: "subject-1"}
	require.NoError(t, store.CreateSession(t.Context(), sess))

	handler := access.Middleware()(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
