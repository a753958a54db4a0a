package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bffgate/bffgate/internal/config"
	"github.com/bffgate/bffgate/internal/cookie"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/jsonwriter"
	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/storage"
)

const sessionContextKey contextKey = "session"

// SessionFromContext returns the session attached by the access
// middleware, or nil when the request is anonymous.
func SessionFromContext(ctx context.Context) *storage.Session {
	sess, _ := ctx.Value(sessionContextKey).(*storage.Session)
	return sess
}

func withSession(ctx context.Context, sess *storage.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// AccessController is the single decision point for routed requests: it
// resolves the route rule for the path, authenticates the session
// cookie, enforces the CSRF guard on state-changing methods and checks
// the required authority. Unknown paths are denied (authenticated
// required), never silently public.
type AccessController struct {
	store     storage.Store
	guard     *csrf.Guard
	rules     []config.RouteRule
	loginPath string
}

// NewAccessController builds the decision point over an ordered rule
// table. The first rule whose pattern matches the path wins.
func NewAccessController(store storage.Store, guard *csrf.Guard, rules []config.RouteRule, loginPath string) *AccessController {
	return &AccessController{
		store:     store,
		guard:     guard,
		rules:     rules,
		loginPath: loginPath,
	}
}

// Middleware wraps a handler with the access decision
func (a *AccessController) Middleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule := a.resolveRule(r.URL.Path)
			if rule.Access == config.AccessPublic {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, err := cookie.GetSession(r)
			if err != nil {
				a.deny(w, r)
				return
			}

			sess, err := a.store.GetSession(r.Context(), sessionID)
			if err != nil {
				// Stale cookie; drop it so the browser stops sending it
				cookie.ClearSession(w)
				cookie.ClearCSRF(w)
				a.deny(w, r)
				return
			}

			if err := a.store.TouchSession(r.Context(), sessionID); err != nil {
				log.LogWarnWithFields("access", "Failed to touch session", map[string]any{
					"error": err.Error(),
				})
			}

			if isStateChanging(r.Method) {
				if err := a.guard.Verify(r.Context(), sessionID, r.Header.Get(csrf.HeaderName)); err != nil {
					log.LogWarnWithFields("access", "CSRF check failed", map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
					})
					jsonwriter.WriteForbidden(w, "CSRF token missing or invalid")
					return
				}
			}

			if role := rule.RequiredRole(); role != "" && !sess.HasAuthority(role) {
				log.LogWarnWithFields("access", "Authority check failed", map[string]any{
					"principal": sess.Principal,
					"path":      r.URL.Path,
					"required":  role,
				})
				jsonwriter.WriteForbidden(w, "Requires authority "+role)
				return
			}

			log.LogTraceWithFields("access", "Request allowed", map[string]any{
				"principal": sess.Principal,
				"path":      r.URL.Path,
			})

			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
		})
	}
}

func (a *AccessController) resolveRule(path string) config.RouteRule {
	for _, rule := range a.rules {
		if MatchPath(rule.Pattern, path) {
			return rule
		}
	}
	return config.RouteRule{Pattern: path, Access: config.AccessAuthenticated}
}

// deny answers an unauthenticated request: browser navigations are sent
// to the login endpoint with a return hint, API callers get the 401
// envelope.
func (a *AccessController) deny(w http.ResponseWriter, r *http.Request) {
	if isBrowserRequest(r) {
		target := a.loginPath + "?return=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	jsonwriter.WriteUnauthorized(w, "Authentication required")
}

// isBrowserRequest distinguishes a top-level navigation from a fetch/XHR
// call so the deny response can be a redirect instead of a 401 the page
// never sees.
func isBrowserRequest(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isStateChanging reports whether the method needs the CSRF guard
func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// MatchPath matches a route pattern against a request path. Patterns
// are slash-segmented: "*" matches exactly one segment, "**" matches
// any number of segments including none.
func MatchPath(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], segments) {
			return true
		}
		if len(segments) == 0 {
			return false
		}
		return matchSegments(pattern, segments[1:])
	}
	if len(segments) == 0 {
		return false
	}
	if pattern[0] != "*" && pattern[0] != segments[0] {
		return false
	}
	return matchSegments(pattern[1:], segments[1:])
}
