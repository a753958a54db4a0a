package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/bffgate/bffgate/internal/config"
	"github.com/bffgate/bffgate/internal/cookie"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/flow"
	"github.com/bffgate/bffgate/internal/jsonwriter"
	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/storage"
)

// AuthHandlers serves the gateway's own authentication endpoints:
// login initiation, the provider callback, logout, session
// introspection and CSRF token retrieval.
type AuthHandlers struct {
	controller *flow.Controller
	store      storage.Store
	guard      *csrf.Guard
	secure     bool
	landing    config.LandingConfig
}

// NewAuthHandlers creates the auth endpoint handlers. secure controls
// the Secure flag on cookies and is only false in development.
func NewAuthHandlers(controller *flow.Controller, store storage.Store, guard *csrf.Guard, secure bool, landing config.LandingConfig) *AuthHandlers {
	return &AuthHandlers{
		controller: controller,
		store:      store,
		guard:      guard,
		secure:     secure,
		landing:    landing,
	}
}

// Login handles GET /api/auth/login: it records a handshake and sends
// the browser to the authorization server. The optional return query
// parameter is a relative-path hint for where to land after login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	hint := r.URL.Query().Get("return")
	if hint == "" {
		hint = h.landing.PostLogin
	}

	authURL, err := h.controller.InitiateLogin(r.Context(), hint)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to initiate login", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /oauth/callback: it correlates the provider
// redirect with its handshake, exchanges the code and sets the session
// and CSRF cookies. Authorization codes never appear in responses or
// logs.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	result, err := h.controller.CompleteLogin(r.Context(), query.Get("code"), query.Get("state"), query.Get("error"))
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrInvalidState):
			jsonwriter.WriteBadRequest(w, "Invalid or expired login attempt")
		case errors.Is(err, flow.ErrProviderDenied):
			// The user can retry; send them back through login
			target := "/api/auth/login?error=" + url.QueryEscape(query.Get("error"))
			http.Redirect(w, r, target, http.StatusFound)
		case errors.Is(err, flow.ErrExchangeFailed):
			log.LogErrorWithFields("auth", "Code exchange failed", map[string]any{
				"error": err.Error(),
			})
			jsonwriter.WriteError(w, http.StatusBadGateway, "bad_gateway", "Login could not be completed")
		default:
			log.LogErrorWithFields("auth", "Callback failed", map[string]any{
				"error": err.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "Login could not be completed")
		}
		return
	}

	cookie.SetSession(w, result.Session.ID, h.secure)
	cookie.SetCSRF(w, result.CSRFToken, h.secure)

	http.Redirect(w, r, result.ReturnURL, http.StatusFound)
}

// Logout handles POST /api/auth/logout. It is idempotent and tolerates
// requests without a session, but a live session must present its CSRF
// token: logout is state-changing and a forged cross-site logout is
// still a nuisance.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := cookie.GetSession(r)
	if err == nil && sessionID != "" {
		if _, getErr := h.store.GetSession(r.Context(), sessionID); getErr == nil {
			if verifyErr := h.guard.Verify(r.Context(), sessionID, r.Header.Get(csrf.HeaderName)); verifyErr != nil {
				jsonwriter.WriteForbidden(w, "CSRF token missing or invalid")
				return
			}
		}
		if logoutErr := h.controller.Logout(r.Context(), sessionID); logoutErr != nil {
			log.LogErrorWithFields("auth", "Logout failed", map[string]any{
				"error": logoutErr.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "Logout failed")
			return
		}
	}

	cookie.ClearSession(w)
	cookie.ClearCSRF(w)

	if err := jsonwriter.WriteResponse(w, http.StatusOK, map[string]any{
		"loggedOut": true,
		"redirect":  h.landing.PostLogout,
	}); err != nil {
		log.LogError("Failed to write logout response: %v", err)
	}
}

// User handles GET /api/auth/user: session introspection for the
// frontend. An anonymous request gets authenticated:false with a 200,
// not a 401, so the page can render its logged-out state without
// tripping error handling.
func (h *AuthHandlers) User(w http.ResponseWriter, r *http.Request) {
	sess := h.currentSession(r)
	if sess == nil {
		if err := jsonwriter.Write(w, map[string]any{"authenticated": false}); err != nil {
			log.LogError("Failed to write user response: %v", err)
		}
		return
	}

	if err := h.store.TouchSession(r.Context(), sess.ID); err != nil {
		log.LogWarnWithFields("auth", "Failed to touch session", map[string]any{
			"error": err.Error(),
		})
	}

	if err := jsonwriter.Write(w, map[string]any{
		"authenticated": true,
		"username":      sess.Username,
		"email":         sess.Email,
		"name":          sess.Name,
		"givenName":     sess.GivenName,
		"familyName":    sess.FamilyName,
		"authorities":   sess.Authorities,
	}); err != nil {
		log.LogError("Failed to write user response: %v", err)
	}
}

// CSRFToken handles GET /api/auth/csrf: it returns the token bound to
// the session and refreshes the readable cookie. Requires a session.
func (h *AuthHandlers) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sess := h.currentSession(r)
	if sess == nil {
		jsonwriter.WriteUnauthorized(w, "Authentication required")
		return
	}

	token, err := h.store.GetCSRFToken(r.Context(), sess.ID)
	if errors.Is(err, storage.ErrCSRFTokenNotFound) {
		// Burned by a failed check or swept; mint a fresh one
		token, err = h.guard.Issue(r.Context(), sess.ID)
	}
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to load csrf token", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to load CSRF token")
		return
	}

	cookie.SetCSRF(w, token, h.secure)

	if err := jsonwriter.Write(w, map[string]any{
		"token":      token,
		"headerName": csrf.HeaderName,
	}); err != nil {
		log.LogError("Failed to write csrf response: %v", err)
	}
}

// currentSession resolves the session cookie against the store. Used by
// the endpoints that sit outside the routed access control.
func (h *AuthHandlers) currentSession(r *http.Request) *storage.Session {
	sessionID, err := cookie.GetSession(r)
	if err != nil {
		return nil
	}
	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		return nil
	}
	return sess
}
