package cookie

import (
	"net/http"

	"github.com/bffgate/bffgate/internal/log"
)

// Cookie names. The session cookie carries only the opaque session id;
// the CSRF cookie carries the current anti-forgery token and must be
// readable by client-side script so it can be echoed in a header.
const (
	SessionCookie = "BFFSESSION"
	CSRFCookie    = "XSRF-TOKEN"
)

// SetSession sets the session cookie. It carries no Max-Age: the
// session's sliding expiry is enforced server-side, and a fixed cookie
// lifetime would log active users out when the attribute ran down.
func SetSession(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.LogDebugWithFields("cookie", "Session cookie set", map[string]any{
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// SetCSRF sets the CSRF token cookie. Like the session cookie it has no
// Max-Age; the token dies with its session.
func SetCSRF(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: false, // must be readable by the frontend to echo in X-XSRF-TOKEN
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
}

// ClearCSRF removes the CSRF cookie
func ClearCSRF(w http.ResponseWriter) {
	Clear(w, CSRFCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetCSRF retrieves the CSRF cookie value
func GetCSRF(r *http.Request) (string, error) {
	return Get(r, CSRFCookie)
}
