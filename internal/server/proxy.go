package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/bffgate/bffgate/internal/cookie"
	"github.com/bffgate/bffgate/internal/jsonwriter"
	"github.com/bffgate/bffgate/internal/log"
)

// NewUpstreamProxy builds the reverse proxy that relays routed requests
// to the protected upstream. The session cookie never crosses to the
// upstream; the authenticated identity travels in X-Forwarded-User and
// X-Forwarded-Groups instead.
func NewUpstreamProxy(upstream string) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute: %s", upstream)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			stripSessionCookie(pr.Out)

			// Headers derived here must never be spoofable from outside
			pr.Out.Header.Del("X-Forwarded-User")
			pr.Out.Header.Del("X-Forwarded-Groups")
			if sess := SessionFromContext(pr.In.Context()); sess != nil {
				pr.Out.Header.Set("X-Forwarded-User", sess.Username)
				if len(sess.Authorities) > 0 {
					pr.Out.Header.Set("X-Forwarded-Groups", strings.Join(sess.Authorities, ","))
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.LogErrorWithFields("proxy", "Upstream request failed", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			jsonwriter.WriteError(w, http.StatusBadGateway, "bad_gateway", "Upstream unavailable")
		},
	}, nil
}

// stripSessionCookie removes the gateway's own cookies from the
// outbound request, keeping any cookies that belong to the upstream.
func stripSessionCookie(r *http.Request) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == cookie.SessionCookie || c.Name == cookie.CSRFCookie {
			continue
		}
		r.AddCookie(c)
	}
}
