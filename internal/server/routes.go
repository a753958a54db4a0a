package server

import (
	"net/http"
	"time"

	"github.com/bffgate/bffgate/internal/config"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/flow"
	"github.com/bffgate/bffgate/internal/jsonwriter"
	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/storage"
)

const loginPath = "/api/auth/login"

// NewRouter assembles the gateway handler: the auth endpoints the
// gateway owns, a public info endpoint, and the access-controlled relay
// to the upstream for everything else.
func NewRouter(gateway *config.GatewayConfig, store storage.Store, guard *csrf.Guard, controller *flow.Controller) (http.Handler, error) {
	secure := !gateway.IsDev()
	auth := NewAuthHandlers(controller, store, guard, secure, gateway.Landing)
	access := NewAccessController(store, guard, gateway.Routes, loginPath)

	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler())
	mux.HandleFunc("GET /api/public/info", publicInfo)
	mux.HandleFunc("GET "+loginPath, auth.Login)
	mux.HandleFunc("GET /oauth/callback", auth.Callback)
	mux.HandleFunc("POST /api/auth/logout", auth.Logout)
	mux.HandleFunc("GET /api/auth/user", auth.User)
	mux.HandleFunc("GET /api/auth/csrf", auth.CSRFToken)

	var relay http.Handler
	if gateway.Upstream != "" {
		proxy, err := NewUpstreamProxy(gateway.Upstream)
		if err != nil {
			return nil, err
		}
		relay = proxy
	} else {
		// No upstream configured; route rules still apply, matched
		// paths just have nothing behind them.
		relay = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonwriter.WriteNotFound(w, "No upstream configured")
		})
		log.LogWarnWithFields("server", "No upstream configured, routed paths will 404", nil)
	}
	mux.Handle("/", access.Middleware()(relay))

	return ChainMiddleware(mux,
		NewCORSMiddleware(gateway.AllowedOrigins),
		NewLoggerMiddleware("http"),
		NewRequestIDMiddleware(),
		NewRecoverMiddleware("http"),
	), nil
}

func publicInfo(w http.ResponseWriter, r *http.Request) {
	if err := jsonwriter.Write(w, map[string]any{
		"service":   "bffgate",
		"message":   "Public endpoint, no authentication required",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.LogError("Failed to write public info response: %v", err)
	}
}
