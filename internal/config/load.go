package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// Defaults applied when the config leaves the values out
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultHandshakeTTL  = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// DefaultRoutes mirror the protected-application layout the gateway was
// built around: a public corner, an admin corner, and everything else
// behind authentication.
var DefaultRoutes = []RouteRule{
	{Pattern: "/api/public/**", Access: AccessPublic},
	{Pattern: "/api/admin/**", Access: "role:ROLE_ADMIN"},
	{Pattern: "/api/hello/**", Access: "role:ROLE_ADMIN"},
	{Pattern: "/api/**", Access: AccessAuthenticated},
}

// Load loads and validates the config file, resolving {"$env": ...}
// references as it parses.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if err := validateRawConfig(data); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig checks structure before env resolution, so that an
// inline client secret is rejected even when the env var is also set.
func validateRawConfig(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config JSON: %w", err)
	}

	gateway, ok := raw["gateway"].(map[string]any)
	if !ok {
		return fmt.Errorf("gateway section is required")
	}

	oidcSection, ok := gateway["oidc"].(map[string]any)
	if !ok {
		return fmt.Errorf("gateway.oidc section is required")
	}

	if value, exists := oidcSection["clientSecret"]; exists {
		if _, isString := value.(string); isString {
			return fmt.Errorf("clientSecret must use environment variable reference for security")
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("clientSecret must use {\"$env\": \"VAR_NAME\"} format")
			}
		}
	}

	return nil
}

func applyDefaults(config *Config) {
	gateway := &config.Gateway

	if gateway.Sessions == nil {
		gateway.Sessions = &SessionsConfig{}
	}
	sessions := gateway.Sessions
	if sessions.Storage == "" {
		sessions.Storage = "memory"
	}
	if sessions.SessionTTL == 0 {
		sessions.SessionTTL = Duration(DefaultSessionTTL)
	}
	if sessions.HandshakeTTL == 0 {
		sessions.HandshakeTTL = Duration(DefaultHandshakeTTL)
	}
	if sessions.SweepInterval == 0 {
		sessions.SweepInterval = Duration(DefaultSweepInterval)
	}

	if len(gateway.Routes) == 0 {
		gateway.Routes = DefaultRoutes
	}
	if gateway.Landing.PostLogin == "" {
		gateway.Landing.PostLogin = "/"
	}
	if gateway.Landing.PostLogout == "" {
		gateway.Landing.PostLogout = "/"
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	gateway := &config.Gateway

	if gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	if gateway.BaseURL == "" {
		return fmt.Errorf("gateway.baseURL is required")
	}

	if gateway.OIDC.IssuerURL == "" {
		return fmt.Errorf("gateway.oidc.issuerUrl is required")
	}
	if gateway.OIDC.ClientID == "" {
		return fmt.Errorf("gateway.oidc.clientId is required")
	}
	if gateway.OIDC.RedirectURI == "" {
		return fmt.Errorf("gateway.oidc.redirectUri is required")
	}
	if len(gateway.OIDC.Scopes) > 0 && !slices.Contains(gateway.OIDC.Scopes, "openid") {
		return fmt.Errorf("gateway.oidc.scopes must include \"openid\"")
	}

	switch gateway.Sessions.Storage {
	case "memory":
	case "redis":
		if gateway.Sessions.RedisAddr == "" {
			return fmt.Errorf("gateway.sessions.redisAddr is required for redis storage")
		}
	case "firestore":
		if gateway.Sessions.FirestoreProject == "" {
			return fmt.Errorf("gateway.sessions.firestoreProject is required for firestore storage")
		}
	default:
		return fmt.Errorf("unknown session storage backend: %s", gateway.Sessions.Storage)
	}

	for i, rule := range gateway.Routes {
		if rule.Pattern == "" || !strings.HasPrefix(rule.Pattern, "/") {
			return fmt.Errorf("route %d: pattern must start with /", i)
		}
		switch {
		case rule.Access == AccessPublic, rule.Access == AccessAuthenticated:
		case rule.RequiredRole() != "":
		default:
			return fmt.Errorf("route %d (%s): access must be public, authenticated or role:ROLE_X", i, rule.Pattern)
		}
	}

	return nil
}
