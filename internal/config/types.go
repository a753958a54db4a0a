package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// UnmarshalJSON accepts either a literal string or an {"$env": "VAR"}
// reference resolved at load time.
func (s *Secret) UnmarshalJSON(data []byte) error {
	value, err := resolveValue(data)
	if err != nil {
		return err
	}
	*s = Secret(value)
	return nil
}

// EnvString is a plain string that also accepts {"$env": "VAR"} references
type EnvString string

func (e *EnvString) UnmarshalJSON(data []byte) error {
	value, err := resolveValue(data)
	if err != nil {
		return err
	}
	*e = EnvString(value)
	return nil
}

// resolveValue decodes a JSON string or an env reference object
func resolveValue(data []byte) (string, error) {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		return literal, nil
	}

	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", fmt.Errorf("expected string or {\"$env\": \"VAR\"}: %w", err)
	}
	if ref.Env == "" {
		return "", fmt.Errorf("env reference is missing the $env key")
	}

	value, ok := os.LookupEnv(ref.Env)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", ref.Env)
	}
	return value, nil
}

// Duration parses JSON strings like "30m" into a time.Duration
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Access levels for route rules
const (
	AccessPublic        = "public"
	AccessAuthenticated = "authenticated"
	// Role-gated rules use the form "role:ROLE_NAME"
	accessRolePrefix = "role:"
)

// RouteRule gates one path pattern. Patterns support * (one segment)
// and ** (recursive) wildcards; the first matching rule wins.
type RouteRule struct {
	Pattern string `json:"pattern"`
	Access  string `json:"access"`
}

// OIDCConfig configures the connection to the authorization server
type OIDCConfig struct {
	IssuerURL     EnvString `json:"issuerUrl"`
	ClientID      EnvString `json:"clientId"`
	ClientSecret  Secret    `json:"clientSecret"`
	RedirectURI   string    `json:"redirectUri"`
	Scopes        []string  `json:"scopes,omitempty"`
	FetchUserInfo bool      `json:"fetchUserInfo,omitempty"`
}

// SessionsConfig selects and tunes the session store backend
type SessionsConfig struct {
	Storage       string   `json:"storage,omitempty"` // memory (default), redis, firestore
	SessionTTL    Duration `json:"sessionTtl,omitempty"`
	HandshakeTTL  Duration `json:"handshakeTtl,omitempty"`
	SweepInterval Duration `json:"sweepInterval,omitempty"`

	RedisAddr     EnvString `json:"redisAddr,omitempty"`
	RedisPassword Secret    `json:"redisPassword,omitempty"`
	RedisDB       int       `json:"redisDb,omitempty"`

	FirestoreProject          EnvString `json:"firestoreProject,omitempty"`
	FirestoreDatabase         string    `json:"firestoreDatabase,omitempty"`
	FirestoreCollectionPrefix string    `json:"firestoreCollectionPrefix,omitempty"`
}

// LandingConfig holds the browser redirect targets around the handshake
type LandingConfig struct {
	PostLogin  string `json:"postLogin,omitempty"`
	PostLogout string `json:"postLogout,omitempty"`
}

// GatewayConfig is the top-level gateway section
type GatewayConfig struct {
	Addr           string          `json:"addr"`
	BaseURL        string          `json:"baseURL"`
	Environment    string          `json:"environment,omitempty"` // "development" relaxes cookie security
	Upstream       string          `json:"upstream,omitempty"`
	AllowedOrigins []string        `json:"allowedOrigins,omitempty"`
	OIDC           OIDCConfig      `json:"oidc"`
	Sessions       *SessionsConfig `json:"sessions,omitempty"`
	Routes         []RouteRule     `json:"routes,omitempty"`
	Landing        LandingConfig   `json:"landing,omitempty"`
}

// Config is the root configuration document
type Config struct {
	Version string        `json:"version"`
	Gateway GatewayConfig `json:"gateway"`
}

// IsDev reports whether cookie security may be relaxed
func (g *GatewayConfig) IsDev() bool {
	return g.Environment == "development" || g.Environment == "dev"
}

// RequiredRole extracts the authority from a role-gated access value,
// or "" if the rule is not role-gated.
func (r RouteRule) RequiredRole() string {
	if len(r.Access) > len(accessRolePrefix) && r.Access[:len(accessRolePrefix)] == accessRolePrefix {
		return r.Access[len(accessRolePrefix):]
	}
	return ""
}
