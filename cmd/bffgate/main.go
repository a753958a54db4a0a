package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bffgate/bffgate/internal/config"
	"github.com/bffgate/bffgate/internal/csrf"
	"github.com/bffgate/bffgate/internal/flow"
	"github.com/bffgate/bffgate/internal/idp"
	"github.com/bffgate/bffgate/internal/log"
	"github.com/bffgate/bffgate/internal/server"
	"github.com/bffgate/bffgate/internal/storage"
	"golang.org/x/sync/errgroup"
)

var BuildVersion = "dev"

const shutdownTimeout = 15 * time.Second

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": "v0.0.1-DEV_EDITION_EXPECT_CHANGES",
		"gateway": map[string]any{
			"addr":        ":8080",
			"baseURL":     "https://gateway.yourcompany.com",
			"environment": "production",
			"upstream":    "http://localhost:9090",
			"allowedOrigins": []string{
				"https://app.yourcompany.com",
			},
			"oidc": map[string]any{
				"issuerUrl":    "https://keycloak.yourcompany.com/realms/yourrealm",
				"clientId":     "bffgate",
				"clientSecret": map[string]string{"$env": "OIDC_CLIENT_SECRET"},
				"redirectUri":  "https://gateway.yourcompany.com/oauth/callback",
				"scopes":       []string{"openid", "profile", "email"},
			},
			"sessions": map[string]any{
				"storage":    "memory",
				"sessionTtl": "30m",
			},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// newStore builds the configured session store backend
func newStore(ctx context.Context, sessions *config.SessionsConfig) (storage.Store, error) {
	storeCfg := storage.Config{
		SessionTTL:   sessions.SessionTTL.Std(),
		HandshakeTTL: sessions.HandshakeTTL.Std(),
	}

	switch sessions.Storage {
	case "memory":
		log.LogWarnWithFields("main", "Using memory session storage, sessions will not survive restarts", nil)
		return storage.NewMemoryStore(storeCfg), nil
	case "redis":
		return storage.NewRedisStore(ctx, storeCfg,
			string(sessions.RedisAddr), string(sessions.RedisPassword), sessions.RedisDB)
	case "firestore":
		return storage.NewFirestoreStore(ctx, storeCfg,
			string(sessions.FirestoreProject), sessions.FirestoreDatabase, sessions.FirestoreCollectionPrefix)
	default:
		return nil, fmt.Errorf("unknown session storage backend: %s", sessions.Storage)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	gateway := &cfg.Gateway

	store, err := newStore(ctx, gateway.Sessions)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.LogError("Failed to close session store: %v", err)
		}
	}()

	provider, err := idp.NewOIDCProvider(ctx, idp.OIDCConfig{
		IssuerURL:     string(gateway.OIDC.IssuerURL),
		ClientID:      string(gateway.OIDC.ClientID),
		ClientSecret:  string(gateway.OIDC.ClientSecret),
		RedirectURI:   gateway.OIDC.RedirectURI,
		Scopes:        gateway.OIDC.Scopes,
		FetchUserInfo: gateway.OIDC.FetchUserInfo,
	})
	if err != nil {
		return fmt.Errorf("setting up identity provider: %w", err)
	}

	guard := csrf.NewGuard(store)
	controller := flow.NewController(provider, store, guard, 30*time.Second)

	handler, err := server.NewRouter(gateway, store, guard, controller)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}
	httpServer := server.NewHTTPServer(handler, gateway.Addr)

	sweeper := storage.NewSweeper(store, gateway.Sessions.SweepInterval.Std())
	sweeper.Start(ctx)
	defer sweeper.Stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(httpServer.Start)

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})

	return group.Wait()
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if *validate {
		if _, err := config.Load(*conf); err != nil {
			fmt.Fprintf(os.Stderr, "Validating: %s\nResult: FAIL\n  - %v\n", *conf, err)
			os.Exit(1)
		}
		fmt.Printf("Validating: %s\nResult: PASS\n", *conf)
		return
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting bffgate", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
		"addr":    cfg.Gateway.Addr,
		"storage": cfg.Gateway.Sessions.Storage,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.LogError("Server exited with error: %v", err)
		os.Exit(1)
	}

	log.Logf("Shutdown complete")
}
