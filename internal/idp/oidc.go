package idp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bffgate/bffgate/internal/claims"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the connection to an OIDC-compliant
// authorization server (Keycloak in the reference deployment).
type OIDCConfig struct {
	// IssuerURL is the provider's issuer; endpoints are taken from its
	// discovery document.
	IssuerURL string

	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Scopes must include whatever scope the deployment maps role and
	// group claims into; defaults to openid/profile/email.
	Scopes []string

	// FetchUserInfo merges the userinfo response into the claims
	// document for deployments that keep profile claims out of the ID
	// token.
	FetchUserInfo bool
}

// OIDCProvider implements Provider against a discovered OIDC issuer.
type OIDCProvider struct {
	config        oauth2.Config
	provider      *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	fetchUserInfo bool
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider runs OIDC discovery against the issuer and builds a
// provider. The context bounds the discovery request.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuerUrl is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
		provider:      provider,
		verifier:      provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		fetchUserInfo: cfg.FetchUserInfo,
	}, nil
}

// AuthURL builds the authorization redirect with state, nonce and the
// S256 challenge derived from the PKCE verifier.
func (p *OIDCProvider) AuthURL(state, nonce, pkceVerifier string) string {
	return p.config.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(pkceVerifier),
	)
}

// Exchange swaps the authorization code for tokens
func (p *OIDCProvider) Exchange(ctx context.Context, code, pkceVerifier string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(pkceVerifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return token, nil
}

// Claims verifies the ID token that came back from the exchange and
// parses its claims. The nonce must match the one minted for this
// handshake, defeating token replay.
func (p *OIDCProvider) Claims(ctx context.Context, token *oauth2.Token, nonce string) (claims.Document, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return claims.Document{}, fmt.Errorf("token response did not include an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return claims.Document{}, fmt.Errorf("id token verification failed: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return claims.Document{}, fmt.Errorf("id token nonce mismatch")
	}

	var raw json.RawMessage
	if err := idToken.Claims(&raw); err != nil {
		return claims.Document{}, fmt.Errorf("decoding id token claims: %w", err)
	}
	doc, err := claims.Parse(raw)
	if err != nil {
		return claims.Document{}, fmt.Errorf("parsing id token claims: %w", err)
	}

	if p.fetchUserInfo {
		merged, err := p.mergeUserInfo(ctx, token, doc)
		if err != nil {
			return claims.Document{}, err
		}
		doc = merged
	}

	return doc, nil
}

// mergeUserInfo fills gaps in the ID token claims from the userinfo
// endpoint. ID token values win where both are present.
func (p *OIDCProvider) mergeUserInfo(ctx context.Context, token *oauth2.Token, doc claims.Document) (claims.Document, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return claims.Document{}, fmt.Errorf("fetching userinfo: %w", err)
	}

	var raw json.RawMessage
	if err := userInfo.Claims(&raw); err != nil {
		return claims.Document{}, fmt.Errorf("decoding userinfo claims: %w", err)
	}
	info, err := claims.Parse(raw)
	if err != nil {
		return claims.Document{}, fmt.Errorf("parsing userinfo claims: %w", err)
	}

	if doc.PreferredUsername == "" {
		doc.PreferredUsername = info.PreferredUsername
	}
	if doc.Email == "" {
		doc.Email = info.Email
	}
	if doc.Name == "" {
		doc.Name = info.Name
	}
	if doc.GivenName == "" {
		doc.GivenName = info.GivenName
	}
	if doc.FamilyName == "" {
		doc.FamilyName = info.FamilyName
	}
	if !doc.RealmAccess.Present {
		doc.RealmAccess = info.RealmAccess
	}
	if !doc.ResourceAccess.Present {
		doc.ResourceAccess = info.ResourceAccess
	}
	if !doc.Groups.Present {
		doc.Groups = info.Groups
	}

	return doc, nil
}
