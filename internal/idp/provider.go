// Package idp is the gateway's client-side view of the external
// authorization server. Tokens obtained here never leave the gateway.
package idp

import (
	"context"

	"github.com/bffgate/bffgate/internal/claims"
	"golang.org/x/oauth2"
)

// Provider abstracts the authorization server the gateway delegates
// identity verification to.
type Provider interface {
	// AuthURL builds the /authorize redirect target for one handshake.
	// The PKCE verifier is translated into an S256 challenge.
	AuthURL(state, nonce, pkceVerifier string) string

	// Exchange performs the server-to-server code-for-token exchange
	// using the client credentials and the original PKCE verifier.
	Exchange(ctx context.Context, code, pkceVerifier string) (*oauth2.Token, error)

	// Claims validates the identity token from an exchange (signature,
	// issuer, audience, nonce) and returns its claims document.
	Claims(ctx context.Context, token *oauth2.Token, nonce string) (claims.Document, error)
}
