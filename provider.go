package devicepair

import "context"

// IdentityProvider is the OAuth2 side of a pairing.
// The broker never holds a store lock while calling into it.
type IdentityProvider interface {
	// BeginSession creates a fresh PKCE verifier and CSRF value and the
	// authorize URL embedding them.
	BeginSession(ctx context.Context) (AuthorizationSession, error)

	// Exchange redeems an authorization code together with the session's PKCE verifier.
	Exchange(ctx context.Context, code string, session AuthorizationSession) (Token, error)
}
