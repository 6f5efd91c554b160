package providers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rlebel12/devicepair"
	"golang.org/x/oauth2"
)

// Provider is an authorization-code-with-PKCE client for a single OAuth2 identity provider.
type Provider struct {
	Config *oauth2.Config

	httpClient *http.Client
	newState   stateGenerator
	// exchangeScope sends the configured scopes with the token request as well.
	exchangeScope bool
}

// Opt is a function type for configuring provider options.
type Opt func(*Provider)

// stateGenerator produces the CSRF value for a new authorization session.
type stateGenerator func() (string, error)

// New creates a Provider for endpoint that redirects back to redirectURL.
func New(endpoint oauth2.Endpoint, clientID, clientSecret, redirectURL string, scopes []string, opts ...Opt) *Provider {
	p := &Provider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		newState: generateState,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(client *http.Client) Opt {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithExchangeScope repeats the scopes as a "scope" parameter on the token request,
// which Azure AD B2C requires to return an access token.
func WithExchangeScope() Opt {
	return func(p *Provider) {
		p.exchangeScope = true
	}
}

// setStateGenerator sets a custom CSRF generator.
// This is primarily used for testing purposes.
func (p *Provider) setStateGenerator(gen stateGenerator) {
	p.newState = gen
}

func (p *Provider) BeginSession(ctx context.Context) (devicepair.AuthorizationSession, error) {
	state, err := p.newState()
	if err != nil {
		return devicepair.AuthorizationSession{}, fmt.Errorf("create OAuth2 state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	return devicepair.AuthorizationSession{
		PKCEVerifier: verifier,
		CSRF:         state,
		AuthorizeURL: p.Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
	}, nil
}

func (p *Provider) Exchange(ctx context.Context, code string, session devicepair.AuthorizationSession) (devicepair.Token, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(session.PKCEVerifier)}
	if p.exchangeScope && len(p.Config.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(p.Config.Scopes, " ")))
	}

	token, err := p.Config.Exchange(ctx, code, opts...)
	if err != nil {
		return devicepair.Token{}, fmt.Errorf("exchange code: %w", err)
	}
	return tokenFromOAuth2(token), nil
}

func tokenFromOAuth2(token *oauth2.Token) devicepair.Token {
	t := devicepair.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		t.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		t.IDToken = idToken
	}
	return t
}

// generateState returns 16 random bytes, URL-safe base64 encoded.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Ensure Provider implements the devicepair.IdentityProvider interface
var _ devicepair.IdentityProvider = (*Provider)(nil)
