package e2e

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
)

// FakeOAuthProvider simulates an OAuth2 provider for testing.
// It implements the authorization code flow with mandatory PKCE (S256).
type FakeOAuthProvider struct {
	Server   *httptest.Server
	ClientID string

	mu       sync.Mutex
	deny     bool
	codes    map[string]*authCode
	verified int
}

type authCode struct {
	RedirectURI   string
	CodeChallenge string
	Used          bool
}

// NewFakeOAuthProvider creates a new fake OAuth2 provider that approves every
// authorization request unless Deny is called.
func NewFakeOAuthProvider() *FakeOAuthProvider {
	provider := &FakeOAuthProvider{
		ClientID: "test-client-id",
		codes:    make(map[string]*authCode),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", provider.handleAuthorize)
	mux.HandleFunc("/token", provider.handleToken)
	provider.Server = httptest.NewServer(mux)

	return provider
}

// Endpoint returns the provider's authorization and token URLs.
func (p *FakeOAuthProvider) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   p.Server.URL + "/authorize",
		TokenURL:  p.Server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// Deny makes subsequent authorization requests end with access_denied.
func (p *FakeOAuthProvider) Deny() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deny = true
}

// Verified reports how many token requests passed the PKCE check.
func (p *FakeOAuthProvider) Verified() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verified
}

// handleAuthorize handles the OAuth2 authorization endpoint.
// GET /authorize?client_id=...&redirect_uri=...&response_type=code&state=...&code_challenge=...
func (p *FakeOAuthProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("client_id") != p.ClientID {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	}
	if query.Get("response_type") != "code" {
		http.Error(w, "response_type must be code", http.StatusBadRequest)
		return
	}
	if query.Get("code_challenge_method") != "S256" || query.Get("code_challenge") == "" {
		http.Error(w, "S256 code challenge is required", http.StatusBadRequest)
		return
	}

	redirectURL, err := url.Parse(query.Get("redirect_uri"))
	if err != nil || !redirectURL.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	q := redirectURL.Query()
	q.Set("state", query.Get("state"))

	p.mu.Lock()
	if p.deny {
		p.mu.Unlock()
		q.Set("error", "access_denied")
		q.Set("error_description", "the user declined")
		redirectURL.RawQuery = q.Encode()
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		return
	}
	code := randomHex(16)
	p.codes[code] = &authCode{
		RedirectURI:   query.Get("redirect_uri"),
		CodeChallenge: query.Get("code_challenge"),
	}
	p.mu.Unlock()

	q.Set("code", code)
	redirectURL.RawQuery = q.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

// handleToken handles the OAuth2 token exchange endpoint.
// POST /token with grant_type=authorization_code&code=...&redirect_uri=...&code_verifier=...
func (p *FakeOAuthProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, "invalid_request")
		return
	}
	if r.PostFormValue("grant_type") != "authorization_code" || r.PostFormValue("client_id") != p.ClientID {
		writeTokenError(w, "invalid_client")
		return
	}

	p.mu.Lock()
	authCode, ok := p.codes[r.PostFormValue("code")]
	if !ok || authCode.Used || authCode.RedirectURI != r.PostFormValue("redirect_uri") {
		p.mu.Unlock()
		writeTokenError(w, "invalid_grant")
		return
	}
	authCode.Used = true
	if s256(r.PostFormValue("code_verifier")) != authCode.CodeChallenge {
		p.mu.Unlock()
		writeTokenError(w, "invalid_grant")
		return
	}
	p.verified++
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "access-" + randomHex(8),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + randomHex(8),
		"id_token":      "id-token",
	})
}

// Reset clears all stored authorization codes and re-enables approval.
func (p *FakeOAuthProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deny = false
	p.codes = make(map[string]*authCode)
	p.verified = 0
}

// Close shuts down the fake OAuth server.
func (p *FakeOAuthProvider) Close() {
	p.Server.Close()
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
