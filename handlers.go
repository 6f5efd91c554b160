package devicepair

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

const (
	pairingPagePath  = "/device.html"
	completePagePath = "/complete.html"

	// CallbackPath is where the identity provider redirects after login, relative to the origin.
	CallbackPath = "/auth/callback"

	// DeviceCodeFormField is the pairing page's form field holding the typed code.
	DeviceCodeFormField = "device-code"
)

// CodeResponse is returned to a device requesting a new code.
type CodeResponse struct {
	Code DeviceCode `json:"code"`
	URL  string     `json:"url"`
}

// TokenResponse is the body returned to a device once its pairing completes.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

func newTokenResponse(token Token, now time.Time) TokenResponse {
	resp := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		IDToken:      token.IDToken,
	}
	if !token.Expiry.IsZero() {
		if secs := int64(token.Expiry.Sub(now).Seconds()); secs > 0 {
			resp.ExpiresIn = secs
		}
	}
	return resp
}

// GenerateCode issues a new device code.
//
// GET /code
// Response: CodeResponse, or 429 when the issue rate limit is exceeded.
func (b *Broker) GenerateCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter := b.config.IssueLimiter; limiter != nil && !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many device codes requested", http.StatusTooManyRequests)
			return
		}

		code, err := b.IssueCode(r.Context())
		if err != nil {
			b.logger().ErrorContext(r.Context(), "issue device code", "error", err)
			http.Error(w, "issue device code", http.StatusInternalServerError)
			return
		}

		writeJSON(w, b, r, CodeResponse{Code: code, URL: b.PairingURL()})
	}
}

// Login handles the pairing page form and sends the browser to the identity provider.
//
// POST /login
// Form: device-code
func (b *Broker) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			b.redirectToPairingPage(w, r, "invalid_code")
			return
		}

		code := NormalizeCode(r.PostFormValue(DeviceCodeFormField))
		authorizeURL, err := b.BeginLogin(r.Context(), code)
		if err != nil {
			if errors.Is(err, ErrFailedBeginningSession) {
				b.logger().ErrorContext(r.Context(), "begin login", "error", err)
			}
			b.redirectToPairingPage(w, r, redirectError(err))
			return
		}

		http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
	}
}

// AuthCallback receives the identity provider's redirect.
//
// GET /auth/callback?state=...&code=...
func (b *Broker) AuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if providerErr := query.Get("error"); providerErr != "" {
			b.logger().WarnContext(r.Context(), "provider returned error",
				"error", providerErr, "error_description", query.Get("error_description"))
			b.rejectCallback(r.Context(), "provider error")
			b.redirectToPairingPage(w, r, "auth_failed")
			return
		}

		if err := b.CompleteCallback(r.Context(), query.Get("state"), query.Get("code")); err != nil {
			b.redirectToPairingPage(w, r, redirectError(err))
			return
		}

		http.Redirect(w, r, completePagePath, http.StatusSeeOther)
	}
}

// PollToken reports the pairing status to a device.
//
// GET /poll-token?code=...
// 404 for an unknown or expired code, 204 while pending, 200 with TokenResponse once complete.
func (b *Broker) PollToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := b.Poll(r.Context(), DeviceCode(r.URL.Query().Get("code")))
		switch status.State {
		case StatusComplete:
			writeJSON(w, b, r, newTokenResponse(*status.Token, b.config.Now()))
		case StatusPending:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}
}

func (b *Broker) redirectToPairingPage(w http.ResponseWriter, r *http.Request, reason string) {
	target := url.URL{Path: pairingPagePath, RawQuery: url.Values{"error": {reason}}.Encode()}
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, b *Broker, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.logger().ErrorContext(r.Context(), "encode response", "error", err)
	}
}
