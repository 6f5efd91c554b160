package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rlebel12/devicepair"
)

var errPending = errors.New("pairing pending")

// DeviceClient simulates an input-constrained device pairing with the broker.
type DeviceClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewDeviceClient(baseURL string) *DeviceClient {
	return &DeviceClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestCode asks the broker for a new device code.
func (c *DeviceClient) RequestCode(ctx context.Context) (devicepair.CodeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/code", nil)
	if err != nil {
		return devicepair.CodeResponse{}, fmt.Errorf("create code request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return devicepair.CodeResponse{}, fmt.Errorf("code request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return devicepair.CodeResponse{}, fmt.Errorf("code request failed: %d: %s", resp.StatusCode, string(body))
	}

	var code devicepair.CodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return devicepair.CodeResponse{}, fmt.Errorf("decode code response: %w", err)
	}
	return code, nil
}

// Poll checks the pairing status once. It returns errPending while the user
// has not finished logging in and devicepair.ErrDeviceCodeNotFound for an
// unknown or expired code.
func (c *DeviceClient) Poll(ctx context.Context, code devicepair.DeviceCode) (devicepair.TokenResponse, error) {
	pollURL := c.BaseURL + "/poll-token?" + url.Values{"code": {code.String()}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return devicepair.TokenResponse{}, fmt.Errorf("create poll request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return devicepair.TokenResponse{}, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var token devicepair.TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return devicepair.TokenResponse{}, fmt.Errorf("decode token response: %w", err)
		}
		return token, nil
	case http.StatusNoContent:
		return devicepair.TokenResponse{}, errPending
	case http.StatusNotFound:
		return devicepair.TokenResponse{}, devicepair.ErrDeviceCodeNotFound
	default:
		return devicepair.TokenResponse{}, fmt.Errorf("poll failed: %d", resp.StatusCode)
	}
}

// WaitForToken polls every interval until the pairing completes, fails or ctx ends.
func (c *DeviceClient) WaitForToken(ctx context.Context, code devicepair.DeviceCode, interval time.Duration) (devicepair.TokenResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, err := c.Poll(ctx, code)
		if !errors.Is(err, errPending) {
			return token, err
		}
		select {
		case <-ctx.Done():
			return devicepair.TokenResponse{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Browser simulates the user agent that types the code into the pairing page
// and is bounced through the identity provider.
type Browser struct {
	HTTPClient *http.Client
}

func NewBrowser() *Browser {
	return &Browser{
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects are followed by hand so each hop can be inspected.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SubmitCode posts the pairing form and returns where the broker redirected.
func (b *Browser) SubmitCode(ctx context.Context, baseURL, code string) (string, error) {
	form := url.Values{devicepair.DeviceCodeFormField: {code}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.redirect(req)
}

// Follow requests location and returns the next redirect target, resolved
// against location.
func (b *Browser) Follow(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	return b.redirect(req)
}

// Pair runs the whole browser side: submit the code, visit the identity
// provider, and deliver its callback. It returns the broker's final redirect.
func (b *Browser) Pair(ctx context.Context, baseURL, code string) (string, error) {
	authorizeURL, err := b.SubmitCode(ctx, baseURL, code)
	if err != nil {
		return "", err
	}
	// The broker redirects to itself when it rejects the code.
	if strings.HasPrefix(authorizeURL, baseURL+"/") {
		return authorizeURL, nil
	}

	callbackURL, err := b.Follow(ctx, authorizeURL)
	if err != nil {
		return "", err
	}
	return b.Follow(ctx, callbackURL)
}

func (b *Browser) redirect(req *http.Request) (string, error) {
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s %s: expected redirect, got %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}
	location, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return location.String(), nil
}
