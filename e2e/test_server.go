package e2e

import (
	"log/slog"
	"net/http/httptest"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rlebel12/devicepair"
	"github.com/rlebel12/devicepair/providers"
	"github.com/rlebel12/devicepair/web"
)

// TestServer wraps an HTTP test server running the pairing broker against a
// FakeOAuthProvider.
type TestServer struct {
	Server      *httptest.Server
	Broker      *devicepair.Broker
	Store       *devicepair.MemoryDeviceCodeStore
	OAuthServer *FakeOAuthProvider
}

// NewTestServer creates a broker wired to a fresh fake OAuth2 provider, with
// the embedded pairing pages mounted as they are in the daemon.
func NewTestServer() *TestServer {
	ts := &TestServer{
		Store:       devicepair.NewMemoryDeviceCodeStore(),
		OAuthServer: NewFakeOAuthProvider(),
	}

	// The server URL is needed for the OAuth2 redirect, so routes are mounted
	// after it starts and before any request is made.
	r := chi.NewRouter()
	ts.Server = httptest.NewServer(r)
	origin, err := url.Parse(ts.Server.URL)
	if err != nil {
		panic(err)
	}

	provider := providers.New(ts.OAuthServer.Endpoint(), ts.OAuthServer.ClientID, "",
		devicepair.CallbackURL(origin), []string{"openid", "offline_access"})

	ts.Broker, err = devicepair.New(provider, ts.Store,
		devicepair.WithOrigin(origin),
		devicepair.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		panic(err)
	}

	static, err := web.Handler()
	if err != nil {
		panic(err)
	}
	r.Mount("/", ts.Broker.Router(static))

	return ts
}

// Reset clears all pairing state and fake provider state.
// Call this between tests to isolate state.
func (ts *TestServer) Reset() {
	ts.Store.Reset()
	ts.OAuthServer.Reset()
}

// Close shuts down the test server and fake OAuth provider.
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.OAuthServer != nil {
		ts.OAuthServer.Close()
	}
}
