package devicepair

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type FakeIdentityProvider struct {
	BeginSessionFunc func(ctx context.Context) (AuthorizationSession, error)
	ExchangeFunc     func(ctx context.Context, code string, session AuthorizationSession) (Token, error)

	mu            sync.Mutex
	sessions      int
	ExchangeCalls []string
}

func (f *FakeIdentityProvider) BeginSession(ctx context.Context) (AuthorizationSession, error) {
	if f.BeginSessionFunc != nil {
		return f.BeginSessionFunc(ctx)
	}
	f.mu.Lock()
	f.sessions++
	n := f.sessions
	f.mu.Unlock()
	return AuthorizationSession{
		PKCEVerifier: fmt.Sprintf("verifier-%d", n),
		CSRF:         fmt.Sprintf("csrf-%d", n),
		AuthorizeURL: fmt.Sprintf("https://idp.test/authorize?state=csrf-%d", n),
	}, nil
}

func (f *FakeIdentityProvider) Exchange(ctx context.Context, code string, session AuthorizationSession) (Token, error) {
	f.mu.Lock()
	f.ExchangeCalls = append(f.ExchangeCalls, code)
	f.mu.Unlock()
	if f.ExchangeFunc != nil {
		return f.ExchangeFunc(ctx, code, session)
	}
	return Token{AccessToken: "access-for-" + code, TokenType: "Bearer"}, nil
}

func (f *FakeIdentityProvider) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ExchangeCalls)
}

var _ IdentityProvider = (*FakeIdentityProvider)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedCodes(codes ...DeviceCode) func() (DeviceCode, error) {
	var mu sync.Mutex
	i := 0
	return func() (DeviceCode, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}
