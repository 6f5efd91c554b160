package devicepair

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultCodeTTL       = 5 * time.Minute
	DefaultSweepInterval = 2 * time.Minute
)

// New creates a Broker that pairs devices through provider, keeping all pairing
// state in store.
func New(provider IdentityProvider, store DeviceCodeStore, opts ...NewOpts) (*Broker, error) {
	config := &Config{
		Origin:        &url.URL{Scheme: "http", Host: "localhost"},
		CodeTTL:       DefaultCodeTTL,
		SweepInterval: DefaultSweepInterval,
		Logger:        slog.Default(),
		Monitor:       &NoopMonitor{},
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Broker{
		config:   config,
		store:    store,
		provider: provider,
	}, nil
}

type (
	// Broker correlates a device waiting on a code with the browser login that completes it.
	Broker struct {
		config   *Config
		store    DeviceCodeStore
		provider IdentityProvider
	}

	Config struct {
		// Origin is the public base URL of the broker. The pairing page and the
		// OAuth2 callback are resolved against it.
		Origin *url.URL

		// CodeTTL is how long an entry lives, regardless of its state.
		CodeTTL time.Duration

		// SweepInterval is how often expired entries are evicted. Must be below CodeTTL.
		SweepInterval time.Duration

		// IssueLimiter bounds how fast new device codes are handed out. Nil means unlimited.
		IssueLimiter *rate.Limiter

		Logger  *slog.Logger
		Monitor Monitor
		Metrics *Metrics
		Now     func() time.Time
	}

	NewOpts func(*Config)
)

func (c *Config) Validate() error {
	if c.Origin == nil || c.Origin.Host == "" {
		return fmt.Errorf("%w: origin must include a host", ErrInvalidConfig)
	}
	if c.CodeTTL <= 0 {
		return fmt.Errorf("%w: code TTL must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 || c.SweepInterval >= c.CodeTTL {
		return fmt.Errorf("%w: sweep interval %s must be positive and below code TTL %s",
			ErrInvalidConfig, c.SweepInterval, c.CodeTTL)
	}
	return nil
}

func (b *Broker) Config() Config {
	return *b.config
}

func (b *Broker) Store() DeviceCodeStore {
	return b.store
}

func (b *Broker) logger() *slog.Logger {
	return b.config.Logger
}

func (b *Broker) monitor() Monitor {
	return b.config.Monitor
}

func (b *Broker) metrics() *Metrics {
	return b.config.Metrics
}

// PairingURL is the page the user visits to type in a device code.
func (b *Broker) PairingURL() string {
	return b.config.Origin.JoinPath(pairingPagePath).String()
}

// CallbackURL is the redirect target registered with the identity provider.
func (b *Broker) CallbackURL() string {
	return CallbackURL(b.config.Origin)
}

// CallbackURL resolves CallbackPath against origin.
func CallbackURL(origin *url.URL) string {
	return origin.JoinPath(CallbackPath).String()
}

// WithLogger sets the broker's logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) NewOpts {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithOrigin(origin *url.URL) NewOpts {
	return func(c *Config) {
		c.Origin = origin
	}
}

func WithCodeTTL(d time.Duration) NewOpts {
	return func(c *Config) {
		c.CodeTTL = d
	}
}

func WithSweepInterval(d time.Duration) NewOpts {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

// WithIssueRateLimit allows r new codes per second with bursts of up to burst.
func WithIssueRateLimit(r rate.Limit, burst int) NewOpts {
	return func(c *Config) {
		c.IssueLimiter = rate.NewLimiter(r, burst)
	}
}

// WithMonitor sets the audit monitor. A nil monitor keeps the NoopMonitor.
func WithMonitor(m Monitor) NewOpts {
	return func(c *Config) {
		if m != nil {
			c.Monitor = m
		}
	}
}

func WithMetrics(m *Metrics) NewOpts {
	return func(c *Config) {
		c.Metrics = m
	}
}

func WithNow(fn func() time.Time) NewOpts {
	return func(c *Config) {
		if fn != nil {
			c.Now = fn
		}
	}
}
