package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rlebel12/devicepair"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultListen = "0.0.0.0:32468"

type serverConfig struct {
	Listen        string
	SiteURL       *url.URL
	ClientID      string
	ClientSecret  string
	TenantName    string
	PolicyName    string
	AuthURL       string
	TokenURL      string
	Scopes        []string
	CodeLength    int
	CodeAlphabet  string
	CodeTTL       time.Duration
	SweepInterval time.Duration
	CodeRate      float64
	CodeBurst     int
	LogLevel      slog.Level
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String("listen", defaultListen, "listen address")
	flags.String("site-url", "", "public base URL of this service (required)")
	flags.String("client-id", "", "OAuth2 client ID (required)")
	flags.String("client-secret", "", "OAuth2 client secret")
	flags.String("tenant-name", "", "Azure AD B2C tenant name")
	flags.String("policy-name", "", "Azure AD B2C user flow or policy name")
	flags.String("auth-url", "", "authorization endpoint, when not using Azure AD B2C")
	flags.String("token-url", "", "token endpoint, when not using Azure AD B2C")
	flags.StringSlice("scopes", nil, "scopes to request (comma separated; space separated in the environment)")
	flags.Int("code-length", devicepair.DefaultCodeLength, "number of characters in a device code")
	flags.String("code-alphabet", devicepair.DefaultCodeAlphabet, "characters device codes are drawn from")
	flags.Duration("code-ttl", devicepair.DefaultCodeTTL, "lifetime of a device code")
	flags.Duration("sweep-interval", devicepair.DefaultSweepInterval, "how often expired device codes are evicted")
	flags.Float64("code-rate", 0, "device codes issued per second across all clients (0 disables the limit)")
	flags.Int("code-burst", 20, "burst size for code-rate")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(v *viper.Viper) (serverConfig, error) {
	cfg := serverConfig{
		Listen:        strings.TrimSpace(v.GetString("listen")),
		ClientID:      v.GetString("client-id"),
		ClientSecret:  v.GetString("client-secret"),
		TenantName:    v.GetString("tenant-name"),
		PolicyName:    v.GetString("policy-name"),
		AuthURL:       v.GetString("auth-url"),
		TokenURL:      v.GetString("token-url"),
		Scopes:        v.GetStringSlice("scopes"),
		CodeLength:    v.GetInt("code-length"),
		CodeAlphabet:  v.GetString("code-alphabet"),
		CodeTTL:       v.GetDuration("code-ttl"),
		SweepInterval: v.GetDuration("sweep-interval"),
		CodeRate:      v.GetFloat64("code-rate"),
		CodeBurst:     v.GetInt("code-burst"),
	}

	var errs []error
	if cfg.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}

	rawSiteURL := strings.TrimSpace(v.GetString("site-url"))
	if rawSiteURL == "" {
		errs = append(errs, errors.New("site-url is required"))
	} else if siteURL, err := url.Parse(rawSiteURL); err != nil || siteURL.Host == "" {
		errs = append(errs, fmt.Errorf("site-url %q must be an absolute URL", rawSiteURL))
	} else {
		cfg.SiteURL = siteURL
	}

	if cfg.ClientID == "" {
		errs = append(errs, errors.New("client-id is required"))
	}

	azure := cfg.TenantName != "" || cfg.PolicyName != ""
	generic := cfg.AuthURL != "" || cfg.TokenURL != ""
	switch {
	case azure && generic:
		errs = append(errs, errors.New("tenant-name/policy-name and auth-url/token-url are mutually exclusive"))
	case azure && (cfg.TenantName == "" || cfg.PolicyName == ""):
		errs = append(errs, errors.New("tenant-name and policy-name must be set together"))
	case generic && (cfg.AuthURL == "" || cfg.TokenURL == ""):
		errs = append(errs, errors.New("auth-url and token-url must be set together"))
	case !azure && !generic:
		errs = append(errs, errors.New("either tenant-name/policy-name or auth-url/token-url is required"))
	}

	if cfg.CodeLength <= 0 {
		errs = append(errs, fmt.Errorf("code-length must be positive, got %d", cfg.CodeLength))
	}
	switch {
	case cfg.CodeAlphabet == "" || len(cfg.CodeAlphabet) > 256:
		errs = append(errs, errors.New("code-alphabet must hold between 1 and 256 characters"))
	case !isASCII(cfg.CodeAlphabet):
		errs = append(errs, fmt.Errorf("code-alphabet %q must be ASCII", cfg.CodeAlphabet))
	case strings.ToUpper(cfg.CodeAlphabet) != cfg.CodeAlphabet:
		// Codes typed on the pairing page are upper-cased before lookup.
		errs = append(errs, fmt.Errorf("code-alphabet %q must not contain lower-case letters", cfg.CodeAlphabet))
	}

	if cfg.CodeRate < 0 {
		errs = append(errs, fmt.Errorf("code-rate must not be negative, got %g", cfg.CodeRate))
	}
	if cfg.CodeRate > 0 && cfg.CodeBurst <= 0 {
		errs = append(errs, fmt.Errorf("code-burst must be positive when code-rate is set, got %d", cfg.CodeBurst))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return serverConfig{}, fmt.Errorf("%w: %w", devicepair.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
