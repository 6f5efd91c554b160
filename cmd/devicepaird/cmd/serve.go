package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rlebel12/devicepair"
	"github.com/rlebel12/devicepair/providers"
	"github.com/rlebel12/devicepair/web"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pairing server",
		Example: `
  # Azure AD B2C
  DEVICEPAIR_CLIENT_ID=... DEVICEPAIR_CLIENT_SECRET=... \
  DEVICEPAIR_TENANT_NAME=contoso DEVICEPAIR_POLICY_NAME=B2C_1_signin \
  DEVICEPAIR_SITE_URL=https://pair.example.com devicepaird serve

  # Any OAuth2 provider supporting PKCE
  devicepaird serve --site-url http://localhost:32468 --client-id cli \
    --auth-url https://idp.example.com/authorize --token-url https://idp.example.com/token \
    --scopes openid,offline_access`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	addServeFlags(cmd.Flags())
	bindFlags(v, cmd.Flags())
	return cmd
}

func newLogger(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "devicepaird")
}

func newProvider(cfg serverConfig, callbackURL string) *providers.Provider {
	if cfg.TenantName != "" {
		return providers.NewAzureADB2C(cfg.TenantName, cfg.PolicyName, cfg.ClientID, cfg.ClientSecret, callbackURL, cfg.Scopes)
	}
	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	return providers.New(endpoint, cfg.ClientID, cfg.ClientSecret, callbackURL, cfg.Scopes)
}

// newHandler assembles the broker and its HTTP surface from cfg. The returned
// sweeper has not been started.
func newHandler(cfg serverConfig, logger *slog.Logger, reg prometheus.Registerer) (http.Handler, *devicepair.Sweeper, error) {
	metrics, err := devicepair.NewMetrics(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	store := devicepair.NewMemoryDeviceCodeStore(
		devicepair.WithCodeGenerator(devicepair.CodeGenerator(cfg.CodeAlphabet, cfg.CodeLength)),
	)
	provider := newProvider(cfg, devicepair.CallbackURL(cfg.SiteURL))
	opts := []devicepair.NewOpts{
		devicepair.WithOrigin(cfg.SiteURL),
		devicepair.WithCodeTTL(cfg.CodeTTL),
		devicepair.WithSweepInterval(cfg.SweepInterval),
		devicepair.WithLogger(logger),
		devicepair.WithMonitor(devicepair.NewLoggerMonitor(logger)),
		devicepair.WithMetrics(metrics),
	}
	if cfg.CodeRate > 0 {
		opts = append(opts, devicepair.WithIssueRateLimit(rate.Limit(cfg.CodeRate), cfg.CodeBurst))
	}
	broker, err := devicepair.New(provider, store, opts...)
	if err != nil {
		return nil, nil, err
	}

	static, err := web.Handler()
	if err != nil {
		return nil, nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", broker.Router(static))
	return r, broker.NewSweeper(), nil
}

func serve(ctx context.Context, cfg serverConfig) error {
	logger := newLogger(cfg.LogLevel)

	handler, sweeper, err := newHandler(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Close()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	logger.Info("listening", "addr", cfg.Listen, "site_url", cfg.SiteURL.String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
