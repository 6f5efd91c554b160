package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DEVICEPAIR"

// Execute runs the devicepaird command line until it exits or a termination signal arrives.
func Execute() {
	ctx := withSignalCancel(context.Background())
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "devicepaird",
		Short: "devicepaird pairs input-constrained devices with a browser login",
		Long: `devicepaird hands out short device codes. A user types the code into the
pairing page, signs in with the identity provider, and the device collects
its token by polling.

Every flag can also be set through a DEVICEPAIR_ environment variable,
for example DEVICEPAIR_CLIENT_ID or DEVICEPAIR_SITE_URL.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand(v))
	return cmd
}

// bindFlags binds every flag in flags to the viper key of the same name.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
