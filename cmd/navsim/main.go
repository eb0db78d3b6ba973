package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/platform/config"
	"github.com/freemedia/storefront/internal/platform/observability"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "navsim",
		Short:         "Run the media storefront navigation engine against a media API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with NAV_* settings")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newRunCmd(opts))
	return cmd
}

// setup loads configuration and builds the process logger shared by every subcommand.
func (o *rootOptions) setup(ctx context.Context) (config.Config, *zap.Logger, error) {
	logger, err := observability.NewLoggerWithLevel(o.logLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialise logger: %w", err)
	}
	cfg, err := config.Load(ctx, config.WithEnvFile(o.envFile))
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logger, nil
}
