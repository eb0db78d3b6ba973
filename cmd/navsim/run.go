package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/app"
	"github.com/freemedia/storefront/internal/mediaapi"
	"github.com/freemedia/storefront/internal/platform/config"
	"github.com/freemedia/storefront/internal/platform/observability"
	"github.com/freemedia/storefront/internal/platform/requestctx"
)

// ErrScenarioFailed is returned when a scenario's expectations do not hold.
var ErrScenarioFailed = errors.New("navsim: scenario expectations failed")

type runOptions struct {
	api     string
	session string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Replay a browsing scenario and print its navigation trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			if opts.api != "" {
				cfg.API.BaseURL = opts.api
			}
			report, err := runWithConfig(cmd.Context(), sc, cfg, opts.session, opts.api == "", logger)
			if err != nil {
				return err
			}
			report.WriteTrace(cmd.OutOrStdout())
			if len(report.Failures) > 0 {
				return fmt.Errorf("%w: %d failed", ErrScenarioFailed, len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.api, "api", "", "remote media API base URL; an in-process API is started when empty")
	cmd.Flags().StringVar(&opts.session, "session", "", "snapshot session id (defaults to a fresh ULID)")
	return cmd
}

// runWithConfig opens the snapshot session, optionally starts a local media API for the
// scenario's catalog, and replays sc.
func runWithConfig(ctx context.Context, sc Scenario, cfg config.Config, sessionID string, local bool, logger *zap.Logger) (Report, error) {
	session, err := app.OpenSession(ctx, cfg.Snapshots, sessionID, logger.Named("snapshot"))
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close snapshot session", zap.Error(err))
		}
	}()

	baseURL := cfg.API.BaseURL
	if local {
		url, stop, err := startLocalAPI(sc.Catalog, cfg, logger.Named("mediaapi"))
		if err != nil {
			return Report{}, err
		}
		defer stop()
		baseURL = url
	}

	ctx = requestctx.WithSession(observability.WithLogger(ctx, logger), session.ID)
	logger.Info("running scenario",
		zap.String("name", sc.Name),
		zap.String("session_id", session.ID),
		zap.String("api", baseURL),
		zap.Int("steps", len(sc.Steps)),
	)
	return RunScenario(ctx, sc, RunConfig{
		BaseURL: baseURL,
		Options: app.OptionsFromConfig(cfg),
		Store:   session.Store,
	})
}

func startLocalAPI(setup CatalogSetup, cfg config.Config, logger *zap.Logger) (string, func(), error) {
	apiCfg := cfg.API
	if setup.File != "" {
		apiCfg.CatalogFile = setup.File
	}
	var catalog *mediaapi.Catalog
	if apiCfg.CatalogFile != "" {
		loaded, err := mediaapi.LoadCatalog(apiCfg.CatalogFile)
		if err != nil {
			return "", nil, err
		}
		catalog = loaded
	} else {
		size := apiCfg.CatalogSize
		if setup.Size > 0 {
			size = setup.Size
		}
		seed := uint64(catalogSeed)
		if setup.Seed != 0 {
			seed = setup.Seed
		}
		catalog = mediaapi.GenerateCatalog(size, seed)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen for local media api: %w", err)
	}
	server := &http.Server{
		Handler: mediaapi.NewServer(catalog, mediaapi.ServerOptions{
			Logger:          logger,
			BareArray:       setup.BareArray || apiCfg.BareArray,
			Latency:         setup.Latency,
			DefaultPageSize: cfg.Listing.PageSize,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("local media api stopped", zap.Error(err))
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return "http://" + listener.Addr().String(), stop, nil
}
