package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/mediaapi"
	"github.com/freemedia/storefront/internal/platform/config"
)

const catalogSeed = 1

type serveOptions struct {
	port    string
	catalog string
	size    int
	bare    bool
	latency time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the development media API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", "", "listen port (overrides NAV_SERVER_PORT)")
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "YAML catalog file (overrides NAV_API_CATALOG_FILE)")
	cmd.Flags().IntVar(&opts.size, "size", 0, "number of generated items when no catalog file is given")
	cmd.Flags().BoolVar(&opts.bare, "bare-array", false, "answer listings with a bare JSON array")
	cmd.Flags().DurationVar(&opts.latency, "latency", 0, "artificial latency added to media responses")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions, cmd *cobra.Command) error {
	cfg, baseLogger, err := root.setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("mediaapi")

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("catalog") {
		cfg.API.CatalogFile = opts.catalog
	}
	if cmd.Flags().Changed("size") {
		cfg.API.CatalogSize = opts.size
	}
	if cmd.Flags().Changed("bare-array") {
		cfg.API.BareArray = opts.bare
	}

	catalog, err := openCatalog(cfg.API)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", zap.Int("items", catalog.Len()), zap.String("file", cfg.API.CatalogFile))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: mediaapi.NewServer(catalog, mediaapi.ServerOptions{
			Logger:          logger,
			Registry:        registry,
			BareArray:       cfg.API.BareArray,
			Latency:         opts.latency,
			DefaultPageSize: cfg.Listing.PageSize,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	errCh := make(chan error, 1)
	go func() {
		serverLogger.Info("media api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			serverLogger.Error("http server error", zap.Error(err))
			return err
		}
		return nil
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func openCatalog(cfg config.APIConfig) (*mediaapi.Catalog, error) {
	if cfg.CatalogFile != "" {
		return mediaapi.LoadCatalog(cfg.CatalogFile)
	}
	return mediaapi.GenerateCatalog(cfg.CatalogSize, catalogSeed), nil
}
