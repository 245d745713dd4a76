package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/otiai10/quakecast/internal/api"
	"github.com/otiai10/quakecast/internal/app"
	"github.com/otiai10/quakecast/internal/config"
	"github.com/otiai10/quakecast/internal/delivery/webhook"
	"github.com/otiai10/quakecast/internal/geocode"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/relay"
	"github.com/otiai10/quakecast/internal/settings"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay server",
		Long: `Connect to the earthquake feed and serve the overlay event stream,
the settings API, webhook forwarding and (when enabled) the WebSocket relay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("main")

	store, closeStore, err := openStore(ctx, cfg.Store, logging.WithComponent("lastseen"))
	if err != nil {
		return err
	}
	defer closeStore()

	svc := settings.NewService(cfg.Settings.File, logging.WithComponent("settings"))
	svc.Load()

	opts := []app.Option{app.WithStore(store)}
	if targets := webhookTargets(cfg.Notify.Webhooks); len(targets) > 0 {
		sender := webhook.NewRetryingSender(webhook.NewSender(), retryConfig(cfg.Notify.Retry))
		forwarder := webhook.NewForwarder(targets, sender, logging.WithComponent("webhook"))
		if cfg.Notify.Verify {
			if err := forwarder.Verify(ctx); err != nil {
				forwarder.Close()
				return err
			}
		}
		opts = append(opts, app.WithForwarder(forwarder))
	}
	application := app.New(feedConfig(cfg.Feed), svc, opts...)

	guard, err := newGuard(ctx, cfg.Admin, logging.WithComponent("auth"))
	if err != nil {
		return err
	}

	var geocoder api.Geocoder
	if cfg.Geocode.Enabled {
		geocoder = geocode.New(geocodeConfig(cfg.Geocode), logging.WithComponent("geocode"))
	}

	routerCfg := api.RouterConfig{
		Handler:  api.NewHandler(application, svc, geocoder, cfg.Notify.IngestSecret, cfg.Security.AllowLocal, logging.WithComponent("api")),
		Stream:   application.Hub(),
		Guard:    guard,
		Security: &cfg.Security,
		Logger:   logging.WithComponent("http"),
	}
	if cfg.Relay.Enabled {
		routerCfg.Relay = relay.NewHandler(relayConfig(cfg), logging.WithComponent("relay"))
	}
	if cfg.API.StaticDir != "" {
		static, err := staticFS(cfg.API.StaticDir)
		if err != nil {
			return err
		}
		routerCfg.Static = static
	}

	server := api.NewServer(cfg.API.Addr, api.NewRouter(routerCfg))
	if err := server.Listen(); err != nil {
		return err
	}
	log.Info().Str("addr", server.Addr()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	application.Start()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("HTTP server stopped")
	}

	// Stopping the app ends the overlay streams, so the server can drain.
	application.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	log.Info().Msg("goodbye")
	return runErr
}

func staticFS(dir string) (fs.FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(dir + " is not a directory")
	}
	return os.DirFS(dir), nil
}
