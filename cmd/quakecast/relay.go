package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/otiai10/quakecast/internal/api"
	"github.com/otiai10/quakecast/internal/config"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/relay"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run only the WebSocket relay",
		Long: `Serve the WebSocket relay on relay.addr: browser connections to /ws
(or /) are bridged to relay.upstream, or to ?target= when allowed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Relay.Addr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runRelay(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides relay.addr)")
	return cmd
}

func relayRouter(cfg *config.Config) http.Handler {
	h := relay.NewHandler(relayConfig(cfg), logging.WithComponent("relay"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", h)
	return api.Chain(
		api.RecoveryMiddleware(logging.WithComponent("http")),
		api.LoggingMiddleware(logging.WithComponent("http")),
	)(mux)
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("main")
	if cfg.Relay.Upstream == "" && !cfg.Relay.AllowQueryTarget {
		log.Warn().Msg("no relay upstream configured; every connection will be refused")
	}

	server := api.NewServer(cfg.Relay.Addr, relayRouter(cfg))
	if err := server.Listen(); err != nil {
		return err
	}
	log.Info().Str("addr", server.Addr()).Str("upstream", cfg.Relay.Upstream).Msg("relay listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
