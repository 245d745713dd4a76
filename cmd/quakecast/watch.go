package main

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/otiai10/quakecast/internal/lastseen"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/source"
	"github.com/otiai10/quakecast/internal/source/feed"
)

var errNoEndpoint = errors.New("no feed endpoint: set feed.endpoint, QUAKECAST_FEED_ENDPOINT or --endpoint")

// watchLine is one line of `quakecast watch` output.
type watchLine struct {
	Type   string        `json:"type"`
	Status source.Status `json:"status,omitempty"`
	Event  *quake.Event  `json:"event,omitempty"`
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print feed events and statuses as JSON lines",
		Long: `Connect to the feed with an in-memory last-seen store and print every
accepted event and status change as one JSON object per line until interrupted.
No filters are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			endpoint, _ := cmd.Flags().GetString("endpoint")

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			w := newLineWriter(cmd.OutOrStdout())
			logger := logging.WithComponent("feed")
			conn := feed.Connect(feedConfig(cfg.Feed), feed.Options{
				OnEvent:          w.event,
				OnStatus:         w.status,
				EndpointOverride: endpoint,
				Store:            lastseen.NewMemory(),
				Logger:           &logger,
			})
			if conn.Endpoint() == "" {
				return errNoEndpoint
			}

			<-ctx.Done()
			conn.Stop()
			return nil
		},
	}
	cmd.Flags().String("endpoint", "", "feed endpoint (overrides feed.endpoint)")
	return cmd
}

type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) write(l watchLine) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(l)
}

func (w *lineWriter) event(e quake.Event) {
	w.write(watchLine{Type: "event", Event: &e})
}

func (w *lineWriter) status(s source.Status) {
	w.write(watchLine{Type: "status", Status: s})
}
