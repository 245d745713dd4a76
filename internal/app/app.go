// Package app wires the feed connector, overlay settings, the overlay push
// hub and webhook forwarding into one running service.
package app

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/delivery/sse"
	"github.com/otiai10/quakecast/internal/lastseen"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/settings"
	"github.com/otiai10/quakecast/internal/source"
	"github.com/otiai10/quakecast/internal/source/feed"
)

// Alert filter outcomes.
const (
	OutcomeShown     = "shown"
	OutcomeFiltered  = "filtered"
	OutcomeDuplicate = "duplicate"
)

// defaultSeenLimit bounds the shown-revision memory when the feed keeps an
// unbounded one.
const defaultSeenLimit = 4096

// Forwarder abstracts webhook.Forwarder for testing
type Forwarder interface {
	Forward(e quake.Event) bool
	Close()
}

// ConnectFunc starts a feed connection. It abstracts feed.Connect for testing.
type ConnectFunc func(cfg feed.Config, opts feed.Options) source.Source

// App is the main application orchestrator.
type App struct {
	feedCfg   feed.Config
	settings  *settings.Service
	store     lastseen.Store
	hub       *sse.Hub
	forwarder Forwarder
	connect   ConnectFunc
	log       zerolog.Logger
	seen      *lru.Cache[quake.Signature, struct{}] // feed and ingest revisions

	mu     sync.RWMutex
	latest *quake.Event
	status source.Status

	connMu      sync.Mutex
	conn        source.Source
	override    string
	running     bool
	unsubscribe func()
}

// Option is a functional option for configuring the App.
type Option func(*App)

// WithForwarder forwards shown alerts to webhooks.
func WithForwarder(f Forwarder) Option {
	return func(a *App) {
		a.forwarder = f
	}
}

// WithStore remembers the last accepted event id across reconnects.
// Without it the id is not kept.
func WithStore(s lastseen.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithConnectFunc replaces feed.Connect.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(a *App) {
		a.connect = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}

// New creates an application. The settings service should already be loaded.
func New(feedCfg feed.Config, svc *settings.Service, opts ...Option) *App {
	a := &App{
		feedCfg:  feedCfg,
		settings: svc,
		store:    lastseen.Unavailable(),
		connect:  connectFeed,
		log:      logging.WithComponent("app"),
		status:   source.StatusClosed,
	}
	for _, opt := range opts {
		opt(a)
	}
	limit := feedCfg.MaxSignatures
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	a.seen, _ = lru.New[quake.Signature, struct{}](limit)
	a.hub = sse.NewHub(a.initialFrames, logging.WithComponent("sse"))
	return a
}

func connectFeed(cfg feed.Config, opts feed.Options) source.Source {
	return feed.Connect(cfg, opts)
}

// Hub returns the overlay push hub.
func (a *App) Hub() *sse.Hub {
	return a.hub
}

// Settings returns the settings service.
func (a *App) Settings() *settings.Service {
	return a.settings
}

// Start connects to the feed and begins reacting to settings changes.
// It is a no-op when already started.
func (a *App) Start() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.running {
		return
	}
	a.running = true

	a.override = a.settings.Current().EndpointOverride
	a.conn = a.dial(a.override)
	a.unsubscribe = a.settings.Subscribe(a.onSettings)
}

// Stop disconnects from the feed, ends every overlay stream and drains
// pending webhook deliveries.
func (a *App) Stop() {
	a.connMu.Lock()
	if !a.running {
		a.connMu.Unlock()
		return
	}
	a.running = false
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	conn := a.conn
	a.conn = nil
	a.connMu.Unlock()

	if conn != nil {
		conn.Stop()
	}
	a.hub.Close()
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	a.log.Info().Msg("stopped")
}

// Run starts the application and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Start()
	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	a.Stop()
	return nil
}

func (a *App) dial(override string) source.Source {
	return a.connect(a.feedCfg, feed.Options{
		OnEvent:          a.handleEvent,
		OnStatus:         a.handleStatus,
		EndpointOverride: override,
		Gate:             a.streamEnabled,
		Store:            a.store,
	})
}

// streamEnabled gates the feed connection. With the stream switched off no
// alert can be shown or forwarded, so the upstream is not held open.
func (a *App) streamEnabled() bool {
	return a.settings.Current().StreamEnabled
}

// Latest returns the most recently shown alert.
func (a *App) Latest() (quake.Event, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return quake.Event{}, false
	}
	return *a.latest, true
}

// Status returns the last reported feed status.
func (a *App) Status() source.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// PublishManual shows an operator-supplied alert. With respectFilters the
// current settings apply exactly as for feed events. It reports whether the
// alert was shown.
func (a *App) PublishManual(e quake.Event, respectFilters bool) bool {
	if respectFilters && !a.shouldShow(e) {
		metrics.AlertsTotal.WithLabelValues(OutcomeFiltered).Inc()
		a.log.Info().Str("event_id", e.ID).Msg("test alert filtered")
		return false
	}
	a.log.Info().Str("event_id", e.ID).Float64("magnitude", e.Magnitude).Msg("test alert")
	a.show(e)
	return true
}

// Ingest shows an alert pushed by an external system. Filters apply as for
// feed events, and a revision already received from the feed or an earlier
// ingest is dropped. It reports whether the alert was shown.
func (a *App) Ingest(e quake.Event) bool {
	if a.duplicate(e) {
		metrics.AlertsTotal.WithLabelValues(OutcomeDuplicate).Inc()
		a.log.Info().Str("event_id", e.ID).Msg("ingested alert already seen")
		return false
	}
	if !a.shouldShow(e) {
		metrics.AlertsTotal.WithLabelValues(OutcomeFiltered).Inc()
		a.log.Info().Str("event_id", e.ID).Msg("ingested alert filtered")
		return false
	}
	a.log.Info().Str("event_id", e.ID).Float64("magnitude", e.Magnitude).Msg("ingested alert")
	a.show(e)
	return true
}

// duplicate reports whether e's revision was already received, recording it
// if not.
func (a *App) duplicate(e quake.Event) bool {
	found, _ := a.seen.ContainsOrAdd(e.Signature(), struct{}{})
	return found
}

func (a *App) handleEvent(e quake.Event) {
	if a.duplicate(e) {
		metrics.AlertsTotal.WithLabelValues(OutcomeDuplicate).Inc()
		a.log.Debug().Str("event_id", e.ID).Msg("alert already ingested")
		return
	}
	if !a.shouldShow(e) {
		metrics.AlertsTotal.WithLabelValues(OutcomeFiltered).Inc()
		a.log.Debug().Str("event_id", e.ID).Float64("magnitude", e.Magnitude).Msg("alert filtered")
		return
	}
	a.show(e)
}

func (a *App) shouldShow(e quake.Event) bool {
	s := a.settings.Current()
	return s.StreamEnabled && quake.Passes(e, s.Criteria())
}

func (a *App) show(e quake.Event) {
	a.mu.Lock()
	a.latest = &e
	a.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(OutcomeShown).Inc()
	if err := a.hub.Publish(sse.EventEarthquake, e.ID, e); err != nil {
		a.log.Error().Err(err).Str("event_id", e.ID).Msg("failed to publish alert")
	}
	if a.forwarder != nil && !a.forwarder.Forward(e) {
		a.log.Debug().Str("event_id", e.ID).Msg("alert not forwarded")
	}
}

func (a *App) handleStatus(s source.Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()

	a.log.Info().Str("status", string(s)).Msg("feed status")
	if err := a.hub.Publish(sse.EventStatus, "", string(s)); err != nil {
		a.log.Error().Err(err).Msg("failed to publish status")
	}
}

func (a *App) onSettings(s settings.Settings) {
	if err := a.hub.Publish(sse.EventSettings, "", s); err != nil {
		a.log.Error().Err(err).Msg("failed to publish settings")
	}

	a.connMu.Lock()
	defer a.connMu.Unlock()
	if !a.running || s.EndpointOverride == a.override {
		return
	}

	a.log.Info().Str("endpoint_override", s.EndpointOverride).Msg("feed endpoint changed; reconnecting")
	if a.conn != nil {
		a.conn.Stop()
	}
	a.override = s.EndpointOverride
	a.conn = a.dial(a.override)
}

// initialFrames is what a newly attached overlay receives first.
func (a *App) initialFrames() []sse.Frame {
	frames := make([]sse.Frame, 0, 3)
	if f, err := sse.NewFrame(sse.EventSettings, "", a.settings.Current()); err == nil {
		frames = append(frames, f)
	}
	if f, err := sse.NewFrame(sse.EventStatus, "", string(a.Status())); err == nil {
		frames = append(frames, f)
	}
	if e, ok := a.Latest(); ok {
		if f, err := sse.NewFrame(sse.EventEarthquake, e.ID, e); err == nil {
			frames = append(frames, f)
		}
	}
	return frames
}
