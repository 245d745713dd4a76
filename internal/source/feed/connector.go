// Package feed maintains the live connection to the upstream earthquake feed.
//
// A Connector dials the configured endpoint, subscribes, keeps the link alive
// with heartbeats, normalizes and de-duplicates inbound alerts and reconnects
// with capped exponential backoff until it is stopped. Observers see accepted
// events and open/lost/closed status transitions through callbacks; transient
// failures never surface as errors.
package feed

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/lastseen"
	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/source"
)

// gatePollInterval is how often a closed gate is re-checked.
const gatePollInterval = time.Second

type endReason int

const (
	endLost endReason = iota
	endGated
	endStopped
)

// Connector is a running feed connection. Stop it with Stop.
type Connector struct {
	cfg      Config
	endpoint string
	onEvent  source.EventFunc
	onStatus source.StatusFunc
	gate     func() bool
	store    lastseen.Store
	log      zerolog.Logger

	dial       dialer
	httpClient *http.Client
	delay      func(attempt int) time.Duration
	gatePoll   time.Duration
	now        func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	loopID    atomic.Uint64 // goroutine running the loop
	snapshots chan []quake.Event

	// Owned by the loop goroutine.
	seen       *signatureSet
	attempt    int
	lastStatus source.Status
}

var _ source.Source = (*Connector)(nil)

// Connect starts a connector. When no endpoint can be resolved the problem is
// logged and the returned connector is inert: it never dials, never reports a
// status and its Stop does nothing.
func Connect(cfg Config, opts Options) *Connector {
	c := newConnector(cfg, opts)
	if c.endpoint == "" {
		c.log.Error().Msg("feed endpoint is not configured; connector disabled")
		return c
	}
	c.start()
	return c
}

func newConnector(cfg Config, opts Options) *Connector {
	cfg = cfg.withDefaults()

	logger := logging.WithComponent("feed")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	store := opts.Store
	if store == nil {
		store = lastseen.Unavailable()
	}
	endpoint := opts.EndpointOverride
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}

	c := &Connector{
		cfg:        cfg,
		endpoint:   endpoint,
		onEvent:    opts.OnEvent,
		onStatus:   opts.OnStatus,
		gate:       opts.Gate,
		store:      store,
		log:        logger,
		httpClient: &http.Client{},
		delay:      retryDelay,
		gatePoll:   gatePollInterval,
		now:        time.Now,
		snapshots:  make(chan []quake.Event, 1),
		seen:       newSignatureSet(cfg.MaxSignatures),
	}

	if cfg.Transport == TransportSSE {
		c.dial = dialSSE(c.httpClient, cfg.Bearer)
	} else {
		c.dial = dialWebSocket(cfg.Bearer)
	}
	return c
}

func (c *Connector) start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	go c.run()
}

// Endpoint returns the resolved endpoint, or "" for a disabled connector.
func (c *Connector) Endpoint() string {
	return c.endpoint
}

// Stop closes the connection, cancels pending reconnects and heartbeats and
// reports "closed" once. It is idempotent. Called from any other goroutine it
// waits for the connector to wind down; called on the connector's own
// goroutine (from a callback or the gate) it returns immediately and the
// connector finishes after the callback returns.
func (c *Connector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	if goroutineID() == c.loopID.Load() {
		return
	}
	<-c.done
}

func (c *Connector) run() {
	c.loopID.Store(goroutineID())
	defer close(c.done)
	defer c.setStatus(source.StatusClosed)

	if c.cfg.SnapshotURL != "" {
		go c.loadSnapshot()
	}

	for c.ctx.Err() == nil {
		if !c.waitForGate() {
			return
		}

		c.log.Info().Str("endpoint", c.endpoint).Int("attempt", c.attempt).Msg("connecting")
		l, err := c.dial(c.ctx, c.endpoint, c.store.Get())
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Str("endpoint", c.endpoint).Msg("feed connection failed")
			c.setStatus(source.StatusLost)
			if !c.backoff() {
				return
			}
			continue
		}

		reason := c.serve(l)
		_ = l.Close()

		switch reason {
		case endStopped:
			return
		case endGated:
			c.setStatus(source.StatusLost)
		default:
			c.setStatus(source.StatusLost)
			if !c.backoff() {
				return
			}
		}
	}
}

// serve runs one open connection until it ends.
func (c *Connector) serve(l link) endReason {
	c.attempt = 0
	c.log.Info().Str("endpoint", c.endpoint).Str("transport", c.cfg.Transport).Msg("feed connected")
	c.setStatus(source.StatusOpen)
	if c.ctx.Err() != nil {
		return endStopped
	}

	if c.cfg.Bearer != "" {
		if err := l.Send(newAuthFrame(c.cfg.Bearer)); err != nil {
			c.log.Warn().Err(err).Msg("failed to send auth frame")
			return endLost
		}
	}
	if err := l.Send(newSubscribeFrame(c.cfg, c.store.Get(), c.now())); err != nil {
		c.log.Warn().Err(err).Msg("failed to send subscribe frame")
		return endLost
	}

	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	var gateCheck <-chan time.Time
	if c.gate != nil {
		t := time.NewTicker(c.gatePoll)
		defer t.Stop()
		gateCheck = t.C
	}

	for {
		if c.ctx.Err() != nil {
			return endStopped
		}
		select {
		case <-c.ctx.Done():
			return endStopped
		case data, ok := <-l.Messages():
			if !ok {
				c.log.Warn().Err(l.Err()).Str("endpoint", c.endpoint).Msg("feed connection lost")
				return endLost
			}
			c.handle(l, data)
		case <-ping:
			if err := l.Send(newPingFrame(c.now())); err != nil {
				c.log.Warn().Err(err).Msg("failed to send heartbeat")
				return endLost
			}
		case <-gateCheck:
			if !c.gateOpen() {
				c.log.Info().Msg("feed gate closed; disconnecting")
				return endGated
			}
		case events := <-c.snapshots:
			c.accept(events)
		}
	}
}

func (c *Connector) handle(l link, data []byte) {
	events, recognized := l.Decode(data)
	if !recognized {
		c.log.Debug().Int("bytes", len(data)).Msg("ignored frame")
		return
	}
	if len(events) == 0 {
		metrics.FeedEventsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		c.log.Debug().Msg("alert frame carried no valid event")
		return
	}
	c.accept(events)
}

// accept picks the latest event of a batch and delivers it unless its
// signature was already delivered.
func (c *Connector) accept(events []quake.Event) {
	if c.ctx.Err() != nil {
		return
	}
	e, ok := quake.Latest(events)
	if !ok {
		return
	}
	sig := e.Signature()

	c.log.Info().
		Str("event_id", e.ID).
		Str("time", e.Time).
		Float64("magnitude", e.Magnitude).
		Float64("latitude", e.Latitude).
		Float64("longitude", e.Longitude).
		Str("region", e.Region).
		Msg("EQ-MSG")

	if c.seen.isDuplicate(sig) {
		metrics.FeedEventsTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
		c.log.Debug().Str("signature", sig.String()).Msg("duplicate event suppressed")
		return
	}

	if prev := c.store.Get(); prev != "" && prev == e.ID {
		metrics.FeedEventsTotal.WithLabelValues(metrics.ResultRevision).Inc()
		c.log.Info().Str("event_id", e.ID).Msg("updated event (same id, new revision)")
	} else {
		metrics.FeedEventsTotal.WithLabelValues(metrics.ResultDelivered).Inc()
	}
	c.store.Set(e.ID)

	if c.onEvent != nil {
		c.callback(func() { c.onEvent(e) })
	}
}

// setStatus reports s unless it repeats the previous status.
func (c *Connector) setStatus(s source.Status) {
	if s == c.lastStatus {
		return
	}
	c.lastStatus = s
	metrics.SetFeedStatus(string(s))
	if c.onStatus != nil {
		c.callback(func() { c.onStatus(s) })
	}
}

func (c *Connector) callback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("feed callback panicked")
		}
	}()
	fn()
}

// gateOpen asks the gate. A panicking gate counts as open.
func (c *Connector) gateOpen() (open bool) {
	if c.gate == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("feed gate panicked")
			open = true
		}
	}()
	return c.gate()
}

// waitForGate blocks until the gate opens. It returns false when stopped.
func (c *Connector) waitForGate() bool {
	if c.gateOpen() {
		return true
	}
	c.log.Debug().Msg("feed gate closed; waiting")

	ticker := time.NewTicker(c.gatePoll)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case <-ticker.C:
			if c.gateOpen() {
				return true
			}
		case events := <-c.snapshots:
			c.accept(events)
		}
	}
}

// backoff waits before the next attempt. It returns false when stopped.
func (c *Connector) backoff() bool {
	d := c.delay(c.attempt)
	c.attempt++
	metrics.FeedReconnectsTotal.Inc()
	c.log.Info().Dur("delay", d).Int("attempt", c.attempt).Msg("reconnect scheduled")

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case <-timer.C:
			return true
		case events := <-c.snapshots:
			c.accept(events)
		}
	}
}

func (c *Connector) loadSnapshot() {
	events, err := fetchSnapshot(c.ctx, c.httpClient, c.cfg.SnapshotURL, c.cfg.Bearer)
	if err != nil {
		c.log.Debug().Err(err).Msg("snapshot unavailable")
		return
	}
	if len(events) == 0 {
		return
	}
	select {
	case c.snapshots <- events:
	case <-c.ctx.Done():
	}
}
