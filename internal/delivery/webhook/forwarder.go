// Package webhook forwards accepted alerts to external HTTP receivers and
// verifies signed payloads posted to quakecast.
//
// Every delivery is a JSON POST signed with HMAC-SHA256 in the
// X-Signature-256 header as "sha256=<hex>".
package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/quake"
)

// AlertType is the type field of forwarded alerts.
const AlertType = "earthquake_alert"

const (
	queueSize    = 16
	drainTimeout = 5 * time.Second
)

// Alert is the forwarded payload.
type Alert struct {
	Type   string      `json:"type"`
	Event  quake.Event `json:"event"`
	SentAt string      `json:"sentAt"`
}

// Forwarder delivers alerts to a fixed set of targets in the background,
// one alert at a time and in acceptance order.
type Forwarder struct {
	sender  *RetryingSender
	targets []Target
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewForwarder starts a forwarder. With no targets it accepts nothing.
func NewForwarder(targets []Target, sender *RetryingSender, logger zerolog.Logger) *Forwarder {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		sender:  sender,
		targets: targets,
		log:     logger,
		now:     time.Now,
		queue:   make(chan []byte, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, t := range targets {
		logger.Info().Str("target", t.Name).Str("url", t.URL).Str("secret", MaskSecret(t.Secret)).Msg("webhook target configured")
	}
	go f.loop()
	return f
}

// Targets returns the configured targets.
func (f *Forwarder) Targets() []Target {
	return f.targets
}

// Forward queues e for delivery. It reports false when there are no targets,
// the forwarder is closed or the queue is full.
func (f *Forwarder) Forward(e quake.Event) bool {
	if len(f.targets) == 0 {
		return false
	}
	payload, err := json.Marshal(Alert{Type: AlertType, Event: e, SentAt: f.now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		f.log.Error().Err(err).Str("event_id", e.ID).Msg("failed to encode alert")
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- payload:
		return true
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Add(float64(len(f.targets)))
		f.log.Warn().Str("event_id", e.ID).Msg("webhook queue full, alert dropped")
		return false
	}
}

// Verify runs the handshake against every target and returns the first error.
func (f *Forwarder) Verify(ctx context.Context) error {
	for _, t := range f.targets {
		if err := f.sender.sender.Handshake(ctx, t); err != nil {
			f.log.Warn().Err(err).Str("target", t.Name).Msg("webhook handshake failed")
			return err
		}
		f.log.Info().Str("target", t.Name).Msg("webhook handshake ok")
	}
	return nil
}

// Close stops accepting alerts and waits for queued deliveries, abandoning
// them after a grace period.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()

		select {
		case <-f.done:
		case <-time.After(drainTimeout):
			f.cancel()
			<-f.done
		}
		f.cancel()
	})
}

func (f *Forwarder) loop() {
	defer close(f.done)
	for payload := range f.queue {
		for _, r := range f.sender.SendAll(f.ctx, f.targets, payload) {
			if r.Success {
				metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
				f.log.Debug().Str("url", r.URL).Int("status", r.StatusCode).Int("retries", r.RetryCount).Msg("webhook delivered")
				continue
			}
			metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
			f.log.Warn().Str("url", r.URL).Int("status", r.StatusCode).Int("retries", r.RetryCount).Str("error", r.ErrorMessage).Msg("webhook delivery failed")
		}
	}
}
