// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed event results.
const (
	ResultDelivered = "delivered"
	ResultDuplicate = "duplicate"
	ResultRevision  = "revision"
	ResultInvalid   = "invalid"
)

var feedStatuses = []string{"open", "lost", "closed"}

var (
	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakecast_feed_events_total",
			Help: "Feed events by handling result",
		},
		[]string{"result"},
	)

	FeedStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quakecast_feed_status",
			Help: "Current feed connection status (1 for the active status)",
		},
		[]string{"status"},
	)

	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakecast_feed_reconnects_total",
			Help: "Reconnect attempts scheduled after a lost feed connection",
		},
	)

	OverlayClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quakecast_overlay_clients",
			Help: "Overlay pages currently attached to the event stream",
		},
	)

	RelaySessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quakecast_relay_sessions",
			Help: "Active WebSocket relay sessions",
		},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakecast_alerts_total",
			Help: "Feed and ingested alerts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakecast_webhook_deliveries_total",
			Help: "Webhook deliveries by result",
		},
		[]string{"result"},
	)

	GeocodeLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakecast_geocode_lookups_total",
			Help: "Reverse geocoding lookups by cache result",
		},
		[]string{"cache"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakecast_api_requests_total",
			Help: "API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quakecast_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(FeedEventsTotal)
	prometheus.MustRegister(FeedStatus)
	prometheus.MustRegister(FeedReconnectsTotal)
	prometheus.MustRegister(OverlayClients)
	prometheus.MustRegister(RelaySessions)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(GeocodeLookupsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// SetFeedStatus marks status as the active feed status.
func SetFeedStatus(status string) {
	for _, s := range feedStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		FeedStatus.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed seconds on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
