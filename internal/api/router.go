package api

import (
	"io/fs"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/auth"
	"github.com/otiai10/quakecast/internal/config"
	"github.com/otiai10/quakecast/internal/metrics"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	Handler  *Handler
	Stream   http.Handler           // overlay event stream
	Relay    http.Handler           // nil disables /ws
	Guard    *auth.Guard            // nil leaves admin routes open
	Security *config.SecurityConfig // nil uses defaults
	Static   fs.FS                  // nil disables static hosting
	Logger   zerolog.Logger
}

// NewRouter creates a new HTTP router with every route and the middleware
// stack configured
func NewRouter(cfg RouterConfig) http.Handler {
	guard := cfg.Guard
	if guard == nil {
		guard = auth.NewGuard(auth.BasicCredentials{}, nil, cfg.Logger)
	}

	apiMux := http.NewServeMux()
	registerEventRoutes(apiMux, cfg.Handler, cfg.Stream, guard)
	registerSettingsRoutes(apiMux, cfg.Handler, guard)
	registerGeocodeRoutes(apiMux, cfg.Handler)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			cfg.Handler.Health(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/", JSONContentTypeMiddleware(apiMux))
	if cfg.Relay != nil {
		mux.Handle("/ws", cfg.Relay)
	}
	if cfg.Static != nil {
		mux.Handle("/", NewStaticFileServer(cfg.Static, ""))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, "not found", http.StatusNotFound)
		})
	}

	return applyMiddlewareChain(mux, cfg.Security, cfg.Logger)
}

// registerEventRoutes registers alert routes
func registerEventRoutes(mux *http.ServeMux, h *Handler, stream http.Handler, guard *auth.Guard) {
	mux.HandleFunc("/api/events/latest", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.LatestEvent(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/events/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.EventStatus(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	if stream != nil {
		mux.HandleFunc("/api/events/stream", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				stream.ServeHTTP(w, r)
			default:
				writeError(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	testEvent := guard.Require(http.HandlerFunc(h.TestEvent))
	mux.HandleFunc("/api/events/test", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			testEvent.ServeHTTP(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/events/ingest", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.IngestEvent(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// registerSettingsRoutes registers overlay settings routes; writes need an admin
func registerSettingsRoutes(mux *http.ServeMux, h *Handler, guard *auth.Guard) {
	update := guard.Require(http.HandlerFunc(h.UpdateSettings))
	reset := guard.Require(http.HandlerFunc(h.ResetSettings))

	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetSettings(w, r)
		case http.MethodPost:
			update.ServeHTTP(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/settings/reset", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			reset.ServeHTTP(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func registerGeocodeRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("/api/geocode", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Geocode(w, r)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// applyMiddlewareChain wraps a handler with the middleware stack using security config
func applyMiddlewareChain(h http.Handler, securityCfg *config.SecurityConfig, logger zerolog.Logger) http.Handler {
	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(securityCfg.GetCORSAllowedOrigins()),
	}

	if securityCfg != nil && securityCfg.RateLimitEnabled {
		middlewares = append(middlewares, NewRateLimiter(securityCfg.RateLimitRPM, logger).Middleware)
	}

	return Chain(middlewares...)(h)
}
