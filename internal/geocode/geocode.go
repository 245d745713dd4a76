// Package geocode resolves coordinates to a place name through BigDataCloud's
// free client-side reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/version"
)

// DefaultBaseURL is the BigDataCloud client endpoint.
const DefaultBaseURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"

// ErrInvalidCoordinates is returned for latitudes or longitudes out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Place is a reverse-geocoding result. Empty fields are omitted.
type Place struct {
	City        string `json:"city,omitempty"`
	Locality    string `json:"locality,omitempty"`
	Admin       string `json:"admin,omitempty"`
	CountryName string `json:"countryName,omitempty"`
}

type upstreamPlace struct {
	City                 string `json:"city"`
	Locality             string `json:"locality"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	CountryName          string `json:"countryName"`
}

// Config tunes the client. Zero values take defaults.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	TTL       time.Duration `yaml:"ttl"`
	CacheSize int           `yaml:"cache_size"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TTL <= 0 {
		c.TTL = 6 * time.Hour
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.RPS <= 0 {
		c.RPS = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Client looks up places with a TTL cache in front of the upstream.
// Concurrent lookups of the same key share one upstream request.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *expirable.LRU[string, Place]
	group   singleflight.Group
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a client.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   expirable.NewLRU[string, Place](cfg.CacheSize, nil, cfg.TTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     logger,
	}
}

// cacheKey rounds to two decimals (about 1 km) so nearby lookups share an entry.
func cacheKey(lat, lon float64, lang string) string {
	return fmt.Sprintf("%.2f,%.2f,%s", lat, lon, lang)
}

// Reverse returns the place at lat/lon with names in lang (default "en").
func (c *Client) Reverse(ctx context.Context, lat, lon float64, lang string) (Place, error) {
	if !validCoordinate(lat, 90) || !validCoordinate(lon, 180) {
		return Place{}, ErrInvalidCoordinates
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = "en"
	}

	key := cacheKey(lat, lon, lang)
	if p, ok := c.cache.Get(key); ok {
		metrics.GeocodeLookupsTotal.WithLabelValues("hit").Inc()
		return p, nil
	}
	metrics.GeocodeLookupsTotal.WithLabelValues("miss").Inc()

	v, err, shared := c.group.Do(key, func() (any, error) {
		if p, ok := c.cache.Get(key); ok {
			return p, nil
		}
		p, err := c.fetch(ctx, lat, lon, lang)
		if err != nil {
			return Place{}, err
		}
		c.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("reverse geocode failed")
		return Place{}, err
	}
	if shared {
		c.log.Debug().Str("key", key).Msg("reverse geocode shared")
	}
	return v.(Place), nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64, lang string) (Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("localityLanguage", lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Place{}, fmt.Errorf("revgeo %d", resp.StatusCode)
	}

	var up upstreamPlace
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&up); err != nil {
		return Place{}, fmt.Errorf("failed to decode reverse geocode response: %w", err)
	}
	return Place{
		City:        up.City,
		Locality:    up.Locality,
		Admin:       up.PrincipalSubdivision,
		CountryName: up.CountryName,
	}, nil
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}
