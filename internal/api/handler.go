package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/app"
	"github.com/otiai10/quakecast/internal/delivery/webhook"
	"github.com/otiai10/quakecast/internal/geocode"
	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/settings"
	"github.com/otiai10/quakecast/internal/source"
	"github.com/otiai10/quakecast/internal/version"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 64 << 10

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body of GET /api/events/status.
type StatusResponse struct {
	Status   source.Status `json:"status"`
	HasEvent bool          `json:"hasEvent"`
}

// AcceptedResponse acknowledges a test or ingested alert.
type AcceptedResponse struct {
	ID    string `json:"id"`
	Shown bool   `json:"shown"`
}

// Service is the part of app.App the handlers use.
type Service interface {
	Latest() (quake.Event, bool)
	Status() source.Status
	PublishManual(e quake.Event, respectFilters bool) bool
	Ingest(e quake.Event) bool
}

// Geocoder resolves coordinates to a place name
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64, lang string) (geocode.Place, error)
}

// Handler contains the HTTP handlers for the API
type Handler struct {
	service      Service
	settings     *settings.Service
	geocoder     Geocoder
	ingestSecret string
	allowLocal   bool
	log          zerolog.Logger
	now          func() time.Time
}

// NewHandler creates a new Handler instance. geocoder may be nil, which
// disables /api/geocode; an empty ingestSecret disables signed ingest.
func NewHandler(service Service, svc *settings.Service, geocoder Geocoder, ingestSecret string, allowLocal bool, logger zerolog.Logger) *Handler {
	return &Handler{
		service:      service,
		settings:     svc,
		geocoder:     geocoder,
		ingestSecret: ingestSecret,
		allowLocal:   allowLocal,
		log:          logger,
		now:          time.Now,
	}
}

var _ Service = (*app.App)(nil)

// Health reports liveness and the build.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "hash": version.CommitHash}, http.StatusOK)
}

// LatestEvent handles GET /api/events/latest
func (h *Handler) LatestEvent(w http.ResponseWriter, r *http.Request) {
	e, ok := h.service.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, e, http.StatusOK)
}

// EventStatus handles GET /api/events/status
func (h *Handler) EventStatus(w http.ResponseWriter, r *http.Request) {
	_, hasEvent := h.service.Latest()
	writeJSON(w, StatusResponse{Status: h.service.Status(), HasEvent: hasEvent}, http.StatusOK)
}

// TestEvent handles POST /api/events/test
func (h *Handler) TestEvent(w http.ResponseWriter, r *http.Request) {
	var req app.TestAlert
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validCoordinates(req.Lat, req.Lon) {
		writeError(w, "lat/lon out of range", http.StatusBadRequest)
		return
	}

	e := req.Event(h.now())
	shown := h.service.PublishManual(e, req.RespectFilters)
	writeJSON(w, AcceptedResponse{ID: e.ID, Shown: shown}, http.StatusAccepted)
}

// IngestEvent handles POST /api/events/ingest. The body is a generic
// external payload signed like outbound webhooks. A revision that was
// already received is accepted but not shown again.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.ingestSecret == "" {
		writeError(w, "ingest is not configured", http.StatusNotFound)
		return
	}

	body, err := webhook.ReadSigned(r, h.ingestSecret, maxBodySize)
	if errors.Is(err, webhook.ErrBadSignature) {
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("ingest signature rejected")
		writeError(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	e, ok := quake.FromGenericExternal(payload)
	if !ok {
		writeError(w, "payload is not a valid earthquake", http.StatusBadRequest)
		return
	}

	shown := h.service.Ingest(e)
	writeJSON(w, AcceptedResponse{ID: e.ID, Shown: shown}, http.StatusAccepted)
}

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.settings.Current(), http.StatusOK)
}

// UpdateSettings handles POST /api/settings. Fields missing from the body
// keep their current values.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := h.settings.Current()
	if err := decodeJSON(w, r, &next); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := next.Validate(h.allowLocal); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.settings.Update(&next), http.StatusOK)
}

// ResetSettings handles POST /api/settings/reset
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.settings.Reset(), http.StatusOK)
}

// Geocode handles GET /api/geocode?lat=&lon=&lang=
func (h *Handler) Geocode(w http.ResponseWriter, r *http.Request) {
	if h.geocoder == nil {
		writeError(w, "geocoding is disabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(q.Get("lat")), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(q.Get("lon")), 64)
	if errLat != nil || errLon != nil {
		writeError(w, "lat and lon must be numbers", http.StatusBadRequest)
		return
	}

	place, err := h.geocoder.Reverse(r.Context(), lat, lon, q.Get("lang"))
	if errors.Is(err, geocode.ErrInvalidCoordinates) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("reverse geocoding failed")
		writeError(w, "reverse geocoding failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, place, http.StatusOK)
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, ErrorResponse{Error: message}, status)
}
