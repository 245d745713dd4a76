// Command dummysubscriber is a local webhook receiver for quakecast
// deliveries. It answers verification handshakes and prints every alert.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/delivery/webhook"
	"github.com/otiai10/quakecast/internal/logging"
)

const defaultSecret = "test-secret-key"

const maxBody = 1 << 20

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	secret := flag.String("secret", envOr("QUAKECAST_WEBHOOK_SECRET", defaultSecret), "shared signing secret")
	flag.Parse()

	logging.Init(logging.Config{Level: logging.DebugLevel})
	log := logging.WithComponent("dummysubscriber")

	http.Handle("/webhook", newReceiver(*secret, log))

	log.Info().Str("url", "http://localhost"+*addr+"/webhook").Str("secret", webhook.MaskSecret(*secret)).Msg("waiting for earthquake alerts")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type receiver struct {
	secret string
	log    zerolog.Logger
}

func newReceiver(secret string, logger zerolog.Logger) *receiver {
	return &receiver{secret: secret, log: logger}
}

type envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := webhook.ReadSigned(r, rc.secret, maxBody)
	if errors.Is(err, webhook.ErrBadSignature) {
		rc.log.Warn().Msg("invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		rc.log.Warn().Err(err).Msg("body is not JSON")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	switch env.Type {
	case "url_verification":
		rc.log.Info().Msg("verification handshake")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
		return

	case webhook.AlertType:
		var alert webhook.Alert
		if err := json.Unmarshal(body, &alert); err == nil {
			rc.log.Info().
				Str("delivery", r.Header.Get(webhook.DeliveryHeader)).
				Str("event_id", alert.Event.ID).
				Str("time", alert.Event.Time).
				Float64("magnitude", alert.Event.Magnitude).
				Float64("latitude", alert.Event.Latitude).
				Float64("longitude", alert.Event.Longitude).
				Str("region", alert.Event.Region).
				Msg("earthquake received")
		}

	default:
		rc.log.Info().RawJSON("body", body).Msg("payload received")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
