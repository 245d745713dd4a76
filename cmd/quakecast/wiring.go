package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/auth"
	"github.com/otiai10/quakecast/internal/config"
	"github.com/otiai10/quakecast/internal/delivery/webhook"
	"github.com/otiai10/quakecast/internal/geocode"
	"github.com/otiai10/quakecast/internal/lastseen"
	"github.com/otiai10/quakecast/internal/relay"
	"github.com/otiai10/quakecast/internal/source/feed"
)

func feedConfig(c config.FeedConfig) feed.Config {
	return feed.Config{
		Endpoint:      c.Endpoint,
		Transport:     c.Transport,
		Bearer:        c.Bearer,
		Topic:         c.Topic,
		ClientID:      c.ClientID,
		FixedSince:    c.FixedTS,
		SinceWindow:   c.SinceWindow(),
		PingInterval:  c.PingInterval(),
		SnapshotURL:   c.SnapshotURL,
		MaxSignatures: c.MaxSignatures,
	}
}

func relayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Upstream:         cfg.Relay.Upstream,
		AllowQueryTarget: cfg.Relay.AllowQueryTarget,
		AllowLocal:       cfg.Security.AllowLocal,
	}
}

func geocodeConfig(c config.GeocodeConfig) geocode.Config {
	return geocode.Config{
		BaseURL: c.BaseURL,
		TTL:     c.TTL,
		RPS:     c.RPS,
		Burst:   c.Burst,
	}
}

func webhookTargets(hooks []config.WebhookConfig) []webhook.Target {
	targets := make([]webhook.Target, 0, len(hooks))
	for i, h := range hooks {
		name := h.Name
		if name == "" {
			name = fmt.Sprintf("webhook-%d", i+1)
		}
		targets = append(targets, webhook.Target{Name: name, URL: h.URL, Secret: h.Secret})
	}
	return targets
}

func retryConfig(c config.RetryConfig) webhook.RetryConfig {
	return webhook.RetryConfig{
		Enabled:    c.MaxRetries > 0,
		MaxRetries: c.MaxRetries,
		InitialMs:  c.InitialMs,
		MaxMs:      c.MaxMs,
	}
}

// openStore builds the last-seen store. The returned close function is
// never nil.
func openStore(ctx context.Context, c config.StoreConfig, logger zerolog.Logger) (lastseen.Store, func(), error) {
	noop := func() {}
	switch c.Type {
	case config.StoreNone:
		return lastseen.Unavailable(), noop, nil
	case config.StoreMemory:
		return lastseen.NewMemory(), noop, nil
	}

	var backend lastseen.Backend
	switch c.Type {
	case config.StoreBolt:
		b, err := lastseen.NewBoltBackend(c.Path)
		if err != nil {
			return nil, noop, err
		}
		backend = b
	case config.StoreFirestore:
		b, err := lastseen.NewFirestoreBackend(ctx, lastseen.FirestoreConfig{
			ProjectID:   c.ProjectID,
			Database:    c.Database,
			Credentials: c.Credentials,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		backend = b
	default:
		return nil, noop, fmt.Errorf("unsupported store type: %q", c.Type)
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	p := lastseen.Open(loadCtx, backend, logger)
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close last-seen store")
		}
	}, nil
}

// newGuard builds the admin guard from basic credentials and, when a
// project is configured, a Firebase ID token verifier.
func newGuard(ctx context.Context, c config.AdminConfig, logger zerolog.Logger) (*auth.Guard, error) {
	var verifier auth.TokenVerifier
	if c.FirebaseProjectID != "" {
		v, err := auth.NewFirebaseTokenVerifier(ctx, auth.FirebaseConfig{
			ProjectID:       c.FirebaseProjectID,
			CredentialsPath: c.FirebaseCredentials,
			AllowedEmails:   c.AllowedEmails,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Firebase token verifier: %w", err)
		}
		verifier = v
	}
	return auth.NewGuard(auth.BasicCredentials{User: c.User, Pass: c.Pass}, verifier, logger), nil
}
