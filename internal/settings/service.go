package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Service owns the current settings and persists them to a JSON file.
// It is safe for concurrent use. Subscribers see changes in the order they
// were applied and must not call Update or Reset themselves.
type Service struct {
	path string
	log  zerolog.Logger

	applyMu sync.Mutex // orders apply, persist and notify
	mu      sync.RWMutex
	current Settings
	subs    map[int]func(Settings)
	nextSub int
}

// NewService creates a service holding the defaults. Call Load to read the
// file at path. An empty path keeps settings in memory only.
func NewService(path string, logger zerolog.Logger) *Service {
	return &Service{
		path:    path,
		log:     logger,
		current: Defaults(),
		subs:    make(map[int]func(Settings)),
	}
}

// Load reads the settings file. A missing or unreadable file is replaced by
// the defaults, which are written back.
func (s *Service) Load() Settings {
	loaded, err := s.read()
	switch {
	case err == nil:
		loaded = loaded.Normalize()
	case os.IsNotExist(err):
		s.log.Info().Str("path", s.path).Msg("settings file not found, writing defaults")
		loaded = Defaults()
		s.persist(loaded)
	default:
		s.log.Warn().Err(err).Str("path", s.path).Msg("failed to load settings, using defaults")
		loaded = Defaults()
		s.persist(loaded)
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return loaded.clone()
}

// Current returns a copy of the active settings.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Update normalizes next, makes it current, persists it and notifies
// subscribers. A nil next restores the defaults.
func (s *Service) Update(next *Settings) Settings {
	updated := Defaults()
	if next != nil {
		updated = next.Normalize()
	}
	return s.apply(updated)
}

// Reset restores the defaults.
func (s *Service) Reset() Settings {
	return s.apply(Defaults())
}

// Subscribe registers fn to receive every applied change. The returned
// function removes the subscription.
func (s *Service) Subscribe(fn func(Settings)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) apply(next Settings) Settings {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.current = next
	subs := make([]func(Settings), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	s.persist(next)
	s.log.Info().
		Float64("min_mag", next.MinMag).
		Str("region", next.Region).
		Bool("stream_enabled", next.StreamEnabled).
		Msg("settings updated")

	for _, fn := range subs {
		fn(next.clone())
	}
	return next.clone()
}

func (s *Service) read() (Settings, error) {
	if s.path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, err
	}

	out := Defaults()
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return out, nil
}

// persist writes v atomically. Failures are logged.
func (s *Service) persist(v Settings) {
	if s.path == "" {
		return
	}
	if err := writeJSON(s.path, v); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to persist settings")
	}
}

func writeJSON(path string, v Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
