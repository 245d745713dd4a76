package settings

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otiai10/quakecast/internal/quake"
)

func TestNormalize(t *testing.T) {
	bad := quake.BBox{LatMin: 43, LatMax: 35, LonMin: 25, LonMax: 45}
	custom := quake.BBox{LatMin: 36, LatMax: 42, LonMin: 26, LonMax: 44}

	tests := []struct {
		name  string
		in    func(*Settings)
		check func(t *testing.T, s Settings)
	}{
		{
			name:  "negative magnitude clamps to zero",
			in:    func(s *Settings) { s.MinMag = -2 },
			check: func(t *testing.T, s Settings) { assert.Equal(t, 0.0, s.MinMag) },
		},
		{
			name:  "NaN magnitude falls back to default",
			in:    func(s *Settings) { s.MinMag = math.NaN() },
			check: func(t *testing.T, s Settings) { assert.Equal(t, DefaultMinMag, s.MinMag) },
		},
		{
			name:  "infinite magnitude falls back to default",
			in:    func(s *Settings) { s.MinMag = math.Inf(1) },
			check: func(t *testing.T, s Settings) { assert.Equal(t, DefaultMinMag, s.MinMag) },
		},
		{
			name:  "display duration lower clamp",
			in:    func(s *Settings) { s.DisplayDurationSec = -5 },
			check: func(t *testing.T, s Settings) { assert.Equal(t, 0, s.DisplayDurationSec) },
		},
		{
			name:  "display duration upper clamp",
			in:    func(s *Settings) { s.DisplayDurationSec = 600 },
			check: func(t *testing.T, s Settings) { assert.Equal(t, MaxDisplayDurationSec, s.DisplayDurationSec) },
		},
		{
			name:  "theme is case-insensitive",
			in:    func(s *Settings) { s.Theme = " LIGHT " },
			check: func(t *testing.T, s Settings) { assert.Equal(t, ThemeLight, s.Theme) },
		},
		{
			name:  "unknown theme is dark",
			in:    func(s *Settings) { s.Theme = "neon" },
			check: func(t *testing.T, s Settings) { assert.Equal(t, ThemeDark, s.Theme) },
		},
		{
			name:  "flat style",
			in:    func(s *Settings) { s.OverlayStyle = "Flat" },
			check: func(t *testing.T, s Settings) { assert.Equal(t, StyleFlat, s.OverlayStyle) },
		},
		{
			name:  "unknown style is square",
			in:    func(s *Settings) { s.OverlayStyle = "round" },
			check: func(t *testing.T, s Settings) { assert.Equal(t, StyleSquare, s.OverlayStyle) },
		},
		{
			name: "blank sound and color fall back",
			in: func(s *Settings) {
				s.SoundURL = "  "
				s.NotifColor = ""
			},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, DefaultSoundURL, s.SoundURL)
				assert.Equal(t, DefaultNotifColor, s.NotifColor)
			},
		},
		{
			name:  "sound is trimmed",
			in:    func(s *Settings) { s.SoundURL = " assets/x.mp3 " },
			check: func(t *testing.T, s Settings) { assert.Equal(t, "assets/x.mp3", s.SoundURL) },
		},
		{
			name:  "unknown region falls back",
			in:    func(s *Settings) { s.Region = "atlantis" },
			check: func(t *testing.T, s Settings) { assert.Equal(t, quake.DefaultRegion, s.Region) },
		},
		{
			name: "known region selects its box",
			in:   func(s *Settings) { s.Region = "World" },
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "world", s.Region)
				assert.Equal(t, quake.WorldBBox, s.Area())
			},
		},
		{
			name: "invalid bbox is dropped",
			in:   func(s *Settings) { s.BBox = &bad },
			check: func(t *testing.T, s Settings) {
				assert.Nil(t, s.BBox)
				assert.Equal(t, quake.TurkeyBBox, s.Area())
			},
		},
		{
			name: "valid bbox wins over region",
			in: func(s *Settings) {
				s.Region = "world"
				s.BBox = &custom
			},
			check: func(t *testing.T, s Settings) { assert.Equal(t, custom, s.Area()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.in(&s)
			tt.check(t, s.Normalize())
		})
	}
}

func TestNormalize_DefaultsAreStable(t *testing.T) {
	assert.Equal(t, Defaults(), Defaults().Normalize())
}

func TestValidate(t *testing.T) {
	bad := quake.BBox{LatMin: 0, LatMax: 100, LonMin: 0, LonMax: 10}

	tests := []struct {
		name       string
		in         func(*Settings)
		allowLocal bool
		wantErr    bool
	}{
		{name: "defaults", in: func(*Settings) {}},
		{name: "unknown region", in: func(s *Settings) { s.Region = "mars" }, wantErr: true},
		{name: "bbox out of range", in: func(s *Settings) { s.BBox = &bad }, wantErr: true},
		{name: "public override", in: func(s *Settings) { s.EndpointOverride = "wss://feed.example.com/ws" }},
		{name: "local override rejected", in: func(s *Settings) { s.EndpointOverride = "ws://localhost:8787/ws" }, wantErr: true},
		{name: "local override in dev", in: func(s *Settings) { s.EndpointOverride = "ws://localhost:8787/ws" }, allowLocal: true},
		{name: "bad scheme", in: func(s *Settings) { s.EndpointOverride = "ftp://feed.example.com" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.in(&s)
			err := s.Validate(tt.allowLocal)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCriteria(t *testing.T) {
	s := Defaults()
	s.MinMag = 4.5
	c := s.Criteria()
	assert.Equal(t, 4.5, c.MinMagnitude)
	assert.Equal(t, quake.TurkeyBBox, c.BBox)
}

func TestJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Defaults())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"minMag", "beep", "soundUrl", "notifColor", "displayDurationSec", "theme", "overlayStyle", "streamEnabled", "region"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "bbox")
	assert.NotContains(t, m, "endpointOverride")
}

func TestService_LoadMissingWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "settings.json")
	svc := NewService(path, zerolog.Nop())

	got := svc.Load()
	assert.Equal(t, Defaults(), got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Settings
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, Defaults(), onDisk)
}

func TestService_LoadExistingNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"minMag":-1,"theme":"LIGHT","displayDurationSec":15}`), 0o644))

	got := NewService(path, zerolog.Nop()).Load()
	assert.Equal(t, 0.0, got.MinMag)
	assert.Equal(t, ThemeLight, got.Theme)
	assert.Equal(t, 15, got.DisplayDurationSec)
	// Missing fields keep their defaults.
	assert.True(t, got.Beep)
	assert.Equal(t, DefaultSoundURL, got.SoundURL)
}

func TestService_LoadCorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	svc := NewService(path, zerolog.Nop())
	assert.Equal(t, Defaults(), svc.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data), "corrupt file should be rewritten")
}

func TestService_UpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	svc := NewService(path, zerolog.Nop())
	svc.Load()

	var notified []Settings
	svc.Subscribe(func(s Settings) { notified = append(notified, s) })

	next := Defaults()
	next.MinMag = 5
	next.Theme = "light"
	got := svc.Update(&next)

	assert.Equal(t, 5.0, got.MinMag)
	assert.Equal(t, got, svc.Current())
	require.Len(t, notified, 1)
	assert.Equal(t, got, notified[0])

	reloaded := NewService(path, zerolog.Nop()).Load()
	assert.Equal(t, got, reloaded)
}

func TestService_UpdateNilAndReset(t *testing.T) {
	svc := NewService("", zerolog.Nop())
	svc.Load()

	next := Defaults()
	next.Beep = false
	svc.Update(&next)
	assert.False(t, svc.Current().Beep)

	assert.Equal(t, Defaults(), svc.Update(nil))

	svc.Update(&next)
	assert.Equal(t, Defaults(), svc.Reset())
	assert.Equal(t, Defaults(), svc.Current())
}

func TestService_ConcurrentUpdatesNotifyInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	svc := NewService(path, zerolog.Nop())
	svc.Load()

	var (
		mu       sync.Mutex
		stale    int
		notified []float64
	)
	svc.Subscribe(func(s Settings) {
		mu.Lock()
		defer mu.Unlock()
		if s.MinMag != svc.Current().MinMag {
			stale++
		}
		notified = append(notified, s.MinMag)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(mag float64) {
			defer wg.Done()
			next := Defaults()
			next.MinMag = mag
			svc.Update(&next)
		}(float64(i))
	}
	wg.Wait()

	assert.Zero(t, stale, "a subscriber saw settings older than the current ones")
	require.Len(t, notified, 20)
	assert.Equal(t, svc.Current().MinMag, notified[len(notified)-1])

	reloaded := NewService(path, zerolog.Nop()).Load()
	assert.Equal(t, svc.Current(), reloaded)
}

func TestService_Unsubscribe(t *testing.T) {
	svc := NewService("", zerolog.Nop())
	calls := 0
	unsubscribe := svc.Subscribe(func(Settings) { calls++ })

	svc.Reset()
	unsubscribe()
	svc.Reset()

	assert.Equal(t, 1, calls)
}

func TestService_CurrentIsACopy(t *testing.T) {
	svc := NewService("", zerolog.Nop())
	box := quake.BBox{LatMin: 36, LatMax: 42, LonMin: 26, LonMax: 44}
	next := Defaults()
	next.BBox = &box
	svc.Update(&next)

	cur := svc.Current()
	cur.BBox.LatMin = -10

	assert.Equal(t, 36.0, svc.Current().BBox.LatMin)
}

func TestService_PersistFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	svc := NewService(filepath.Join(blocker, "settings.json"), zerolog.Nop())
	next := Defaults()
	next.MinMag = 6
	got := svc.Update(&next)

	assert.Equal(t, 6.0, got.MinMag)
	assert.Equal(t, 6.0, svc.Current().MinMag)
}
