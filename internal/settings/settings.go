// Package settings holds the operator-facing overlay settings: the alert
// threshold, the watched region and how the overlay looks and sounds.
package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/security"
)

// ErrInvalid is returned by Validate for settings an API write must reject.
var ErrInvalid = errors.New("invalid settings")

// Defaults.
const (
	DefaultMinMag             = 3.0
	DefaultSoundURL           = "assets/default_alert.mp3"
	DefaultNotifColor         = "#dc2626"
	DefaultDisplayDurationSec = 8
	MaxDisplayDurationSec     = 120

	ThemeDark   = "dark"
	ThemeLight  = "light"
	StyleSquare = "square"
	StyleFlat   = "flat"
)

// Settings is the overlay configuration shared with every overlay page.
type Settings struct {
	MinMag             float64     `json:"minMag"`
	Beep               bool        `json:"beep"`
	SoundURL           string      `json:"soundUrl"`
	NotifColor         string      `json:"notifColor"`
	DisplayDurationSec int         `json:"displayDurationSec"`
	Theme              string      `json:"theme"`
	OverlayStyle       string      `json:"overlayStyle"`
	StreamEnabled      bool        `json:"streamEnabled"`
	Region             string      `json:"region"`
	BBox               *quake.BBox `json:"bbox,omitempty"`
	EndpointOverride   string      `json:"endpointOverride,omitempty"`
}

// Defaults returns the factory settings.
func Defaults() Settings {
	return Settings{
		MinMag:             DefaultMinMag,
		Beep:               true,
		SoundURL:           DefaultSoundURL,
		NotifColor:         DefaultNotifColor,
		DisplayDurationSec: DefaultDisplayDurationSec,
		Theme:              ThemeDark,
		OverlayStyle:       StyleSquare,
		StreamEnabled:      true,
		Region:             quake.DefaultRegion,
	}
}

// Normalize returns a copy of s with every field coerced into range.
// Unknown or out-of-range values fall back to their defaults.
func (s Settings) Normalize() Settings {
	out := s

	if math.IsNaN(s.MinMag) || math.IsInf(s.MinMag, 0) {
		out.MinMag = DefaultMinMag
	} else if s.MinMag < 0 {
		out.MinMag = 0
	}

	out.DisplayDurationSec = min(max(s.DisplayDurationSec, 0), MaxDisplayDurationSec)

	if strings.EqualFold(strings.TrimSpace(s.Theme), ThemeLight) {
		out.Theme = ThemeLight
	} else {
		out.Theme = ThemeDark
	}
	if strings.EqualFold(strings.TrimSpace(s.OverlayStyle), StyleFlat) {
		out.OverlayStyle = StyleFlat
	} else {
		out.OverlayStyle = StyleSquare
	}

	out.SoundURL = orDefault(s.SoundURL, DefaultSoundURL)
	out.NotifColor = orDefault(s.NotifColor, DefaultNotifColor)

	out.Region = strings.ToLower(strings.TrimSpace(s.Region))
	if _, ok := quake.RegionBBox(out.Region); !ok {
		out.Region = quake.DefaultRegion
	}
	out.BBox = nil
	if s.BBox != nil && s.BBox.Valid() {
		b := *s.BBox
		out.BBox = &b
	}

	out.EndpointOverride = strings.TrimSpace(s.EndpointOverride)
	return out
}

// Validate rejects settings an API caller must fix rather than have silently
// corrected: an unsafe endpoint override, an unknown region or a malformed box.
func (s Settings) Validate(allowLocal bool) error {
	if region := strings.TrimSpace(s.Region); region != "" {
		if _, ok := quake.RegionBBox(region); !ok {
			return fmt.Errorf("%w: unknown region %q", ErrInvalid, region)
		}
	}
	if s.BBox != nil && !s.BBox.Valid() {
		return fmt.Errorf("%w: bbox must be ordered and within [-90,90] x [-180,180]", ErrInvalid)
	}
	if override := strings.TrimSpace(s.EndpointOverride); override != "" {
		if err := security.ValidateFeedURL(override, allowLocal); err != nil {
			return fmt.Errorf("%w: endpointOverride: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Area returns the effective bounding box: the explicit box when set,
// otherwise the named region's box.
func (s Settings) Area() quake.BBox {
	if s.BBox != nil {
		return *s.BBox
	}
	if b, ok := quake.RegionBBox(s.Region); ok {
		return b
	}
	return quake.TurkeyBBox
}

// Criteria converts s to the filter criteria.
func (s Settings) Criteria() quake.Criteria {
	return quake.Criteria{MinMagnitude: s.MinMag, BBox: s.Area()}
}

func (s Settings) clone() Settings {
	if s.BBox != nil {
		b := *s.BBox
		s.BBox = &b
	}
	return s
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
