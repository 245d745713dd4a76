package app

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/otiai10/quakecast/internal/quake"
	"github.com/otiai10/quakecast/internal/timestamp"
)

// TestAlert is an operator request to show a synthetic alert.
type TestAlert struct {
	Mag            float64  `json:"mag"`
	Depth          *float64 `json:"depth"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	MagType        string   `json:"magtype"`
	Province       string   `json:"province"`
	FlynnRegion    string   `json:"flynnRegion"`
	RespectFilters bool     `json:"respectFilters"`
}

// Event builds the alert as of now. Its id is "TEST-<epoch ms>-<uuid>" so it
// never collides with feed ids.
func (t TestAlert) Event(now time.Time) quake.Event {
	e := quake.Event{
		ID:            "TEST-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString(),
		Time:          timestamp.Format(now),
		Latitude:      t.Lat,
		Longitude:     t.Lon,
		Magnitude:     t.Mag,
		MagnitudeType: t.MagType,
		Region:        t.FlynnRegion,
		Province:      t.Province,
	}
	if t.Depth != nil && !math.IsNaN(*t.Depth) && !math.IsInf(*t.Depth, 0) {
		d := *t.Depth
		e.DepthKm = &d
	}
	return e
}
