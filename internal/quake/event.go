// Package quake holds the canonical earthquake event, the conversions from
// each upstream payload shape into it, and the magnitude/region filter.
package quake

import (
	"math"
	"math/big"
	"strings"
)

// Event is the canonical earthquake notification.
// Values are built by the From* conversions and never modified afterwards.
type Event struct {
	ID            string   `json:"id"`
	Time          string   `json:"time"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Magnitude     float64  `json:"magnitude"`
	MagnitudeType string   `json:"magnitudeType,omitempty"`
	DepthKm       *float64 `json:"depthKm,omitempty"`
	Region        string   `json:"region,omitempty"`
	Province      string   `json:"province,omitempty"`
}

// Signature identifies one revision of an event.
// Two messages with the same ID but a different time or magnitude are
// different revisions and have different signatures.
type Signature struct {
	ID        string
	Time      string
	Magnitude float64
}

// Signature returns the revision identity of e.
func (e Event) Signature() Signature {
	return Signature{ID: e.ID, Time: e.Time, Magnitude: e.Magnitude}
}

// String renders the signature as "id::time::magnitude", the form used in logs.
func (s Signature) String() string {
	return s.ID + "::" + s.Time + "::" + formatNumber(s.Magnitude)
}

// SynthesizeID builds a deterministic id for payloads that carry none.
// The coordinates are rounded to three decimals, so two reports of the same
// instant and position map to the same id.
func SynthesizeID(canonicalTime string, lat, lon float64) string {
	return canonicalTime + ":" + toFixed3(lat) + "," + toFixed3(lon)
}

// toFixed3 formats x with exactly three decimals, rounding the exact binary
// value half away from zero (the behaviour browsers use for toFixed).
func toFixed3(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return formatNumber(x)
	}
	sign := ""
	if x < 0 {
		sign = "-"
		x = -x
	}

	r := new(big.Rat).SetFloat64(x)
	r.Mul(r, big.NewRat(1000, 1))
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())

	digits := n.String()
	if len(digits) < 4 {
		digits = strings.Repeat("0", 4-len(digits)) + digits
	}
	cut := len(digits) - 3
	return sign + digits[:cut] + "." + digits[cut:]
}
