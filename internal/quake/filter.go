package quake

import "strings"

// BBox is an inclusive latitude/longitude rectangle.
type BBox struct {
	LatMin float64 `json:"latMin" yaml:"lat_min"`
	LatMax float64 `json:"latMax" yaml:"lat_max"`
	LonMin float64 `json:"lonMin" yaml:"lon_min"`
	LonMax float64 `json:"lonMax" yaml:"lon_max"`
}

// Criteria is the operator's alert threshold.
type Criteria struct {
	MinMagnitude float64
	BBox         BBox
}

// Named regions.
var (
	TurkeyBBox = BBox{LatMin: 35, LatMax: 43, LonMin: 25, LonMax: 45}
	WorldBBox  = BBox{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "turkey"

var regions = map[string]BBox{
	"turkey": TurkeyBBox,
	"world":  WorldBBox,
}

// RegionBBox looks up a named region, case-insensitively.
func RegionBBox(name string) (BBox, bool) {
	b, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Contains reports whether the point lies inside b, edges included.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Valid reports whether b is ordered and within geographic range.
func (b BBox) Valid() bool {
	return b.LatMin <= b.LatMax && b.LonMin <= b.LonMax &&
		b.LatMin >= -90 && b.LatMax <= 90 &&
		b.LonMin >= -180 && b.LonMax <= 180
}

// IsZero reports whether b is unset.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Passes reports whether e meets the magnitude threshold and lies inside the box.
func Passes(e Event, c Criteria) bool {
	return e.Magnitude >= c.MinMagnitude && c.BBox.Contains(e.Latitude, e.Longitude)
}
