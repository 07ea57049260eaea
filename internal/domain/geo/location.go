// internal/domain/geo/location.go

package geo

import (
	"errors"
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// ErrInvalidCoordinates is returned when a latitude/longitude pair is out of range
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Location represents a geographic point with optional metadata
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the coordinates are finite and within range
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		math.IsInf(l.Latitude, 0) || math.IsInf(l.Longitude, 0) {
		return ErrInvalidCoordinates
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return ErrInvalidCoordinates
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Distance calculates the great-circle distance between two locations in meters
func Distance(a, b Location) float64 {
	// Haversine formula
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Midpoint returns the arithmetic midpoint of two locations, taking the
// shorter way around the antimeridian. Good enough for the short distances
// sparks care about.
func Midpoint(a, b Location) Location {
	delta := normalizeLongitude(b.Longitude - a.Longitude)
	return Location{
		Latitude:  (a.Latitude + b.Latitude) / 2,
		Longitude: normalizeLongitude(a.Longitude + delta/2),
	}
}

// normalizeLongitude wraps lng into [-180, 180)
func normalizeLongitude(lng float64) float64 {
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}
