package location

import (
	"math"
	"time"
)

// Position is a single location fix as reported by a provider.
type Position struct {
	Latitude         float64   `json:"lat"`
	Longitude        float64   `json:"lng"`
	Accuracy         float64   `json:"accuracy"` // horizontal 1σ radius in meters
	Altitude         *float64  `json:"altitude,omitempty"`
	AltitudeAccuracy *float64  `json:"altitude_accuracy,omitempty"`
	Heading          *float64  `json:"heading,omitempty"` // degrees clockwise from true north
	Speed            *float64  `json:"speed,omitempty"`   // meters per second
	Timestamp        time.Time `json:"timestamp"`
}

// Valid reports whether the fix has usable coordinates and a non-negative accuracy.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsNaN(p.Accuracy) {
		return false
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return false
	}
	return p.Accuracy >= 0 && !math.IsInf(p.Accuracy, 0)
}

// Options are the request knobs handed to a Provider.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration // per-request budget; zero means no limit
	MaxCachedAge time.Duration // zero forbids reuse of a previously measured fix
}

func float64Ptr(v float64) *float64 {
	return &v
}
