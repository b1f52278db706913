// Package geo tracks the observing user's last known position and answers
// proximity questions for the notification dispatcher.
package geo

import (
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a finite coordinate inside WGS84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceMeters returns the haversine distance between two points.
func DistanceMeters(a, b Point) float64 {
	return orbgeo.DistanceHaversine(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}

// Sample is one reading from the position feed.
type Sample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample's coordinate.
func (s Sample) Point() Point {
	return Point{Lat: s.Lat, Lng: s.Lng}
}

// Context holds the last known position. The zero value has no position.
type Context struct {
	mu      sync.RWMutex
	current *Sample
}

// NewContext creates an empty geo context.
func NewContext() *Context {
	return &Context{}
}

// Update records a position sample. Invalid coordinates and samples older than the
// current one are ignored; the return value reports whether the sample was taken.
func (c *Context) Update(s Sample) bool {
	if !s.Point().Valid() || s.Accuracy < 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && s.Timestamp.Before(c.current.Timestamp) {
		return false
	}
	c.current = &s
	return true
}

// Clear forgets the position, as when location permission is revoked.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

// CurrentLocation returns the last known position, if any.
func (c *Context) CurrentLocation() (Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return Point{}, false
	}
	return c.current.Point(), true
}

// LastSample returns the full last sample, if any.
func (c *Context) LastSample() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return Sample{}, false
	}
	return *c.current, true
}

// WithinRadius reports whether (lat, lng) lies within radiusMeters of the current
// position. Without a known position it returns true, so proximity filtering never
// hides a notification because location is unavailable.
func (c *Context) WithinRadius(lat, lng, radiusMeters float64) bool {
	here, ok := c.CurrentLocation()
	if !ok {
		return true
	}
	there := Point{Lat: lat, Lng: lng}
	if !there.Valid() {
		return true
	}
	return DistanceMeters(here, there) <= radiusMeters
}
