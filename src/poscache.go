package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	In-memory map of origin -> latest known position.
 *
 * Description:	Single writer (the radio reader goroutine calling
 *		Update), many readers (the orchestrator evaluating
 *		reports). No eviction in this version; growth is
 *		bounded by the size of the radio neighborhood, same
 *		as the teacher's own mheard table.
 *
 *------------------------------------------------------------------*/

import (
	"math"
	"sync"
	"time"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Position is a snapshot of an origin's last reported location.
type Position struct {
	Lat        float64
	Lon        float64
	ReceivedAt time.Time
	SeenCount  uint
}

// LatLng returns the position as an s2.LatLng, in radians.
func (p Position) LatLng() s2.LatLng {
	return s2.LatLng{
		Lat: s1.Angle(degToRad(p.Lat)),
		Lng: s1.Angle(degToRad(p.Lon)),
	}
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}

// PositionCache is the origin -> latest-position map (C2).
type PositionCache struct {
	mu   sync.RWMutex
	byID map[string]Position
}

// NewPositionCache returns an empty PositionCache.
func NewPositionCache() *PositionCache {
	return &PositionCache{byID: make(map[string]Position)}
}

// Update replaces the cached position for origin, incrementing its
// seen-count. Out-of-range coordinates are rejected silently: a corrupt
// NMEA-derived fix must never overwrite a good one with garbage.
func (c *PositionCache) Update(origin string, lat, lon float64, receivedAt time.Time) bool {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.byID[origin]
	c.byID[origin] = Position{
		Lat:        lat,
		Lon:        lon,
		ReceivedAt: receivedAt,
		SeenCount:  prev.SeenCount + 1,
	}

	return true
}

// Get returns the cached position for origin, if any.
func (c *PositionCache) Get(origin string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byID[origin]

	return p, ok
}

// Age returns how long ago origin's position was last updated, relative
// to now. The second return is false if origin has no cached position.
func (c *PositionCache) Age(origin string, now time.Time) (time.Duration, bool) {
	p, ok := c.Get(origin)
	if !ok {
		return 0, false
	}

	return now.Sub(p.ReceivedAt), true
}

// Len reports the number of distinct origins currently cached.
func (c *PositionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byID)
}
