package risk

import (
	"math"
	"time"
)

const (
	earthRadiusMiles = 3958.8
	coordEpsilon     = 1e-7
)

// Known reports whether p carries usable coordinates. A nil point and the
// (0,0) placeholder some geolocation providers return are both unknown.
func (p *GeoPoint) Known() bool {
	if p == nil {
		return false
	}
	return math.Abs(p.Latitude) >= coordEpsilon || math.Abs(p.Longitude) >= coordEpsilon
}

// DistanceMiles returns the great-circle distance between two points.
func DistanceMiles(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ImpossibleTravel reports whether moving from prev (at prevAt) to cur (at
// now) needs more than maxMPH. It is false when either point is unknown.
func ImpossibleTravel(prev *GeoPoint, prevAt time.Time, cur *GeoPoint, now time.Time, maxMPH float64) bool {
	if !prev.Known() || !cur.Known() {
		return false
	}
	elapsed := now.Sub(prevAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	return DistanceMiles(*prev, *cur) > elapsed*maxMPH
}
