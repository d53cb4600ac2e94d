// Package geo provides the distance and bounding-box math behind nearby
// report queries. Distances are great-circle (haversine) meters.
package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/patrickwarner/civicreport/internal/models"
)

// Limits applied to nearby queries.
const (
	DefaultRadiusMeters = 5000.0
	MaxRadiusMeters     = 50000.0
	DefaultNearbyLimit  = 50
	MaxNearbyLimit      = 200
)

// ValidLatitude reports whether lat is a finite value in [-90, 90].
func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) && lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lng is a finite value in [-180, 180].
func ValidLongitude(lng float64) bool {
	return !math.IsNaN(lng) && !math.IsInf(lng, 0) && lng >= -180 && lng <= 180
}

// Distance returns the haversine distance in meters between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

// BoundsAround returns a rectangle that contains every point within radius
// meters of the center. The rectangle is a superset: callers still filter
// by exact distance. When the rectangle would wrap the antimeridian or a
// pole the longitude range is widened to the whole globe.
func BoundsAround(lat, lng, radius float64) models.Bounds {
	b := geo.NewBoundAroundPoint(orb.Point{lng, lat}, radius)
	out := models.Bounds{
		MinLat: math.Max(b.Bottom(), -90),
		MaxLat: math.Min(b.Top(), 90),
		MinLng: b.Left(),
		MaxLng: b.Right(),
	}
	if out.MinLng < -180 || out.MaxLng > 180 || out.MinLng > out.MaxLng ||
		out.MinLat <= -90 || out.MaxLat >= 90 ||
		math.IsNaN(out.MinLng) || math.IsNaN(out.MaxLng) {
		out.MinLng, out.MaxLng = -180, 180
	}
	return out
}

// Nearest keeps the candidates within radius meters of the center, sorts
// them by ascending distance and truncates to limit. Candidates without
// coordinates are dropped.
func Nearest(candidates []models.Report, lat, lng, radius float64, limit int) []models.NearbyReport {
	out := make([]models.NearbyReport, 0, len(candidates))
	for _, r := range candidates {
		if !r.HasCoordinates() {
			continue
		}
		d := Distance(lat, lng, *r.Latitude, *r.Longitude)
		if d > radius {
			continue
		}
		out = append(out, models.NearbyReport{Report: r, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID
		}
		return out[i].Distance < out[j].Distance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
