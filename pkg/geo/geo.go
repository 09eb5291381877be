// Package geo provides geospatial matching between routes and cameras.
// All functions are pure and hold no state.
package geo

import (
	"math"
	"sort"

	"github.com/trafficwatch/trafficwatch/pkg/camera"
)

const earthRadiusKM = 6371

// Point is a WGS84 coordinate
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RouteCameraInfo describes a camera matched to a route
type RouteCameraInfo struct {
	Camera           camera.Camera `json:"camera"`
	DistanceToRouteM float64       `json:"distance_to_route_m"`
	PositionOnRoute  float64       `json:"position_on_route"`
}

// Haversine returns the great-circle distance between two coordinates in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// RouteLengthKM sums the haversine distances between consecutive route points
func RouteLengthKM(route []Point) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += Haversine(route[i-1].Latitude, route[i-1].Longitude, route[i].Latitude, route[i].Longitude)
	}
	return total
}

// PointToSegment projects p onto the segment a-b and returns the distance in
// meters to the nearest point of the segment plus the fractional position of
// the projection along it, clamped to [0,1].
//
// The projection uses an equirectangular approximation around the segment,
// which is accurate at the sub-kilometer scales camera matching operates on.
func PointToSegment(p, a, b Point) (distanceM, frac float64) {
	// Project to a local flat plane (meters), longitude scaled by cos(lat)
	latScale := earthRadiusKM * 1000 * math.Pi / 180
	lonScale := latScale * math.Cos(a.Latitude*math.Pi/180)

	ax, ay := 0.0, 0.0
	bx := (b.Longitude - a.Longitude) * lonScale
	by := (b.Latitude - a.Latitude) * latScale
	px := (p.Longitude - a.Longitude) * lonScale
	py := (p.Latitude - a.Latitude) * latScale

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		// Degenerate segment: distance to the single point
		return math.Hypot(px, py), 0
	}

	t := (px*dx + py*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))

	cx := ax + t*dx
	cy := ay + t*dy
	return math.Hypot(px-cx, py-cy), t
}

// CamerasAlongRoute returns the cameras within radiusKM of any segment of the
// route, ordered by their cumulative position along the route. Ties are broken
// by camera ID so results are deterministic.
func CamerasAlongRoute(route []Point, cameras []camera.Camera, radiusKM float64) []RouteCameraInfo {
	if len(route) < 2 || radiusKM <= 0 {
		return nil
	}

	// Cumulative length at the start of each segment, for route positions
	totalKM := RouteLengthKM(route)
	cumKM := make([]float64, len(route))
	for i := 1; i < len(route); i++ {
		cumKM[i] = cumKM[i-1] + Haversine(route[i-1].Latitude, route[i-1].Longitude, route[i].Latitude, route[i].Longitude)
	}

	radiusM := radiusKM * 1000
	var matched []RouteCameraInfo

	for _, cam := range cameras {
		p := Point{Latitude: cam.Latitude, Longitude: cam.Longitude}
		bestDist := math.Inf(1)
		bestPos := 0.0

		for i := 1; i < len(route); i++ {
			dist, frac := PointToSegment(p, route[i-1], route[i])
			if dist < bestDist {
				bestDist = dist
				segKM := cumKM[i] - cumKM[i-1]
				posKM := cumKM[i-1] + frac*segKM
				if totalKM > 0 {
					bestPos = posKM / totalKM
				}
			}
		}

		if bestDist <= radiusM {
			matched = append(matched, RouteCameraInfo{
				Camera:           cam,
				DistanceToRouteM: bestDist,
				PositionOnRoute:  bestPos,
			})
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PositionOnRoute != matched[j].PositionOnRoute {
			return matched[i].PositionOnRoute < matched[j].PositionOnRoute
		}
		return matched[i].Camera.ID < matched[j].Camera.ID
	})

	return matched
}
