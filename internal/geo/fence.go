// Package geo implements the campus proximity predicate.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Fence is a set of anchors sharing one radius. The boundary is inclusive.
type Fence struct {
	Anchors      []Point
	RadiusMeters float64
}

func (f Fence) Contains(p Point) bool {
	_, ok := f.Nearest(p)
	return ok
}

// Nearest returns the distance to the closest anchor and whether it lies within the radius.
func (f Fence) Nearest(p Point) (float64, bool) {
	best := math.Inf(1)
	for _, anchor := range f.Anchors {
		if d := Distance(anchor, p); d < best {
			best = d
		}
	}
	return best, best <= f.RadiusMeters
}

var errInvalidAnchor = errors.New("invalid anchor")

// ParseAnchors parses "lat,lon;lat,lon".
func ParseAnchors(value string) ([]Point, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ";")
	points := make([]Point, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		coords := strings.Split(part, ",")
		if len(coords) != 2 {
			return nil, errInvalidAnchor
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			return nil, errInvalidAnchor
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			return nil, errInvalidAnchor
		}
		point := Point{Lat: lat, Lon: lon}
		if !point.Valid() {
			return nil, errInvalidAnchor
		}
		points = append(points, point)
	}
	return points, nil
}
