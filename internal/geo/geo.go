package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/tidwall/geodesic"
)

// meanEarthRadius is the IUGG mean radius in meters.
const meanEarthRadius = 6371008.8

// Point is a GPS fix in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) String() string {
	return fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lon)
}

// DistanceFunc returns the distance in meters between two points.
type DistanceFunc func(a, b Point) float64

// Distance functions selectable by name from configuration.
const (
	DistanceGeodesic  = "geodesic"
	DistanceVincenty  = "vincenty" // accepted as an alias of geodesic
	DistanceSpherical = "spherical"
)

// ByName resolves a configured distance function.
func ByName(name string) (DistanceFunc, error) {
	switch strings.ToLower(name) {
	case "", DistanceGeodesic, DistanceVincenty:
		return Geodesic, nil
	case DistanceSpherical:
		return Spherical, nil
	default:
		return nil, fmt.Errorf("unknown distance function: %s", name)
	}
}

// Spherical returns the great-circle distance on a sphere of mean Earth radius.
func Spherical(a, b Point) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lon)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return la.Distance(lb).Radians() * meanEarthRadius
}

// Geodesic returns the shortest distance on the WGS-84 ellipsoid.
func Geodesic(a, b Point) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}

// Bearing returns the initial compass bearing from a to b in degrees,
// normalized to [0, 360). North is 0, east is 90.
func Bearing(a, b Point) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dLambda := radians(b.Lon - a.Lon)
	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := degrees(math.Atan2(y, x))
	deg = math.Mod(deg+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// AngleDelta returns to-from wrapped into (-180, 180].
func AngleDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
