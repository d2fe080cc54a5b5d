// Package geo provides the geographic primitives used by the rule
// engine: great-circle distance, bearing, and polygon containment.
// All positions are WGS84 decimal-degree lat/lon; regions are small
// enough that polygon tests treat lat/lon as planar.
package geo

import "math"

// Constants for geographic calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers (WGS84)
	EarthRadiusKm = 6371.0

	// KmToNauticalMiles converts kilometers to nautical miles
	KmToNauticalMiles = 0.539957
)

// Point is a lat/lon vertex in decimal degrees.
type Point struct {
	// Lat in decimal degrees (-90 to +90), positive north
	Lat float64

	// Lon in decimal degrees (-180 to +180), positive east
	Lon float64
}

// DistanceNM returns the great-circle distance between two points in
// nautical miles, using the haversine formula.
// NaN inputs produce +Inf so that distance comparisons never match.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	if math.IsNaN(lat1) || math.IsNaN(lon1) || math.IsNaN(lat2) || math.IsNaN(lon2) {
		return math.Inf(1)
	}

	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	deltaLat := (lat2 - lat1) * DegreesToRadians
	deltaLon := (lon2 - lon1) * DegreesToRadians

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c * KmToNauticalMiles
}

// Bearing returns the initial great-circle bearing from point 1 to
// point 2 in degrees (0-360, 0 = north).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	deltaLon := (lon2 - lon1) * DegreesToRadians

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	bearing := math.Atan2(y, x) * RadiansToDegrees
	return math.Mod(bearing+360, 360)
}

// PointInPolygon reports whether the point (lat, lon) is inside the
// polygon using the even-odd (ray casting) rule with lat/lon treated
// as planar coordinates. Points exactly on an edge are inside.
// NaN coordinates are never inside.
func PointInPolygon(lat, lon float64, polygon []Point) bool {
	if len(polygon) < 3 || math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		yi, xi := polygon[i].Lat, polygon[i].Lon
		yj, xj := polygon[j].Lat, polygon[j].Lon

		if onSegment(lat, lon, yi, xi, yj, xj) {
			return true
		}

		// Strict inequality on the y-crossing so each vertex is
		// counted for exactly one of its two edges.
		if (yi > lat) != (yj > lat) {
			xCross := (xj-xi)*(lat-yi)/(yj-yi) + xi
			if lon < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// NMToLatLonOffsets converts a radius in nautical miles to lat/lon
// degree offsets at the given center latitude. One degree of latitude
// is ~60 nm everywhere; longitude compresses with cos(lat).
func NMToLatLonOffsets(radiusNM, centerLat float64) (latOffset, lonOffset float64) {
	latOffset = radiusNM / 60.0
	cosLat := math.Cos(centerLat * DegreesToRadians)
	if cosLat < 1e-6 {
		// Polar center: the ring spans all longitudes.
		return latOffset, 180.0
	}
	lonOffset = radiusNM / (60.0 * cosLat)
	return latOffset, lonOffset
}

// HeadingInRange reports whether heading hdg lies within [start, end]
// degrees, where the range may wrap through north (e.g. 350-010).
func HeadingInRange(hdg, start, end float64) bool {
	if end < start {
		return hdg >= start || hdg <= end
	}
	return hdg >= start && hdg <= end
}

// onSegment reports whether (py, px) lies on the segment from
// (ay, ax) to (by, bx), within a small tolerance.
func onSegment(py, px, ay, ax, by, bx float64) bool {
	const eps = 1e-9

	cross := (bx-ax)*(py-ay) - (by-ay)*(px-ax)
	if math.Abs(cross) > eps {
		return false
	}
	if px < math.Min(ax, bx)-eps || px > math.Max(ax, bx)+eps {
		return false
	}
	if py < math.Min(ay, by)-eps || py > math.Max(ay, by)+eps {
		return false
	}
	return true
}
