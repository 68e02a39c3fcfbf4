package domain

import "math"

// EarthRadiusMeters is the IUGG mean radius of the Earth.
const EarthRadiusMeters = 6371009.0

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees, on a sphere of the given radius.
func Haversine(lat1, lon1, lat2, lon2, radiusMeters float64) float64 {
	lat1Rad := radians(lat1)
	lat2Rad := radians(lat2)
	dLat := radians(lat2-lat1) / 2
	dLon := radians(lon2-lon1) / 2

	a := math.Pow(math.Sin(dLat), 2) + math.Pow(math.Sin(dLon), 2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	// Rounding near antipodal points can leave a slightly above 1.
	a = math.Min(math.Max(a, 0), 1)

	return 2 * math.Asin(math.Sqrt(a)) * radiusMeters
}

// Distance returns the great-circle distance between two readings on the
// default Earth sphere.
func Distance(a, b Reading) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude, EarthRadiusMeters)
}

// Destination returns the point reached by travelling distanceMeters from
// (lat, lon) along the initial bearing (degrees clockwise from north) on a
// sphere of the given radius. The longitude is normalized to [-180, 180).
func Destination(lat, lon, bearingDeg, distanceMeters, radiusMeters float64) (float64, float64) {
	delta := distanceMeters / radiusMeters
	theta := radians(bearingDeg)
	phi1 := radians(lat)
	lambda1 := radians(lon)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(math.Min(math.Max(sinPhi2, -1), 1))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*sinPhi2,
	)

	lon2 := math.Mod(degrees(lambda2)+540, 360) - 180
	return degrees(phi2), lon2
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
