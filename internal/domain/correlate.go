package domain

// ThresholdForAccuracy derives the matching threshold from a single sensor's
// accuracy. Two readings of the same event can each be off by the full
// accuracy in opposite directions.
func ThresholdForAccuracy(accuracyMeters float64) float64 {
	return 2 * accuracyMeters
}

// Correlator pairs readings from two sensors by great-circle proximity.
type Correlator struct {
	radiusMeters float64
}

// NewCorrelator creates a Correlator measuring distances on a sphere of the
// given radius. A non-positive radius falls back to EarthRadiusMeters.
func NewCorrelator(radiusMeters float64) *Correlator {
	if radiusMeters <= 0 {
		radiusMeters = EarthRadiusMeters
	}
	return &Correlator{radiusMeters: radiusMeters}
}

// RadiusMeters reports the sphere radius used for distances.
func (c *Correlator) RadiusMeters() float64 {
	return c.radiusMeters
}

// Correlate compares every reading in setA with every reading in setB and
// returns one Detection per pair whose distance is at most thresholdMeters.
// Detections are ordered by setA position, then setB position. The inputs
// are not modified and the result is never nil.
func (c *Correlator) Correlate(setA, setB ReadingSet, thresholdMeters float64) []Detection {
	detections := []Detection{}
	for _, a := range setA {
		for _, b := range setB {
			d := Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude, c.radiusMeters)
			if d <= thresholdMeters {
				detections = append(detections, Detection{
					SourceAID:      a.ID,
					SourceBID:      b.ID,
					DistanceMeters: d,
				})
			}
		}
	}
	return detections
}

// Correlate runs a Correlator on the default Earth sphere.
func Correlate(setA, setB ReadingSet, thresholdMeters float64) []Detection {
	return NewCorrelator(EarthRadiusMeters).Correlate(setA, setB, thresholdMeters)
}
