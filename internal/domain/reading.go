package domain

import "time"

// Reading is a single geolocated report from one sensor.
type Reading struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReadingSet is an ordered sequence of readings in input order.
type ReadingSet []Reading

// Detection pairs a sensor 1 reading with a sensor 2 reading whose positions
// lie within the matching threshold.
type Detection struct {
	SourceAID string `json:"sensor1_id"`
	SourceBID string `json:"sensor2_id"`

	// DistanceMeters is kept for the archival sinks. The tabular and console
	// outputs only carry the two ids.
	DistanceMeters float64 `json:"distance_m"`
}

// Report is the result of one correlation run, handed to every sink.
type Report struct {
	ThresholdMeters float64
	SensorACount    int
	SensorBCount    int
	Comparisons     int
	Detections      []Detection
	GeneratedAt     time.Time
}

// NewReport assembles a Report for the given inputs and detections, stamped
// with the package clock.
func NewReport(setA, setB ReadingSet, thresholdMeters float64, detections []Detection) Report {
	if detections == nil {
		detections = []Detection{}
	}
	return Report{
		ThresholdMeters: thresholdMeters,
		SensorACount:    len(setA),
		SensorBCount:    len(setB),
		Comparisons:     len(setA) * len(setB),
		Detections:      detections,
		GeneratedAt:     clock.Now().UTC(),
	}
}
