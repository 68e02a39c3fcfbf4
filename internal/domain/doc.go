// Package domain models geolocated sensor readings and the cross-sensor
// correlation that pairs them into genuine detections.
//
// # Readings
//
// Two sensors report positions of the same physical events independently.
// Sensor 1 delivers a CSV table, sensor 2 a JSON array. Both are reduced to
// the same [Reading] shape (id, latitude, longitude in decimal degrees) and
// kept in input order as a [ReadingSet]. Ids are not required to be unique;
// duplicates are passed through untouched.
//
// # Distance
//
// Distances are great-circle distances on a sphere, computed with the
// haversine formula (see [Haversine]). The default radius is the IUGG mean
// Earth radius of 6,371,009 m. The intermediate haversine term is clamped to
// [0, 1] so that rounding at antipodal points cannot push asin out of its
// domain.
//
// # Threshold
//
// Each sensor is accurate to within a fixed radius (100 m by default). Two
// readings that describe the same event can therefore be at most twice that
// far apart, so the matching threshold is 2 × accuracy (see
// [ThresholdForAccuracy]). The threshold is inclusive: a pair at exactly the
// threshold distance is a detection.
//
// # Ordering
//
// [Correlator.Correlate] walks set A as the outer loop and set B as the inner
// loop and emits detections in that order. Sinks rely on this ordering.
package domain
