package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidCoordinate marks a coordinate that is missing, non-numeric or not finite.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrCoordinateOutOfRange marks a latitude outside [-90, 90] or a longitude
	// outside [-180, 180].
	ErrCoordinateOutOfRange = errors.New("coordinate out of range")

	// ErrMissingID marks a record without a usable id.
	ErrMissingID = errors.New("missing id")
)

// RecordError reports a malformed input record. Record is the 1-based
// position of the record in its source: data rows for CSV, array elements
// for JSON.
type RecordError struct {
	Sensor string
	Record int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %d: %v", e.Sensor, e.Record, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// CheckFinite rejects NaN and infinite coordinates.
func CheckFinite(r Reading) error {
	if math.IsNaN(r.Latitude) || math.IsInf(r.Latitude, 0) {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, r.Latitude)
	}
	if math.IsNaN(r.Longitude) || math.IsInf(r.Longitude, 0) {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, r.Longitude)
	}
	return nil
}

// CheckRange rejects coordinates outside the WGS-84 ranges.
func CheckRange(r Reading) error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %g", ErrCoordinateOutOfRange, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %g", ErrCoordinateOutOfRange, r.Longitude)
	}
	return nil
}
