// Package jsonfile reads sensor readings from a JSON array of objects.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// Reader loads a ReadingSet from a JSON document of the form
//
//	[{"id": "B1", "latitude": 51.04, "longitude": -114.07}, ...]
//
// It implements pipeline.ReadingSource.
type Reader struct {
	path   string
	sensor string
	opts   domain.ReadOptions
	logger *slog.Logger
}

// NewReader creates a JSON reader for the given file. sensor labels the
// source in errors and logs.
func NewReader(path, sensor string, opts domain.ReadOptions, logger *slog.Logger) *Reader {
	return &Reader{path: path, sensor: sensor, opts: opts, logger: logger}
}

// Sensor returns the label of the source.
func (r *Reader) Sensor() string {
	return r.sensor
}

// Load opens the file and parses every array element in document order.
func (r *Reader) Load(ctx context.Context) (domain.ReadingSet, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open %s input: %w", r.sensor, err)
	}
	defer f.Close()

	set, err := r.Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	r.logger.Debug("json input parsed", "sensor", r.sensor, "path", r.path, "count", len(set))
	return set, nil
}

// Decode parses a JSON array from src. A document that is not exactly one
// array is rejected outright; element-level problems follow the parse mode.
func (r *Reader) Decode(ctx context.Context, src io.Reader) (domain.ReadingSet, error) {
	elements, err := decodeArray(json.NewDecoder(src))
	if err != nil {
		return nil, fmt.Errorf("decode %s document: %w", r.sensor, err)
	}

	set := make(domain.ReadingSet, 0, len(elements))
	for i, raw := range elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reading, err := parseElement(raw)
		if err == nil {
			err = r.opts.Validate(reading)
		}
		if err != nil {
			if rejectErr := r.opts.Reject(&domain.RecordError{Sensor: r.sensor, Record: i + 1, Err: err}); rejectErr != nil {
				return nil, rejectErr
			}
			continue
		}
		set = append(set, reading)
	}
	return set, nil
}

// decodeArray splits the top-level array into raw elements. null, a bare
// object, and anything after the closing bracket are errors.
func decodeArray(dec *json.Decoder) ([]json.RawMessage, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("expected array, got %v", tokenString(tok))
	}

	elements := []json.RawMessage{}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		elements = append(elements, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	tok, err = dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return elements, nil
	case err != nil:
		return nil, fmt.Errorf("after array: %w", err)
	default:
		return nil, fmt.Errorf("unexpected %v after array", tokenString(tok))
	}
}

func tokenString(tok json.Token) string {
	if tok == nil {
		return "null"
	}
	return truncate(fmt.Sprint(tok))
}

// element mirrors one array entry. Pointers distinguish absent (or null)
// fields from zero values.
type element struct {
	ID        *flexString `json:"id"`
	Latitude  *flexFloat  `json:"latitude"`
	Longitude *flexFloat  `json:"longitude"`
}

func parseElement(raw json.RawMessage) (domain.Reading, error) {
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return domain.Reading{}, fmt.Errorf("expected object, got %s", truncate(string(t)))
	}

	var el element
	if err := json.Unmarshal(raw, &el); err != nil {
		return domain.Reading{}, err
	}
	switch {
	case el.ID == nil:
		return domain.Reading{}, domain.ErrMissingID
	case el.Latitude == nil:
		return domain.Reading{}, fmt.Errorf("latitude: %w: missing", domain.ErrInvalidCoordinate)
	case el.Longitude == nil:
		return domain.Reading{}, fmt.Errorf("longitude: %w: missing", domain.ErrInvalidCoordinate)
	}

	return domain.Reading{
		ID:        string(*el.ID),
		Latitude:  float64(*el.Latitude),
		Longitude: float64(*el.Longitude),
	}, nil
}

// flexString accepts a JSON string or number. Numeric ids keep their
// literal spelling, so 7 and "7" produce the same id.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: id must be a string or number", domain.ErrMissingID)
	}
	*s = flexString(n.String())
	return nil
}

// flexFloat accepts a JSON number or a string holding a decimal number.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidCoordinate, truncate(string(data)))
	}
	*f = flexFloat(v)
	return nil
}

func truncate(s string) string {
	const limit = 40
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
