// Package csvfile reads sensor readings from CSV tables and writes detection
// tables in CSV.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// Required header columns. Extra columns are ignored.
const (
	ColumnID        = "id"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Reader loads a ReadingSet from a CSV file with a header row.
// It implements pipeline.ReadingSource.
type Reader struct {
	path   string
	sensor string
	opts   domain.ReadOptions
	logger *slog.Logger
}

// NewReader creates a CSV reader for the given file. sensor labels the
// source in errors and logs.
func NewReader(path, sensor string, opts domain.ReadOptions, logger *slog.Logger) *Reader {
	return &Reader{path: path, sensor: sensor, opts: opts, logger: logger}
}

// Sensor returns the label of the source.
func (r *Reader) Sensor() string {
	return r.sensor
}

// Load opens the file and parses every data row in order.
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
	r.logger.Debug("csv input parsed", "sensor", r.sensor, "path", r.path, "count", len(set))
	return set, nil
}

// Decode parses CSV from src. Header names are matched case-insensitively
// after trimming whitespace and a leading byte order mark.
func (r *Reader) Decode(ctx context.Context, src io.Reader) (domain.ReadingSet, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input, expected header with %s,%s,%s", ErrMissingColumn, ColumnID, ColumnLatitude, ColumnLongitude)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	set := domain.ReadingSet{}
	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Quoting errors leave the reader positioned after the bad row.
			if rejectErr := r.opts.Reject(&domain.RecordError{Sensor: r.sensor, Record: row, Err: err}); rejectErr != nil {
				return nil, rejectErr
			}
			continue
		}

		reading, err := parseRecord(record, cols)
		if err == nil {
			err = r.opts.Validate(reading)
		}
		if err != nil {
			if rejectErr := r.opts.Reject(&domain.RecordError{Sensor: r.sensor, Record: row, Err: err}); rejectErr != nil {
				return nil, rejectErr
			}
			continue
		}
		set = append(set, reading)
	}
	return set, nil
}

type columns struct {
	id, lat, lon int
}

// indexColumns maps the required columns to their positions. A repeated
// header name resolves to its last occurrence.
func indexColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	cols := columns{
		id:  lookup(ColumnID),
		lat: lookup(ColumnLatitude),
		lon: lookup(ColumnLongitude),
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRecord(record []string, cols columns) (domain.Reading, error) {
	field := func(i int) (string, bool) {
		if i >= len(record) {
			return "", false
		}
		return record[i], true
	}

	id, ok := field(cols.id)
	if !ok {
		return domain.Reading{}, domain.ErrMissingID
	}
	lat, err := parseCoordinate(field(cols.lat))
	if err != nil {
		return domain.Reading{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseCoordinate(field(cols.lon))
	if err != nil {
		return domain.Reading{}, fmt.Errorf("longitude: %w", err)
	}

	return domain.Reading{ID: id, Latitude: lat, Longitude: lon}, nil
}

func parseCoordinate(s string, present bool) (float64, error) {
	s = strings.TrimSpace(s)
	if !present || s == "" {
		return 0, fmt.Errorf("%w: empty", domain.ErrInvalidCoordinate)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidCoordinate, s)
	}
	return v, nil
}
