package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// DetectionHeader is the header row of the detection table.
var DetectionHeader = []string{"sensor1_id", "sensor2_id"}

// Writer persists detections as a CSV table.
// It implements pipeline.DetectionSink.
type Writer struct {
	path string
}

// NewWriter creates a detection table writer for the given path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Name() string { return "csv" }

// Write replaces the output file with the header and one row per detection,
// in report order. The table is written to a temporary file first and renamed
// into place, so a failed run never leaves a truncated table behind.
func (w *Writer) Write(_ context.Context, report domain.Report) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("create detection table: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := EncodeDetections(tmp, report.Detections); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod detection table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close detection table: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("move detection table into place: %w", err)
	}
	return nil
}

// EncodeDetections writes the detection table to dst with standard CSV quoting.
func EncodeDetections(dst io.Writer, detections []domain.Detection) error {
	cw := csv.NewWriter(dst)
	if err := cw.Write(DetectionHeader); err != nil {
		return fmt.Errorf("write detection header: %w", err)
	}
	for _, d := range detections {
		if err := cw.Write([]string{d.SourceAID, d.SourceBID}); err != nil {
			return fmt.Errorf("write detection row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush detection table: %w", err)
	}
	return nil
}

// DecodeDetections reads a detection table written by EncodeDetections.
func DecodeDetections(src io.Reader) ([]domain.Detection, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = len(DetectionHeader)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read detection table: %w", err)
	}
	if len(rows) == 0 || rows[0][0] != DetectionHeader[0] || rows[0][1] != DetectionHeader[1] {
		return nil, fmt.Errorf("%w: detection table header must be %v", ErrMissingColumn, DetectionHeader)
	}

	detections := make([]domain.Detection, 0, len(rows)-1)
	for _, row := range rows[1:] {
		detections = append(detections, domain.Detection{SourceAID: row[0], SourceBID: row[1]})
	}
	return detections, nil
}
