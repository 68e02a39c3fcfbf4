// Package console renders detection reports for a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// Printer writes a human-readable detection summary.
// It implements pipeline.DetectionSink.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer writing to out, usually os.Stdout.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Name() string { return "console" }

// Write prints the detection count followed by one line per detection in report order.
func (p *Printer) Write(_ context.Context, report domain.Report) error {
	w := bufio.NewWriter(p.out)
	fmt.Fprintf(w, "Found %d genuine detection(s):\n", len(report.Detections))
	for _, d := range report.Detections {
		fmt.Fprintf(w, "Sensor 1 ID: %s, Sensor 2 ID: %s\n", d.SourceAID, d.SourceBID)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("print detections: %w", err)
	}
	return nil
}
